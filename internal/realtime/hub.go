package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// EventType mirrors the row-level change kinds of the storage layer.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Table names carried on events.
const (
	TableMessages        = "messages"
	TableConversations   = "conversations"
	TableStatuses        = "statuses"
	TableStatusViews     = "status_views"
	TableStatusReactions = "status_reactions"
)

// Event is a change notification for one table. Payload is optional;
// feed subscribers treat any event as a coarse invalidation signal and
// re-fetch, so a missing payload is never an error.
type Event struct {
	Table          string          `json:"table"`
	Type           EventType       `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Filter selects which events a subscriber receives. An empty Tables
// set matches every table. ConversationID, when set, restricts
// message events to one conversation; events without a conversation
// scope always pass the conversation check.
type Filter struct {
	Tables         map[string]bool
	ConversationID string
}

func (f Filter) matches(ev Event) bool {
	if len(f.Tables) > 0 && !f.Tables[ev.Table] {
		return false
	}
	if f.ConversationID != "" && ev.ConversationID != "" && ev.ConversationID != f.ConversationID {
		return false
	}
	return true
}

// Publisher is the write side of the realtime channel. The Hub is the
// in-process implementation; the AMQP Relay wraps it for multi-node
// deployments.
type Publisher interface {
	Publish(ev Event)
}

const subscriberBuffer = 16

// Subscription is one receiver's handle. Events arrive on C; Close
// releases the slot and closes C. Closing twice is safe.
type Subscription struct {
	ID     string
	C      <-chan Event
	hub    *Hub
	ch     chan Event
	closed sync.Once
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.closed.Do(func() {
		s.hub.unsubscribe(s.ID)
		close(s.ch)
	})
}

// Hub fans change events out to live subscribers. Publish never
// blocks: a subscriber whose buffer is full loses the event, which is
// safe because every event means "reload" and the next one carries the
// same signal.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*hubEntry
}

type hubEntry struct {
	sub    *Subscription
	filter Filter
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]*hubEntry)}
}

// Subscribe registers a receiver for events matching the filter.
func (h *Hub) Subscribe(filter Filter) *Subscription {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{
		ID:  uuid.NewString(),
		C:   ch,
		hub: h,
		ch:  ch,
	}
	h.mu.Lock()
	h.subs[sub.ID] = &hubEntry{sub: sub, filter: filter}
	h.mu.Unlock()
	return sub
}

// Publish delivers the event to every matching subscriber.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, entry := range h.subs {
		if !entry.filter.matches(ev) {
			continue
		}
		select {
		case entry.sub.ch <- ev:
		default:
			// Subscriber is not keeping up; drop. The channel only
			// signals invalidation, so the next event re-triggers the
			// same reload.
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}
