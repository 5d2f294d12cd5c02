package realtime

import (
	"testing"
	"time"
)

func TestHubDeliversToMatchingSubscribers(t *testing.T) {
	hub := NewHub()
	all := hub.Subscribe(Filter{})
	defer all.Close()
	onlyMessages := hub.Subscribe(Filter{Tables: map[string]bool{TableMessages: true}})
	defer onlyMessages.Close()
	otherConv := hub.Subscribe(Filter{ConversationID: "conv-2"})
	defer otherConv.Close()

	hub.Publish(Event{Table: TableMessages, Type: EventInsert, ConversationID: "conv-1"})
	hub.Publish(Event{Table: TableStatuses, Type: EventInsert})

	ev := mustReceive(t, all)
	if ev.Table != TableMessages {
		t.Errorf("first event table = %s", ev.Table)
	}
	ev = mustReceive(t, all)
	if ev.Table != TableStatuses {
		t.Errorf("second event table = %s", ev.Table)
	}

	ev = mustReceive(t, onlyMessages)
	if ev.Table != TableMessages {
		t.Errorf("filtered subscriber got %s", ev.Table)
	}
	mustNotReceive(t, onlyMessages)

	// conv-2 subscriber skips conv-1 messages but still gets the
	// unscoped status event.
	ev = mustReceive(t, otherConv)
	if ev.Table != TableStatuses {
		t.Errorf("conversation-scoped subscriber got %s", ev.Table)
	}
	mustNotReceive(t, otherConv)
}

func TestHubPublishNeverBlocksOnFullBuffer(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(Filter{})
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*4; i++ {
			hub.Publish(Event{Table: TableStatuses, Type: EventInsert})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	// The buffer holds at most subscriberBuffer events; the rest were
	// dropped, which the coarse-invalidation contract allows.
	if got := len(sub.ch); got > subscriberBuffer {
		t.Errorf("buffered events = %d", got)
	}
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(Filter{})
	if hub.SubscriberCount() != 1 {
		t.Fatalf("count = %d", hub.SubscriberCount())
	}
	sub.Close()
	sub.Close()
	if hub.SubscriberCount() != 0 {
		t.Fatalf("count after close = %d", hub.SubscriberCount())
	}
	// Publishing after close must not panic.
	hub.Publish(Event{Table: TableMessages, Type: EventInsert})
	if _, ok := <-sub.C; ok {
		t.Error("expected the channel to be closed")
	}
}

func mustReceive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func mustNotReceive(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
