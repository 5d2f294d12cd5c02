package app

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"chatwave/internal/realtime"
	"chatwave/internal/util"
	"chatwave/pkg/domain"
)

// FindOrCreateConversation returns the single conversation between the
// caller and otherUserID, creating it when absent. Concurrent calls
// for the same pair converge on one row.
func (a *App) FindOrCreateConversation(ctx context.Context, userID, otherUserID string) (domain.Conversation, error) {
	otherUserID = strings.TrimSpace(otherUserID)
	if otherUserID == "" {
		return domain.Conversation{}, ErrOtherUserRequired
	}
	if otherUserID == userID {
		return domain.Conversation{}, ErrSelfConversation
	}
	if _, ok, err := a.store.GetProfile(ctx, otherUserID); err != nil {
		return domain.Conversation{}, fmt.Errorf("fetch counterpart: %w", err)
	} else if !ok {
		return domain.Conversation{}, ErrProfileNotFound
	}
	one, two := domain.CanonicalPair(userID, otherUserID)
	if conv, ok, err := a.store.FindConversationByPair(ctx, one, two); err != nil {
		return domain.Conversation{}, fmt.Errorf("find conversation: %w", err)
	} else if ok {
		return conv, nil
	}
	conv, err := a.store.CreateConversation(ctx, domain.Conversation{
		ID:             util.NewID(),
		ParticipantOne: one,
		ParticipantTwo: two,
		CreatedAt:      a.now().UTC(),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	a.publish(realtime.Event{
		Table:          realtime.TableConversations,
		Type:           realtime.EventInsert,
		ConversationID: conv.ID,
	})
	return conv, nil
}

// ListConversations builds the caller's conversation list: counterpart
// profile plus the newest message, sorted most recently active first.
func (a *App) ListConversations(ctx context.Context, userID string) ([]domain.ConversationSummary, error) {
	convs, err := a.store.ListConversationsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	summaries := make([]domain.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		otherID := conv.ParticipantOne
		if otherID == userID {
			otherID = conv.ParticipantTwo
		}
		summary := domain.ConversationSummary{
			ID:        conv.ID,
			UpdatedAt: conv.CreatedAt,
		}
		if p, ok, err := a.store.GetProfile(ctx, otherID); err != nil {
			return nil, fmt.Errorf("fetch counterpart: %w", err)
		} else if ok {
			profile := p
			summary.Counterpart = &profile
		}
		if msg, ok, err := a.store.LastMessage(ctx, conv.ID); err != nil {
			return nil, fmt.Errorf("fetch last message: %w", err)
		} else if ok {
			summary.LastMessage = &domain.LastMessage{
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			}
			summary.UpdatedAt = msg.CreatedAt
		}
		summaries = append(summaries, summary)
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// LoadHistory returns a conversation's messages oldest first. Only
// participants may read.
func (a *App) LoadHistory(ctx context.Context, userID, conversationID string) ([]domain.Message, error) {
	if _, err := a.requireParticipant(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := a.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// SendMessage appends a message to a conversation the caller
// participates in and notifies subscribers.
func (a *App) SendMessage(ctx context.Context, userID, conversationID, content string) (domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Message{}, ErrMessageEmpty
	}
	if _, err := a.requireParticipant(ctx, userID, conversationID); err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID:             util.NewID(),
		ConversationID: conversationID,
		SenderID:       userID,
		Content:        content,
		CreatedAt:      a.now().UTC(),
	}
	if err := a.store.AppendMessage(ctx, msg); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	payload, _ := json.Marshal(msg)
	a.publish(realtime.Event{
		Table:          realtime.TableMessages,
		Type:           realtime.EventInsert,
		ConversationID: conversationID,
		Payload:        payload,
	})
	return msg, nil
}

func (a *App) requireParticipant(ctx context.Context, userID, conversationID string) (domain.Conversation, error) {
	conv, ok, err := a.store.GetConversation(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("fetch conversation: %w", err)
	}
	if !ok {
		return domain.Conversation{}, ErrConversationNotFound
	}
	if conv.ParticipantOne != userID && conv.ParticipantTwo != userID {
		return domain.Conversation{}, ErrConversationForbidden
	}
	return conv, nil
}

func (a *App) publish(ev realtime.Event) {
	if a.publisher != nil {
		a.publisher.Publish(ev)
	}
}
