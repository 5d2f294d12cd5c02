package store

import (
	"context"
	"time"

	"chatwave/pkg/domain"
)

// Store defines persistence operations for users, profiles,
// conversations, messages, and the status feed.
type Store interface {
	// users
	SaveUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)

	// profiles
	SaveProfile(ctx context.Context, p domain.Profile) error
	GetProfile(ctx context.Context, id string) (domain.Profile, bool, error)
	ListProfiles(ctx context.Context) ([]domain.Profile, error)

	// conversations
	GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error)
	FindConversationByPair(ctx context.Context, participantOne, participantTwo string) (domain.Conversation, bool, error)
	// CreateConversation inserts the row unless one already exists for
	// the same ordered pair, in which case the existing row is returned.
	CreateConversation(ctx context.Context, c domain.Conversation) (domain.Conversation, error)
	ListConversationsByUser(ctx context.Context, userID string) ([]domain.Conversation, error)

	// messages
	AppendMessage(ctx context.Context, m domain.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	LastMessage(ctx context.Context, conversationID string) (domain.Message, bool, error)

	// statuses
	SaveStatus(ctx context.Context, s domain.Status) error
	GetStatus(ctx context.Context, id string) (domain.Status, bool, error)
	ListActiveStatuses(ctx context.Context, now time.Time) ([]domain.Status, error)
	CountStatusViews(ctx context.Context, statusID string) (int, error)
	CountStatusReactions(ctx context.Context, statusID string) (int, error)
	HasViewed(ctx context.Context, statusID, viewerID string) (bool, error)
	// InsertStatusView records a view unless one already exists for the
	// (status, viewer) pair. Returns true when a new row was written.
	InsertStatusView(ctx context.Context, v domain.StatusView) (bool, error)
	// UpsertStatusReaction inserts or replaces the reaction for the
	// (status, reactor) pair.
	UpsertStatusReaction(ctx context.Context, r domain.StatusReaction) error
	ListStatusViews(ctx context.Context, statusID string) ([]domain.StatusView, error)
	ListStatusReactions(ctx context.Context, statusID string) ([]domain.StatusReaction, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
