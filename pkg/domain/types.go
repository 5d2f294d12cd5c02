package domain

import "time"

// User is an authenticated account. The profile (display identity) is a
// separate row created lazily on first login.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Profile is the public identity shown to other users.
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatarUrl"`
	Bio       string    `json:"bio,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Conversation pairs exactly two users. ParticipantOne is always the
// lexicographically smaller user ID so that any unordered pair maps to
// a single row.
type Conversation struct {
	ID             string    `json:"id"`
	ParticipantOne string    `json:"participantOne"`
	ParticipantTwo string    `json:"participantTwo"`
	CreatedAt      time.Time `json:"createdAt"`
}

// CanonicalPair orders two user IDs into the stored participant order.
func CanonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Message is immutable once created.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// LastMessage is the preview carried on a conversation summary.
type LastMessage struct {
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ConversationSummary is one entry of a user's conversation list.
// Counterpart is nil when the other participant has no profile yet.
type ConversationSummary struct {
	ID          string       `json:"id"`
	Counterpart *Profile     `json:"counterpart"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Status is a time-limited broadcast. Expiry is a query filter: rows
// past ExpiresAt become invisible but are never deleted.
type Status struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	Content    string    `json:"content"`
	MediaURL   string    `json:"mediaUrl,omitempty"`
	MediaType  string    `json:"mediaType,omitempty"`
	Background string    `json:"background,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// StatusWithCounts is the feed shape: the status row plus aggregates
// computed for the requesting viewer.
type StatusWithCounts struct {
	Status
	Author        *Profile `json:"author"`
	ViewCount     int      `json:"viewCount"`
	ReactionCount int      `json:"reactionCount"`
	HasViewed     bool     `json:"hasViewed"`
}

// StatusView records that a viewer has seen a status, at most once per
// (status, viewer) pair.
type StatusView struct {
	ID       string    `json:"id"`
	StatusID string    `json:"statusId"`
	ViewerID string    `json:"viewerId"`
	ViewedAt time.Time `json:"viewedAt"`
	Viewer   *Profile  `json:"viewer,omitempty"`
}

// StatusReaction is a single emoji per (status, reactor) pair. A new
// reaction from the same user replaces the previous one.
type StatusReaction struct {
	ID        string    `json:"id"`
	StatusID  string    `json:"statusId"`
	ReactorID string    `json:"reactorId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
	Reactor   *Profile  `json:"reactor,omitempty"`
}

// ReactionEmojis is the fixed set of accepted reaction symbols.
var ReactionEmojis = []string{"❤️", "😂", "😮", "😢", "👍", "🔥", "🎉", "👏"}

// IsReactionEmoji reports whether e is one of the accepted symbols.
func IsReactionEmoji(e string) bool {
	for _, v := range ReactionEmojis {
		if v == e {
			return true
		}
	}
	return false
}
