package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type ProfileModel struct {
	ID        string `gorm:"primaryKey"`
	Username  string `gorm:"not null"`
	AvatarURL string
	Bio       string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ProfileModel) TableName() string { return "profiles" }

// ConversationModel stores the canonical ordered pair. The composite
// unique index is what makes find-or-create race-safe.
type ConversationModel struct {
	ID             string    `gorm:"primaryKey"`
	ParticipantOne string    `gorm:"not null;index;uniqueIndex:uniq_conversation_pair"`
	ParticipantTwo string    `gorm:"not null;index;uniqueIndex:uniq_conversation_pair"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (ConversationModel) TableName() string { return "conversations" }

type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index"`
	SenderID       string    `gorm:"not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
}

func (MessageModel) TableName() string { return "messages" }

// StatusModel keeps presentation details (background color, media MIME
// type) in a JSON column rather than dedicated columns.
type StatusModel struct {
	ID        string `gorm:"primaryKey"`
	AuthorID  string `gorm:"not null;index"`
	Content   string `gorm:"type:text"`
	MediaURL  string
	Meta      datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index"`
	ExpiresAt time.Time      `gorm:"not null;index"`
}

func (StatusModel) TableName() string { return "statuses" }

type StatusViewModel struct {
	ID       string    `gorm:"primaryKey"`
	StatusID string    `gorm:"not null;index;uniqueIndex:uniq_status_viewer"`
	ViewerID string    `gorm:"not null;uniqueIndex:uniq_status_viewer"`
	ViewedAt time.Time `gorm:"not null"`
}

func (StatusViewModel) TableName() string { return "status_views" }

type StatusReactionModel struct {
	ID        string    `gorm:"primaryKey"`
	StatusID  string    `gorm:"not null;index;uniqueIndex:uniq_status_reactor"`
	ReactorID string    `gorm:"not null;uniqueIndex:uniq_status_reactor"`
	Emoji     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (StatusReactionModel) TableName() string { return "status_reactions" }
