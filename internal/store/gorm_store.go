package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chatwave/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(
		&UserModel{},
		&ProfileModel{},
		&ConversationModel{},
		&MessageModel{},
		&StatusModel{},
		&StatusViewModel{},
		&StatusReactionModel{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveProfile stores or replaces a profile.
func (s *GormStore) SaveProfile(ctx context.Context, p domain.Profile) error {
	model := ProfileModel{
		ID:        p.ID,
		Username:  p.Username,
		AvatarURL: p.AvatarURL,
		Bio:       p.Bio,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "avatar_url", "bio", "updated_at"}),
	}).Create(&model).Error
}

// GetProfile retrieves a profile by user ID.
func (s *GormStore) GetProfile(ctx context.Context, id string) (domain.Profile, bool, error) {
	var model ProfileModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Profile{}, false, nil
		}
		return domain.Profile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// ListProfiles returns all profiles ordered by username.
func (s *GormStore) ListProfiles(ctx context.Context) ([]domain.Profile, error) {
	var models []ProfileModel
	if err := s.db.WithContext(ctx).Order("username ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Profile, 0, len(models))
	for _, m := range models {
		res = append(res, profileFromModel(m))
	}
	return res, nil
}

// GetConversation retrieves a conversation by ID.
func (s *GormStore) GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// FindConversationByPair looks up the conversation for an ordered pair.
func (s *GormStore) FindConversationByPair(ctx context.Context, participantOne, participantTwo string) (domain.Conversation, bool, error) {
	var model ConversationModel
	err := s.db.WithContext(ctx).
		Where("participant_one = ? AND participant_two = ?", participantOne, participantTwo).
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// CreateConversation inserts the pair row. A concurrent insert of the
// same pair hits the unique index; the conflict is swallowed and the
// surviving row is read back, so both callers end up with the same
// conversation.
func (s *GormStore) CreateConversation(ctx context.Context, c domain.Conversation) (domain.Conversation, error) {
	model := ConversationModel{
		ID:             c.ID,
		ParticipantOne: c.ParticipantOne,
		ParticipantTwo: c.ParticipantTwo,
		CreatedAt:      c.CreatedAt,
	}
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "participant_one"}, {Name: "participant_two"}},
		DoNothing: true,
	}).Create(&model)
	if tx.Error != nil {
		return domain.Conversation{}, tx.Error
	}
	if tx.RowsAffected == 0 {
		existing, ok, err := s.FindConversationByPair(ctx, c.ParticipantOne, c.ParticipantTwo)
		if err != nil {
			return domain.Conversation{}, err
		}
		if !ok {
			return domain.Conversation{}, fmt.Errorf("conversation vanished after conflict")
		}
		return existing, nil
	}
	return c, nil
}

// ListConversationsByUser returns conversations where the user is
// either participant.
func (s *GormStore) ListConversationsByUser(ctx context.Context, userID string) ([]domain.Conversation, error) {
	var models []ConversationModel
	err := s.db.WithContext(ctx).
		Where("participant_one = ? OR participant_two = ?", userID, userID).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Conversation, 0, len(models))
	for _, m := range models {
		res = append(res, conversationFromModel(m))
	}
	return res, nil
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(ctx context.Context, m domain.Message) error {
	model := MessageModel{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListMessages returns the full history oldest first.
func (s *GormStore) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var models []MessageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

// LastMessage returns the most recent message of a conversation.
func (s *GormStore) LastMessage(ctx context.Context, conversationID string) (domain.Message, bool, error) {
	var model MessageModel
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Message{}, false, nil
		}
		return domain.Message{}, false, err
	}
	return messageFromModel(model), true, nil
}

type statusMeta struct {
	Background string `json:"background,omitempty"`
	MediaType  string `json:"mediaType,omitempty"`
}

// SaveStatus stores a status post.
func (s *GormStore) SaveStatus(ctx context.Context, st domain.Status) error {
	meta, err := json.Marshal(statusMeta{Background: st.Background, MediaType: st.MediaType})
	if err != nil {
		return fmt.Errorf("marshal status meta: %w", err)
	}
	model := StatusModel{
		ID:        st.ID,
		AuthorID:  st.AuthorID,
		Content:   st.Content,
		MediaURL:  st.MediaURL,
		Meta:      datatypes.JSON(meta),
		CreatedAt: st.CreatedAt,
		ExpiresAt: st.ExpiresAt,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetStatus retrieves a status by ID.
func (s *GormStore) GetStatus(ctx context.Context, id string) (domain.Status, bool, error) {
	var model StatusModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Status{}, false, nil
		}
		return domain.Status{}, false, err
	}
	return statusFromModel(model), true, nil
}

// ListActiveStatuses returns statuses whose expiry is strictly after
// now, newest first.
func (s *GormStore) ListActiveStatuses(ctx context.Context, now time.Time) ([]domain.Status, error) {
	var models []StatusModel
	err := s.db.WithContext(ctx).
		Where("expires_at > ?", now).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Status, 0, len(models))
	for _, m := range models {
		res = append(res, statusFromModel(m))
	}
	return res, nil
}

// CountStatusViews returns the view count for a status.
func (s *GormStore) CountStatusViews(ctx context.Context, statusID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&StatusViewModel{}).Where("status_id = ?", statusID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// CountStatusReactions returns the reaction count for a status.
func (s *GormStore) CountStatusReactions(ctx context.Context, statusID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&StatusReactionModel{}).Where("status_id = ?", statusID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// HasViewed reports whether the viewer already has a view row.
func (s *GormStore) HasViewed(ctx context.Context, statusID, viewerID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&StatusViewModel{}).
		Where("status_id = ? AND viewer_id = ?", statusID, viewerID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// InsertStatusView writes a view row unless the pair already exists.
func (s *GormStore) InsertStatusView(ctx context.Context, v domain.StatusView) (bool, error) {
	model := StatusViewModel{
		ID:       v.ID,
		StatusID: v.StatusID,
		ViewerID: v.ViewerID,
		ViewedAt: v.ViewedAt,
	}
	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "status_id"}, {Name: "viewer_id"}},
		DoNothing: true,
	}).Create(&model)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// UpsertStatusReaction inserts or replaces the reaction for the pair.
func (s *GormStore) UpsertStatusReaction(ctx context.Context, r domain.StatusReaction) error {
	model := StatusReactionModel{
		ID:        r.ID,
		StatusID:  r.StatusID,
		ReactorID: r.ReactorID,
		Emoji:     r.Emoji,
		CreatedAt: r.CreatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "status_id"}, {Name: "reactor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"emoji", "created_at"}),
	}).Create(&model).Error
}

// ListStatusViews returns view rows for a status, newest first.
func (s *GormStore) ListStatusViews(ctx context.Context, statusID string) ([]domain.StatusView, error) {
	var models []StatusViewModel
	err := s.db.WithContext(ctx).
		Where("status_id = ?", statusID).
		Order("viewed_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.StatusView, 0, len(models))
	for _, m := range models {
		res = append(res, domain.StatusView{
			ID:       m.ID,
			StatusID: m.StatusID,
			ViewerID: m.ViewerID,
			ViewedAt: m.ViewedAt,
		})
	}
	return res, nil
}

// ListStatusReactions returns reaction rows for a status, newest first.
func (s *GormStore) ListStatusReactions(ctx context.Context, statusID string) ([]domain.StatusReaction, error) {
	var models []StatusReactionModel
	err := s.db.WithContext(ctx).
		Where("status_id = ?", statusID).
		Order("created_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.StatusReaction, 0, len(models))
	for _, m := range models {
		res = append(res, domain.StatusReaction{
			ID:        m.ID,
			StatusID:  m.StatusID,
			ReactorID: m.ReactorID,
			Emoji:     m.Emoji,
			CreatedAt: m.CreatedAt,
		})
	}
	return res, nil
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	return domain.Profile{
		ID:        m.ID,
		Username:  m.Username,
		AvatarURL: m.AvatarURL,
		Bio:       m.Bio,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:             m.ID,
		ParticipantOne: m.ParticipantOne,
		ParticipantTwo: m.ParticipantTwo,
		CreatedAt:      m.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}

func statusFromModel(m StatusModel) domain.Status {
	var meta statusMeta
	if len(m.Meta) > 0 {
		_ = json.Unmarshal(m.Meta, &meta)
	}
	return domain.Status{
		ID:         m.ID,
		AuthorID:   m.AuthorID,
		Content:    m.Content,
		MediaURL:   m.MediaURL,
		MediaType:  meta.MediaType,
		Background: meta.Background,
		CreatedAt:  m.CreatedAt,
		ExpiresAt:  m.ExpiresAt,
	}
}
