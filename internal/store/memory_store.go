package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"chatwave/pkg/domain"
)

// MemoryStore keeps everything in-process. It backs tests and local
// development without Postgres, and enforces the same pair-uniqueness
// rules as the SQL schema.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	email         map[string]string // email -> user ID
	profiles      map[string]domain.Profile
	conversations map[string]domain.Conversation
	pairIndex     map[[2]string]string // ordered pair -> conversation ID
	messages      map[string][]domain.Message // conversation ID -> ordered
	statuses      map[string]domain.Status
	statusOrder   []string
	views         map[string]map[string]domain.StatusView     // status ID -> viewer ID -> view
	reactions     map[string]map[string]domain.StatusReaction // status ID -> reactor ID -> reaction
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		email:         make(map[string]string),
		profiles:      make(map[string]domain.Profile),
		conversations: make(map[string]domain.Conversation),
		pairIndex:     make(map[[2]string]string),
		messages:      make(map[string][]domain.Message),
		statuses:      make(map[string]domain.Status),
		views:         make(map[string]map[string]domain.StatusView),
		reactions:     make(map[string]map[string]domain.StatusReaction),
	}
}

// SaveUser registers or updates a user.
func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SaveProfile stores or replaces a profile.
func (m *MemoryStore) SaveProfile(_ context.Context, p domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
	return nil
}

// GetProfile retrieves a profile by user ID.
func (m *MemoryStore) GetProfile(_ context.Context, id string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	return p, ok, nil
}

// ListProfiles returns all profiles ordered by username.
func (m *MemoryStore) ListProfiles(_ context.Context) ([]domain.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Username < res[j].Username })
	return res, nil
}

// GetConversation retrieves a conversation by ID.
func (m *MemoryStore) GetConversation(_ context.Context, id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok, nil
}

// FindConversationByPair looks up the conversation for an ordered pair.
func (m *MemoryStore) FindConversationByPair(_ context.Context, participantOne, participantTwo string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pairIndex[[2]string{participantOne, participantTwo}]
	if !ok {
		return domain.Conversation{}, false, nil
	}
	c, exists := m.conversations[id]
	return c, exists, nil
}

// CreateConversation inserts the pair row or returns the existing one.
func (m *MemoryStore) CreateConversation(_ context.Context, c domain.Conversation) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]string{c.ParticipantOne, c.ParticipantTwo}
	if id, ok := m.pairIndex[key]; ok {
		return m.conversations[id], nil
	}
	m.conversations[c.ID] = c
	m.pairIndex[key] = c.ID
	return c, nil
}

// ListConversationsByUser returns conversations where the user is
// either participant.
func (m *MemoryStore) ListConversationsByUser(_ context.Context, userID string) ([]domain.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Conversation, 0)
	for _, c := range m.conversations {
		if c.ParticipantOne == userID || c.ParticipantTwo == userID {
			res = append(res, c)
		}
	}
	return res, nil
}

// AppendMessage records a message in creation order.
func (m *MemoryStore) AppendMessage(_ context.Context, msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	return nil
}

// ListMessages returns the full history oldest first.
func (m *MemoryStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// LastMessage returns the most recent message of a conversation.
func (m *MemoryStore) LastMessage(_ context.Context, conversationID string) (domain.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	if len(msgs) == 0 {
		return domain.Message{}, false, nil
	}
	last := msgs[0]
	for _, msg := range msgs[1:] {
		if !msg.CreatedAt.Before(last.CreatedAt) {
			last = msg
		}
	}
	return last, true, nil
}

// SaveStatus stores a status post.
func (m *MemoryStore) SaveStatus(_ context.Context, s domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.statuses[s.ID]; !exists {
		m.statusOrder = append(m.statusOrder, s.ID)
	}
	m.statuses[s.ID] = s
	return nil
}

// GetStatus retrieves a status by ID.
func (m *MemoryStore) GetStatus(_ context.Context, id string) (domain.Status, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[id]
	return s, ok, nil
}

// ListActiveStatuses returns unexpired statuses newest first.
func (m *MemoryStore) ListActiveStatuses(_ context.Context, now time.Time) ([]domain.Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Status, 0, len(m.statusOrder))
	for _, id := range m.statusOrder {
		if s, ok := m.statuses[id]; ok && s.ExpiresAt.After(now) {
			res = append(res, s)
		}
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// CountStatusViews returns the view count for a status.
func (m *MemoryStore) CountStatusViews(_ context.Context, statusID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.views[statusID]), nil
}

// CountStatusReactions returns the reaction count for a status.
func (m *MemoryStore) CountStatusReactions(_ context.Context, statusID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.reactions[statusID]), nil
}

// HasViewed reports whether the viewer already has a view row.
func (m *MemoryStore) HasViewed(_ context.Context, statusID, viewerID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.views[statusID][viewerID]
	return ok, nil
}

// InsertStatusView records a view unless the pair already exists.
func (m *MemoryStore) InsertStatusView(_ context.Context, v domain.StatusView) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byViewer, ok := m.views[v.StatusID]
	if !ok {
		byViewer = make(map[string]domain.StatusView)
		m.views[v.StatusID] = byViewer
	}
	if _, exists := byViewer[v.ViewerID]; exists {
		return false, nil
	}
	byViewer[v.ViewerID] = v
	return true, nil
}

// UpsertStatusReaction inserts or replaces the reaction for the pair.
func (m *MemoryStore) UpsertStatusReaction(_ context.Context, r domain.StatusReaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byReactor, ok := m.reactions[r.StatusID]
	if !ok {
		byReactor = make(map[string]domain.StatusReaction)
		m.reactions[r.StatusID] = byReactor
	}
	if prior, exists := byReactor[r.ReactorID]; exists {
		prior.Emoji = r.Emoji
		prior.CreatedAt = r.CreatedAt
		byReactor[r.ReactorID] = prior
		return nil
	}
	byReactor[r.ReactorID] = r
	return nil
}

// ListStatusViews returns view rows for a status, newest first.
func (m *MemoryStore) ListStatusViews(_ context.Context, statusID string) ([]domain.StatusView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.StatusView, 0, len(m.views[statusID]))
	for _, v := range m.views[statusID] {
		res = append(res, v)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ViewedAt.After(res[j].ViewedAt) })
	return res, nil
}

// ListStatusReactions returns reaction rows for a status, newest first.
func (m *MemoryStore) ListStatusReactions(_ context.Context, statusID string) ([]domain.StatusReaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.StatusReaction, 0, len(m.reactions[statusID]))
	for _, r := range m.reactions[statusID] {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}
