package app

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"chatwave/internal/realtime"
	"chatwave/internal/store"
	"chatwave/internal/util"
	"chatwave/pkg/ai"
	"chatwave/pkg/auth"
	"chatwave/pkg/domain"
	"chatwave/pkg/speech"
	"chatwave/pkg/storage"
)

const (
	defaultStatusTTL      = 24 * time.Hour
	defaultMaxUploadBytes = 5 * 1024 * 1024
	defaultBio            = "Hey there! I am using this app"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL    string
	JWTSecret      string
	SessionTTL     time.Duration
	StatusTTL      time.Duration
	MaxUploadBytes int64
	GeminiModel    string

	// Overrides for tests and alternative wiring.
	Store     store.Store
	Sessions  store.SessionStore
	Objects   storage.ObjectStore
	Publisher realtime.Publisher
	Gemini    *ai.GeminiClient
	Speech    *speech.Client
}

// App is the core application service wiring together storage,
// messaging, the status feed, and the AI/speech passthroughs.
type App struct {
	store          store.Store
	sessions       store.SessionStore
	objects        storage.ObjectStore
	publisher      realtime.Publisher
	gemini         *ai.GeminiClient
	speech         *speech.Client
	statusTTL      time.Duration
	maxUploadBytes int64
	now            func() time.Time
}

// New constructs the application with database storage and session management.
func New(cfg Config) (*App, error) {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.StatusTTL == 0 {
		cfg.StatusTTL = defaultStatusTTL
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}

	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessions := cfg.Sessions
	if sessions == nil {
		if strings.TrimSpace(cfg.JWTSecret) == "" {
			return nil, fmt.Errorf("jwtSecret is required")
		}
		sessions = store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL)
	}

	publisher := cfg.Publisher
	if publisher == nil {
		publisher = realtime.NewHub()
	}

	gemini := cfg.Gemini
	if gemini == nil {
		gemini = ai.NewGeminiClient(cfg.GeminiModel)
	}
	speechClient := cfg.Speech
	if speechClient == nil {
		speechClient = speech.NewClient()
	}

	return &App{
		store:          dataStore,
		sessions:       sessions,
		objects:        cfg.Objects,
		publisher:      publisher,
		gemini:         gemini,
		speech:         speechClient,
		statusTTL:      cfg.StatusTTL,
		maxUploadBytes: cfg.MaxUploadBytes,
		now:            time.Now,
	}, nil
}

// SignUp registers a new account, creates its profile, and issues a
// session token.
func (a *App) SignUp(ctx context.Context, email, password, username string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, "", ErrUsernameRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", err
	}
	exists, err := a.store.HasUserEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    a.now().UTC(),
	}
	if err := a.store.SaveUser(ctx, user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	if _, err := a.EnsureProfile(ctx, user.ID, username); err != nil {
		return domain.User{}, "", err
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// Logout invalidates a session token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(ctx context.Context, token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(ctx, uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// EnsureProfile returns the user's profile, creating it with defaults
// when missing. The default avatar is derived from the username.
func (a *App) EnsureProfile(ctx context.Context, userID, username string) (domain.Profile, error) {
	if p, ok, err := a.store.GetProfile(ctx, userID); err != nil {
		return domain.Profile{}, fmt.Errorf("fetch profile: %w", err)
	} else if ok {
		return p, nil
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = "user-" + userID[:8]
	}
	now := a.now().UTC()
	p := domain.Profile{
		ID:        userID,
		Username:  username,
		AvatarURL: defaultAvatarURL(username),
		Bio:       defaultBio,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.SaveProfile(ctx, p); err != nil {
		return domain.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	return p, nil
}

// GetProfile fetches a profile by user ID.
func (a *App) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	p, ok, err := a.store.GetProfile(ctx, userID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	if !ok {
		return domain.Profile{}, ErrProfileNotFound
	}
	return p, nil
}

// ListProfiles returns every profile except the caller's own, for the
// new-conversation picker.
func (a *App) ListProfiles(ctx context.Context, excludeUserID string) ([]domain.Profile, error) {
	all, err := a.store.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]domain.Profile, 0, len(all))
	for _, p := range all {
		if p.ID == excludeUserID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// UpdateProfile changes the caller's display fields. Empty fields are
// left unchanged.
func (a *App) UpdateProfile(ctx context.Context, userID, username, avatarURL, bio string) (domain.Profile, error) {
	p, ok, err := a.store.GetProfile(ctx, userID)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("fetch profile: %w", err)
	}
	if !ok {
		return domain.Profile{}, ErrProfileNotFound
	}
	if username = strings.TrimSpace(username); username != "" {
		p.Username = username
	}
	if avatarURL = strings.TrimSpace(avatarURL); avatarURL != "" {
		p.AvatarURL = avatarURL
	}
	if bio = strings.TrimSpace(bio); bio != "" {
		p.Bio = bio
	}
	p.UpdatedAt = a.now().UTC()
	if err := a.store.SaveProfile(ctx, p); err != nil {
		return domain.Profile{}, fmt.Errorf("save profile: %w", err)
	}
	return p, nil
}

func defaultAvatarURL(username string) string {
	return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + url.QueryEscape(username)
}
