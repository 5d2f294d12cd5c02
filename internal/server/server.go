package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatwave/internal/app"
	"chatwave/internal/ratelimit"
	"chatwave/internal/realtime"
	"chatwave/internal/util"
	"chatwave/pkg/ai"
	"chatwave/pkg/auth"
	"chatwave/pkg/domain"
	"chatwave/pkg/speech"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                      *app.App
	Hub                      *realtime.Hub
	RedisAddr                string
	RedisPassword            string
	SignupRateLimitPerMinute int
	LoginRateLimitPerMinute  int
	AIRateLimitPerMinute     int
	MaxUploadBytes           int64
	TrustedProxyCIDRs        []string
}

// Server exposes HTTP endpoints for the backend.
type Server struct {
	app            *app.App
	hub            *realtime.Hub
	mux            *http.ServeMux
	maxUploadBytes int64
	trustedProxies *util.TrustedProxies
	signupLimiter  *ratelimit.FixedWindowLimiter
	loginLimiter   *ratelimit.FixedWindowLimiter
	aiLimiter      *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. Rate limiting is
// disabled when no Redis address is given.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app is required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:            cfg.App,
		hub:            cfg.Hub,
		mux:            http.NewServeMux(),
		maxUploadBytes: normalizeMaxBytes(cfg.MaxUploadBytes),
		trustedProxies: trusted,
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		rateWindow := time.Minute
		newLimiter := func(name string, limit, fallback int) (*ratelimit.FixedWindowLimiter, error) {
			if limit <= 0 {
				limit = fallback
			}
			prefix := "chatwave:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		if s.signupLimiter, err = newLimiter("signup", cfg.SignupRateLimitPerMinute, 5); err != nil {
			return nil, err
		}
		if s.loginLimiter, err = newLimiter("login", cfg.LoginRateLimitPerMinute, 10); err != nil {
			return nil, err
		}
		if s.aiLimiter, err = newLimiter("ai", cfg.AIRateLimitPerMinute, 20); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithSecurityHeaders(util.WithCORS(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/signup", s.handleSignup)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/auth/logout", s.authenticated(s.handleLogout))

	// users
	s.mux.Handle("/api/users/me", s.authenticated(s.handleMe))
	s.mux.Handle("/api/users", s.authenticated(s.handleUsers))

	// conversations and messages
	s.mux.Handle("/api/conversations", s.authenticated(s.handleConversations))
	s.mux.Handle("/api/conversations/", s.authenticated(s.handleConversationByID))

	// status feed
	s.mux.Handle("/api/statuses", s.authenticated(s.handleStatuses))
	s.mux.Handle("/api/statuses/", s.authenticated(s.handleStatusByID))

	// assistant and speech passthroughs
	s.mux.Handle("/api/ai/chat", s.authenticated(s.handleAssistant))
	s.mux.Handle("/api/speech/tts", s.authenticated(s.handleSynthesize))
	s.mux.Handle("/api/speech/transcribe", s.authenticated(s.handleTranscribe))

	// realtime
	s.mux.HandleFunc("/ws", s.handleWebsocket)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	user, found := s.app.UserFromToken(r.Context(), token)
	if !found {
		s.audit(r, "auth.token.verify", "fail", "reason", "invalid_token")
		return domain.User{}, false
	}
	return user, true
}

// auth handlers

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.signupLimiter, "too many signup attempts") {
		s.audit(r, "auth.signup", "rate_limited")
		return
	}
	var req signupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.SignUp(r.Context(), req.Email, req.Password, req.Username)
	if err != nil {
		s.audit(r, "auth.signup", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "auth.signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "auth.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.login", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "auth.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, _ := bearerToken(r)
	if err := s.app.Logout(token); err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "auth.logout", "success", "user_id", user.ID)
	w.WriteHeader(http.StatusNoContent)
}

// user handlers

type meResponse struct {
	User    domain.User    `json:"user"`
	Profile domain.Profile `json:"profile"`
}

type updateProfileRequest struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl"`
	Bio       string `json:"bio"`
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		profile, err := s.app.EnsureProfile(r.Context(), user.ID, "")
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, meResponse{User: user, Profile: profile})
	case http.MethodPatch, http.MethodPut:
		var req updateProfileRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		profile, err := s.app.UpdateProfile(r.Context(), user.ID, req.Username, req.AvatarURL, req.Bio)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	profiles, err := s.app.ListProfiles(r.Context(), user.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// conversation handlers

type createConversationRequest struct {
	OtherUserID string `json:"otherUserId"`
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		summaries, err := s.app.ListConversations(r.Context(), user.ID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summaries)
	case http.MethodPost:
		var req createConversationRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		conv, err := s.app.FindOrCreateConversation(r.Context(), user.ID, req.OtherUserID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conv)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "messages" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	conversationID := parts[0]
	switch r.Method {
	case http.MethodGet:
		msgs, err := s.app.LoadHistory(r.Context(), user.ID, conversationID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	case http.MethodPost:
		var req sendMessageRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		msg, err := s.app.SendMessage(r.Context(), user.ID, conversationID, req.Content)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	default:
		methodNotAllowed(w)
	}
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func (s *Server) handleStatuses(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		feed, err := s.app.ListActiveStatuses(r.Context(), user.ID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, feed)
	case http.MethodPost:
		s.handleCreateStatus(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

// handleCreateStatus accepts multipart form uploads (text fields plus
// an optional "media" file) or a plain JSON body for text statuses.
func (s *Server) handleCreateStatus(w http.ResponseWriter, r *http.Request, user domain.User) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
		if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		var media *app.StatusMedia
		file, header, err := r.FormFile("media")
		if err == nil {
			defer file.Close()
			media = &app.StatusMedia{
				Filename:    header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Size:        header.Size,
				Reader:      file,
			}
		} else if !errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, "invalid media upload")
			return
		}
		status, err := s.app.CreateStatus(r.Context(), user.ID, r.FormValue("content"), r.FormValue("background"), media)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, status)
		return
	}
	var req struct {
		Content    string `json:"content"`
		Background string `json:"background"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	status, err := s.app.CreateStatus(r.Context(), user.ID, req.Content, req.Background, nil)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, status)
}

func (s *Server) handleStatusByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/statuses/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	statusID := parts[0]
	switch parts[1] {
	case "views":
		switch r.Method {
		case http.MethodGet:
			views, err := s.app.ListStatusViews(r.Context(), user.ID, statusID)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, views)
		case http.MethodPost:
			if err := s.app.RecordView(r.Context(), user.ID, statusID); err != nil {
				writeAppError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w)
		}
	case "reactions":
		switch r.Method {
		case http.MethodGet:
			reactions, err := s.app.ListStatusReactions(r.Context(), user.ID, statusID)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, reactions)
		case http.MethodPost:
			var req reactionRequest
			if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
			reaction, err := s.app.React(r.Context(), user.ID, statusID, req.Emoji)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, reaction)
		default:
			methodNotAllowed(w)
		}
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// assistant and speech handlers

type assistantRequest struct {
	Prompt string `json:"prompt"`
	Files  []struct {
		MIMEType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"files"`
}

func (s *Server) handleAssistant(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.aiLimiter, "too many assistant requests") {
		s.audit(r, "ai.chat", "rate_limited", "user_id", user.ID)
		return
	}
	var req assistantRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 8<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	files := make([]ai.InlinePart, 0, len(req.Files))
	for _, f := range req.Files {
		files = append(files, ai.InlinePart{MIMEType: f.MIMEType, Data: f.Data})
	}
	reply, err := s.app.AskAssistant(r.Context(), apiKey(r), req.Prompt, files)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.aiLimiter, "too many speech requests") {
		s.audit(r, "speech.tts", "rate_limited", "user_id", user.ID)
		return
	}
	var req synthesizeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	audio, contentType, err := s.app.SynthesizeSpeech(r.Context(), apiKey(r), req.VoiceID, req.Text)
	if err != nil {
		writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.aiLimiter, "too many speech requests") {
		s.audit(r, "speech.transcribe", "rate_limited", "user_id", user.ID)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file required")
		return
	}
	defer file.Close()
	text, err := s.app.TranscribeAudio(r.Context(), apiKey(r), header.Filename, file)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// helpers

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// apiKey reads the user-supplied upstream key for the AI and speech
// passthroughs.
func apiKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Api-Key"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrEmailAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrInvalidCredentials),
		errors.Is(err, ai.ErrInvalidAPIKey),
		errors.Is(err, speech.ErrInvalidAPIKey):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrConversationForbidden),
		errors.Is(err, app.ErrStatusForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrConversationNotFound),
		errors.Is(err, app.ErrStatusNotFound),
		errors.Is(err, app.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrStatusExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, app.ErrMediaTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, app.ErrEmailAndPasswordRequired),
		errors.Is(err, app.ErrUsernameRequired),
		errors.Is(err, app.ErrSelfConversation),
		errors.Is(err, app.ErrOtherUserRequired),
		errors.Is(err, app.ErrMessageEmpty),
		errors.Is(err, app.ErrStatusEmpty),
		errors.Is(err, app.ErrInvalidReaction),
		errors.Is(err, app.ErrUnsupportedMedia),
		errors.Is(err, app.ErrPromptRequired),
		errors.Is(err, auth.ErrPasswordTooShort),
		errors.Is(err, auth.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ai.ErrMalformedResponse):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("internal error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 5 * 1024 * 1024
	}
	return value
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	if limiter.Allow(key) {
		return true
	}
	retryAfter := int(limiter.Window().Seconds())
	if retryAfter <= 0 {
		retryAfter = 60
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
