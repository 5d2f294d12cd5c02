package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chatwave/internal/realtime"
	"chatwave/internal/store"
	"chatwave/pkg/domain"
	"chatwave/pkg/storage"
)

func newTestApp(t *testing.T) (*App, *realtime.Hub) {
	t.Helper()
	hub := realtime.NewHub()
	a, err := New(Config{
		Store:     store.NewMemoryStore(),
		Sessions:  store.NewJWTSessionStore("test-secret", time.Hour),
		Objects:   storage.NewMemoryStore(),
		Publisher: hub,
	})
	if err != nil {
		t.Fatalf("init app: %v", err)
	}
	return a, hub
}

func signUpUser(t *testing.T, a *App, email, username string) domain.User {
	t.Helper()
	user, _, err := a.SignUp(context.Background(), email, "password1", username)
	if err != nil {
		t.Fatalf("sign up %s: %v", email, err)
	}
	return user
}

func TestSignUpCreatesProfileWithDefaults(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	user, token, err := a.SignUp(ctx, "Alice@Example.com", "password1", "alice")
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Errorf("email not normalized: %q", user.Email)
	}
	if token == "" {
		t.Error("expected a session token")
	}
	profile, err := a.GetProfile(ctx, user.ID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if profile.Username != "alice" {
		t.Errorf("username = %q", profile.Username)
	}
	if profile.Bio != defaultBio {
		t.Errorf("bio = %q", profile.Bio)
	}
	if !strings.Contains(profile.AvatarURL, "dicebear.com") {
		t.Errorf("avatar URL = %q", profile.AvatarURL)
	}

	resolved, ok := a.UserFromToken(ctx, token)
	if !ok || resolved.ID != user.ID {
		t.Fatalf("token did not resolve to the signed-up user")
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	signUpUser(t, a, "alice@example.com", "alice")

	_, _, err := a.SignUp(ctx, "alice@example.com", "password2", "alice2")
	if !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("expected ErrEmailAlreadyExists, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	user := signUpUser(t, a, "alice@example.com", "alice")

	got, token, err := a.Login(ctx, "alice@example.com", "password1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID || token == "" {
		t.Fatalf("unexpected login result")
	}
	if _, _, err := a.Login(ctx, "alice@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := a.Login(ctx, "nobody@example.com", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestFindOrCreateConversationIsSymmetric(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := signUpUser(t, a, "alice@example.com", "alice")
	bob := signUpUser(t, a, "bob@example.com", "bob")

	first, err := a.FindOrCreateConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := a.FindOrCreateConversation(ctx, bob.ID, alice.ID)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected the same conversation, got %s and %s", first.ID, second.ID)
	}
	if first.ParticipantOne >= first.ParticipantTwo {
		t.Errorf("participants not in canonical order: %s %s", first.ParticipantOne, first.ParticipantTwo)
	}

	if _, err := a.FindOrCreateConversation(ctx, alice.ID, alice.ID); !errors.Is(err, ErrSelfConversation) {
		t.Errorf("self pair: expected ErrSelfConversation, got %v", err)
	}
	if _, err := a.FindOrCreateConversation(ctx, alice.ID, "  "); !errors.Is(err, ErrOtherUserRequired) {
		t.Errorf("blank counterpart: expected ErrOtherUserRequired, got %v", err)
	}
	if _, err := a.FindOrCreateConversation(ctx, alice.ID, "missing"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("unknown counterpart: expected ErrProfileNotFound, got %v", err)
	}
}

func TestSendMessageAndHistoryOrdering(t *testing.T) {
	a, hub := newTestApp(t)
	ctx := context.Background()
	alice := signUpUser(t, a, "alice@example.com", "alice")
	bob := signUpUser(t, a, "bob@example.com", "bob")
	conv, err := a.FindOrCreateConversation(ctx, alice.ID, bob.ID)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}

	sub := hub.Subscribe(realtime.Filter{
		Tables:         map[string]bool{realtime.TableMessages: true},
		ConversationID: conv.ID,
	})
	defer sub.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"hi bob", "hi alice", "how are you"} {
		sender := alice.ID
		if i == 1 {
			sender = bob.ID
		}
		a.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		if _, err := a.SendMessage(ctx, sender, conv.ID, text); err != nil {
			t.Fatalf("send %q: %v", text, err)
		}
	}

	history, err := a.LoadHistory(ctx, alice.ID, conv.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].CreatedAt.Before(history[i-1].CreatedAt) {
			t.Errorf("history out of order at %d", i)
		}
	}
	if history[0].Content != "hi bob" {
		t.Errorf("first message = %q", history[0].Content)
	}

	select {
	case ev := <-sub.C:
		if ev.Table != realtime.TableMessages || ev.ConversationID != conv.ID {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("expected a message event on the hub")
	}

	if _, err := a.SendMessage(ctx, alice.ID, conv.ID, "  "); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("blank message: expected ErrMessageEmpty, got %v", err)
	}
	mallory := signUpUser(t, a, "mallory@example.com", "mallory")
	if _, err := a.SendMessage(ctx, mallory.ID, conv.ID, "hi"); !errors.Is(err, ErrConversationForbidden) {
		t.Errorf("outsider: expected ErrConversationForbidden, got %v", err)
	}
	if _, err := a.LoadHistory(ctx, mallory.ID, conv.ID); !errors.Is(err, ErrConversationForbidden) {
		t.Errorf("outsider history: expected ErrConversationForbidden, got %v", err)
	}
}

func TestListConversationsShowsCounterpartAndLastMessage(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := signUpUser(t, a, "alice@example.com", "alice")
	bob := signUpUser(t, a, "bob@example.com", "bob")
	conv, _ := a.FindOrCreateConversation(ctx, alice.ID, bob.ID)
	if _, err := a.SendMessage(ctx, bob.ID, conv.ID, "hello!"); err != nil {
		t.Fatalf("send: %v", err)
	}

	summaries, err := a.ListConversations(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.Counterpart == nil || s.Counterpart.Username != "bob" {
		t.Errorf("counterpart = %+v", s.Counterpart)
	}
	if s.LastMessage == nil || s.LastMessage.Content != "hello!" {
		t.Errorf("last message = %+v", s.LastMessage)
	}
}

func TestStatusFeedCountsAndOrdering(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := signUpUser(t, a, "alice@example.com", "alice")
	bob := signUpUser(t, a, "bob@example.com", "bob")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return base }
	older, err := a.CreateStatus(ctx, alice.ID, "first", "#ff0000", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a.now = func() time.Time { return base.Add(time.Minute) }
	newer, err := a.CreateStatus(ctx, alice.ID, "second", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := a.RecordView(ctx, bob.ID, older.ID); err != nil {
		t.Fatalf("view: %v", err)
	}
	if _, err := a.React(ctx, bob.ID, older.ID, "🔥"); err != nil {
		t.Fatalf("react: %v", err)
	}

	feed, err := a.ListActiveStatuses(ctx, bob.ID)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(feed))
	}
	if feed[0].ID != newer.ID || feed[1].ID != older.ID {
		t.Errorf("feed not newest first: %s, %s", feed[0].ID, feed[1].ID)
	}
	if feed[1].ViewCount != 1 || feed[1].ReactionCount != 1 || !feed[1].HasViewed {
		t.Errorf("aggregates for older status = %+v", feed[1])
	}
	// Loading the feed records bob's view on the status he had not
	// seen yet, and the returned entry reflects it.
	if feed[0].ViewCount != 1 || !feed[0].HasViewed {
		t.Errorf("aggregates for newer status = %+v", feed[0])
	}
	if feed[0].Author == nil || feed[0].Author.Username != "alice" {
		t.Errorf("author = %+v", feed[0].Author)
	}

	authorFeed, err := a.ListActiveStatuses(ctx, alice.ID)
	if err != nil {
		t.Fatalf("author feed: %v", err)
	}
	if !authorFeed[0].HasViewed {
		t.Error("author should always see their own status as viewed")
	}
}

func TestFeedLoadRecordsViewsOnce(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := signUpUser(t, a, "alice@example.com", "alice")
	bob := signUpUser(t, a, "bob@example.com", "bob")
	status, err := a.CreateStatus(ctx, alice.ID, "hello", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Two feed loads by the same viewer leave exactly one view row.
	for i := 0; i < 2; i++ {
		if _, err := a.ListActiveStatuses(ctx, bob.ID); err != nil {
			t.Fatalf("feed load %d: %v", i, err)
		}
	}
	// The author loading their own feed records nothing.
	if _, err := a.ListActiveStatuses(ctx, alice.ID); err != nil {
		t.Fatalf("author feed load: %v", err)
	}

	views, err := a.ListStatusViews(ctx, alice.ID, status.ID)
	if err != nil {
		t.Fatalf("list views: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected exactly 1 view row, got %d", len(views))
	}
	if views[0].ViewerID != bob.ID {
		t.Errorf("viewer = %s, want %s", views[0].ViewerID, bob.ID)
	}
}

func TestRecordViewIsIdempotent(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := signUpUser(t, a, "alice@example.com", "alice")
	bob := signUpUser(t, a, "bob@example.com", "bob")
	status, _ := a.CreateStatus(ctx, alice.ID, "hello", "", nil)

	for i := 0; i < 3; i++ {
		if err := a.RecordView(ctx, bob.ID, status.ID); err != nil {
			t.Fatalf("view %d: %v", i, err)
		}
	}
	// The author opening their own status never counts.
	if err := a.RecordView(ctx, alice.ID, status.ID); err != nil {
		t.Fatalf("author view: %v", err)
	}

	views, err := a.ListStatusViews(ctx, alice.ID, status.ID)
	if err != nil {
		t.Fatalf("list views: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 view, got %d", len(views))
	}
	if views[0].ViewerID != bob.ID {
		t.Errorf("viewer = %s", views[0].ViewerID)
	}
	if views[0].Viewer == nil || views[0].Viewer.Username != "bob" {
		t.Errorf("viewer profile = %+v", views[0].Viewer)
	}
}

func TestReactionReplacesPrevious(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := signUpUser(t, a, "alice@example.com", "alice")
	bob := signUpUser(t, a, "bob@example.com", "bob")
	status, _ := a.CreateStatus(ctx, alice.ID, "hello", "", nil)

	if _, err := a.React(ctx, bob.ID, status.ID, "❤️"); err != nil {
		t.Fatalf("first reaction: %v", err)
	}
	if _, err := a.React(ctx, bob.ID, status.ID, "👍"); err != nil {
		t.Fatalf("second reaction: %v", err)
	}

	reactions, err := a.ListStatusReactions(ctx, alice.ID, status.ID)
	if err != nil {
		t.Fatalf("list reactions: %v", err)
	}
	if len(reactions) != 1 {
		t.Fatalf("expected 1 reaction, got %d", len(reactions))
	}
	if reactions[0].Emoji != "👍" {
		t.Errorf("emoji = %q, want replacement", reactions[0].Emoji)
	}

	if _, err := a.React(ctx, bob.ID, status.ID, "🙃"); !errors.Is(err, ErrInvalidReaction) {
		t.Errorf("expected ErrInvalidReaction, got %v", err)
	}
}

func TestStatusExpiry(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := signUpUser(t, a, "alice@example.com", "alice")
	bob := signUpUser(t, a, "bob@example.com", "bob")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return base }
	status, err := a.CreateStatus(ctx, alice.ID, "ephemeral", "", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// One second before expiry the status is still visible.
	a.now = func() time.Time { return base.Add(a.statusTTL - time.Second) }
	feed, err := a.ListActiveStatuses(ctx, bob.ID)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 1 {
		t.Fatalf("expected a visible status, got %d", len(feed))
	}

	// At the exact expiry instant it is gone.
	a.now = func() time.Time { return base.Add(a.statusTTL) }
	feed, err = a.ListActiveStatuses(ctx, bob.ID)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(feed) != 0 {
		t.Fatalf("expected an empty feed, got %d", len(feed))
	}
	if err := a.RecordView(ctx, bob.ID, status.ID); !errors.Is(err, ErrStatusExpired) {
		t.Errorf("view after expiry: expected ErrStatusExpired, got %v", err)
	}
	if _, err := a.React(ctx, bob.ID, status.ID, "👍"); !errors.Is(err, ErrStatusExpired) {
		t.Errorf("react after expiry: expected ErrStatusExpired, got %v", err)
	}
	// The author can still read their own view list after expiry.
	if _, err := a.ListStatusViews(ctx, alice.ID, status.ID); err != nil {
		t.Errorf("views after expiry: %v", err)
	}
}

func TestStatusViewsAndReactionsAreAuthorOnly(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := signUpUser(t, a, "alice@example.com", "alice")
	bob := signUpUser(t, a, "bob@example.com", "bob")
	status, _ := a.CreateStatus(ctx, alice.ID, "hello", "", nil)

	if _, err := a.ListStatusViews(ctx, bob.ID, status.ID); !errors.Is(err, ErrStatusForbidden) {
		t.Errorf("views: expected ErrStatusForbidden, got %v", err)
	}
	if _, err := a.ListStatusReactions(ctx, bob.ID, status.ID); !errors.Is(err, ErrStatusForbidden) {
		t.Errorf("reactions: expected ErrStatusForbidden, got %v", err)
	}
}

func TestCreateStatusWithMedia(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := signUpUser(t, a, "alice@example.com", "alice")

	payload := []byte("fake-png-bytes")
	status, err := a.CreateStatus(ctx, alice.ID, "", "", &StatusMedia{
		Filename:    "photo.png",
		ContentType: "image/png",
		Size:        int64(len(payload)),
		Reader:      bytes.NewReader(payload),
	})
	if err != nil {
		t.Fatalf("create with media: %v", err)
	}
	if status.MediaURL == "" || status.MediaType != "image/png" {
		t.Errorf("media fields = %q %q", status.MediaURL, status.MediaType)
	}

	_, err = a.CreateStatus(ctx, alice.ID, "", "", &StatusMedia{
		Filename:    "huge.png",
		ContentType: "image/png",
		Size:        a.maxUploadBytes + 1,
		Reader:      bytes.NewReader(payload),
	})
	if !errors.Is(err, ErrMediaTooLarge) {
		t.Errorf("expected ErrMediaTooLarge, got %v", err)
	}

	_, err = a.CreateStatus(ctx, alice.ID, "", "", &StatusMedia{
		Filename:    "doc.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(payload)),
		Reader:      bytes.NewReader(payload),
	})
	if !errors.Is(err, ErrUnsupportedMedia) {
		t.Errorf("expected ErrUnsupportedMedia, got %v", err)
	}

	if _, err := a.CreateStatus(ctx, alice.ID, "  ", "", nil); !errors.Is(err, ErrStatusEmpty) {
		t.Errorf("expected ErrStatusEmpty, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := signUpUser(t, a, "alice@example.com", "alice")

	updated, err := a.UpdateProfile(ctx, alice.ID, "alice2", "", "new bio")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Username != "alice2" || updated.Bio != "new bio" {
		t.Errorf("updated = %+v", updated)
	}
	if updated.AvatarURL == "" {
		t.Error("avatar should be kept when not supplied")
	}
}

func TestListProfilesExcludesCaller(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()
	alice := signUpUser(t, a, "alice@example.com", "alice")
	signUpUser(t, a, "bob@example.com", "bob")

	profiles, err := a.ListProfiles(ctx, alice.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(profiles) != 1 || profiles[0].Username != "bob" {
		t.Errorf("profiles = %+v", profiles)
	}
}
