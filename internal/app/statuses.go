package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"chatwave/internal/realtime"
	"chatwave/internal/util"
	"chatwave/pkg/domain"
)

// countConcurrency caps the fan-out of per-status aggregate queries.
const countConcurrency = 8

// StatusMedia describes an upload attached to a new status.
type StatusMedia struct {
	Filename    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// CreateStatus publishes a new status visible for the configured TTL.
// A status needs text content, media, or both.
func (a *App) CreateStatus(ctx context.Context, userID, content, background string, media *StatusMedia) (domain.Status, error) {
	content = strings.TrimSpace(content)
	if content == "" && media == nil {
		return domain.Status{}, ErrStatusEmpty
	}
	now := a.now().UTC()
	s := domain.Status{
		ID:         util.NewID(),
		AuthorID:   userID,
		Content:    content,
		Background: background,
		CreatedAt:  now,
		ExpiresAt:  now.Add(a.statusTTL),
	}
	if media != nil {
		if a.objects == nil {
			return domain.Status{}, fmt.Errorf("media storage not configured")
		}
		if media.Size > a.maxUploadBytes {
			return domain.Status{}, ErrMediaTooLarge
		}
		if !allowedMediaType(media.ContentType) {
			return domain.Status{}, ErrUnsupportedMedia
		}
		key := statusMediaKey(s.ID, media.Filename)
		if err := a.objects.Put(ctx, key, media.Reader, media.Size, media.ContentType); err != nil {
			return domain.Status{}, fmt.Errorf("store media: %w", err)
		}
		s.MediaURL = a.objects.PublicURL(key)
		s.MediaType = media.ContentType
	}
	if err := a.store.SaveStatus(ctx, s); err != nil {
		return domain.Status{}, fmt.Errorf("save status: %w", err)
	}
	payload, _ := json.Marshal(s)
	a.publish(realtime.Event{
		Table:   realtime.TableStatuses,
		Type:    realtime.EventInsert,
		Payload: payload,
	})
	return s, nil
}

// ListActiveStatuses returns the feed for one viewer: every unexpired
// status, newest first, with author profile and per-viewer aggregates.
// Loading the feed also records a view for each listed status the
// viewer has not seen and did not author, so repeat loads leave
// exactly one view row per status.
func (a *App) ListActiveStatuses(ctx context.Context, viewerID string) ([]domain.StatusWithCounts, error) {
	statuses, err := a.store.ListActiveStatuses(ctx, a.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	authors := make(map[string]*domain.Profile)
	for _, s := range statuses {
		if _, seen := authors[s.AuthorID]; seen {
			continue
		}
		if p, ok, err := a.store.GetProfile(ctx, s.AuthorID); err != nil {
			return nil, fmt.Errorf("fetch author: %w", err)
		} else if ok {
			profile := p
			authors[s.AuthorID] = &profile
		} else {
			authors[s.AuthorID] = nil
		}
	}
	feed := make([]domain.StatusWithCounts, len(statuses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(countConcurrency)
	for i, s := range statuses {
		i, s := i, s
		g.Go(func() error {
			views, err := a.store.CountStatusViews(gctx, s.ID)
			if err != nil {
				return fmt.Errorf("count views: %w", err)
			}
			reactions, err := a.store.CountStatusReactions(gctx, s.ID)
			if err != nil {
				return fmt.Errorf("count reactions: %w", err)
			}
			viewed, err := a.store.HasViewed(gctx, s.ID, viewerID)
			if err != nil {
				return fmt.Errorf("check viewed: %w", err)
			}
			feed[i] = domain.StatusWithCounts{
				Status:        s,
				Author:        authors[s.AuthorID],
				ViewCount:     views,
				ReactionCount: reactions,
				HasViewed:     viewed || s.AuthorID == viewerID,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i := range feed {
		s := feed[i].Status
		if s.AuthorID == viewerID || feed[i].HasViewed {
			continue
		}
		inserted, err := a.store.InsertStatusView(ctx, domain.StatusView{
			ID:       util.NewID(),
			StatusID: s.ID,
			ViewerID: viewerID,
			ViewedAt: a.now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("record view: %w", err)
		}
		feed[i].HasViewed = true
		if inserted {
			feed[i].ViewCount++
			a.publish(realtime.Event{
				Table: realtime.TableStatusViews,
				Type:  realtime.EventInsert,
			})
		}
	}
	return feed, nil
}

// RecordView marks a status as seen by the viewer. Repeat views and
// the author's own views are silently ignored.
func (a *App) RecordView(ctx context.Context, viewerID, statusID string) error {
	s, err := a.activeStatus(ctx, statusID)
	if err != nil {
		return err
	}
	if s.AuthorID == viewerID {
		return nil
	}
	inserted, err := a.store.InsertStatusView(ctx, domain.StatusView{
		ID:       util.NewID(),
		StatusID: statusID,
		ViewerID: viewerID,
		ViewedAt: a.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("insert view: %w", err)
	}
	if inserted {
		a.publish(realtime.Event{
			Table: realtime.TableStatusViews,
			Type:  realtime.EventInsert,
		})
	}
	return nil
}

// React sets the caller's reaction on a status. A second reaction from
// the same user replaces the first.
func (a *App) React(ctx context.Context, reactorID, statusID, emoji string) (domain.StatusReaction, error) {
	if !domain.IsReactionEmoji(emoji) {
		return domain.StatusReaction{}, ErrInvalidReaction
	}
	if _, err := a.activeStatus(ctx, statusID); err != nil {
		return domain.StatusReaction{}, err
	}
	r := domain.StatusReaction{
		ID:        util.NewID(),
		StatusID:  statusID,
		ReactorID: reactorID,
		Emoji:     emoji,
		CreatedAt: a.now().UTC(),
	}
	if err := a.store.UpsertStatusReaction(ctx, r); err != nil {
		return domain.StatusReaction{}, fmt.Errorf("upsert reaction: %w", err)
	}
	payload, _ := json.Marshal(r)
	a.publish(realtime.Event{
		Table:   realtime.TableStatusReactions,
		Type:    realtime.EventInsert,
		Payload: payload,
	})
	return r, nil
}

// ListStatusViews returns who has seen a status. Author only.
func (a *App) ListStatusViews(ctx context.Context, callerID, statusID string) ([]domain.StatusView, error) {
	s, ok, err := a.store.GetStatus(ctx, statusID)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if !ok {
		return nil, ErrStatusNotFound
	}
	if s.AuthorID != callerID {
		return nil, ErrStatusForbidden
	}
	views, err := a.store.ListStatusViews(ctx, statusID)
	if err != nil {
		return nil, fmt.Errorf("list views: %w", err)
	}
	for i := range views {
		if p, ok, err := a.store.GetProfile(ctx, views[i].ViewerID); err != nil {
			return nil, fmt.Errorf("fetch viewer: %w", err)
		} else if ok {
			profile := p
			views[i].Viewer = &profile
		}
	}
	return views, nil
}

// ListStatusReactions returns the reactions on a status with reactor
// profiles. Author only.
func (a *App) ListStatusReactions(ctx context.Context, callerID, statusID string) ([]domain.StatusReaction, error) {
	s, ok, err := a.store.GetStatus(ctx, statusID)
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	if !ok {
		return nil, ErrStatusNotFound
	}
	if s.AuthorID != callerID {
		return nil, ErrStatusForbidden
	}
	reactions, err := a.store.ListStatusReactions(ctx, statusID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	for i := range reactions {
		if p, ok, err := a.store.GetProfile(ctx, reactions[i].ReactorID); err != nil {
			return nil, fmt.Errorf("fetch reactor: %w", err)
		} else if ok {
			profile := p
			reactions[i].Reactor = &profile
		}
	}
	return reactions, nil
}

func (a *App) activeStatus(ctx context.Context, statusID string) (domain.Status, error) {
	s, ok, err := a.store.GetStatus(ctx, statusID)
	if err != nil {
		return domain.Status{}, fmt.Errorf("fetch status: %w", err)
	}
	if !ok {
		return domain.Status{}, ErrStatusNotFound
	}
	if !s.ExpiresAt.After(a.now().UTC()) {
		return domain.Status{}, ErrStatusExpired
	}
	return s, nil
}

func allowedMediaType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") ||
		strings.HasPrefix(contentType, "video/") ||
		strings.HasPrefix(contentType, "audio/")
}

func statusMediaKey(statusID, filename string) string {
	ext := path.Ext(filename)
	return "statuses/" + statusID + ext
}
