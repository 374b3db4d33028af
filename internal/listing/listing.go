// Package listing serves cursor-paginated views over tags, newest first.
package listing

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"backend-tagmap/internal/domain"
	"backend-tagmap/internal/shared/geo"
	"backend-tagmap/internal/store"
	"backend-tagmap/internal/user"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxRadiusKm     = 50.0
)

type Page struct {
	Cursor   string
	PageSize int
}

type Result struct {
	Items      []domain.Tag `json:"items"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

type Images interface {
	ImageURLsFor(ctx context.Context, tagIDs []string) (map[string][]string, error)
}

type Service struct {
	store    store.Store
	users    user.Directory
	images   Images
	archived string
	logger   *slog.Logger
}

func NewService(st store.Store, users user.Directory, images Images, archived string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    st,
		users:    users,
		images:   images,
		archived: archived,
		logger:   logger.With("module", "listing"),
	}
}

// ListUnarchived returns tags whose current status is not the archived one.
func (s *Service) ListUnarchived(ctx context.Context, p Page) (Result, error) {
	return s.list(ctx, p, store.ListQuery{ExcludeStatus: s.archived})
}

// UserHistory returns the tags uid created, archived ones included.
func (s *Service) UserHistory(ctx context.Context, uid string, p Page) (Result, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return Result{}, fmt.Errorf("%w: uid is required", domain.ErrValidation)
	}
	return s.list(ctx, p, store.ListQuery{CreatedBy: uid})
}

// Nearby returns unarchived tags within radiusKm of the point. The store
// filters by bounding box and the exact distance is checked here, so a page
// may take several store round trips.
func (s *Service) Nearby(ctx context.Context, lat, lng, radiusKm float64, p Page) (Result, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 || math.IsNaN(lat) || math.IsNaN(lng) {
		return Result{}, fmt.Errorf("%w: coordinates out of range", domain.ErrValidation)
	}
	if !(radiusKm > 0 && radiusKm <= MaxRadiusKm) {
		return Result{}, fmt.Errorf("%w: radiusKm must be in (0, %g]", domain.ErrValidation, MaxRadiusKm)
	}
	size, after, err := parsePage(p)
	if err != nil {
		return Result{}, err
	}

	box := geo.Around(lat, lng, radiusKm)
	var items []domain.Tag
	for len(items) <= size {
		batch, err := s.store.ListTags(ctx, store.ListQuery{
			After:         after,
			Limit:         size + 1,
			ExcludeStatus: s.archived,
			Box:           &box,
		})
		if err != nil {
			return Result{}, err
		}
		for _, t := range batch {
			if geo.HaversineKm(lat, lng, t.Point.Lat, t.Point.Lng) <= radiusKm {
				items = append(items, t)
			}
		}
		if len(batch) < size+1 {
			break
		}
		last := batch[len(batch)-1]
		after = &store.Cursor{CreatedAt: last.CreateTime, ID: last.ID}
	}
	return s.finish(ctx, items, size)
}

func (s *Service) list(ctx context.Context, p Page, q store.ListQuery) (Result, error) {
	size, after, err := parsePage(p)
	if err != nil {
		return Result{}, err
	}
	q.After = after
	q.Limit = size + 1
	items, err := s.store.ListTags(ctx, q)
	if err != nil {
		return Result{}, err
	}
	return s.finish(ctx, items, size)
}

// finish trims the look-ahead item and decorates the page.
func (s *Service) finish(ctx context.Context, items []domain.Tag, size int) (Result, error) {
	res := Result{Items: items}
	if len(items) > size {
		res.Items = items[:size]
		last := res.Items[size-1]
		res.NextCursor = EncodeCursor(store.Cursor{CreatedAt: last.CreateTime, ID: last.ID})
	}
	if res.Items == nil {
		res.Items = []domain.Tag{}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	s.decorate(ctx, res.Items)
	return res, nil
}

func (s *Service) decorate(ctx context.Context, items []domain.Tag) {
	if len(items) == 0 {
		return
	}
	ids := make([]string, 0, len(items))
	uids := make([]string, 0, len(items)*2)
	for _, t := range items {
		ids = append(ids, t.ID)
		uids = append(uids, t.CreateUser.ID)
		if t.Status != nil {
			uids = append(uids, t.Status.CreateUser.ID)
		}
	}

	if s.images != nil {
		urls, err := s.images.ImageURLsFor(ctx, ids)
		if err != nil {
			s.logger.Warn("image lookup failed", "event", "image_lookup", "error", err)
		}
		for i := range items {
			items[i].ImageURLs = urls[items[i].ID]
		}
	}
	if s.users != nil {
		names, err := s.users.DisplayNames(ctx, uids)
		if err != nil {
			s.logger.Warn("display name lookup failed", "event", "user_lookup", "error", err)
			return
		}
		for i := range items {
			items[i].CreateUser.Name = names[items[i].CreateUser.ID]
			if items[i].Status != nil {
				items[i].Status.CreateUser.Name = names[items[i].Status.CreateUser.ID]
			}
		}
	}
}

func parsePage(p Page) (int, *store.Cursor, error) {
	size := p.PageSize
	switch {
	case size == 0:
		size = DefaultPageSize
	case size < 0 || size > MaxPageSize:
		return 0, nil, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, MaxPageSize)
	}
	after, err := DecodeCursor(p.Cursor)
	if err != nil {
		return 0, nil, err
	}
	return size, after, nil
}
