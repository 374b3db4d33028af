// Package tag is the lifecycle engine: it creates and edits tags and moves
// them through the status workflow, either by explicit moderator action or
// when up-votes cross the archived threshold.
package tag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"backend-tagmap/internal/domain"
	"backend-tagmap/internal/ledger"
	"backend-tagmap/internal/metrics"
	"backend-tagmap/internal/queue"
	"backend-tagmap/internal/store"
	"backend-tagmap/internal/upvote"
	"backend-tagmap/internal/user"

	"github.com/google/uuid"
)

// Images is the image collaborator.
type Images interface {
	IssueUploadURLs(ctx context.Context, tagID, userID string, count int) ([]string, error)
	DeleteImages(ctx context.Context, tagID string, urls []string) (bool, error)
	ImageURLs(ctx context.Context, tagID string) ([]string, error)
	ImageURLsFor(ctx context.Context, tagIDs []string) (map[string][]string, error)
}

type Deps struct {
	Store   store.Store
	Ledger  *ledger.Ledger
	Votes   *upvote.Counter
	Users   user.Directory
	Images  Images
	Views   queue.Enqueuer
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

type Engine struct {
	store    store.Store
	ledger   *ledger.Ledger
	votes    *upvote.Counter
	users    user.Directory
	images   Images
	views    queue.Enqueuer
	workflow domain.Workflow
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(d Deps) *Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		store:    d.Store,
		ledger:   d.Ledger,
		votes:    d.Votes,
		users:    d.Users,
		images:   d.Images,
		views:    d.Views,
		workflow: d.Ledger.Workflow(),
		metrics:  d.Metrics,
		logger:   d.Logger.With("module", "tag", "layer", "engine"),
		now:      d.Now,
	}
}

type CreateInput struct {
	LocationName      string              `json:"locationName"`
	Accessibility     float64             `json:"accessibility"`
	Category          domain.Category     `json:"category"`
	Coordinates       *domain.Coordinates `json:"coordinates"`
	Floor             int                 `json:"floor"`
	Description       string              `json:"description"`
	StreetView        *domain.StreetView  `json:"streetViewInfo"`
	ImageUploadNumber int                 `json:"imageUploadNumber"`
}

type CreateResult struct {
	Tag               domain.Tag `json:"tag"`
	ImageUploadNumber int        `json:"imageUploadNumber"`
	UploadURLs        []string   `json:"imageUploadUrls"`
	Degraded          bool       `json:"degraded,omitempty"`
}

// CreateTag stores a new tag together with its initial status record.
func (e *Engine) CreateTag(ctx context.Context, in CreateInput, author domain.Caller) (CreateResult, error) {
	if err := author.RequireLogin(); err != nil {
		return CreateResult{}, err
	}
	name := strings.TrimSpace(in.LocationName)
	if name == "" {
		return CreateResult{}, fmt.Errorf("%w: locationName is required", domain.ErrValidation)
	}
	if err := validateCategory(in.Category); err != nil {
		return CreateResult{}, err
	}
	if in.Coordinates == nil {
		return CreateResult{}, fmt.Errorf("%w: coordinates are required", domain.ErrValidation)
	}
	point, err := in.Coordinates.Parse()
	if err != nil {
		return CreateResult{}, err
	}
	if err := validateUploadNumber(in.ImageUploadNumber); err != nil {
		return CreateResult{}, err
	}

	ref := e.userRef(ctx, author.UID)
	now := domain.Timestamp(e.now())
	tag := domain.Tag{
		ID:             uuid.NewString(),
		LocationName:   name,
		Accessibility:  in.Accessibility,
		Category:       trimCategory(in.Category),
		Point:          point,
		Floor:          in.Floor,
		Description:    in.Description,
		StreetView:     in.StreetView,
		CreateUser:     ref,
		CreateTime:     now,
		LastUpdateTime: now,
	}

	_, votable := e.workflow.Next(e.workflow.Initial)
	var initial domain.StatusRecord
	err = e.store.CreateTag(ctx, tag, func(tx store.Tx) error {
		var err error
		initial, err = e.ledger.Append(ctx, tx, domain.StatusRecord{
			StatusName: e.workflow.Initial,
			CreateUser: ref,
			HasUpVote:  votable,
		})
		return err
	})
	degraded, err := e.settle(err)
	if err != nil {
		return CreateResult{}, err
	}

	tag.Status = &initial
	tag.StatusHistory = []domain.StatusRecord{initial}
	e.metrics.Inc(metrics.TagsCreated)
	e.logger.Info("tag created", "event", "tag_create", "tag_id", tag.ID, "user_id", author.UID)
	return CreateResult{
		Tag:               tag,
		ImageUploadNumber: in.ImageUploadNumber,
		UploadURLs:        e.uploadURLs(ctx, tag.ID, author.UID, in.ImageUploadNumber),
		Degraded:          degraded,
	}, nil
}

// UpdateInput is a partial update; nil fields are left untouched.
type UpdateInput struct {
	LocationName      *string             `json:"locationName"`
	Accessibility     *float64            `json:"accessibility"`
	Category          *domain.Category    `json:"category"`
	Coordinates       *domain.Coordinates `json:"coordinates"`
	Floor             *int                `json:"floor"`
	Description       *string             `json:"description"`
	StreetView        *domain.StreetView  `json:"streetViewInfo"`
	ImageDeleteURLs   []string            `json:"imageDeleteUrls"`
	ImageUploadNumber int                 `json:"imageUploadNumber"`
}

type UpdateResult struct {
	Tag               domain.Tag `json:"tag"`
	ImageUploadNumber int        `json:"imageUploadNumber"`
	UploadURLs        []string   `json:"imageUploadUrls"`
	ImagesDeleted     bool       `json:"imagesDeleted"`
}

// UpdateTag edits the mutable attributes of a tag. Status and history are
// never touched here.
func (e *Engine) UpdateTag(ctx context.Context, tagID string, in UpdateInput, author domain.Caller) (UpdateResult, error) {
	if err := author.RequireLogin(); err != nil {
		return UpdateResult{}, err
	}
	if in.LocationName != nil && strings.TrimSpace(*in.LocationName) == "" {
		return UpdateResult{}, fmt.Errorf("%w: locationName must not be empty", domain.ErrValidation)
	}
	if in.Category != nil {
		if err := validateCategory(*in.Category); err != nil {
			return UpdateResult{}, err
		}
	}
	var point *domain.Point
	if in.Coordinates != nil {
		p, err := in.Coordinates.Parse()
		if err != nil {
			return UpdateResult{}, err
		}
		point = &p
	}
	if err := validateUploadNumber(in.ImageUploadNumber); err != nil {
		return UpdateResult{}, err
	}

	err := e.store.WithTag(ctx, tagID, func(tx store.Tx) error {
		t, err := tx.Tag(ctx)
		if err != nil {
			return err
		}
		if in.LocationName != nil {
			t.LocationName = strings.TrimSpace(*in.LocationName)
		}
		if in.Accessibility != nil {
			t.Accessibility = *in.Accessibility
		}
		if in.Category != nil {
			t.Category = trimCategory(*in.Category)
		}
		if point != nil {
			t.Point = *point
		}
		if in.Floor != nil {
			t.Floor = *in.Floor
		}
		if in.Description != nil {
			t.Description = *in.Description
		}
		if in.StreetView != nil {
			t.StreetView = in.StreetView
		}
		t.LastUpdateTime = domain.Timestamp(e.now())
		if t.LastUpdateTime.Before(t.CreateTime) {
			t.LastUpdateTime = t.CreateTime
		}
		return tx.UpdateTag(ctx, t)
	})
	if _, err := e.settle(err); err != nil {
		return UpdateResult{}, err
	}
	e.metrics.Inc(metrics.TagsUpdated)
	e.logger.Info("tag updated", "event", "tag_update", "tag_id", tagID, "user_id", author.UID)

	res := UpdateResult{ImageUploadNumber: in.ImageUploadNumber}
	if len(in.ImageDeleteURLs) > 0 && e.images != nil {
		res.ImagesDeleted, err = e.images.DeleteImages(ctx, tagID, in.ImageDeleteURLs)
		if err != nil {
			e.logger.Warn("image deletion failed", "event", "image_delete", "tag_id", tagID, "error", err)
		}
	}
	res.UploadURLs = e.uploadURLs(ctx, tagID, author.UID, in.ImageUploadNumber)
	res.Tag, err = e.GetTag(ctx, tagID)
	if err != nil {
		return UpdateResult{}, err
	}
	return res, nil
}

type StatusResult struct {
	Record   domain.StatusRecord
	Degraded bool
}

// SetStatus always appends, even when statusName equals the current status.
// With hasNumberOfUpVote the record joins vote-driven promotion and carries
// the current vote count. The counter itself is left alone.
func (e *Engine) SetStatus(ctx context.Context, tagID, statusName, description string, hasNumberOfUpVote bool, author domain.Caller) (StatusResult, error) {
	if err := author.RequireLogin(); err != nil {
		return StatusResult{}, err
	}
	statusName = strings.TrimSpace(statusName)
	if !e.workflow.Valid(statusName) {
		return StatusResult{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, statusName)
	}

	ref := e.userRef(ctx, author.UID)
	var rec domain.StatusRecord
	err := e.store.WithTag(ctx, tagID, func(tx store.Tx) error {
		next := domain.StatusRecord{
			StatusName:  statusName,
			Description: description,
			CreateUser:  ref,
			HasUpVote:   hasNumberOfUpVote,
		}
		if hasNumberOfUpVote {
			n, err := tx.CountVotes(ctx)
			if err != nil {
				return err
			}
			next.NumberOfUpVote = &n
		}
		var err error
		rec, err = e.ledger.Append(ctx, tx, next)
		return err
	})
	degraded, err := e.settle(err)
	if err != nil {
		return StatusResult{}, err
	}
	e.logger.Info("status set", "event", "status_set", "tag_id", tagID, "status", statusName, "user_id", author.UID)
	return StatusResult{Record: rec, Degraded: degraded}, nil
}

type VoteResult struct {
	Count    int                  `json:"numberOfUpVote"`
	HasVoted bool                 `json:"hasUpVote"`
	Record   *domain.StatusRecord `json:"status,omitempty"`
	Degraded bool                 `json:"degraded,omitempty"`
}

// ApplyUpVoteAction records the caller's vote and, when the count crosses the
// archived threshold and the current record takes part in voting, moves the
// tag one step along the promotion chain.
func (e *Engine) ApplyUpVoteAction(ctx context.Context, tagID string, action upvote.Action, author domain.Caller) (VoteResult, error) {
	if err := author.RequireLogin(); err != nil {
		return VoteResult{}, err
	}
	if action != upvote.ActionUpvote && action != upvote.ActionRetract {
		return VoteResult{}, fmt.Errorf("%w: unknown vote action %q", domain.ErrValidation, action)
	}

	ref := e.userRef(ctx, author.UID)
	var (
		res    upvote.Result
		record *domain.StatusRecord
	)
	err := e.store.WithTag(ctx, tagID, func(tx store.Tx) error {
		var err error
		res, err = e.votes.Apply(ctx, tx, author.UID, action)
		if err != nil || res.Crossing == upvote.CrossingNone {
			return err
		}
		current, found, err := tx.LatestStatus(ctx)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: tag %s", domain.ErrEmptyLedger, tagID)
		}
		if !current.HasUpVote {
			return nil
		}
		var target string
		var ok bool
		if res.Crossing == upvote.CrossingUp {
			target, ok = e.workflow.Next(current.StatusName)
		} else {
			target, ok = e.workflow.Prev(current.StatusName)
		}
		if !ok {
			return nil
		}
		count := res.Count
		rec, err := e.ledger.Append(ctx, tx, domain.StatusRecord{
			StatusName:     target,
			CreateUser:     ref,
			NumberOfUpVote: &count,
			HasUpVote:      true,
		})
		if err != nil {
			return err
		}
		record = &rec
		return nil
	})
	degraded, err := e.settle(err)
	if err != nil {
		return VoteResult{}, err
	}

	if res.Changed {
		e.metrics.Inc(metrics.VotesApplied)
	} else {
		e.metrics.Inc(metrics.VotesNoop)
	}
	if record != nil {
		if res.Crossing == upvote.CrossingUp {
			e.metrics.Inc(metrics.Promotions)
		} else {
			e.metrics.Inc(metrics.Demotions)
		}
		e.logger.Info("vote moved status", "event", "vote_transition", "tag_id", tagID,
			"crossing", res.Crossing.String(), "status", record.StatusName, "count", res.Count)
	}
	return VoteResult{
		Count:    res.Count,
		HasVoted: action == upvote.ActionUpvote,
		Record:   record,
		Degraded: degraded,
	}, nil
}

// ResetUpVotes clears the tag's votes. It writes no status record.
func (e *Engine) ResetUpVotes(ctx context.Context, tagID string, author domain.Caller) (int, error) {
	if err := author.RequireLogin(); err != nil {
		return 0, err
	}
	var removed int
	err := e.store.WithTag(ctx, tagID, func(tx store.Tx) error {
		var err error
		removed, err = e.votes.Reset(ctx, tx)
		return err
	})
	if _, err := e.settle(err); err != nil {
		return 0, err
	}
	e.logger.Info("votes reset", "event", "vote_reset", "tag_id", tagID, "removed", removed, "user_id", author.UID)
	return removed, nil
}

// IncrementViewCount is best effort. Failures are logged and counted.
func (e *Engine) IncrementViewCount(ctx context.Context, tagID string, viewer domain.Caller) {
	if e.views == nil || strings.TrimSpace(tagID) == "" {
		return
	}
	if err := e.views.EnqueueView(ctx, queue.ViewPayload{TagID: tagID, ViewerID: viewer.UID}); err != nil {
		e.metrics.Inc(metrics.ViewIncrementFailures)
		e.logger.Warn("view count enqueue failed", "event", "view_enqueue", "tag_id", tagID, "error", err)
	}
}

// GetTag returns the tag with its current status and full history.
func (e *Engine) GetTag(ctx context.Context, tagID string) (domain.Tag, error) {
	t, err := e.store.GetTag(ctx, tagID)
	if err != nil {
		return domain.Tag{}, err
	}
	history, err := e.ledger.History(ctx, tagID)
	if err != nil {
		return domain.Tag{}, err
	}
	t.StatusHistory = history
	current := history[len(history)-1]
	t.Status = &current

	if e.images != nil {
		urls, err := e.images.ImageURLs(ctx, tagID)
		if err != nil {
			e.logger.Warn("image lookup failed", "event", "image_lookup", "tag_id", tagID, "error", err)
		}
		t.ImageURLs = urls
	}
	e.resolveNames(ctx, &t)
	return t, nil
}

// CurrentStatus returns the newest status record without loading the tag.
func (e *Engine) CurrentStatus(ctx context.Context, tagID string) (domain.StatusRecord, error) {
	rec, err := e.ledger.Current(ctx, tagID)
	if err != nil {
		return domain.StatusRecord{}, err
	}
	rec.CreateUser = e.userRef(ctx, rec.CreateUser.ID)
	return rec, nil
}

// VoteState reports the vote count and whether uid has voted.
func (e *Engine) VoteState(ctx context.Context, tagID, uid string) (upvote.State, error) {
	return e.votes.State(ctx, tagID, uid)
}

// settle separates notification failures from real ones. A write whose only
// error is a failed notification has committed and counts as degraded.
func (e *Engine) settle(err error) (bool, error) {
	if err == nil {
		return false, nil
	}
	if domain.IsDegraded(err) {
		e.logger.Warn("write committed but notification failed", "event", "notify_degraded", "error", err)
		return true, nil
	}
	if errors.Is(err, domain.ErrEmptyLedger) {
		e.logger.Error("ledger invariant violated", "event", "empty_ledger", "error", err)
	}
	return false, err
}

// uploadURLs runs after the write has committed, so a storage failure only
// costs the caller their upload slots.
func (e *Engine) uploadURLs(ctx context.Context, tagID, uid string, n int) []string {
	if n == 0 || e.images == nil {
		return []string{}
	}
	urls, err := e.images.IssueUploadURLs(ctx, tagID, uid, n)
	if err != nil {
		e.logger.Warn("upload url issuance failed", "event", "image_upload", "tag_id", tagID, "error", err)
		return []string{}
	}
	e.metrics.Add(metrics.UploadURLsIssued, uint64(len(urls)))
	return urls
}

func (e *Engine) userRef(ctx context.Context, uid string) domain.UserRef {
	ref := domain.UserRef{ID: uid}
	if e.users == nil {
		return ref
	}
	name, err := e.users.DisplayName(ctx, uid)
	if err != nil {
		e.logger.Warn("display name lookup failed", "event", "user_lookup", "user_id", uid, "error", err)
		return ref
	}
	ref.Name = name
	return ref
}

func (e *Engine) resolveNames(ctx context.Context, tags ...*domain.Tag) {
	if e.users == nil || len(tags) == 0 {
		return
	}
	seen := map[string]struct{}{}
	var uids []string
	add := func(id string) {
		if _, ok := seen[id]; ok || id == "" {
			return
		}
		seen[id] = struct{}{}
		uids = append(uids, id)
	}
	for _, t := range tags {
		add(t.CreateUser.ID)
		if t.Status != nil {
			add(t.Status.CreateUser.ID)
		}
		for _, r := range t.StatusHistory {
			add(r.CreateUser.ID)
		}
	}
	names, err := e.users.DisplayNames(ctx, uids)
	if err != nil {
		e.logger.Warn("display name lookup failed", "event", "user_lookup", "error", err)
		return
	}
	for _, t := range tags {
		t.CreateUser.Name = names[t.CreateUser.ID]
		if t.Status != nil {
			t.Status.CreateUser.Name = names[t.Status.CreateUser.ID]
		}
		for i := range t.StatusHistory {
			t.StatusHistory[i].CreateUser.Name = names[t.StatusHistory[i].CreateUser.ID]
		}
	}
}

// MaxImageUploadNumber bounds the upload URLs one request may ask for.
const MaxImageUploadNumber = 10

func validateUploadNumber(n int) error {
	if n < 0 || n > MaxImageUploadNumber {
		return fmt.Errorf("%w: imageUploadNumber must be between 0 and %d, got %d", domain.ErrValidation, MaxImageUploadNumber, n)
	}
	return nil
}

func validateCategory(c domain.Category) error {
	if strings.TrimSpace(c.MissionName) == "" {
		return fmt.Errorf("%w: category.missionName is required", domain.ErrValidation)
	}
	return nil
}

func trimCategory(c domain.Category) domain.Category {
	return domain.Category{
		MissionName: strings.TrimSpace(c.MissionName),
		SubTypeName: strings.TrimSpace(c.SubTypeName),
		TargetName:  strings.TrimSpace(c.TargetName),
	}
}
