// Package store persists tags, their status ledger and up-votes. Every write
// to a tag happens inside a Tx that holds that tag's exclusive lock.
package store

import (
	"context"
	"errors"
	"time"

	"backend-tagmap/internal/domain"
	"backend-tagmap/internal/shared/geo"
)

// Tx is a transaction scoped to one locked tag.
type Tx interface {
	TagID() string
	Tag(ctx context.Context) (domain.Tag, error)
	UpdateTag(ctx context.Context, tag domain.Tag) error

	// LatestStatus reports false when the ledger for the tag is empty.
	LatestStatus(ctx context.Context) (domain.StatusRecord, bool, error)
	InsertStatus(ctx context.Context, rec domain.StatusRecord) error

	HasVote(ctx context.Context, userID string) (bool, error)
	AddVote(ctx context.Context, userID string, at time.Time) error
	RemoveVote(ctx context.Context, userID string) error
	CountVotes(ctx context.Context) (int, error)
	ResetVotes(ctx context.Context) (int, error)

	// AfterCommit registers fn to run once the transaction has committed.
	// Hooks never run when the transaction rolls back.
	AfterCommit(fn func(ctx context.Context) error)
}

// Cursor is the keyset position of the last item a reader has seen.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

type ListQuery struct {
	After *Cursor
	Limit int
	// ExcludeStatus drops tags whose current status has this name.
	ExcludeStatus string
	CreatedBy     string
	Box           *geo.BoundingBox
}

// Store is implemented by the Postgres and in-memory adapters.
type Store interface {
	// CreateTag inserts tag and runs fn against it in the same transaction.
	CreateTag(ctx context.Context, tag domain.Tag, fn func(Tx) error) error
	// WithTag locks the tag for the duration of fn. It returns ErrNotFound
	// when the tag does not exist. Errors from after-commit hooks are joined
	// and returned after a successful commit.
	WithTag(ctx context.Context, tagID string, fn func(Tx) error) error

	GetTag(ctx context.Context, tagID string) (domain.Tag, error)
	StatusHistory(ctx context.Context, tagID string) ([]domain.StatusRecord, error)
	LatestStatus(ctx context.Context, tagID string) (domain.StatusRecord, error)
	CountVotes(ctx context.Context, tagID string) (int, error)
	HasVote(ctx context.Context, tagID, userID string) (bool, error)
	// ListTags returns tags with their current status, newest first.
	ListTags(ctx context.Context, q ListQuery) ([]domain.Tag, error)
	IncrementViewCount(ctx context.Context, tagID string) error
}

func runHooks(ctx context.Context, hooks []func(context.Context) error) error {
	var errs []error
	for _, fn := range hooks {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Less orders tags newest first with the id as tie breaker.
func Less(aTime time.Time, aID string, bTime time.Time, bID string) bool {
	if !aTime.Equal(bTime) {
		return aTime.After(bTime)
	}
	return aID > bID
}
