// Package upvote counts distinct voters per tag and detects when the count
// crosses the archived threshold.
package upvote

import (
	"context"
	"fmt"
	"strings"
	"time"

	"backend-tagmap/internal/domain"
	"backend-tagmap/internal/store"
)

type Action string

const (
	ActionUpvote  Action = "upvote"
	ActionRetract Action = "retract"
)

// ParseAction accepts the wire names case-insensitively.
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionUpvote:
		return ActionUpvote, nil
	case ActionRetract:
		return ActionRetract, nil
	default:
		return "", fmt.Errorf("%w: unknown vote action %q", domain.ErrValidation, raw)
	}
}

type Crossing int

const (
	CrossingNone Crossing = iota
	CrossingUp
	CrossingDown
)

func (c Crossing) String() string {
	switch c {
	case CrossingUp:
		return "up"
	case CrossingDown:
		return "down"
	default:
		return "none"
	}
}

// Detect reports an edge only when the count moves across threshold.
func Detect(prev, next, threshold int) Crossing {
	switch {
	case prev < threshold && next >= threshold:
		return CrossingUp
	case prev >= threshold && next < threshold:
		return CrossingDown
	default:
		return CrossingNone
	}
}

type Result struct {
	Count    int
	Crossing Crossing
	// Changed is false when the action repeated the caller's current state.
	Changed bool
}

type State struct {
	Count    int  `json:"count"`
	HasVoted bool `json:"hasVoted"`
}

type ThresholdSource interface {
	Get() int
}

type Counter struct {
	store     store.Store
	threshold ThresholdSource
	now       func() time.Time
}

func NewCounter(st store.Store, threshold ThresholdSource) *Counter {
	return &Counter{store: st, threshold: threshold, now: time.Now}
}

// Apply records userID's action inside tx. The threshold is read when the
// action is applied.
func (c *Counter) Apply(ctx context.Context, tx store.Tx, userID string, action Action) (Result, error) {
	voted, err := tx.HasVote(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	prev, err := tx.CountVotes(ctx)
	if err != nil {
		return Result{}, err
	}

	switch {
	case action == ActionUpvote && !voted:
		err = tx.AddVote(ctx, userID, domain.Timestamp(c.now()))
	case action == ActionRetract && voted:
		err = tx.RemoveVote(ctx, userID)
	case action == ActionUpvote, action == ActionRetract:
		return Result{Count: prev, Crossing: CrossingNone}, nil
	default:
		return Result{}, fmt.Errorf("%w: unknown vote action %q", domain.ErrValidation, action)
	}
	if err != nil {
		return Result{}, err
	}

	next, err := tx.CountVotes(ctx)
	if err != nil {
		return Result{}, err
	}
	return Result{Count: next, Crossing: Detect(prev, next, c.threshold.Get()), Changed: true}, nil
}

// State is a lock-free read of the committed count and the caller's vote.
func (c *Counter) State(ctx context.Context, tagID, userID string) (State, error) {
	n, err := c.store.CountVotes(ctx, tagID)
	if err != nil {
		return State{}, err
	}
	if userID == "" {
		return State{Count: n}, nil
	}
	voted, err := c.store.HasVote(ctx, tagID, userID)
	if err != nil {
		return State{}, err
	}
	return State{Count: n, HasVoted: voted}, nil
}

// Reset clears every vote on the tag in tx and returns how many were removed.
func (c *Counter) Reset(ctx context.Context, tx store.Tx) (int, error) {
	return tx.ResetVotes(ctx)
}
