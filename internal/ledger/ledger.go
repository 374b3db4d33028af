// Package ledger is the append-only status history of each tag. The newest
// record is the tag's current status.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"backend-tagmap/internal/domain"
	"backend-tagmap/internal/metrics"
	"backend-tagmap/internal/notify"
	"backend-tagmap/internal/store"

	"github.com/google/uuid"
)

type Publisher interface {
	Publish(ctx context.Context, ev notify.Event) error
}

type Ledger struct {
	store    store.Store
	workflow domain.Workflow
	pub      Publisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Ledger)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(st store.Store, workflow domain.Workflow, pub Publisher, m *metrics.Metrics, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		store:    st,
		workflow: workflow,
		pub:      pub,
		metrics:  m,
		logger:   logger.With("module", "ledger"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Workflow() domain.Workflow { return l.workflow }

// Append writes rec as the tag's newest record inside tx. The id, tag id and
// timestamp are assigned here; the timestamp is moved past the previous
// record when the clock has not advanced. A status-changed event is
// published once tx commits.
func (l *Ledger) Append(ctx context.Context, tx store.Tx, rec domain.StatusRecord) (domain.StatusRecord, error) {
	if !l.workflow.Valid(rec.StatusName) {
		return domain.StatusRecord{}, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, rec.StatusName)
	}
	latest, found, err := tx.LatestStatus(ctx)
	if err != nil {
		return domain.StatusRecord{}, err
	}

	rec.ID = uuid.NewString()
	rec.TagID = tx.TagID()
	if found {
		rec.CreateTime = domain.After(latest.CreateTime, l.now())
	} else {
		rec.CreateTime = domain.Timestamp(l.now())
	}
	if err := tx.InsertStatus(ctx, rec); err != nil {
		return domain.StatusRecord{}, err
	}

	appended := rec
	tx.AfterCommit(func(ctx context.Context) error {
		l.metrics.Inc(metrics.StatusRecordsAppended)
		return l.publish(ctx, appended)
	})
	return rec, nil
}

func (l *Ledger) publish(ctx context.Context, rec domain.StatusRecord) error {
	if l.pub == nil {
		return nil
	}
	err := l.pub.Publish(ctx, notify.Event{
		Topic:  notify.TopicStatusChanged,
		At:     rec.CreateTime,
		TagID:  rec.TagID,
		Status: &rec,
	})
	if err == nil {
		return nil
	}
	l.logger.Warn("status notification failed", "event", "status_notify", "tag_id", rec.TagID, "status", rec.StatusName, "error", err)
	var delivery *domain.NotificationDeliveryError
	if errors.As(err, &delivery) {
		return err
	}
	return &domain.NotificationDeliveryError{Topic: string(notify.TopicStatusChanged), Err: err}
}

// Current returns the newest record of the tag. It is the read-side accessor;
// writers inside a tag transaction use Tx.LatestStatus.
func (l *Ledger) Current(ctx context.Context, tagID string) (domain.StatusRecord, error) {
	rec, err := l.store.LatestStatus(ctx, tagID)
	if errors.Is(err, domain.ErrEmptyLedger) {
		l.corrupt(tagID)
	}
	return rec, err
}

// History returns every record of the tag, oldest first.
func (l *Ledger) History(ctx context.Context, tagID string) ([]domain.StatusRecord, error) {
	history, err := l.store.StatusHistory(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		l.corrupt(tagID)
		return nil, fmt.Errorf("%w: tag %s", domain.ErrEmptyLedger, tagID)
	}
	return history, nil
}

func (l *Ledger) corrupt(tagID string) {
	l.metrics.Inc(metrics.EmptyLedgerDetected)
	l.logger.Error("tag has no status records", "event", "empty_ledger", "tag_id", tagID)
}
