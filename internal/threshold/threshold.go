// Package threshold holds the process-wide archived threshold: the number of
// distinct up-votes that moves a tag along the promotion chain.
package threshold

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"backend-tagmap/internal/domain"
	"backend-tagmap/internal/metrics"
	"backend-tagmap/internal/notify"
)

type Publisher interface {
	Publish(ctx context.Context, ev notify.Event) error
}

type State struct {
	// setMu orders writers so announcements follow the order values were set.
	setMu   sync.Mutex
	mu      sync.RWMutex
	value   int
	pub     Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(initial int, pub Publisher, m *metrics.Metrics, logger *slog.Logger) (*State, error) {
	if initial < 1 {
		return nil, fmt.Errorf("%w: archived threshold must be at least 1, got %d", domain.ErrValidation, initial)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &State{value: initial, pub: pub, metrics: m, logger: logger.With("module", "threshold")}, nil
}

func (s *State) Get() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

// Set replaces the threshold and announces the change. Writers are
// serialized through the announcement, so the last event carries the value in
// effect. The returned error is a NotificationDeliveryError when only the
// announcement failed; the new value is in effect either way.
func (s *State) Set(ctx context.Context, n int, author domain.Caller) error {
	if err := author.RequireLogin(); err != nil {
		return err
	}
	if n < 1 {
		return fmt.Errorf("%w: archived threshold must be at least 1, got %d", domain.ErrValidation, n)
	}

	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.Lock()
	prev := s.value
	s.value = n
	s.mu.Unlock()
	if prev == n {
		return nil
	}

	s.metrics.Inc(metrics.ThresholdChanges)
	s.logger.Info("archived threshold changed", "event", "threshold_set", "from", prev, "to", n, "user_id", author.UID)
	if s.pub == nil {
		return nil
	}
	if err := s.pub.Publish(ctx, notify.Event{Topic: notify.TopicArchivedThreshold, Threshold: n}); err != nil {
		s.logger.Warn("threshold notification failed", "event", "threshold_notify", "error", err)
		return err
	}
	return nil
}
