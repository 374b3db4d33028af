// Package queue moves view-count increments off the request path.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"backend-tagmap/internal/domain"
	"backend-tagmap/internal/metrics"

	"github.com/hibiken/asynq"
)

const (
	// IncrementViewTask is enqueued each time a tag is viewed.
	IncrementViewTask = "tag:view"
)

type ViewPayload struct {
	TagID    string `json:"tag_id"`
	ViewerID string `json:"viewer_id,omitempty"`
}

type ViewCounter interface {
	IncrementViewCount(ctx context.Context, tagID string) error
}

// Enqueuer hands a view off for asynchronous counting.
type Enqueuer interface {
	EnqueueView(ctx context.Context, payload ViewPayload) error
}

func NewViewTask(payload ViewPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(IncrementViewTask, data, asynq.MaxRetry(3), asynq.Timeout(10*time.Second)), nil
}

type AsynqEnqueuer struct {
	client *asynq.Client
}

func NewAsynqEnqueuer(client *asynq.Client) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client}
}

func (e *AsynqEnqueuer) EnqueueView(ctx context.Context, payload ViewPayload) error {
	task, err := NewViewTask(payload)
	if err != nil {
		return err
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue view task: %w", err)
	}
	return nil
}

// Inline counts in a background goroutine when no queue is configured.
type Inline struct {
	counter ViewCounter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewInline(counter ViewCounter, m *metrics.Metrics, logger *slog.Logger) *Inline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inline{counter: counter, metrics: m, logger: logger.With("module", "queue")}
}

func (i *Inline) EnqueueView(_ context.Context, payload ViewPayload) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		count(ctx, i.counter, payload, i.metrics, i.logger)
	}()
	return nil
}

func count(ctx context.Context, counter ViewCounter, payload ViewPayload, m *metrics.Metrics, logger *slog.Logger) error {
	if err := counter.IncrementViewCount(ctx, payload.TagID); err != nil {
		m.Inc(metrics.ViewIncrementFailures)
		logger.Warn("view count increment failed", "event", "view_increment", "tag_id", payload.TagID, "error", err)
		return err
	}
	m.Inc(metrics.ViewIncrements)
	return nil
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	counter ViewCounter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewProcessor(counter ViewCounter, m *metrics.Metrics, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{counter: counter, metrics: m, logger: logger.With("module", "worker")}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(IncrementViewTask, p.HandleView)
	return mux
}

func (p *Processor) HandleView(ctx context.Context, task *asynq.Task) error {
	var payload ViewPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	err := count(ctx, p.counter, payload, p.metrics, p.logger)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}
