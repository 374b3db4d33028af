// Package notify fans change events out to subscribers.
//
// Delivery is at-most-once with no replay. Each subscriber owns a bounded
// buffer; when it is full the oldest pending event is discarded so that
// publishers never wait on a slow reader.
//
// Status events for one tag leave a process in ledger order. Events relayed
// between instances through Redis may interleave; Event.At is the record
// timestamp and orders them.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"backend-tagmap/internal/domain"
	"backend-tagmap/internal/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Topic string

const (
	TopicArchivedThreshold Topic = "archived-threshold"
	TopicStatusChanged     Topic = "status-changed"
)

const (
	DefaultBuffer = 16
	redisPrefix   = "tagmap:events:"
)

// Event is what subscribers receive. At orders status events for anchored
// subscriptions.
type Event struct {
	Topic     Topic                `json:"topic"`
	At        time.Time            `json:"at"`
	TagID     string               `json:"tagId,omitempty"`
	Status    *domain.StatusRecord `json:"status,omitempty"`
	Threshold int                  `json:"threshold,omitempty"`
}

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

type Options struct {
	Buffer  int
	Redis   *redis.Client
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic]map[*Subscription]struct{}
	buffer int

	redis   *redis.Client
	origin  string
	metrics *metrics.Metrics
	logger  *slog.Logger

	cancel context.CancelFunc
	ready  chan struct{}
	done   chan struct{}
}

func NewBus(opts Options) *Bus {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		subs:    map[Topic]map[*Subscription]struct{}{},
		buffer:  opts.Buffer,
		redis:   opts.Redis,
		origin:  uuid.NewString(),
		metrics: opts.Metrics,
		logger:  logger.With("module", "notify"),
		cancel:  cancel,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	if b.redis != nil {
		go b.subscribeRedis(ctx)
	} else {
		close(b.ready)
		close(b.done)
	}
	return b
}

// Ready is closed once the cross-instance subscription is established.
func (b *Bus) Ready() <-chan struct{} { return b.ready }

// Close stops the Redis listener. Local subscriptions stay usable.
func (b *Bus) Close() {
	b.cancel()
	<-b.done
}

// Publish delivers ev to local subscribers and then to other instances.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = domain.Timestamp(time.Now())
	}
	b.deliver(ev)
	b.metrics.Inc(metrics.NotificationsPublished)

	if b.redis == nil {
		return nil
	}
	payload, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		return &domain.NotificationDeliveryError{Topic: string(ev.Topic), Err: err}
	}
	if err := b.redis.Publish(ctx, redisPrefix+string(ev.Topic), payload).Err(); err != nil {
		b.metrics.Inc(metrics.NotificationFailures)
		return &domain.NotificationDeliveryError{Topic: string(ev.Topic), Err: err}
	}
	return nil
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs[ev.Topic]))
	for sub := range b.subs[ev.Topic] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if !sub.after.IsZero() && !ev.At.After(sub.after) {
			continue
		}
		if sub.offer(ev) {
			b.metrics.Inc(metrics.NotificationsDropped)
		}
	}
}

// Subscribe registers a subscriber on topic. For status events only those
// strictly after the anchor are delivered; a zero anchor receives all. The
// subscription ends when ctx is cancelled or Close is called.
func (b *Bus) Subscribe(ctx context.Context, topic Topic, after time.Time) *Subscription {
	sub := &Subscription{
		bus:   b,
		topic: topic,
		after: after,
		ch:    make(chan Event, b.buffer),
		done:  make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[*Subscription]struct{}{}
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub
}

// Subscribers reports how many subscriptions are registered on topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *Bus) unregister(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.topic)
		}
	}
}

func (b *Bus) subscribeRedis(ctx context.Context) {
	defer close(b.done)
	pubsub := b.redis.PSubscribe(ctx, redisPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		b.logger.Error("redis subscribe failed", "event", "notify_redis_subscribe", "error", err)
	}
	close(b.ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("dropping malformed event", "event", "notify_decode", "channel", msg.Channel, "error", err)
				continue
			}
			if env.Origin == b.origin {
				continue
			}
			if Topic(strings.TrimPrefix(msg.Channel, redisPrefix)) != env.Event.Topic {
				continue
			}
			b.deliver(env.Event)
		}
	}
}

type Subscription struct {
	bus   *Bus
	topic Topic
	after time.Time

	mu      sync.Mutex
	ch      chan Event
	closed  bool
	dropped uint64
	done    chan struct{}
}

func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Topic() Topic { return s.topic }

func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// offer enqueues ev, evicting the oldest buffered event when full. It
// reports whether an event was dropped.
func (s *Subscription) offer(ev Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	dropped := false
	for {
		select {
		case s.ch <- ev:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			s.dropped++
			dropped = true
		default:
		}
	}
}

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	close(s.done)
	s.mu.Unlock()
	s.bus.unregister(s)
}
