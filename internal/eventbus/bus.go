// Package eventbus is a synchronous in-process publish/subscribe bus.
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"regime-backtest-lab/internal/observability"
)

// Topics
const (
	TopicRunCompleted   = "run_completed"
	TopicBreakerTripped = "breaker_tripped"
)

// Event is a published message.
type Event struct {
	Topic   string    `json:"topic"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Handler receives events. A returned error is logged and does not stop delivery.
type Handler func(ctx context.Context, e Event) error

type subscription struct {
	id uint64
	h  Handler
}

// Options configures a Bus.
type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Clock   func() time.Time
}

// Bus delivers each published event once to every handler subscribed to its
// topic, in subscription order, on the publishing goroutine.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]subscription
	nextID  uint64
	logger  *zap.Logger
	metrics *observability.Metrics
	clock   func() time.Time
}

// New creates a Bus.
func New(opts Options) *Bus {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Bus{
		subs:    make(map[string][]subscription),
		logger:  logger,
		metrics: opts.Metrics,
		clock:   clock,
	}
}

// Subscribe registers h for topic and returns a func that removes it.
// Calling the returned func more than once is a no-op.
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(topic, id) })
	}
}

func (b *Bus) remove(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish delivers e and returns the number of handlers that completed
// without error or panic. A zero Time is stamped with the bus clock.
// Handlers may subscribe or unsubscribe while being called.
func (b *Bus) Publish(ctx context.Context, e Event) int {
	if e.Time.IsZero() {
		e.Time = b.clock()
	}

	b.mu.RLock()
	subs := make([]subscription, len(b.subs[e.Topic]))
	copy(subs, b.subs[e.Topic])
	b.mu.RUnlock()

	b.metrics.RecordEventPublished(e.Topic)

	delivered := 0
	for _, s := range subs {
		if err := b.call(ctx, s.h, e); err != nil {
			b.logger.Error("event handler failed",
				zap.String("topic", e.Topic),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	return delivered
}

func (b *Bus) call(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, e)
}

// Subscribers returns the number of handlers on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Clear removes every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscription)
}
