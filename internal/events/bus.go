package events

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/mission-control/internal/metrics"
)

// Package events provides the in-process event bus used for cross-component
// notification: mission created/updated, lifecycle transitions, and health
// anomaly events feeding observation windows.
//
// Delivery is at-least-once for subscribers that keep up or register an
// OnDrop overflow handler; otherwise a full buffer drops the event for that
// subscriber only, counted and exported as a metric. Handlers must be
// idempotent. Topics are dotted names ("mission.updated", "health.anomaly");
// a subscription pattern is either an exact topic or a prefix wildcard
// ("mission.*", "*").

// Event is one bus notification.
type Event struct {
	Topic     string         `json:"topic"`
	MissionID string         `json:"mission_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Subscription is a live subscriber registration. Receive from C until it is
// closed by Close.
type Subscription struct {
	pattern string
	ch      chan Event
	bus     *Bus
	once    sync.Once
	onDrop  func(Event)
}

// C returns the subscriber's delivery channel.
func (s *Subscription) C() <-chan Event { return s.ch }

// OnDrop registers a handler invoked synchronously from Publish when the
// subscriber's buffer is full, instead of dropping the event. Handlers must
// be fast and must not call back into the bus.
func (s *Subscription) OnDrop(fn func(Event)) {
	s.bus.mu.Lock()
	s.onDrop = fn
	s.bus.mu.Unlock()
}

// Close removes the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
		close(s.ch)
	})
}

// Bus is a mutex-guarded fan-out publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	logger  *zap.Logger
	dropped atomic.Int64
}

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscribe registers a pattern with the given buffer size (minimum 1).
func (b *Bus) Subscribe(pattern string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	sub := &Subscription{
		pattern: pattern,
		ch:      make(chan Event, buffer),
		bus:     b,
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Publish delivers the event to every matching subscriber. Non-blocking: a
// full subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !Matches(sub.pattern, event.Topic) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			if sub.onDrop != nil {
				sub.onDrop(event)
				continue
			}
			b.dropped.Add(1)
			metrics.EventsDropped.Inc()
			b.logger.Warn("event dropped for slow subscriber",
				zap.String("topic", event.Topic),
				zap.String("pattern", sub.pattern))
		}
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Matches reports whether a subscription pattern matches a topic.
// "*" matches everything; "mission.*" matches any topic under "mission.";
// anything else is an exact match.
func Matches(pattern, topic string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(topic, prefix+".")
	}
	return pattern == topic
}
