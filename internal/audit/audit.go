// Package audit provides a bounded in-process pub/sub log of lifecycle
// events (device state transitions, alert creation, rule firings, delivery
// enqueues), adapted from the teacher's event bus. It is a structured-log
// sink, not a queryable store: persistence of audit history is admin-UI
// territory and out of scope (spec.md §1).
package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"pulse/internal/telemetry/metrics"
	"pulse/internal/telemetry/tracing"
)

// Category enumerates the kinds of events Pulse emits.
const (
	CategoryDeviceState = "device_state_change"
	CategoryAlert       = "alert_created"
	CategoryRule        = "rule_triggered"
	CategoryDelivery    = "delivery_queued"
	CategoryError       = "error"
)

// Event is the structured envelope published to subscribers.
type Event struct {
	Time     time.Time
	Category string
	Type     string
	TenantID string
	TraceID  string
	SpanID   string
	Fields   map[string]any
}

// Subscription is a handle representing one consumer of events.
type Subscription interface {
	C() <-chan Event
	Close() error
	ID() int64
}

// Stats reports runtime counters for observability.
type Stats struct {
	Subscribers int64
	Published   uint64
	Dropped     uint64
}

// Log is a bounded event bus. Consumers (e.g. a log-forwarder goroutine,
// or a test) subscribe and drain; publishers never block on a slow or
// absent subscriber.
type Log interface {
	Publish(ev Event) error
	PublishCtx(ctx context.Context, ev Event) error
	Subscribe(buffer int) (Subscription, error)
	Stats() Stats
}

// New constructs a Log. provider may be nil (metrics become no-ops).
func New(provider metrics.Provider) Log {
	l := &eventLog{subs: make(map[int64]*subscriber), provider: provider}
	l.initMetrics()
	return l
}

type eventLog struct {
	mu        sync.RWMutex
	subs      map[int64]*subscriber
	nextID    int64
	published atomic.Uint64
	dropped   atomic.Uint64

	provider   metrics.Provider
	mPublished metrics.Counter
	mDropped   metrics.Counter
}

func (l *eventLog) initMetrics() {
	if l.provider == nil {
		return
	}
	l.mPublished = l.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "pulse", Subsystem: "audit", Name: "published_total", Help: "Total audit events published",
	}})
	l.mDropped = l.provider.NewCounter(metrics.CounterOpts{CommonOpts: metrics.CommonOpts{
		Namespace: "pulse", Subsystem: "audit", Name: "dropped_total", Help: "Total audit events dropped due to backpressure",
	}})
}

func (l *eventLog) Publish(ev Event) error {
	if ev.Category == "" {
		return errors.New("audit event missing category")
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	l.mu.RLock()
	subs := make([]*subscriber, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.RUnlock()

	l.published.Add(1)
	if l.mPublished != nil {
		l.mPublished.Inc(1)
	}
	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			l.dropped.Add(1)
			if l.mDropped != nil {
				l.mDropped.Inc(1)
			}
		}
	}
	return nil
}

func (l *eventLog) PublishCtx(ctx context.Context, ev Event) error {
	if ev.TraceID == "" && ev.SpanID == "" {
		if traceID, spanID := tracing.ExtractIDs(ctx); traceID != "" || spanID != "" {
			ev.TraceID = traceID
			ev.SpanID = spanID
		}
	}
	return l.Publish(ev)
}

func (l *eventLog) Subscribe(buffer int) (Subscription, error) {
	if buffer <= 0 {
		buffer = 64
	}
	id := atomic.AddInt64(&l.nextID, 1)
	sub := &subscriber{id: id, ch: make(chan Event, buffer), log: l}
	l.mu.Lock()
	l.subs[id] = sub
	l.mu.Unlock()
	return sub, nil
}

func (l *eventLog) unsubscribe(id int64) {
	l.mu.Lock()
	s := l.subs[id]
	delete(l.subs, id)
	l.mu.Unlock()
	if s != nil {
		close(s.ch)
	}
}

func (l *eventLog) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{Subscribers: int64(len(l.subs)), Published: l.published.Load(), Dropped: l.dropped.Load()}
}

type subscriber struct {
	id  int64
	ch  chan Event
	log *eventLog
}

func (s *subscriber) C() <-chan Event { return s.ch }
func (s *subscriber) ID() int64       { return s.id }
func (s *subscriber) Close() error    { s.log.unsubscribe(s.id); return nil }
