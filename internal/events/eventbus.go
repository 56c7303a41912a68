package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/logging"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/observability"
)

// Config holds event bus configuration.
type Config struct {
	// SubscriberQueue is the per-subscriber delivery queue depth.
	SubscriberQueue int

	// ReplaySize bounds the replay window by event count.
	ReplaySize int

	// ReplayMaxAge bounds the replay window by event age.
	ReplayMaxAge time.Duration
}

// DefaultConfig returns the default event bus configuration.
func DefaultConfig() Config {
	return Config{
		SubscriberQueue: 64,
		ReplaySize:      256,
		ReplayMaxAge:    15 * time.Minute,
	}
}

// Subscriber is a registered bus consumer. Events are delivered on a
// bounded queue; a subscriber that stops draining loses its oldest
// undelivered events but never stalls the publisher or its peers.
type Subscriber struct {
	id      string
	ch      chan Event
	dropped atomic.Uint64
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string { return s.id }

// Events returns the delivery channel. It is closed when the subscriber
// is unsubscribed or the bus shuts down.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Dropped returns how many events were evicted from this subscriber's
// queue because it was not draining fast enough.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// EventBus fans events out to subscribers without ever blocking the
// publisher. A bounded replay window lets reconnecting subscribers
// recover events they missed, identified by sequence number.
type EventBus struct {
	config Config

	mu          sync.Mutex
	sequence    uint64
	subscribers map[string]*Subscriber
	replay      []Event
	closed      bool

	stats   BusStats
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates an event bus with the given configuration.
func New(config Config, metrics *observability.Metrics) *EventBus {
	if config.SubscriberQueue <= 0 {
		config.SubscriberQueue = DefaultConfig().SubscriberQueue
	}
	if config.ReplaySize <= 0 {
		config.ReplaySize = DefaultConfig().ReplaySize
	}
	if config.ReplayMaxAge <= 0 {
		config.ReplayMaxAge = DefaultConfig().ReplayMaxAge
	}

	eb := &EventBus{
		config:      config,
		subscribers: make(map[string]*Subscriber),
		replay:      make([]Event, 0, config.ReplaySize),
		metrics:     metrics,
		logger:      logging.ForService("events"),
	}

	eb.logger.Info("event bus initialized",
		"subscriber_queue", config.SubscriberQueue,
		"replay_size", config.ReplaySize,
		"replay_max_age", config.ReplayMaxAge,
	)

	return eb
}

// Subscribe registers a new subscriber with an empty queue.
func (eb *EventBus) Subscribe() (*Subscriber, error) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return nil, fmt.Errorf("event bus is shut down")
	}

	sub := &Subscriber{
		id: uuid.New().String(),
		ch: make(chan Event, eb.config.SubscriberQueue),
	}
	eb.subscribers[sub.id] = sub

	eb.logger.Debug("subscriber registered", "subscriber", sub.id)
	return sub, nil
}

// Resume registers a new subscriber and pre-fills its queue with replay
// events whose sequence is greater than lastSeq. Replay and registration
// happen atomically so no event falls between the replayed window and
// live delivery. Events evicted from the replay window are gone; the
// subscriber observes the gap through the sequence numbers it receives.
func (eb *EventBus) Resume(lastSeq uint64) (*Subscriber, error) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return nil, fmt.Errorf("event bus is shut down")
	}

	eb.pruneReplayLocked(time.Now())

	sub := &Subscriber{
		id: uuid.New().String(),
		ch: make(chan Event, eb.config.SubscriberQueue),
	}

	replayed := 0
	for _, ev := range eb.replay {
		if ev.Sequence <= lastSeq {
			continue
		}
		eb.deliverLocked(sub, ev)
		replayed++
	}
	atomic.AddUint64(&eb.stats.Replayed, uint64(replayed))

	eb.subscribers[sub.id] = sub

	eb.logger.Debug("subscriber resumed",
		"subscriber", sub.id,
		"last_seq", lastSeq,
		"replayed", replayed,
	)
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (eb *EventBus) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if _, ok := eb.subscribers[sub.id]; !ok {
		return
	}
	delete(eb.subscribers, sub.id)
	close(sub.ch)

	eb.logger.Debug("subscriber removed", "subscriber", sub.id)
}

// Publish assigns the event a sequence number, records it in the replay
// window, and delivers it to every subscriber. Publish never blocks; a
// full subscriber queue loses its oldest event instead.
func (eb *EventBus) Publish(kind Kind, payload any) uint64 {
	now := time.Now()

	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return 0
	}

	eb.sequence++
	ev := Event{
		Sequence: eb.sequence,
		Kind:     kind,
		Time:     now,
		Payload:  payload,
	}

	eb.pruneReplayLocked(now)
	if len(eb.replay) >= eb.config.ReplaySize {
		eb.replay = eb.replay[1:]
	}
	eb.replay = append(eb.replay, ev)

	for _, sub := range eb.subscribers {
		eb.deliverLocked(sub, ev)
	}

	atomic.AddUint64(&eb.stats.Published, 1)
	if eb.metrics != nil {
		eb.metrics.EventsPublished.Inc()
	}
	return ev.Sequence
}

// deliverLocked places an event on a subscriber queue, evicting the
// oldest queued event if the queue is full. Caller holds eb.mu.
func (eb *EventBus) deliverLocked(sub *Subscriber, ev Event) {
	for {
		select {
		case sub.ch <- ev:
			atomic.AddUint64(&eb.stats.Delivered, 1)
			return
		default:
		}

		select {
		case <-sub.ch:
			sub.dropped.Add(1)
			atomic.AddUint64(&eb.stats.Dropped, 1)
			if eb.metrics != nil {
				eb.metrics.SubscriberDrops.Inc()
			}
			eb.logger.Debug("evicted oldest event from slow subscriber",
				"subscriber", sub.id,
				"sequence", ev.Sequence,
			)
		default:
		}
	}
}

// pruneReplayLocked drops replay events older than ReplayMaxAge.
// Caller holds eb.mu.
func (eb *EventBus) pruneReplayLocked(now time.Time) {
	cutoff := now.Add(-eb.config.ReplayMaxAge)
	i := 0
	for i < len(eb.replay) && eb.replay[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		eb.replay = eb.replay[i:]
	}
}

// LastSequence returns the sequence number of the most recently
// published event, or zero if nothing has been published.
func (eb *EventBus) LastSequence() uint64 {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return eb.sequence
}

// Shutdown stops the bus. Further publishes are discarded and every
// subscriber channel is closed after its queued events drain naturally.
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	eb.mu.Lock()
	if eb.closed {
		eb.mu.Unlock()
		return nil
	}
	eb.closed = true

	subs := make([]*Subscriber, 0, len(eb.subscribers))
	for _, sub := range eb.subscribers {
		subs = append(subs, sub)
	}
	eb.subscribers = make(map[string]*Subscriber)
	eb.mu.Unlock()

	eb.logger.Info("shutting down event bus", "subscribers", len(subs), "timeout", timeout)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for _, sub := range subs {
		for len(sub.ch) > 0 {
			select {
			case <-deadline.C:
				for _, s := range subs {
					close(s.ch)
				}
				eb.logger.Warn("event bus shutdown timeout exceeded")
				return fmt.Errorf("shutdown timeout exceeded")
			case <-time.After(10 * time.Millisecond):
			}
		}
		close(sub.ch)
	}

	eb.logger.Info("event bus shutdown complete")
	return nil
}

// Stats returns current event bus statistics.
func (eb *EventBus) Stats() BusStats {
	return BusStats{
		Published: atomic.LoadUint64(&eb.stats.Published),
		Delivered: atomic.LoadUint64(&eb.stats.Delivered),
		Dropped:   atomic.LoadUint64(&eb.stats.Dropped),
		Replayed:  atomic.LoadUint64(&eb.stats.Replayed),
	}
}
