// Package broadcast implements the broadcast hub: many-to-many
// push of alert events to subscribers, each behind its own bounded
// queue so a slow subscriber never blocks the writer path.
//
// Each subscriber drains its own bounded channel; overflow drops the
// oldest queued event and a sustained run of overflows disconnects the
// subscriber entirely.
package broadcast

import (
	"context"
	"sync"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
	"github.com/Nagarohit29/Safelink/misc"
	"go.uber.org/zap"
)

const (
	defaultQueueDepth   = 64
	defaultOverflowMax  = 50 // consecutive drops before a subscriber is disconnected
	heartbeatTimeout    = 90 * time.Second
)

// Subscriber is one registered client's outbound queue. The hub never
// writes to a socket directly; a transport adapter (wsgateway) drains
// Events() and performs the actual network send.
type Subscriber struct {
	ID       string
	queue    chan safelink.NewAlertEvent
	drops    misc.DropCounter
	mu       sync.Mutex
	overflow int
	lastSeen time.Time
	closed   bool
	done     chan struct{}
}

// Events returns the channel of events queued for this subscriber.
func (s *Subscriber) Events() <-chan safelink.NewAlertEvent { return s.queue }

// Done is closed when the hub disconnects this subscriber.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

// Pong records a liveness heartbeat from the subscriber's transport.
func (s *Subscriber) Pong() {
	s.mu.Lock()
	s.lastSeen = time.Now()
	s.mu.Unlock()
}

// DroppedCount returns the number of events dropped for this subscriber
// due to a full queue.
func (s *Subscriber) DroppedCount() uint64 { return s.drops.Value() }

func (s *Subscriber) enqueue(e safelink.NewAlertEvent, overflowMax int, onDrop func(subscriberID string)) (disconnect bool) {
	select {
	case s.queue <- e:
		s.mu.Lock()
		s.overflow = 0
		s.mu.Unlock()
		return false
	default:
	}

	// drop-oldest: pop one, then retry the push
	select {
	case <-s.queue:
		s.drop(onDrop)
	default:
	}
	select {
	case s.queue <- e:
	default:
		s.drop(onDrop)
	}

	s.mu.Lock()
	s.overflow++
	disconnect = s.overflow >= overflowMax
	s.mu.Unlock()
	return disconnect
}

func (s *Subscriber) drop(onDrop func(subscriberID string)) {
	s.drops.Inc()
	if onDrop != nil {
		onDrop(s.ID)
	}
}

// Hub is the subscriber registry and fan-out coordinator. Subscribe/
// Unsubscribe take the registry mutex briefly; per-subscriber sends
// never hold it.
type Hub struct {
	log *zap.Logger

	queueDepth  int
	overflowMax int

	mu          sync.Mutex
	subscribers map[string]*Subscriber

	onDrop func(subscriberID string)

	ingest chan safelink.NewAlertEvent
}

// New constructs a Hub. queueDepth and overflowMax fall back to
// defaults when non-positive.
func New(log *zap.Logger, queueDepth, overflowMax, ingestDepth int) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	if overflowMax <= 0 {
		overflowMax = defaultOverflowMax
	}
	if ingestDepth <= 0 {
		ingestDepth = 1024
	}
	return &Hub{
		log:         log,
		queueDepth:  queueDepth,
		overflowMax: overflowMax,
		subscribers: make(map[string]*Subscriber),
		ingest:      make(chan safelink.NewAlertEvent, ingestDepth),
	}
}

// SetDropHook installs a callback invoked on every dropped event with
// the affected subscriber's id. The daemon wires the
// broadcast_drops_total counter through this, keeping the hub unaware
// of Prometheus. Must be called before Run.
func (h *Hub) SetDropHook(fn func(subscriberID string)) { h.onDrop = fn }

// Subscribe registers a new subscriber and returns it.
func (h *Hub) Subscribe(id string) *Subscriber {
	s := &Subscriber{
		ID:       id,
		queue:    make(chan safelink.NewAlertEvent, h.queueDepth),
		lastSeen: time.Now(),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	h.subscribers[id] = s
	h.mu.Unlock()
	return s
}

// Unsubscribe removes and closes the subscriber's done signal. Safe to
// call more than once.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	s, ok := h.subscribers[id]
	if ok {
		delete(h.subscribers, id)
	}
	h.mu.Unlock()
	if ok {
		s.mu.Lock()
		already := s.closed
		s.closed = true
		s.mu.Unlock()
		if !already {
			close(s.done)
		}
	}
}

// Publish is the alertstore.Publisher this hub exposes: a non-blocking
// enqueue into the ingest channel. Fan-out happens on Run's goroutine,
// never inline with the caller's DB commit path.
func (h *Hub) Publish(e safelink.NewAlertEvent) {
	select {
	case h.ingest <- e:
	default:
		h.log.Warn("broadcast: ingest channel full, dropping event", zap.Int64("alert_id", e.ID))
	}
}

// Run drains the ingest channel and fans each event out to every
// registered subscriber until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-h.ingest:
			h.fanOut(e)
		}
	}
}

func (h *Hub) fanOut(e safelink.NewAlertEvent) {
	h.mu.Lock()
	targets := make([]*Subscriber, 0, len(h.subscribers))
	for _, s := range h.subscribers {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		if s.enqueue(e, h.overflowMax, h.onDrop) {
			h.log.Warn("broadcast: disconnecting subscriber after sustained overflow", zap.String("subscriber", s.ID))
			h.Unsubscribe(s.ID)
		}
	}
}

// SweepDeadSubscribers disconnects subscribers whose last heartbeat is
// older than heartbeatTimeout; the transport's ping/pong exchange is
// what keeps lastSeen fresh.
func (h *Hub) SweepDeadSubscribers(now time.Time) {
	h.mu.Lock()
	var stale []string
	for id, s := range h.subscribers {
		s.mu.Lock()
		dead := now.Sub(s.lastSeen) > heartbeatTimeout
		s.mu.Unlock()
		if dead {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()
	for _, id := range stale {
		h.Unsubscribe(id)
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
