// Package dispatch implements the dispatcher and its worker pool:
// N bounded worker lanes that frames are routed into by one of three
// assignment strategies, and the cooperative workers that drain them.
//
// Shutdown drains each lane's queue within a grace window before the
// workers exit; a lane whose queue is full drops the incoming frame and
// counts it rather than blocking the producer.
package dispatch

import (
	"context"
	"sync"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
	"github.com/Nagarohit29/Safelink/config"
	"github.com/Nagarohit29/Safelink/misc"
)

// Handler processes one frame. It is invoked by a worker goroutine and
// must not block indefinitely; Worker Pool concurrency is the only
// parallelism the analyzer chain gets.
type Handler func(safelink.Frame)

// lane is one worker's bounded FIFO plus its load counter.
type lane struct {
	id        int
	queue     chan safelink.Frame
	processed uint64 // guarded by mu
	mu        sync.Mutex
}

func (l *lane) incProcessed() {
	l.mu.Lock()
	l.processed++
	l.mu.Unlock()
}

func (l *lane) load() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed
}

// Dispatcher routes frames from capture engines to worker lanes.
type Dispatcher struct {
	strategy config.DispatchStrategy
	lanes    []*lane
	handler  Handler
	drops    *misc.DropCounter

	rrCounter uint64
	rrMu      sync.Mutex

	affinity   map[string]int // interface id -> lane index
	affinityMu sync.Mutex

	shutdownGrace time.Duration

	wg sync.WaitGroup
}

// New constructs a Dispatcher with n worker lanes of the given depth,
// each running handler.
func New(strategy config.DispatchStrategy, n, laneDepth int, shutdownGrace time.Duration, handler Handler) *Dispatcher {
	d := &Dispatcher{
		strategy:      strategy,
		handler:       handler,
		drops:         &misc.DropCounter{},
		affinity:      make(map[string]int),
		shutdownGrace: shutdownGrace,
	}
	for i := 0; i < n; i++ {
		d.lanes = append(d.lanes, &lane{id: i, queue: make(chan safelink.Frame, laneDepth)})
	}
	return d
}

// Start launches one worker goroutine per lane, each draining its queue
// and invoking handler until ctx is canceled.
func (d *Dispatcher) Start(ctx context.Context) {
	for _, l := range d.lanes {
		d.wg.Add(1)
		go d.runWorker(ctx, l)
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, l *lane) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			d.drain(l)
			return
		case f, ok := <-l.queue:
			if !ok {
				return
			}
			d.handler(f)
			l.incProcessed()
		}
	}
}

// drain processes whatever remains queued in l within the shutdown
// grace window, then abandons the rest.
func (d *Dispatcher) drain(l *lane) {
	deadline := time.NewTimer(d.shutdownGrace)
	defer deadline.Stop()
	for {
		select {
		case f, ok := <-l.queue:
			if !ok {
				return
			}
			d.handler(f)
			l.incProcessed()
		case <-deadline.C:
			return
		}
		if len(l.queue) == 0 {
			return
		}
	}
}

// Wait blocks until every worker goroutine has exited.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Dispatch routes f to a lane per the configured strategy. If the chosen
// lane's queue is full, the frame is dropped and the drop counter
// incremented.
func (d *Dispatcher) Dispatch(f safelink.Frame) {
	l := d.selectLane(f)
	select {
	case l.queue <- f:
	default:
		d.drops.Inc()
	}
}

func (d *Dispatcher) selectLane(f safelink.Frame) *lane {
	switch d.strategy {
	case config.StrategyLeastLoaded:
		return d.leastLoaded()
	case config.StrategyAffinity:
		return d.affinityLane(f)
	default:
		return d.roundRobin()
	}
}

func (d *Dispatcher) roundRobin() *lane {
	d.rrMu.Lock()
	idx := d.rrCounter % uint64(len(d.lanes))
	d.rrCounter++
	d.rrMu.Unlock()
	return d.lanes[idx]
}

func (d *Dispatcher) leastLoaded() *lane {
	best := d.lanes[0]
	bestLoad := best.load()
	for _, l := range d.lanes[1:] {
		if ld := l.load(); ld < bestLoad {
			best, bestLoad = l, ld
		}
	}
	return best
}

// affinityLane pins the first frame seen from an interface to its
// least-loaded lane at that moment, and routes every subsequent frame
// from that interface to the same lane, preserving per-interface order.
func (d *Dispatcher) affinityLane(f safelink.Frame) *lane {
	d.affinityMu.Lock()
	defer d.affinityMu.Unlock()

	if idx, ok := d.affinity[f.InterfaceID]; ok {
		return d.lanes[idx]
	}
	l := d.leastLoaded()
	d.affinity[f.InterfaceID] = l.id
	return l
}

// DroppedCount returns the total number of frames dropped across all
// lanes due to overflow.
func (d *Dispatcher) DroppedCount() uint64 { return d.drops.Value() }

// LaneLoads returns a snapshot of each lane's processed-frame count,
// indexed by lane id, for /metrics.
func (d *Dispatcher) LaneLoads() []uint64 {
	out := make([]uint64, len(d.lanes))
	for i, l := range d.lanes {
		out[i] = l.load()
	}
	return out
}
