// Package ifacereg implements the interface registry: the set of
// live capture points the sensor currently monitors, plus the
// per-interface counters (frames_seen, frames_dropped, last_frame_at)
// that the supervisor's capture callbacks update. The counters are read
// back only through Entry.Counters; the supervisor's status snapshot and
// /metrics do not include them.
//
// The registry is concurrently mutable: interfaces can be added and
// removed at runtime, not only resolved once at startup.
package ifacereg

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Counters holds the mutable per-interface statistics, returned as a
// snapshot by Entry.Counters.
type Counters struct {
	FramesSeen    uint64
	FramesDropped uint64
	LastFrameAt   time.Time
}

// Entry is one registered capture point.
type Entry struct {
	Name      string
	HWAddr    net.HardwareAddr
	IPNet     *net.IPNet
	Added     time.Time

	mu       sync.RWMutex
	counters Counters
}

// Counters returns a point-in-time snapshot of the entry's counters.
func (e *Entry) Counters() Counters {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.counters
}

// RecordFrame increments frames_seen and updates last_frame_at.
func (e *Entry) RecordFrame(at time.Time) {
	e.mu.Lock()
	e.counters.FramesSeen++
	e.counters.LastFrameAt = at
	e.mu.Unlock()
}

// RecordDrop increments frames_dropped.
func (e *Entry) RecordDrop() {
	e.mu.Lock()
	e.counters.FramesDropped++
	e.mu.Unlock()
}

// Registry is a concurrency-safe table of Entry, keyed by interface
// name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Add resolves ifaceName (optionally constrained to ifaceAddr; empty
// addr picks the first non-loopback IPv4 address) and registers it.
// Re-adding an already registered interface is a no-op that returns the
// existing Entry.
func (r *Registry) Add(ifaceName, ifaceAddr string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[ifaceName]; ok {
		return e, nil
	}

	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("ifacereg: lookup %q: %w", ifaceName, err)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("ifacereg: addrs for %q: %w", ifaceName, err)
	}

	var ipNet *net.IPNet
	for _, a := range addrs {
		n, ok := a.(*net.IPNet)
		if !ok || n.IP.IsLoopback() {
			continue
		}
		ip4 := n.IP.To4()
		if ip4 == nil {
			continue
		}
		if ifaceAddr != "" && ip4.String() != ifaceAddr {
			continue
		}
		ipNet = &net.IPNet{IP: ip4, Mask: n.Mask[len(n.Mask)-4:]}
		break
	}
	if ipNet == nil && ifaceAddr != "" {
		return nil, fmt.Errorf("ifacereg: no ip %q bound to interface %q", ifaceAddr, ifaceName)
	}

	e := &Entry{
		Name:   ifaceName,
		HWAddr: iface.HardwareAddr,
		IPNet:  ipNet,
		Added:  time.Now(),
	}
	r.entries[ifaceName] = e
	return e, nil
}

// Remove unregisters an interface. Removing an interface that is still
// being captured from is the caller's responsibility to serialize with
// the supervisor's Stop for that interface.
func (r *Registry) Remove(ifaceName string) {
	r.mu.Lock()
	delete(r.entries, ifaceName)
	r.mu.Unlock()
}

// Get returns the registered Entry for ifaceName, or nil.
func (r *Registry) Get(ifaceName string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[ifaceName]
}

// List returns a snapshot slice of every registered Entry.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
