// Package arpanalyze implements the ARP analyzer: stateful
// per-sender semantic features (gratuitous, probe, inter-arrival,
// request/reply correlation) folded into a bounded [0,1] anomaly score.
//
// Requests record a pending entry keyed by (sender,target); replies
// either match and remove one, or count as unsolicited. Per-sender
// history is a bounded ring and the pending table is swept
// periodically, so neither grows with attacker-controlled cardinality.
package arpanalyze

import (
	"math"
	"net"
	"sync"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
	"github.com/Nagarohit29/Safelink/misc"
)

const (
	weightGratuitous     = 0.4
	weightProbe          = 0.1
	weightPacketRate     = 0.3
	weightInterArrival   = 0.2
	weightUnsolicited    = 0.5

	packetRateThreshold = 10.0 // per second
	interArrivalMin     = 100 * time.Millisecond
)

type senderHistory struct {
	mu           sync.Mutex
	lastSeen     time.Time
	interArrival []time.Duration // bounded ring of recent inter-arrival samples
	cap          int
}

func (h *senderHistory) record(now time.Time, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	first := h.lastSeen.IsZero()
	h.lastSeen = now
	if first {
		// no previous frame, so there is no gap to sample yet
		return
	}
	h.interArrival = append(h.interArrival, d)
	if len(h.interArrival) > h.cap {
		h.interArrival = h.interArrival[len(h.interArrival)-h.cap:]
	}
}

// Stats returns min/max/mean/std of the bounded inter-arrival history.
func (h *senderHistory) Stats() (min, max, mean, std time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.interArrival) == 0 {
		return 0, 0, 0, 0
	}
	min, max = h.interArrival[0], h.interArrival[0]
	var sum float64
	for _, d := range h.interArrival {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
		sum += float64(d)
	}
	meanF := sum / float64(len(h.interArrival))
	var variance float64
	for _, d := range h.interArrival {
		diff := float64(d) - meanF
		variance += diff * diff
	}
	variance /= float64(len(h.interArrival))
	mean = time.Duration(meanF)
	std = time.Duration(math.Sqrt(variance))
	return
}

// windowRate returns the sender's packet rate (packets/sec) over the
// whole bounded history window: gap count divided by the summed gap
// span. Unlike a reciprocal of the latest gap alone, this stays stable
// under bursty or irregular timing — one long pause after a burst does
// not erase the burst.
func (h *senderHistory) windowRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var span float64
	n := 0
	for _, d := range h.interArrival {
		if d > 0 {
			span += d.Seconds()
			n++
		}
	}
	if span <= 0 {
		return 0
	}
	return float64(n) / span
}

type pendingRequest struct {
	at time.Time
}

// Analyzer is the ARP Analyzer. Safe for concurrent use.
type Analyzer struct {
	historySize int
	pendingTTL  time.Duration

	histories *misc.LockMap[senderHistory]
	pending   *misc.ConvoLockMap[pendingRequest]

	unsolicitedReplies misc.DropCounter // reused as a simple atomic counter
}

func New(historySize int, pendingTTL time.Duration) *Analyzer {
	return &Analyzer{
		historySize: historySize,
		pendingTTL:  pendingTTL,
		histories:   misc.NewLockMap[senderHistory](nil),
		pending:     misc.NewConvoLockMap[pendingRequest](nil),
	}
}

// Analyze derives PacketInfo and an anomaly score for frame, updating
// the analyzer's per-sender state as a side effect.
func (a *Analyzer) Analyze(frame safelink.Frame, now time.Time) (safelink.PacketInfo, float64) {
	senderIP := frame.SenderIP.String()

	info := safelink.PacketInfo{
		Frame:        frame,
		IsGratuitous: isGratuitous(frame),
		IsProbe:      isProbe(frame),
	}

	interArrival, rate := a.updateHistory(senderIP, now)
	info.InterArrival = interArrival

	switch frame.Opcode {
	case safelink.OpRequest:
		a.pending.CSet(senderIP, frame.TargetIP.String(), &pendingRequest{at: now})
	case safelink.OpReply:
		if a.pending.CGet(frame.TargetIP.String(), senderIP) != nil {
			a.pending.CDelete(frame.TargetIP.String(), senderIP)
			info.MatchedRequest = true
		} else {
			info.UnsolicitedReply = true
			a.unsolicitedReplies.Inc()
		}
	}

	score := 0.0
	if info.IsGratuitous {
		score += weightGratuitous
	}
	if info.IsProbe {
		score += weightProbe
	}
	if rate > packetRateThreshold {
		score += weightPacketRate
	}
	if interArrival > 0 && interArrival < interArrivalMin {
		score += weightInterArrival
	}
	if info.UnsolicitedReply {
		score += weightUnsolicited
	}
	if score > 1.0 {
		score = 1.0
	}

	return info, score
}

// updateHistory records the observation and returns the inter-arrival
// duration since the sender's previous frame (0 on first sight) plus
// the sender's packet rate over the bounded history window.
func (a *Analyzer) updateHistory(senderIP string, now time.Time) (time.Duration, float64) {
	h := a.histories.Get(senderIP)
	if h == nil {
		h = &senderHistory{cap: a.historySize}
		a.histories.Set(senderIP, h)
	}

	h.mu.Lock()
	var interArrival time.Duration
	if !h.lastSeen.IsZero() {
		interArrival = now.Sub(h.lastSeen)
	}
	h.mu.Unlock()

	h.record(now, interArrival)

	return interArrival, h.windowRate()
}

// UnsolicitedRepliesCount returns the total count of replies observed
// with no matching pending request.
func (a *Analyzer) UnsolicitedRepliesCount() uint64 { return a.unsolicitedReplies.Value() }

// SweepPending drops pending-request entries older than the configured
// TTL; intended to be invoked by a periodic maintenance goroutine.
func (a *Analyzer) SweepPending(now time.Time) {
	cutoff := now.Add(-a.pendingTTL)
	var stale []string
	a.pending.Range(func(key string, v *pendingRequest) {
		if v.at.Before(cutoff) {
			stale = append(stale, key)
		}
	})
	for _, key := range stale {
		a.pending.Delete(key)
	}
}

// SenderRate returns the sender's packet rate (packets/sec) over its
// bounded history window, 0 for an unknown sender. The feature
// extractor reads this rather than deriving its own figure, so the
// vector and the anomaly score always agree on what the rate was.
func (a *Analyzer) SenderRate(senderIP string) float64 {
	h := a.histories.Get(senderIP)
	if h == nil {
		return 0
	}
	return h.windowRate()
}

// SenderStats exposes the bounded inter-arrival statistics for a sender,
// for /metrics and the feature extractor.
func (a *Analyzer) SenderStats(senderIP string) (min, max, mean, std time.Duration, ok bool) {
	h := a.histories.Get(senderIP)
	if h == nil {
		return 0, 0, 0, 0, false
	}
	min, max, mean, std = h.Stats()
	return min, max, mean, std, true
}

func isGratuitous(f safelink.Frame) bool {
	if f.SenderIP != nil && f.TargetIP != nil && f.SenderIP.Equal(f.TargetIP) {
		return true
	}
	if f.Opcode == safelink.OpReply && isBroadcast(f.DstMAC) {
		return true
	}
	return false
}

func isProbe(f safelink.Frame) bool {
	return f.Opcode == safelink.OpRequest && f.SenderIP != nil && f.SenderIP.Equal(net.IPv4zero)
}

func isBroadcast(mac net.HardwareAddr) bool {
	if len(mac) != 6 {
		return false
	}
	for _, b := range mac {
		if b != 0xFF {
			return false
		}
	}
	return true
}
