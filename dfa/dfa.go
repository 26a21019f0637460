// Package dfa implements the DFA filter: a deterministic rule set
// over the Frame stream covering IP<->MAC mapping conflicts (the
// primary ARP-spoofing signal) and gratuitous-ARP flood detection.
//
// Both tables are hash-partitioned across mutex-guarded shards so
// concurrent workers contend only on frames that hash to the same
// bucket.
package dfa

import (
	"fmt"
	"sync"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
)

// shardCount hash-partitions the binding and gratuitous maps to keep
// lock contention local.
const shardCount = 16

type binding struct {
	mac string
}

type gratShard struct {
	mu   sync.Mutex
	deqs map[string][]time.Time // source MAC -> observation timestamps, oldest first
}

type bindShard struct {
	mu  sync.RWMutex
	bnd map[string]binding // sender IP -> current MAC
}

// Filter is the DFA Filter. It is safe for concurrent use by multiple
// worker goroutines.
type Filter struct {
	threshold int
	window    time.Duration

	bindShards [shardCount]*bindShard
	gratShards [shardCount]*gratShard
}

// New constructs a Filter with the gratuitous-flood threshold and
// window (typically 5 within 5s).
func New(threshold int, window time.Duration) *Filter {
	f := &Filter{threshold: threshold, window: window}
	for i := 0; i < shardCount; i++ {
		f.bindShards[i] = &bindShard{bnd: make(map[string]binding)}
		f.gratShards[i] = &gratShard{deqs: make(map[string][]time.Time)}
	}
	return f
}

func shardFor(key string) int {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return int(h % shardCount)
}

// Evaluate runs the rule set over one Frame and returns zero or more
// alerts (an IP-MAC conflict and a gratuitous flood can both fire off
// the same frame). Non-ARP frames are never passed to Evaluate by the
// caller; this filter has no concept of non-ARP traffic to ignore.
func (f *Filter) Evaluate(frame safelink.Frame, now time.Time) []safelink.Alert {
	var alerts []safelink.Alert

	if a := f.checkBinding(frame, now); a != nil {
		alerts = append(alerts, *a)
	}
	if a := f.checkGratuitous(frame, now); a != nil {
		alerts = append(alerts, *a)
	}
	return alerts
}

func (f *Filter) checkBinding(frame safelink.Frame, now time.Time) *safelink.Alert {
	senderIP := frame.SenderIP.String()
	senderMAC := frame.SrcMAC.String()
	if senderIP == "" || senderIP == "<nil>" || senderMAC == "" {
		return nil
	}

	shard := f.bindShards[shardFor(senderIP)]
	shard.mu.Lock()
	prev, existed := shard.bnd[senderIP]
	shard.bnd[senderIP] = binding{mac: senderMAC}
	shard.mu.Unlock()

	if !existed || prev.mac == senderMAC {
		return nil
	}

	sIP := senderIP
	sMAC := senderMAC
	return &safelink.Alert{
		Timestamp: now,
		Module:    safelink.ModuleDFA,
		Reason:    fmt.Sprintf("IP-MAC conflict: %s previous %s now %s", senderIP, prev.mac, senderMAC),
		SrcIP:     &sIP,
		SrcMAC:    &sMAC,
		Detail: map[string]any{
			"ip":       senderIP,
			"prev_mac": prev.mac,
			"new_mac":  senderMAC,
		},
	}
}

func (f *Filter) checkGratuitous(frame safelink.Frame, now time.Time) *safelink.Alert {
	mac := frame.SrcMAC.String()
	if mac == "" {
		return nil
	}

	shard := f.gratShards[shardFor(mac)]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	deq := append(shard.deqs[mac], now)
	cutoff := now.Add(-f.window)
	i := 0
	for i < len(deq) && deq[i].Before(cutoff) {
		i++
	}
	deq = deq[i:]
	shard.deqs[mac] = deq

	if len(deq) <= f.threshold {
		return nil
	}

	sMAC := mac
	return &safelink.Alert{
		Timestamp: now,
		Module:    safelink.ModuleDFA,
		Reason:    fmt.Sprintf("Excessive gratuitous ARPs from %s", mac),
		SrcMAC:    &sMAC,
		Detail: map[string]any{
			"mac":   mac,
			"count": len(deq),
		},
	}
}

// Binding returns the current MAC bound to senderIP, and whether a
// binding exists at all.
func (f *Filter) Binding(senderIP string) (string, bool) {
	shard := f.bindShards[shardFor(senderIP)]
	shard.mu.RLock()
	defer shard.mu.RUnlock()
	b, ok := shard.bnd[senderIP]
	return b.mac, ok
}
