// Package misc provides small concurrency-safe primitives shared across
// the sensor's analyzer chain, dispatcher, and broadcast hub.
package misc

import (
	"fmt"
	"sync"
)

const ConvoKeyDelimiter = ":"

type (
	// LockMap is a mutex-guarded mapping of string keys to pointers of T.
	// It is a general-purpose bounded-by-convention map for shared,
	// concurrently-accessed tables: the ARP analyzer keeps its per-sender
	// histories in one and its pending-request table in a ConvoLockMap.
	LockMap[T any] struct {
		mu sync.RWMutex
		m  map[string]*T
	}

	// ConvoLockMap is a LockMap keyed by a sender/target IP pair.
	ConvoLockMap[T any] struct {
		LockMap[T]
	}
)

func NewLockMap[T any](m map[string]*T) *LockMap[T] {
	if m == nil {
		m = make(map[string]*T)
	}
	return &LockMap[T]{m: m}
}

func NewConvoLockMap[T any](m map[string]*T) *ConvoLockMap[T] {
	return &ConvoLockMap[T]{*NewLockMap(m)}
}

func (l *LockMap[T]) Get(key string) *T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.m[key]
}

func (l *LockMap[T]) Has(key string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.m[key]
	return ok
}

func (l *LockMap[T]) Extract(key string) (v *T) {
	l.mu.Lock()
	v = l.m[key]
	delete(l.m, key)
	l.mu.Unlock()
	return
}

func (l *LockMap[T]) Set(key string, value *T) {
	l.mu.Lock()
	l.m[key] = value
	l.mu.Unlock()
}

func (l *LockMap[T]) Delete(key string) {
	l.mu.Lock()
	delete(l.m, key)
	l.mu.Unlock()
}

func (l *LockMap[T]) Update(key string, f func(*T)) {
	l.mu.Lock()
	f(l.m[key])
	l.mu.Unlock()
}

// Len returns the current number of entries, used by callers that must
// enforce a resource bound on the map.
func (l *LockMap[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.m)
}

// Range calls f for every entry. f must not call back into the LockMap.
func (l *LockMap[T]) Range(f func(key string, v *T)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for k, v := range l.m {
		f(k, v)
	}
}

func (l *ConvoLockMap[T]) CGet(senIp, tarIp string) *T { return l.Get(FmtConvoKey(senIp, tarIp)) }
func (l *ConvoLockMap[T]) CSet(senIp, tarIp string, v *T) {
	l.Set(FmtConvoKey(senIp, tarIp), v)
}
func (l *ConvoLockMap[T]) CDelete(senIp, tarIp string) { l.Delete(FmtConvoKey(senIp, tarIp)) }
func (l *ConvoLockMap[T]) CUpdate(senIp, tarIp string, f func(*T)) {
	l.Update(FmtConvoKey(senIp, tarIp), f)
}

// FmtConvoKey returns the sender/target IP pair formatted for use as a
// LockMap key.
func FmtConvoKey(senderIp, targetIp string) string {
	return fmt.Sprintf("%s%s%s", senderIp, ConvoKeyDelimiter, targetIp)
}
