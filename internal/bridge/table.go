package bridge

import (
	"context"
	"sync"
	"time"

	"firestige.xyz/fabric/internal/metrics"
)

// DefaultExpiration is how long a learned address stays valid without
// being observed again as a source.
const DefaultExpiration = 20 * time.Second

type entry[V any] struct {
	value    V
	lastSeen time.Time
}

// Table is a switching table mapping learned addresses to a value (a port,
// a tunnel endpoint) with lazy expiry. An entry older than the expiration
// window is absent: Lookup removes it and reports a miss.
type Table[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]entry[V]
	expiration time.Duration
	now        func() time.Time
	gauge      string
}

// NewTable returns an empty table whose size is reported under the node
// label name. A non-positive expiration selects DefaultExpiration and a nil
// clock selects time.Now.
func NewTable[K comparable, V any](name string, expiration time.Duration, now func() time.Time) *Table[K, V] {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	if now == nil {
		now = time.Now
	}
	return &Table[K, V]{
		entries:    make(map[K]entry[V]),
		expiration: expiration,
		now:        now,
		gauge:      name,
	}
}

// Learn records k as reachable through v, overwriting any previous entry.
func (t *Table[K, V]) Learn(k K, v V) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[k] = entry[V]{value: v, lastSeen: t.now()}
	t.report()
}

// Lookup returns the value learned for k if it has not expired.
func (t *Table[K, V]) Lookup(k K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[k]
	if !ok {
		var zero V
		return zero, false
	}
	if !t.now().Before(e.lastSeen.Add(t.expiration)) {
		delete(t.entries, k)
		t.report()
		var zero V
		return zero, false
	}
	return e.value, true
}

// Forget removes the entry for k.
func (t *Table[K, V]) Forget(k K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, k)
	t.report()
}

// ForgetFunc removes every entry whose value satisfies match and returns
// how many were dropped.
func (t *Table[K, V]) ForgetFunc(match func(V) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for k, e := range t.entries {
		if match(e.value) {
			delete(t.entries, k)
			n++
		}
	}
	t.report()
	return n
}

// Len returns the number of stored entries, expired ones included until
// they are looked up or swept.
func (t *Table[K, V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Clear removes every entry.
func (t *Table[K, V]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.entries)
	t.report()
}

// Sweep removes expired entries and returns how many were dropped.
func (t *Table[K, V]) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	n := 0
	for k, e := range t.entries {
		if !now.Before(e.lastSeen.Add(t.expiration)) {
			delete(t.entries, k)
			n++
		}
	}
	if n > 0 {
		t.report()
	}
	return n
}

// RunSweeper sweeps the table every interval until ctx is done.
func (t *Table[K, V]) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Sweep()
		}
	}
}

func (t *Table[K, V]) setClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// report must be called with t.mu held.
func (t *Table[K, V]) report() {
	if t.gauge != "" {
		metrics.SwitchTableEntries.WithLabelValues(t.gauge).Set(float64(len(t.entries)))
	}
}
