package rollup

import (
	"sync"
	"time"
)

// appliedLog remembers event ids that have already been folded into the
// store. Lookup and marking are separate so a whole batch can be applied
// before any of its ids are recorded; a failed batch leaves no trace and is
// safe to retry.
type appliedLog struct {
	mu    sync.Mutex
	items map[string]time.Time
	limit int
}

func newAppliedLog(limit int) *appliedLog {
	if limit <= 0 {
		limit = 200000
	}
	return &appliedLog{items: make(map[string]time.Time), limit: limit}
}

func (a *appliedLog) Contains(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.items[id]
	return ok
}

func (a *appliedLog) MarkAll(ids []string, now time.Time, ttl time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, id := range ids {
		if id != "" {
			a.items[id] = now
		}
	}
	if len(a.items) > a.limit {
		a.compact(now, ttl)
	}
}

func (a *appliedLog) compact(now time.Time, ttl time.Duration) {
	for k, ts := range a.items {
		if now.Sub(ts) > ttl {
			delete(a.items, k)
		}
	}
}
