package throttle

import (
	"sync"
	"time"
)

// Interval gates keyed actions to at most one per minInterval.
type Interval struct {
	mu          sync.Mutex
	minInterval time.Duration
	now         func() time.Time
	lastSeen    map[string]time.Time
}

func NewInterval(minInterval time.Duration, now func() time.Time) *Interval {
	if now == nil {
		now = time.Now
	}
	return &Interval{
		minInterval: minInterval,
		now:         now,
		lastSeen:    make(map[string]time.Time),
	}
}

// Due reports whether key may act now without recording anything.
func (r *Interval) Due(key string) bool {
	return r.DueAfter(key, r.minInterval)
}

// DueAfter is Due with a per-call interval.
func (r *Interval) DueAfter(key string, interval time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.lastSeen[key]
	return !ok || r.now().Sub(last) >= interval
}

// Mark records that key acted now.
func (r *Interval) Mark(key string) {
	r.mu.Lock()
	r.lastSeen[key] = r.now()
	r.mu.Unlock()
}

// Allow is Due followed by Mark when due.
func (r *Interval) Allow(key string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	last, ok := r.lastSeen[key]
	if !ok {
		r.lastSeen[key] = now
		return true, 0
	}
	elapsed := now.Sub(last)
	if elapsed < r.minInterval {
		return false, r.minInterval - elapsed
	}
	r.lastSeen[key] = now
	return true, 0
}

func (r *Interval) Forget(key string) {
	r.mu.Lock()
	delete(r.lastSeen, key)
	r.mu.Unlock()
}
