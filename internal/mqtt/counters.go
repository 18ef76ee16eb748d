package mqtt

import (
	"sync"
	"time"
)

// DailyOutcomes counts task outcomes per state, resetting at local
// midnight. Safe for concurrent use.
type DailyOutcomes struct {
	mu       sync.Mutex
	counts   map[string]int64
	resetDay int // day-of-year of last reset
	loc      *time.Location
	now      func() time.Time
}

// NewDailyOutcomes creates a counter using loc for midnight detection.
// A nil loc means [time.Local].
func NewDailyOutcomes(loc *time.Location) *DailyOutcomes {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyOutcomes{counts: make(map[string]int64), loc: loc, now: time.Now}
	d.resetDay = d.now().In(loc).YearDay()
	return d
}

// Record counts one outcome.
func (d *DailyOutcomes) Record(state string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	d.counts[state]++
}

// Count returns today's count for state.
func (d *DailyOutcomes) Count(state string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.maybeReset()
	return d.counts[state]
}

// Must be called with d.mu held.
func (d *DailyOutcomes) maybeReset() {
	today := d.now().In(d.loc).YearDay()
	if today != d.resetDay {
		clear(d.counts)
		d.resetDay = today
	}
}
