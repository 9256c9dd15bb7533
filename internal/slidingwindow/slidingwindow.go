// Package slidingwindow is adapted from the teacher's
// internal/errorcounter, which tracked per-role error counts for lag
// alerting. Here it is a generic in-process sliding time-window counter,
// used by the in-memory EventGateStore (memstore) to track per-source event
// timestamps for rate limiting.
package slidingwindow

import (
	"sync"
	"time"
)

// Counter retains timestamps and reports how many currently fall within a
// window. The window can be fixed at construction (Record/Count) or
// supplied per call as an explicit cutoff (Append/PurgeBefore/Len), which
// callers like memstore's GateStore need because the retention window is
// resolved per source from caller-supplied rate-limit configuration rather
// than fixed once up front.
type Counter struct {
	mu         sync.Mutex
	window     time.Duration
	timestamps []time.Time
}

// New returns a Counter retaining events over the last window, for use via
// Record/Count. Callers that only use Append/PurgeBefore/Len may pass 0.
func New(window time.Duration) *Counter {
	return &Counter{window: window}
}

// Record appends an event at "at" and purges entries older than
// at-window.
func (c *Counter) Record(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(at.Add(-c.window))
	c.timestamps = append(c.timestamps, at)
}

// Count purges entries older than at-window and returns the remaining
// count.
func (c *Counter) Count(at time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(at.Add(-c.window))
	return len(c.timestamps)
}

// Reset clears all recorded events.
func (c *Counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timestamps = nil
}

// Append records an event at "at" without purging.
func (c *Counter) Append(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timestamps = append(c.timestamps, at)
}

// PurgeBefore discards timestamps strictly before cutoff.
func (c *Counter) PurgeBefore(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocked(cutoff)
}

// Len reports the number of timestamps currently retained.
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timestamps)
}

func (c *Counter) purgeLocked(cutoff time.Time) {
	i := 0
	for i < len(c.timestamps) && c.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		c.timestamps = c.timestamps[i:]
	}
}
