package pattern

import (
	"sync"
	"time"
)

// slidingWindow is a per-key, time-bounded occurrence counter: each key
// (a grouping key, or "" for global detectors) owns a ring of timestamps
// trimmed to the configured window on every observation. Each detector
// owns exactly one slidingWindow and is the sole writer to it, so no
// cross-detector locking is needed beyond the mutex guarding concurrent
// events within the same detector.
type slidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	events map[string][]time.Time
}

func newSlidingWindow(window time.Duration) *slidingWindow {
	return &slidingWindow{window: window, events: map[string][]time.Time{}}
}

// Observe records an occurrence for key at t, evicts entries older than
// the window, and returns the resulting in-window count.
func (w *slidingWindow) Observe(key string, t time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := t.Add(-w.window)
	existing := w.events[key]
	kept := existing[:0]
	for _, ts := range existing {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, t)
	w.events[key] = kept
	return len(kept)
}
