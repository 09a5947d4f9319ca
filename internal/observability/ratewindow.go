package observability

import (
	"sync"
	"time"
)

// RateTracker counts events in a trailing time window, grounded on the
// original agent's SlidingWindowRateTracker: a deque of timestamps,
// purged lazily on each call.
type RateTracker struct {
	mu     sync.Mutex
	window time.Duration
	times  []time.Time
}

// NewRateTracker creates a tracker over the given trailing window.
func NewRateTracker(window time.Duration) *RateTracker {
	return &RateTracker{window: window}
}

// Record stamps one event as having occurred now.
func (t *RateTracker) Record(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = append(t.times, now)
	t.purge(now)
}

// Rate returns events per second over the trailing window as of now.
func (t *RateTracker) Rate(now time.Time) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purge(now)
	if len(t.times) == 0 {
		return 0
	}
	seconds := t.window.Seconds()
	if seconds <= 0 {
		return 0
	}
	return float64(len(t.times)) / seconds
}

// Count returns the number of events currently within the window.
func (t *RateTracker) Count(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.purge(now)
	return len(t.times)
}

// Reset discards all recorded events.
func (t *RateTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.times = nil
}

func (t *RateTracker) purge(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.times) && t.times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		t.times = t.times[i:]
	}
}

// RateWindow pairs incoming and outgoing trackers so callers can compare
// how fast events arrive against how fast they're shipped to a sink,
// grounded on the original agent's SlidingWindowMetrics (incoming_/
// outgoing_ tracker pair plus a falling-behind ratio check).
type RateWindow struct {
	incoming *RateTracker
	outgoing *RateTracker
}

// NewRateWindow creates a paired incoming/outgoing rate window.
func NewRateWindow(window time.Duration) *RateWindow {
	return &RateWindow{
		incoming: NewRateTracker(window),
		outgoing: NewRateTracker(window),
	}
}

// RecordIncoming stamps one event arriving into the queue.
func (r *RateWindow) RecordIncoming(now time.Time) {
	r.incoming.Record(now)
}

// RecordOutgoing stamps one event leaving via a sink post.
func (r *RateWindow) RecordOutgoing(now time.Time) {
	r.outgoing.Record(now)
}

// IncomingRate returns the incoming rate in events/sec.
func (r *RateWindow) IncomingRate(now time.Time) float64 {
	return r.incoming.Rate(now)
}

// OutgoingRate returns the outgoing rate in events/sec.
func (r *RateWindow) OutgoingRate(now time.Time) float64 {
	return r.outgoing.Rate(now)
}

// FallingBehind reports whether the incoming rate exceeds the outgoing
// rate by more than thresholdRatio, signaling the sender can't keep up.
func (r *RateWindow) FallingBehind(now time.Time, thresholdRatio float64) bool {
	out := r.OutgoingRate(now)
	in := r.IncomingRate(now)
	if out == 0 {
		return in > 0
	}
	return in > out*thresholdRatio
}

// Reset discards all recorded events in both trackers.
func (r *RateWindow) Reset() {
	r.incoming.Reset()
	r.outgoing.Reset()
}
