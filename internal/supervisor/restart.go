package supervisor

import "time"

// computeBackoff returns the restart backoff for the given attempt
// count, monotonic non-decreasing with a cap (spec §4.8:
// "min(attempt*2, 10) seconds").
func computeBackoff(attempt int) time.Duration {
	secs := attempt * 2
	if secs > 10 {
		secs = 10
	}
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// restartTracker counts restart attempts inside a sliding window (spec
// §4.8: "counter > max_restarts within restart_window_s"). A window
// that has elapsed resets the counter, so a long-lived agent that
// restarts occasionally never escalates purely from lifetime total.
type restartTracker struct {
	windowStart time.Time
	windowSecs  int
	count       int
}

func newRestartTracker(windowSecs int) *restartTracker {
	if windowSecs <= 0 {
		windowSecs = 60
	}
	return &restartTracker{windowSecs: windowSecs}
}

// record increments the counter, starting a fresh window if the
// current one has elapsed, and returns the attempt count within the
// active window.
func (t *restartTracker) record(now time.Time) int {
	if t.windowStart.IsZero() || now.Sub(t.windowStart) > time.Duration(t.windowSecs)*time.Second {
		t.windowStart = now
		t.count = 0
	}
	t.count++
	return t.count
}
