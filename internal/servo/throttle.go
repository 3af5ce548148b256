package servo

import "time"

// throttle lets one event through per interval and counts the rest.
type throttle struct {
	every      time.Duration
	last       time.Time
	suppressed uint64
}

// allow reports whether an event at now may be logged, and how many events
// were suppressed since the last one that was.
func (t *throttle) allow(now time.Time) (bool, uint64) {
	if !t.last.IsZero() && now.Sub(t.last) < t.every {
		t.suppressed++
		return false, 0
	}
	n := t.suppressed
	t.last = now
	t.suppressed = 0
	return true, n
}
