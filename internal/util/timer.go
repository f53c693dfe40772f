package util

import "time"

// Timer measures how long a request stage took.
type Timer struct {
	start time.Time
	now   func() time.Time
}

// StartTimer starts a wall-clock timer.
func StartTimer() Timer {
	return Timer{start: time.Now(), now: time.Now}
}

// Elapsed returns the duration since the timer started, zero for an unstarted timer.
func (t Timer) Elapsed() time.Duration {
	if t.start.IsZero() {
		return 0
	}
	now := t.now
	if now == nil {
		now = time.Now
	}
	return now().Sub(t.start)
}

// ElapsedMs is Elapsed in whole milliseconds, for log fields.
func (t Timer) ElapsedMs() int64 {
	return t.Elapsed().Milliseconds()
}

// Seconds is Elapsed as float seconds, for histogram observations.
func (t Timer) Seconds() float64 {
	return t.Elapsed().Seconds()
}
