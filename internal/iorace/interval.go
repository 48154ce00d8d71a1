package iorace

import "time"

// Interval is a time window [Start, End). A zero End means the window is still open.
type Interval struct {
	Start time.Time
	End   time.Time
}

// IsOpen reports whether the window has not ended.
func (i Interval) IsOpen() bool { return i.End.IsZero() }

// Overlaps reports whether the half-open windows share any instant. Windows that only
// touch do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return beforeEnd(i.Start, other) && beforeEnd(other.Start, i)
}

// EndedBefore reports whether the window closed strictly before t.
func (i Interval) EndedBefore(t time.Time) bool {
	return !i.IsOpen() && i.End.Before(t)
}

func beforeEnd(t time.Time, i Interval) bool {
	return i.IsOpen() || t.Before(i.End)
}
