package sync

import "time"

// fixedClock returns a clock seam that always reports the same instant,
// used to exercise tie-breaking logic that only triggers within one
// millisecond.
func fixedClock() func() time.Time {
	t := time.UnixMilli(1_700_000_000_000)
	return func() time.Time { return t }
}
