// Package clock computes UTC-aligned decode cycle boundaries.
//
// Cycle boundaries are shared with other stations, so the math is over
// absolute wall-clock time rather than a monotonic process clock.
package clock

import "time"

// ElapsedInCycle returns how far into the current cycle the given instant
// is. The result is in [0, cycle).
func ElapsedInCycle(now time.Time, cycle time.Duration) time.Duration {
	ms := now.UnixMilli() % cycle.Milliseconds()
	return time.Duration(ms) * time.Millisecond
}

// UntilNextBoundary returns the time remaining until the next cycle
// boundary. The result is in (0, cycle].
func UntilNextBoundary(now time.Time, cycle time.Duration) time.Duration {
	return cycle - ElapsedInCycle(now, cycle)
}

// NUTC returns the UTC hour and minute of the given instant packed as an
// HHMM integer, the form the jt9 shared block expects.
func NUTC(now time.Time) int {
	utc := now.UTC()
	return utc.Hour()*100 + utc.Minute()
}
