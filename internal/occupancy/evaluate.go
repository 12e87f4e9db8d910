package occupancy

import "time"

// Occupied reports whether a motion event at lastEvent still counts as
// occupancy at now, given a decay window. All values are microseconds.
//
// A lastEvent of 0 is never occupied. The window edge is exclusive: an event
// exactly window microseconds old is no longer occupied. An event recorded
// after now (a reader racing the writer) is treated as age zero.
func Occupied(now, lastEvent, window uint64) bool {
	if lastEvent == 0 {
		return false
	}
	if lastEvent >= now {
		return window > 0
	}
	return now-lastEvent < window
}

// Micros converts a duration to whole microseconds. Negative durations map to 0.
func Micros(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Microsecond)
}
