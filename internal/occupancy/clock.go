package occupancy

import "time"

// Clock yields monotonic microsecond timestamps.
type Clock interface {
	NowMicros() uint64
}

// MonotonicClock counts microseconds since it was created. Readings start at 1
// so a recorded timestamp can never collide with the "never detected" value.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock starts a clock at the current instant.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

func (c *MonotonicClock) NowMicros() uint64 {
	return Micros(time.Since(c.start)) + 1
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() uint64

func (f ClockFunc) NowMicros() uint64 { return f() }
