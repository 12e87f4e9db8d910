// Package occupancy holds the shared last-motion timestamp and the pure
// occupancy evaluation derived from it.
package occupancy

import "sync/atomic"

// Cell stores the microsecond timestamp of the last qualifying motion event.
// Zero means motion has never been detected.
//
// A Cell is written by exactly one task and may be read concurrently by any
// number of tasks. Loads and stores are single-word atomics; a reader sees
// either the previous value or a newer one, never a torn value.
type Cell struct {
	last atomic.Uint64
}

// NewCell returns an empty cell.
func NewCell() *Cell {
	return &Cell{}
}

// RecordEvent overwrites the stored timestamp. It never blocks.
func (c *Cell) RecordEvent(ts uint64) {
	c.last.Store(ts)
}

// LastEvent returns the most recently recorded timestamp, or 0.
func (c *Cell) LastEvent() uint64 {
	return c.last.Load()
}
