// Package gpio provides digital input lines for the motion sensor.
package gpio

import (
	"context"
	"sync"
)

// Line holds the current level of a digital input and lets callers block
// until it reaches a given level.
type Line struct {
	mu      sync.Mutex
	high    bool
	changed chan struct{}
}

// NewLine creates a line at the inactive (low) level.
func NewLine() *Line {
	return &Line{changed: make(chan struct{})}
}

// Set updates the level and wakes waiters if it changed.
func (l *Line) Set(high bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.high == high {
		return
	}
	l.high = high
	close(l.changed)
	l.changed = make(chan struct{})
}

// Level returns the current level.
func (l *Line) Level() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.high
}

// WaitForHigh blocks until the line is high. It returns immediately if the
// line is already high.
func (l *Line) WaitForHigh(ctx context.Context) error {
	return l.waitFor(ctx, true)
}

// WaitForLow blocks until the line is low. It returns immediately if the
// line is already low.
func (l *Line) WaitForLow(ctx context.Context) error {
	return l.waitFor(ctx, false)
}

func (l *Line) waitFor(ctx context.Context, want bool) error {
	for {
		l.mu.Lock()
		if l.high == want {
			l.mu.Unlock()
			return nil
		}
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
