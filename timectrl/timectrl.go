package timectrl

import (
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. The event engine and
// the nodes depend on this abstraction rather than on wall-clock time.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
}

// Epoch is the virtual time at which every simulation run starts unless a
// scenario overrides it.
var Epoch = time.Unix(0, 0).UTC()

// VirtualClock is a SimClock whose time only moves when the event engine
// advances it. Time is monotonic: attempts to move it backwards are ignored.
type VirtualClock struct {
	mu        sync.RWMutex
	StartTime time.Time

	currentTime time.Time

	listeners []func(time.Time)
}

// NewVirtualClock constructs a clock positioned at start.
func NewVirtualClock(start time.Time) *VirtualClock {
	return &VirtualClock{
		StartTime:   start,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (c *VirtualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentTime
}

// Elapsed returns how much virtual time has passed since StartTime.
func (c *VirtualClock) Elapsed() time.Duration {
	return c.Now().Sub(c.StartTime)
}

// AdvanceTo moves the clock forward to t and notifies listeners. It reports
// whether the clock actually moved.
func (c *VirtualClock) AdvanceTo(t time.Time) bool {
	c.mu.Lock()
	if !t.After(c.currentTime) {
		c.mu.Unlock()
		return false
	}
	c.currentTime = t
	listeners := append([]func(time.Time){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(t)
	}
	return true
}

// AddListener registers a callback invoked every time the clock moves.
func (c *VirtualClock) AddListener(fn func(time.Time)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}
