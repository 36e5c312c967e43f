package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/timectrl"
)

// EventScheduler schedules callbacks to run at specific virtual times.
//
// The simulation loop repeatedly calls Step, which advances the virtual clock
// to the earliest pending event and runs it. Nodes never call the scheduler
// directly; they go through the Host handed to them by the Network.
type EventScheduler interface {
	// Schedule registers a callback f to run at virtual time 'at'.
	// It returns an opaque event ID that can be used to cancel the event.
	Schedule(at time.Time, f func()) (id string)

	// Cancel attempts to cancel a previously scheduled event.
	// It is a no-op if the ID is unknown or the event already ran.
	Cancel(id string)

	// IsScheduled reports whether id is still pending.
	IsScheduled(id string) bool

	// Now returns the current virtual time.
	Now() time.Time

	// RunDue executes all events whose scheduled time is <= Now().
	RunDue()

	// Step advances the clock to the next pending event and runs every event
	// due at that instant. It returns false when nothing is pending.
	Step() bool

	// Pending returns the number of events that are scheduled and not cancelled.
	Pending() int
}

// scheduledEvent represents a single scheduled callback.
type scheduledEvent struct {
	id        string
	when      time.Time
	f         func()
	cancelled bool
}

// Scheduler is the EventScheduler backed by a VirtualClock. It keeps events
// ordered by time; events sharing a timestamp run in the order they were
// scheduled.
type Scheduler struct {
	clock *timectrl.VirtualClock

	mu      sync.Mutex
	counter uint64
	events  []*scheduledEvent // ordered by 'when', FIFO within equal 'when'
	index   map[string]*scheduledEvent
	ran     uint64
}

// NewEventScheduler creates a scheduler that owns the given virtual clock.
func NewEventScheduler(clock *timectrl.VirtualClock) *Scheduler {
	return &Scheduler{
		clock: clock,
		index: make(map[string]*scheduledEvent),
	}
}

// Schedule registers a callback to run at the specified virtual time. Times
// in the past are clamped to Now so virtual time never runs backwards.
func (s *Scheduler) Schedule(at time.Time, f func()) (id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now := s.clock.Now(); at.Before(now) {
		at = now
	}

	s.counter++
	id = fmt.Sprintf("ev-%d", s.counter)

	ev := &scheduledEvent{
		id:   id,
		when: at,
		f:    f,
	}
	s.addEventLocked(ev)
	s.index[id] = ev

	return id
}

// addEventLocked inserts an event after every event with the same or an
// earlier time. Caller must hold s.mu.
func (s *Scheduler) addEventLocked(ev *scheduledEvent) {
	idx := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].when.After(ev.when)
	})

	s.events = append(s.events, nil)
	copy(s.events[idx+1:], s.events[idx:])
	s.events[idx] = ev
}

// Cancel attempts to cancel a previously scheduled event.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.index[id]
	if !ok {
		return
	}

	ev.cancelled = true
	delete(s.index, id)
	// Removal from s.events is lazy; popping skips cancelled events.
}

// IsScheduled reports whether id is still pending.
func (s *Scheduler) IsScheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[id]
	return ok
}

// Now returns the current virtual time.
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Pending returns the number of live events.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index)
}

// Executed returns how many callbacks have run.
func (s *Scheduler) Executed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ran
}

// NextAt returns the time of the earliest live event.
func (s *Scheduler) NextAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropCancelledLocked()
	if len(s.events) == 0 {
		return time.Time{}, false
	}
	return s.events[0].when, true
}

func (s *Scheduler) dropCancelledLocked() {
	for len(s.events) > 0 && s.events[0].cancelled {
		s.events[0] = nil
		s.events = s.events[1:]
	}
}

// popDueLocked removes and returns the next event due at or before now.
// Caller must hold s.mu.
func (s *Scheduler) popDueLocked(now time.Time) *scheduledEvent {
	s.dropCancelledLocked()
	if len(s.events) == 0 || s.events[0].when.After(now) {
		return nil
	}
	ev := s.events[0]
	s.events[0] = nil
	s.events = s.events[1:]
	delete(s.index, ev.id)
	s.ran++
	return ev
}

// RunDue executes all events whose scheduled time is <= Now(), including
// events scheduled at Now() by the callbacks themselves.
func (s *Scheduler) RunDue() {
	for {
		s.mu.Lock()
		ev := s.popDueLocked(s.clock.Now())
		s.mu.Unlock()
		if ev == nil {
			return
		}

		// Execute outside the lock so callbacks can schedule and cancel.
		if ev.f != nil {
			ev.f()
		}
	}
}

// Step advances to the earliest pending event and runs everything due then.
func (s *Scheduler) Step() bool {
	next, ok := s.NextAt()
	if !ok {
		return false
	}
	s.clock.AdvanceTo(next)
	s.RunDue()
	return true
}

// RunUntil steps until no event is pending, the next event lies after
// deadline, or ctx is cancelled. The clock is left at deadline when the run
// ends because of the horizon. It returns the number of steps taken.
func (s *Scheduler) RunUntil(ctx context.Context, deadline time.Time) (int, error) {
	steps := 0
	for {
		if err := ctx.Err(); err != nil {
			return steps, err
		}
		next, ok := s.NextAt()
		if !ok || next.After(deadline) {
			s.clock.AdvanceTo(deadline)
			return steps, nil
		}
		s.Step()
		steps++
	}
}
