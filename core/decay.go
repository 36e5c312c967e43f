package core

import (
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/model"
)

// DecayTimerName is the logical timer name used by every decay timer.
const DecayTimerName = "decay"

// TimerScheduler is the slice of the event engine a DecayTimer needs.
type TimerScheduler interface {
	Now() time.Time
	// ScheduleTimer arranges for the named timer to be delivered back to the
	// calling node at virtual time at, returning the instance ID.
	ScheduleTimer(name string, at time.Time) string
	// Cancel drops a pending timer instance. Unknown IDs are ignored.
	Cancel(id string)
}

// DecayTimer owns a scalar that drops by a fixed amount every interval of
// idle virtual time. Any inbound event pushes the next drop a full interval
// into the future via Reset.
//
// At most one timer instance is pending per DecayTimer: Reset always cancels
// the outstanding instance before scheduling a new one.
type DecayTimer struct {
	value    float64
	amount   float64
	interval time.Duration

	pending string

	idleFires  int
	totalFires int
	resets     int
}

// NewDecayTimer validates spec and returns an unarmed timer.
func NewDecayTimer(spec model.DecaySpec) (*DecayTimer, error) {
	if spec.Interval <= 0 {
		return nil, fmt.Errorf("%w: decay interval must be positive, got %v", ErrConfiguration, spec.Interval)
	}
	if math.IsNaN(spec.Amount) || math.IsInf(spec.Amount, 0) {
		return nil, fmt.Errorf("%w: decay amount must be finite, got %v", ErrConfiguration, spec.Amount)
	}
	if math.IsNaN(spec.Initial) || math.IsInf(spec.Initial, 0) {
		return nil, fmt.Errorf("%w: decay initial value must be finite, got %v", ErrConfiguration, spec.Initial)
	}
	return &DecayTimer{
		value:    spec.Initial,
		amount:   spec.Amount,
		interval: spec.Interval,
	}, nil
}

// Arm schedules the first decrement. It behaves exactly like Reset so a
// second call never leaves two instances outstanding.
func (d *DecayTimer) Arm(s TimerScheduler) {
	d.reschedule(s)
}

// Reset cancels the pending instance, if any, and schedules a new one a full
// interval from now. The idle counter restarts from zero.
func (d *DecayTimer) Reset(s TimerScheduler) {
	d.idleFires = 0
	d.resets++
	d.reschedule(s)
}

// Fire applies one decrement and rearms the timer. Events for an instance
// that is no longer pending are ignored and reported as not applied.
func (d *DecayTimer) Fire(s TimerScheduler, id string) (value float64, applied bool) {
	if id == "" || id != d.pending {
		return d.value, false
	}
	// The fired instance is no longer outstanding in the scheduler.
	d.pending = ""

	d.value -= d.amount
	d.idleFires++
	d.totalFires++
	d.reschedule(s)
	return d.value, true
}

func (d *DecayTimer) reschedule(s TimerScheduler) {
	if d.pending != "" {
		s.Cancel(d.pending)
		d.pending = ""
	}
	d.pending = s.ScheduleTimer(DecayTimerName, s.Now().Add(d.interval))
}

// Value returns the current health/trust scalar.
func (d *DecayTimer) Value() float64 { return d.value }

// Interval returns the configured decrement interval.
func (d *DecayTimer) Interval() time.Duration { return d.interval }

// Amount returns the configured decrement amount.
func (d *DecayTimer) Amount() float64 { return d.amount }

// PendingID returns the scheduler ID of the outstanding instance, or "".
func (d *DecayTimer) PendingID() string { return d.pending }

// IdleFires counts decrements since the last Reset.
func (d *DecayTimer) IdleFires() int { return d.idleFires }

// TotalFires counts every decrement applied during the run.
func (d *DecayTimer) TotalFires() int { return d.totalFires }

// Resets counts how many inbound events disturbed the schedule.
func (d *DecayTimer) Resets() int { return d.resets }
