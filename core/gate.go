package core

import (
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/sensornet-simulator/model"
)

// gateTarget is the second prediction error (besides zero) at which the
// reference policy forwards a value.
const gateTarget = 10.0

// Decision is the outcome of a forward gate evaluation.
type Decision struct {
	// Error is the absolute difference the gate compared.
	Error   float64
	Forward bool
}

// ForwardGate decides whether a filtered measurement is relayed upward.
type ForwardGate interface {
	Evaluate(filtered, received float64) Decision
	Name() string
}

// ExactMatchGate forwards only when the prediction error is exactly 0 or
// exactly 10. On continuous values this is almost never true.
// TODO: retire once a tolerance band is agreed for production scenarios; the
// tolerance policy below is the candidate.
type ExactMatchGate struct {
	// Truncate compares the integer parts of both values.
	Truncate bool
}

// Evaluate implements ForwardGate.
func (g ExactMatchGate) Evaluate(filtered, received float64) Decision {
	if g.Truncate {
		filtered, received = math.Trunc(filtered), math.Trunc(received)
	}
	diff := math.Abs(filtered - received)
	return Decision{Error: diff, Forward: diff == 0 || diff == gateTarget}
}

// Name implements ForwardGate.
func (g ExactMatchGate) Name() string { return model.GateExact }

// ToleranceGate forwards when the prediction error lies within Tolerance of 0
// or of 10.
type ToleranceGate struct {
	Tolerance float64
	Truncate  bool
}

// Evaluate implements ForwardGate.
func (g ToleranceGate) Evaluate(filtered, received float64) Decision {
	if g.Truncate {
		filtered, received = math.Trunc(filtered), math.Trunc(received)
	}
	diff := math.Abs(filtered - received)
	forward := diff <= g.Tolerance || math.Abs(diff-gateTarget) <= g.Tolerance
	return Decision{Error: diff, Forward: forward}
}

// Name implements ForwardGate.
func (g ToleranceGate) Name() string { return model.GateTolerance }

// NewGate builds the gate described by spec. An empty policy selects the
// exact-match gate.
func NewGate(spec model.GateSpec) (ForwardGate, error) {
	switch strings.ToLower(spec.Policy) {
	case "", model.GateExact:
		return ExactMatchGate{Truncate: spec.Truncate}, nil
	case model.GateTolerance:
		if spec.Tolerance < 0 || math.IsNaN(spec.Tolerance) {
			return nil, fmt.Errorf("%w: gate tolerance must be non-negative, got %v", ErrConfiguration, spec.Tolerance)
		}
		return ToleranceGate{Tolerance: spec.Tolerance, Truncate: spec.Truncate}, nil
	default:
		return nil, fmt.Errorf("%w: unknown gate policy %q", ErrConfiguration, spec.Policy)
	}
}
