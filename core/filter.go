package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/sensornet-simulator/model"
)

// ScalarFilter is a one-dimensional recursive (Kalman) estimator for a single
// named input stream. The state is modelled as a random walk, so the
// prediction step only inflates the estimate error by the process noise.
type ScalarFilter struct {
	estimate      float64
	estimateError float64

	processNoise     float64
	measurementNoise float64

	lastGain float64
	updates  int
}

// FilterSnapshot is a read-only copy of a filter's state.
type FilterSnapshot struct {
	Estimate         float64
	EstimateError    float64
	ProcessNoise     float64
	MeasurementNoise float64
	LastGain         float64
	Updates          int
}

// NewScalarFilter validates spec and returns a filter positioned at
// spec.InitialEstimate with error spec.InitialError.
func NewScalarFilter(spec model.FilterSpec) (*ScalarFilter, error) {
	if err := ValidateFilterSpec(spec); err != nil {
		return nil, err
	}
	return &ScalarFilter{
		estimate:         spec.InitialEstimate,
		estimateError:    spec.InitialError,
		processNoise:     spec.ProcessNoise,
		measurementNoise: spec.MeasurementNoise,
	}, nil
}

// ValidateFilterSpec rejects constants that would make the recursion
// meaningless. A zero measurement noise would divide by zero on the first
// update with a zero initial error.
func ValidateFilterSpec(spec model.FilterSpec) error {
	switch {
	case !(spec.MeasurementNoise > 0) || math.IsInf(spec.MeasurementNoise, 0):
		return fmt.Errorf("%w: measurement noise must be positive, got %v", ErrConfiguration, spec.MeasurementNoise)
	case spec.ProcessNoise < 0 || math.IsNaN(spec.ProcessNoise) || math.IsInf(spec.ProcessNoise, 0):
		return fmt.Errorf("%w: process noise must be non-negative, got %v", ErrConfiguration, spec.ProcessNoise)
	case spec.InitialError < 0 || math.IsNaN(spec.InitialError) || math.IsInf(spec.InitialError, 0):
		return fmt.Errorf("%w: initial estimate error must be non-negative, got %v", ErrConfiguration, spec.InitialError)
	case math.IsNaN(spec.InitialEstimate) || math.IsInf(spec.InitialEstimate, 0):
		return fmt.Errorf("%w: initial estimate must be finite, got %v", ErrConfiguration, spec.InitialEstimate)
	}
	return nil
}

// Update folds one measurement into the estimate and returns the new estimate.
func (f *ScalarFilter) Update(measurement float64) float64 {
	predicted := f.estimateError + f.processNoise
	k := predicted / (predicted + f.measurementNoise)

	f.estimate += k * (measurement - f.estimate)
	f.estimateError = (1 - k) * predicted
	f.lastGain = k
	f.updates++

	return f.estimate
}

// Estimate returns the current estimate.
func (f *ScalarFilter) Estimate() float64 { return f.estimate }

// Error returns the current estimate error.
func (f *ScalarFilter) Error() float64 { return f.estimateError }

// Snapshot copies the filter state for external readers.
func (f *ScalarFilter) Snapshot() FilterSnapshot {
	return FilterSnapshot{
		Estimate:         f.estimate,
		EstimateError:    f.estimateError,
		ProcessNoise:     f.processNoise,
		MeasurementNoise: f.measurementNoise,
		LastGain:         f.lastGain,
		Updates:          f.updates,
	}
}
