package node

import (
	"github.com/montanaflynn/stats"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// ErrorSummary condenses a prediction-error log. All fields are zero for an
// empty log.
type ErrorSummary struct {
	Count  int
	Mean   float64
	StdDev float64
	Median float64
	P95    float64
	Max    float64
}

// Summarize computes an ErrorSummary over errs.
func Summarize(errs []float64) ErrorSummary {
	if len(errs) == 0 {
		return ErrorSummary{}
	}
	s := ErrorSummary{Count: len(errs)}
	s.Mean, _ = stats.Mean(errs)
	s.StdDev, _ = stats.StandardDeviation(errs)
	s.Median, _ = stats.Median(errs)
	s.P95, _ = stats.Percentile(errs, 95)
	s.Max, _ = stats.Max(errs)
	return s
}

// Report is what a node hands to the finish collaborator at the end of a run.
type Report struct {
	ID         string
	Kind       model.NodeKind
	Errors     ErrorSummary
	ErrorLog   []float64
	DecayValue *float64
	Received   int
	Sent       int
	Forwarded  int
	Dropped    int
}
