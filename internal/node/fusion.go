package node

import (
	"fmt"
	"sort"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// fusion is the filter bank shared by hubs and the orchestrator: one
// recursive filter per known source, a forward gate and the log of every
// prediction error observed.
type fusion struct {
	filters map[string]*core.ScalarFilter
	sources []string
	gate    core.ForwardGate
	errors  []float64
}

func newFusion(nodeID string, specs map[string]model.FilterSpec, gateSpec model.GateSpec) (*fusion, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: node %q has no filter sources", core.ErrConfiguration, nodeID)
	}
	gate, err := core.NewGate(gateSpec)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", nodeID, err)
	}
	f := &fusion{
		filters: make(map[string]*core.ScalarFilter, len(specs)),
		gate:    gate,
	}
	for source, spec := range specs {
		sf, err := core.NewScalarFilter(spec)
		if err != nil {
			return nil, fmt.Errorf("node %q source %q: %w", nodeID, source, err)
		}
		f.filters[source] = sf
		f.sources = append(f.sources, source)
	}
	sort.Strings(f.sources)
	return f, nil
}

// observe runs value through the filter for source and evaluates the gate.
func (f *fusion) observe(source string, value float64) (filtered float64, d core.Decision, err error) {
	sf, ok := f.filters[source]
	if !ok {
		return 0, core.Decision{}, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}
	filtered = sf.Update(value)
	d = f.gate.Evaluate(filtered, value)
	f.errors = append(f.errors, d.Error)
	return filtered, d, nil
}

func (f *fusion) snapshots() map[string]core.FilterSnapshot {
	out := make(map[string]core.FilterSnapshot, len(f.filters))
	for source, sf := range f.filters {
		out[source] = sf.Snapshot()
	}
	return out
}

func (f *fusion) errorLog() []float64 {
	out := make([]float64, len(f.errors))
	copy(out, f.errors)
	return out
}
