package model

import "time"

// NodeKind is the tier a node occupies in the sensor network.
type NodeKind string

const (
	KindLeaf         NodeKind = "leaf"
	KindHub          NodeKind = "hub"
	KindOrchestrator NodeKind = "orchestrator"
)

// Valid reports whether k is one of the known tiers.
func (k NodeKind) Valid() bool {
	switch k {
	case KindLeaf, KindHub, KindOrchestrator:
		return true
	}
	return false
}

// NodeSpec describes one node of the topology as loaded from a scenario.
// Fields that do not apply to the node's kind are ignored.
type NodeSpec struct {
	ID   string   `yaml:"id"`
	Kind NodeKind `yaml:"kind"`

	// Upstream is the node this one reports to. Empty for the orchestrator.
	Upstream string `yaml:"upstream,omitempty"`

	// Seed marks the node that starts activity at simulation start.
	Seed bool `yaml:"seed,omitempty"`

	// Filters holds one recursive filter configuration per source identity.
	// Hubs key it by leaf ID, the orchestrator by hub ID.
	Filters map[string]FilterSpec `yaml:"filters,omitempty"`

	Gate  GateSpec   `yaml:"gate,omitempty"`
	Decay *DecaySpec `yaml:"decay,omitempty"`

	// Leaf-only settings.
	WindowSize int `yaml:"window_size"`
	BurstSize  int `yaml:"burst_size"`
	ValueMin   int `yaml:"value_min"`
	ValueMax   int `yaml:"value_max"`
}

// FilterSpec carries the constants of a recursive scalar filter.
type FilterSpec struct {
	ProcessNoise     float64 `yaml:"process_noise"`
	MeasurementNoise float64 `yaml:"measurement_noise"`
	InitialError     float64 `yaml:"initial_error"`
	InitialEstimate  float64 `yaml:"initial_estimate,omitempty"`
}

// DecaySpec configures the idle decay timer of a node.
type DecaySpec struct {
	Initial  float64       `yaml:"initial"`
	Amount   float64       `yaml:"amount"`
	Interval time.Duration `yaml:"interval"`
}

// Gate policies understood by core.NewGate.
const (
	GateExact     = "exact"
	GateTolerance = "tolerance"
)

// GateSpec selects the forward gate policy of a hub or orchestrator.
type GateSpec struct {
	Policy    string  `yaml:"policy,omitempty"`
	Tolerance float64 `yaml:"tolerance,omitempty"`
	// Truncate compares integer-truncated values, as the orchestrator does.
	Truncate bool `yaml:"truncate,omitempty"`
}
