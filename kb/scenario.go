package kb

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/model"
	"gopkg.in/yaml.v3"
)

// Scenario defaults.
const (
	DefaultHorizon   = 50 * time.Millisecond
	DefaultLinkDelay = 10 * time.Microsecond
)

// Scenario is a complete run description: topology plus engine settings.
type Scenario struct {
	Name string `yaml:"name,omitempty"`
	// RandSeed seeds the shared random source. Runs with the same seed and
	// topology are identical.
	RandSeed uint64 `yaml:"rand_seed"`
	// Horizon bounds the run in virtual time.
	Horizon time.Duration `yaml:"horizon,omitempty"`
	// LinkDelay is the virtual latency of every message.
	LinkDelay time.Duration    `yaml:"link_delay,omitempty"`
	Nodes     []model.NodeSpec `yaml:"nodes"`
}

// Leaf settings applied by LoadScenario when a leaf omits the key. An
// explicit value, zero included, is kept as written.
const (
	DefaultWindowSize = 5
	DefaultBurstSize  = 100
	DefaultValueMax   = 220
)

// LoadScenario decodes a YAML scenario from r and applies defaults. Unknown
// fields are rejected.
func LoadScenario(r io.Reader) (*Scenario, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: read: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("LoadScenario: empty document")
		}
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}
	if len(sc.Nodes) == 0 {
		return nil, fmt.Errorf("LoadScenario: %w: scenario has no nodes", ErrInvalidTopology)
	}
	if sc.Horizon < 0 || sc.LinkDelay < 0 {
		return nil, fmt.Errorf("LoadScenario: horizon and link_delay must not be negative")
	}
	if sc.Horizon == 0 {
		sc.Horizon = DefaultHorizon
	}

	// A second, key-level pass tells omitted leaf settings from explicit zeros.
	var raw struct {
		Nodes []map[string]yaml.Node `yaml:"nodes"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}
	for i := range sc.Nodes {
		if sc.Nodes[i].Kind != model.KindLeaf || i >= len(raw.Nodes) {
			continue
		}
		applyLeafDefaults(&sc.Nodes[i], raw.Nodes[i])
	}
	return &sc, nil
}

func applyLeafDefaults(n *model.NodeSpec, keys map[string]yaml.Node) {
	if _, ok := keys["window_size"]; !ok {
		n.WindowSize = DefaultWindowSize
	}
	if _, ok := keys["burst_size"]; !ok {
		n.BurstSize = DefaultBurstSize
	}
	_, hasMin := keys["value_min"]
	_, hasMax := keys["value_max"]
	if !hasMin && !hasMax {
		n.ValueMax = DefaultValueMax
	}
}

// Populate adds every scenario node to kb and validates the result.
func (sc *Scenario) Populate(kb *KnowledgeBase) error {
	if kb == nil {
		return fmt.Errorf("Populate: kb is nil")
	}
	for _, n := range sc.Nodes {
		if err := kb.AddNode(n); err != nil {
			return fmt.Errorf("Populate: %w", err)
		}
	}
	return kb.Validate()
}

// Encode writes the scenario as YAML.
func (sc *Scenario) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(sc); err != nil {
		return err
	}
	return enc.Close()
}

// ReferenceScenario returns the three-tier reference deployment: one
// orchestrator, three hubs and two leaves per hub.
func ReferenceScenario() *Scenario {
	standard := model.FilterSpec{ProcessNoise: 2, MeasurementNoise: 2, InitialError: 0.01}
	decay := model.DecaySpec{Initial: 5.0, Amount: 0.3, Interval: 500 * time.Microsecond}

	decayFor := func() *model.DecaySpec { d := decay; return &d }

	nodes := []model.NodeSpec{
		{
			ID:   "OBN",
			Kind: model.KindOrchestrator,
			Seed: true,
			Filters: map[string]model.FilterSpec{
				"Hub_1": standard,
				"Hub_2": standard,
				"Hub_3": {ProcessNoise: 0.5, MeasurementNoise: 0.5, InitialError: 0.01},
			},
			Gate:  model.GateSpec{Policy: model.GateExact, Truncate: true},
			Decay: decayFor(),
		},
		{
			ID:       "Hub_1",
			Kind:     model.KindHub,
			Upstream: "OBN",
			Filters:  map[string]model.FilterSpec{"Node_11": standard, "Node_12": standard},
			Gate:     model.GateSpec{Policy: model.GateExact},
			Decay:    decayFor(),
		},
		{
			ID:       "Hub_2",
			Kind:     model.KindHub,
			Upstream: "OBN",
			Filters:  map[string]model.FilterSpec{"Node_21": standard, "Node_22": standard},
			Gate:     model.GateSpec{Policy: model.GateExact},
			Decay:    decayFor(),
		},
		{
			ID:       "Hub_3",
			Kind:     model.KindHub,
			Upstream: "OBN",
			Filters: map[string]model.FilterSpec{
				"Node_31": {ProcessNoise: 0.01, MeasurementNoise: 0.01, InitialError: 0.01},
				"Node_32": {ProcessNoise: 0.5, MeasurementNoise: 0.5, InitialError: 0.01},
			},
			Gate:  model.GateSpec{Policy: model.GateExact},
			Decay: decayFor(),
		},
	}
	// Every leaf bursts at start. Node_22 and Node_31 read up to 200 and
	// Node_32 up to 3000.
	for _, leaf := range []struct {
		id, hub string
		max     int
	}{
		{"Node_11", "Hub_1", 220}, {"Node_12", "Hub_1", 220},
		{"Node_21", "Hub_2", 220}, {"Node_22", "Hub_2", 200},
		{"Node_31", "Hub_3", 200}, {"Node_32", "Hub_3", 3000},
	} {
		nodes = append(nodes, model.NodeSpec{
			ID:         leaf.id,
			Kind:       model.KindLeaf,
			Upstream:   leaf.hub,
			Seed:       true,
			WindowSize: DefaultWindowSize,
			BurstSize:  DefaultBurstSize,
			ValueMin:   0,
			ValueMax:   leaf.max,
		})
	}

	return &Scenario{
		Name:      "reference",
		RandSeed:  1,
		Horizon:   DefaultHorizon,
		LinkDelay: DefaultLinkDelay,
		Nodes:     nodes,
	}
}
