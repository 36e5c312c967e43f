package core

import (
	"errors"
	"testing"

	"github.com/signalsfoundry/sensornet-simulator/model"
)

func TestExactMatchGate(t *testing.T) {
	tests := []struct {
		name               string
		gate               ExactMatchGate
		filtered, received float64
		forward            bool
		wantErr            float64
	}{
		{"difference of ten", ExactMatchGate{}, 10, 0, true, 10},
		{"difference of five", ExactMatchGate{}, 10, 5, false, 5},
		{"identical", ExactMatchGate{}, 7.25, 7.25, true, 0},
		{"negative difference of ten", ExactMatchGate{}, 0, 10, true, 10},
		{"almost ten", ExactMatchGate{}, 10.0000001, 0, false, 10.0000001},
		{"truncated almost ten", ExactMatchGate{Truncate: true}, 10.9, 0.2, true, 10},
		{"truncated equal", ExactMatchGate{Truncate: true}, 50.12, 50, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.gate.Evaluate(tt.filtered, tt.received)
			if d.Forward != tt.forward {
				t.Fatalf("Forward = %v, want %v", d.Forward, tt.forward)
			}
			if d.Error != tt.wantErr {
				t.Fatalf("Error = %v, want %v", d.Error, tt.wantErr)
			}
		})
	}
}

func TestToleranceGate(t *testing.T) {
	g := ToleranceGate{Tolerance: 0.5}
	if !g.Evaluate(10.4, 0).Forward {
		t.Fatalf("expected 10.4 to pass a ±0.5 band around 10")
	}
	if !g.Evaluate(3.3, 3).Forward {
		t.Fatalf("expected 0.3 to pass a ±0.5 band around 0")
	}
	if g.Evaluate(10, 5).Forward {
		t.Fatalf("expected a difference of 5 to be dropped")
	}
}

func TestNewGate(t *testing.T) {
	g, err := NewGate(model.GateSpec{})
	if err != nil {
		t.Fatalf("NewGate default: %v", err)
	}
	if g.Name() != model.GateExact {
		t.Fatalf("default gate = %s, want %s", g.Name(), model.GateExact)
	}

	g, err = NewGate(model.GateSpec{Policy: "Tolerance", Tolerance: 1})
	if err != nil {
		t.Fatalf("NewGate tolerance: %v", err)
	}
	if tg, ok := g.(ToleranceGate); !ok || tg.Tolerance != 1 {
		t.Fatalf("NewGate returned %#v", g)
	}

	if _, err := NewGate(model.GateSpec{Policy: "fuzzy"}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("unknown policy error = %v, want ErrConfiguration", err)
	}
	if _, err := NewGate(model.GateSpec{Policy: model.GateTolerance, Tolerance: -1}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("negative tolerance error = %v, want ErrConfiguration", err)
	}
}
