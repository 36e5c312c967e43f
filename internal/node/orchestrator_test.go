package node

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

func orchestratorSpec() model.NodeSpec {
	return model.NodeSpec{
		ID:   "OBN",
		Kind: model.KindOrchestrator,
		Seed: true,
		Filters: map[string]model.FilterSpec{
			"Hub_1": {ProcessNoise: 2, MeasurementNoise: 2, InitialError: 0.01},
			"Hub_2": {ProcessNoise: 2, MeasurementNoise: 2, InitialError: 0.01},
			"Hub_3": {ProcessNoise: 0.5, MeasurementNoise: 0.5, InitialError: 0.01},
		},
		Gate:  model.GateSpec{Truncate: true},
		Decay: &model.DecaySpec{Initial: 5, Amount: 0.3, Interval: 500 * time.Microsecond},
	}
}

func fireDecay(t *testing.T, o *Orchestrator, host *fakeHost) {
	t.Helper()
	id, at, ok := host.pendingTimer()
	if !ok {
		t.Fatalf("expected exactly one pending timer, have %d", len(host.timers))
	}
	delete(host.timers, id)
	host.now = at
	if err := o.Handle(context.Background(), model.Event{Kind: model.EventTimer, Timer: model.TimerRef{Name: core.DecayTimerName, ID: id}}); err != nil {
		t.Fatalf("timer: %v", err)
	}
}

func TestOrchestratorStartHandshakeAndArm(t *testing.T) {
	host := newFakeHost("OBN")
	o, err := NewOrchestrator(orchestratorSpec(), []string{"Hub_1", "Hub_2", "Hub_3"}, host)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	if err := o.Handle(context.Background(), start()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(host.outbox) != 1 || !host.outbox[0].msg.IsHandshake() || len(host.outbox[0].to.AnyOf) != 3 {
		t.Fatalf("start outbox = %+v", host.outbox)
	}
	if _, at, ok := host.pendingTimer(); !ok || at.Sub(time.Unix(0, 0)) != 500*time.Microsecond {
		t.Fatalf("decay not armed one interval ahead: %v", host.timers)
	}
}

func TestOrchestratorIdleDecay(t *testing.T) {
	host := newFakeHost("OBN")
	o, _ := NewOrchestrator(orchestratorSpec(), nil, host)
	_ = o.Handle(context.Background(), start())

	for i := 0; i < 10; i++ {
		fireDecay(t, o, host)
	}
	if want := 5 - 10*0.3; math.Abs(o.DecayValue()-want) > 1e-9 {
		t.Fatalf("DecayValue() = %v, want %v", o.DecayValue(), want)
	}
	if got := host.now.Sub(time.Unix(0, 0)); got != 5*time.Millisecond {
		t.Fatalf("virtual time = %v, want 5ms", got)
	}
}

func TestOrchestratorInboundResetsDecay(t *testing.T) {
	host := newFakeHost("OBN")
	o, _ := NewOrchestrator(orchestratorSpec(), nil, host)
	ctx := context.Background()
	_ = o.Handle(ctx, start())
	fireDecay(t, o, host)
	fireDecay(t, o, host)

	host.now = host.now.Add(400 * time.Microsecond)
	_ = o.Handle(ctx, message("Hub_1", "150"))

	_, at, ok := host.pendingTimer()
	if !ok {
		t.Fatalf("%d timers pending after inbound message, want 1", len(host.timers))
	}
	if want := host.now.Add(500 * time.Microsecond); !at.Equal(want) {
		t.Fatalf("timer at %v, want %v", at, want)
	}
	if d := o.Snapshot().Decay; d.IdleFires != 0 || d.TotalFires != 2 || d.Resets != 1 {
		t.Fatalf("decay counters = %+v", d)
	}
}

func TestOrchestratorTruncatedGateTriggersHandshake(t *testing.T) {
	host := newFakeHost("OBN")
	o, _ := NewOrchestrator(orchestratorSpec(), nil, host)
	ctx := context.Background()

	// Hub_3: k = 0.51/1.01, filtered = 20*k ≈ 10.099, trunc 10 vs 20 gives 10.
	if err := o.Handle(ctx, message("Hub_3", "20")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(host.outbox) != 1 || !host.outbox[0].msg.IsHandshake() {
		t.Fatalf("accepted value did not trigger a handshake: %+v", host.outbox)
	}

	// Hub_1: filtered ≈ 50.12, trunc 50 vs 100, rejected.
	if err := o.Handle(ctx, message("Hub_1", "100")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(host.outbox) != 1 {
		t.Fatalf("rejected value triggered a handshake")
	}

	errs := o.ErrorLog()
	if len(errs) != 2 || errs[0] != 10 || errs[1] != 50 {
		t.Fatalf("error log = %v", errs)
	}
	if s := o.Snapshot(); s.Forwarded != 1 || s.Dropped != 1 {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestOrchestratorUnknownSource(t *testing.T) {
	host := newFakeHost("OBN")
	o, _ := NewOrchestrator(orchestratorSpec(), nil, host)
	if err := o.Handle(context.Background(), message("Hub_9", "1")); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("error = %v, want ErrUnknownSource", err)
	}
	if len(host.outbox) != 0 {
		t.Fatalf("unknown source triggered output")
	}
	if len(host.timers) != 1 {
		t.Fatalf("unknown source did not rearm decay")
	}
}

func TestOrchestratorDefaultDecay(t *testing.T) {
	spec := orchestratorSpec()
	spec.Decay = nil
	o, err := NewOrchestrator(spec, nil, newFakeHost("OBN"))
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	if o.DecayValue() != DefaultDecay.Initial {
		t.Fatalf("DecayValue() = %v, want %v", o.DecayValue(), DefaultDecay.Initial)
	}
	r := o.Finish()
	if r.DecayValue == nil || *r.DecayValue != 5 || r.Errors.Count != 0 {
		t.Fatalf("report = %+v", r)
	}
}

func TestNewDispatchesByKind(t *testing.T) {
	host := newFakeHost("x")
	if n, err := New(orchestratorSpec(), nil, host); err != nil || n.Kind() != model.KindOrchestrator {
		t.Fatalf("orchestrator: %v %v", n, err)
	}
	if n, err := New(hubSpec(), nil, host); err != nil || n.Kind() != model.KindHub {
		t.Fatalf("hub: %v %v", n, err)
	}
	if n, err := New(leafSpec(), nil, host); err != nil || n.Kind() != model.KindLeaf {
		t.Fatalf("leaf: %v %v", n, err)
	}
	if _, err := New(model.NodeSpec{ID: "x", Kind: "relay"}, nil, host); !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("unknown kind error = %v", err)
	}
}
