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

func hubSpec() model.NodeSpec {
	return model.NodeSpec{
		ID:       "Hub_1",
		Kind:     model.KindHub,
		Upstream: "OBN",
		Filters: map[string]model.FilterSpec{
			"Node_11": {ProcessNoise: 2, MeasurementNoise: 2, InitialError: 0.01},
			"Node_12": {ProcessNoise: 2, MeasurementNoise: 2, InitialError: 0.01},
		},
		Decay: &model.DecaySpec{Initial: 5, Amount: 0.3, Interval: 500 * time.Microsecond},
	}
}

func TestHubRelaysHandshakeFromUpstream(t *testing.T) {
	host := newFakeHost("Hub_1")
	hub, err := NewHub(hubSpec(), []string{"Node_11", "Node_12"}, host)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}

	if err := hub.Handle(context.Background(), message("OBN", model.HandshakePayload)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(host.outbox) != 1 {
		t.Fatalf("hub sent %d messages, want 1", len(host.outbox))
	}
	out := host.outbox[0]
	if !out.msg.IsHandshake() || len(out.to.AnyOf) != 2 {
		t.Fatalf("relay = %+v to %+v", out.msg, out.to)
	}
	for _, id := range out.to.AnyOf {
		if id == "OBN" {
			t.Fatalf("relay candidates %v include the upstream", out.to.AnyOf)
		}
	}
	if len(hub.ErrorLog()) != 0 {
		t.Fatalf("handshake was filtered as a measurement")
	}

	// Leaf readings are measured, never relayed as handshakes.
	if err := hub.Handle(context.Background(), message("Node_11", "0")); err != nil {
		t.Fatalf("Handle reading: %v", err)
	}
	for _, o := range host.outbox[1:] {
		if o.msg.IsHandshake() {
			t.Fatalf("leaf reading triggered a handshake relay to %+v", o.to)
		}
	}
}

func TestHubGateDropsAndForwards(t *testing.T) {
	host := newFakeHost("Hub_1")
	hub, _ := NewHub(hubSpec(), nil, host)
	ctx := context.Background()

	// First reading of 100: filtered ≈ 50.12, error ≈ 49.88, dropped.
	if err := hub.Handle(ctx, message("Node_11", "100")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(host.outbox) != 0 {
		t.Fatalf("non-matching error was forwarded")
	}

	// A zero reading against an estimate of zero gives error 0, forwarded.
	if err := hub.Handle(ctx, message("Node_12", "0")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(host.outbox) != 1 {
		t.Fatalf("zero-error reading not forwarded")
	}
	fwd := host.outbox[0]
	if fwd.to.Node != "OBN" || fwd.msg.Payload != "0" || fwd.msg.Source != "Hub_1" {
		t.Fatalf("forwarded %+v to %+v", fwd.msg, fwd.to)
	}

	log := hub.ErrorLog()
	if len(log) != 2 || log[1] != 0 {
		t.Fatalf("error log = %v", log)
	}
	snap := hub.Snapshot()
	if snap.Forwarded != 1 || snap.Dropped != 1 || snap.Received != 2 {
		t.Fatalf("snapshot counters = %+v", snap)
	}
}

func TestHubDropsUnknownAndMalformed(t *testing.T) {
	host := newFakeHost("Hub_1")
	rec := newCountingRecorder()
	hub, _ := NewHub(hubSpec(), nil, host, WithRecorder(rec))
	ctx := context.Background()

	if err := hub.Handle(ctx, message("Node_99", "12")); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("unknown source error = %v", err)
	}
	if err := hub.Handle(ctx, message("Node_11", "twelve")); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("malformed payload error = %v", err)
	}
	if len(host.outbox) != 0 || len(hub.ErrorLog()) != 0 {
		t.Fatalf("rejected messages were processed")
	}
	if rec.dropped[DropUnknownSource] != 1 || rec.dropped[DropMalformed] != 1 {
		t.Fatalf("dropped = %v", rec.dropped)
	}
	if hub.Snapshot().Unknown != 1 {
		t.Fatalf("unknown counter = %d", hub.Snapshot().Unknown)
	}
}

func TestHubDecayResetsOnEveryMessage(t *testing.T) {
	host := newFakeHost("Hub_1")
	hub, _ := NewHub(hubSpec(), nil, host)
	ctx := context.Background()

	_ = hub.Handle(ctx, start())
	first, _, ok := host.pendingTimer()
	if !ok {
		t.Fatalf("start armed %d timers, want 1", len(host.timers))
	}

	host.now = host.now.Add(200 * time.Microsecond)
	_ = hub.Handle(ctx, message("Node_99", "1"))
	id, at, ok := host.pendingTimer()
	if !ok || id == first {
		t.Fatalf("timer not rearmed after unknown-source message: %v", host.timers)
	}
	if want := host.now.Add(500 * time.Microsecond); !at.Equal(want) {
		t.Fatalf("rearmed at %v, want %v", at, want)
	}

	host.now = at
	delete(host.timers, id)
	_ = hub.Handle(ctx, model.Event{Kind: model.EventTimer, Timer: model.TimerRef{Name: core.DecayTimerName, ID: id}})
	if d := hub.Snapshot().Decay; d == nil || math.Abs(d.Value-4.7) > 1e-9 || d.TotalFires != 1 {
		t.Fatalf("decay after fire = %+v", d)
	}
	if len(host.timers) != 1 {
		t.Fatalf("%d timers pending after fire, want 1", len(host.timers))
	}
}

func TestHubFinishReportsErrorMean(t *testing.T) {
	host := newFakeHost("Hub_1")
	hub, _ := NewHub(hubSpec(), nil, host)
	ctx := context.Background()
	for _, p := range []string{"100", "100", "100"} {
		_ = hub.Handle(ctx, message("Node_11", p))
	}
	r := hub.Finish()
	if r.Errors.Count != 3 || len(r.ErrorLog) != 3 {
		t.Fatalf("report = %+v", r)
	}
	sum := 0.0
	for _, e := range r.ErrorLog {
		sum += e
	}
	if r.Errors.Mean != sum/3 {
		t.Fatalf("mean = %v, want %v", r.Errors.Mean, sum/3)
	}
	if r.DecayValue == nil || *r.DecayValue != 5 {
		t.Fatalf("decay value = %v", r.DecayValue)
	}
}

func TestNewHubRejectsBadConfig(t *testing.T) {
	spec := hubSpec()
	spec.Filters = map[string]model.FilterSpec{"Node_11": {ProcessNoise: 2, MeasurementNoise: 0}}
	if _, err := NewHub(spec, nil, newFakeHost("Hub_1")); !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("zero measurement noise error = %v", err)
	}

	spec = hubSpec()
	spec.Filters = nil
	if _, err := NewHub(spec, nil, newFakeHost("Hub_1")); !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("no filters error = %v", err)
	}

	spec = hubSpec()
	spec.Decay = &model.DecaySpec{Initial: 5, Amount: 0.3}
	if _, err := NewHub(spec, nil, newFakeHost("Hub_1")); !errors.Is(err, core.ErrConfiguration) {
		t.Fatalf("zero interval error = %v", err)
	}
}
