package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/model"
	"github.com/signalsfoundry/sensornet-simulator/timectrl"
)

type recordingNode struct {
	id     string
	events []model.Event
	onEv   func(model.Event) error
}

func (r *recordingNode) ID() string { return r.id }

func (r *recordingNode) Handle(_ context.Context, ev model.Event) error {
	r.events = append(r.events, ev)
	if r.onEv != nil {
		return r.onEv(ev)
	}
	return nil
}

func newTestNetwork(opts ...NetworkOption) *Network {
	clock := timectrl.NewVirtualClock(timectrl.Epoch)
	return NewNetwork(NewEventScheduler(clock), NewRand(7), opts...)
}

func TestNetworkStartDeliversInRegistrationOrder(t *testing.T) {
	n := newTestNetwork()
	var order []string
	for _, id := range []string{"OBN", "Hub_1", "Node_11"} {
		id := id
		node := &recordingNode{id: id, onEv: func(model.Event) error {
			order = append(order, id)
			return nil
		}}
		if err := n.Register(node); err != nil {
			t.Fatalf("Register(%s): %v", id, err)
		}
	}
	n.Start(context.Background())
	n.Scheduler().Step()

	if len(order) != 3 || order[0] != "OBN" || order[2] != "Node_11" {
		t.Fatalf("start order = %v", order)
	}
}

func TestNetworkRegisterRejectsDuplicate(t *testing.T) {
	n := newTestNetwork()
	if err := n.Register(&recordingNode{id: "Hub_1"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := n.Register(&recordingNode{id: "Hub_1"}); !errors.Is(err, ErrDuplicateNode) {
		t.Fatalf("second Register error = %v, want ErrDuplicateNode", err)
	}
}

func TestHostSendAppliesLinkDelayAndSource(t *testing.T) {
	n := newTestNetwork(WithLinkDelay(10 * time.Microsecond))
	hub := &recordingNode{id: "Hub_1"}
	_ = n.Register(hub)
	_ = n.Register(&recordingNode{id: "Node_11"})

	if err := n.Host("Node_11").Send(model.NewMessage("spoofed", "42"), model.To("Hub_1")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	n.Scheduler().Step()

	if len(hub.events) != 1 {
		t.Fatalf("hub received %d events, want 1", len(hub.events))
	}
	ev := hub.events[0]
	if ev.Kind != model.EventMessage || ev.Message.Source != "Node_11" || ev.Message.Payload != "42" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if got := ev.At.Sub(timectrl.Epoch); got != 10*time.Microsecond {
		t.Fatalf("delivered after %v, want 10µs", got)
	}
	if s := n.Stats(); s.Sent != 1 || s.Delivered != 1 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestHostSendErrors(t *testing.T) {
	n := newTestNetwork()
	_ = n.Register(&recordingNode{id: "OBN"})
	h := n.Host("OBN")

	if err := h.Send(model.NewMessage("", "1"), model.To("Hub_9")); !errors.Is(err, ErrUnknownDestination) {
		t.Fatalf("unknown destination error = %v", err)
	}
	if err := h.Send(model.NewMessage("", "1"), model.AnyOf()); !errors.Is(err, ErrNoDestination) {
		t.Fatalf("empty selector error = %v", err)
	}
	if n.Scheduler().Pending() != 0 {
		t.Fatalf("failed sends left %d events pending", n.Scheduler().Pending())
	}
}

func TestHostSendAnyOfPicksCandidate(t *testing.T) {
	n := newTestNetwork()
	hubs := map[string]*recordingNode{}
	for _, id := range []string{"Hub_1", "Hub_2", "Hub_3"} {
		hubs[id] = &recordingNode{id: id}
		_ = n.Register(hubs[id])
	}
	_ = n.Register(&recordingNode{id: "OBN"})

	const sends = 30
	for i := 0; i < sends; i++ {
		if err := n.Host("OBN").Send(model.NewMessage("", model.HandshakePayload), model.AnyOf("Hub_1", "Hub_2", "Hub_3")); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	n.Scheduler().Step()

	total := 0
	for _, h := range hubs {
		total += len(h.events)
	}
	if total != sends {
		t.Fatalf("delivered %d messages, want %d", total, sends)
	}
}

func TestHostTimerDeliveredWithInstanceID(t *testing.T) {
	n := newTestNetwork()
	node := &recordingNode{id: "OBN"}
	_ = n.Register(node)
	h := n.Host("OBN")

	id := h.ScheduleTimer("decay", h.Now().Add(500*time.Microsecond))
	stale := h.ScheduleTimer("decay", h.Now().Add(time.Microsecond))
	h.Cancel(stale)

	n.Scheduler().Step()
	if len(node.events) != 1 {
		t.Fatalf("got %d events, want 1", len(node.events))
	}
	ev := node.events[0]
	if ev.Kind != model.EventTimer || ev.Timer.Name != "decay" || ev.Timer.ID != id {
		t.Fatalf("unexpected timer event %+v (want id %s)", ev, id)
	}
}

func TestHandlerErrorsAreCounted(t *testing.T) {
	n := newTestNetwork()
	_ = n.Register(&recordingNode{id: "Hub_1", onEv: func(model.Event) error { return errors.New("boom") }})
	n.Start(context.Background())
	n.Scheduler().Step()
	if n.Stats().HandlerErrors != 1 {
		t.Fatalf("HandlerErrors = %d, want 1", n.Stats().HandlerErrors)
	}
}
