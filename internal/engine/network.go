package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

var (
	// ErrUnknownDestination is returned by Send when the recipient was never
	// registered with the Network.
	ErrUnknownDestination = errors.New("unknown destination")
	// ErrNoDestination is returned by Send when the selector names no node.
	ErrNoDestination = errors.New("empty destination")
	// ErrDuplicateNode is returned by Register for a second handler with the
	// same ID.
	ErrDuplicateNode = errors.New("duplicate node")
)

// Handler is a node driven by the Network. Handle is invoked for every start,
// message and timer event addressed to the node, one event at a time.
type Handler interface {
	ID() string
	Handle(ctx context.Context, ev model.Event) error
}

// Stats counts traffic through the Network.
type Stats struct {
	Sent          uint64
	Delivered     uint64
	TimersFired   uint64
	HandlerErrors uint64
}

// Network wires registered handlers to the event scheduler. It gives every
// node a Host through which it sends messages, arms timers and draws random
// numbers; no node ever touches another node's state directly.
type Network struct {
	sched *Scheduler
	rng   *Rand
	delay time.Duration
	log   logging.Logger

	ctx      context.Context
	handlers map[string]Handler
	order    []string
	hosts    map[string]*Host
	stats    Stats
}

// NetworkOption customises a Network.
type NetworkOption func(*Network)

// WithLinkDelay sets the virtual latency applied to every message.
func WithLinkDelay(d time.Duration) NetworkOption {
	return func(n *Network) {
		if d > 0 {
			n.delay = d
		}
	}
}

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(l logging.Logger) NetworkOption {
	return func(n *Network) {
		if l != nil {
			n.log = l
		}
	}
}

// NewNetwork builds an empty Network on top of sched, drawing destination
// choices from rng.
func NewNetwork(sched *Scheduler, rng *Rand, opts ...NetworkOption) *Network {
	n := &Network{
		sched:    sched,
		rng:      rng,
		log:      logging.Noop(),
		ctx:      context.Background(),
		handlers: make(map[string]Handler),
		hosts:    make(map[string]*Host),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Register adds h to the Network. Registration order is the order in which
// start events are delivered.
func (n *Network) Register(h Handler) error {
	id := h.ID()
	if id == "" {
		return errors.New("register: empty node id")
	}
	if _, exists := n.handlers[id]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateNode, id)
	}
	n.handlers[id] = h
	n.order = append(n.order, id)
	return nil
}

// Host returns the host bound to id, creating it on first use. Hosts may be
// requested before the node itself is registered so nodes can receive theirs
// at construction.
func (n *Network) Host(id string) *Host {
	if h, ok := n.hosts[id]; ok {
		return h
	}
	h := &Host{id: id, net: n}
	n.hosts[id] = h
	return h
}

// Nodes returns registered node IDs in registration order.
func (n *Network) Nodes() []string {
	out := make([]string, len(n.order))
	copy(out, n.order)
	return out
}

// Handler returns the registered handler for id.
func (n *Network) Handler(id string) (Handler, bool) {
	h, ok := n.handlers[id]
	return h, ok
}

// Stats returns a copy of the traffic counters.
func (n *Network) Stats() Stats { return n.stats }

// Scheduler exposes the underlying scheduler.
func (n *Network) Scheduler() *Scheduler { return n.sched }

// Start schedules one EventStart per registered node at the current virtual
// time. ctx is handed to every subsequent Handle call.
func (n *Network) Start(ctx context.Context) {
	if ctx != nil {
		n.ctx = ctx
	}
	for _, id := range n.order {
		id := id
		n.sched.Schedule(n.sched.Now(), func() {
			n.deliver(id, model.Event{Kind: model.EventStart, At: n.sched.Now()})
		})
	}
}

func (n *Network) deliver(id string, ev model.Event) {
	h, ok := n.handlers[id]
	if !ok {
		return
	}
	switch ev.Kind {
	case model.EventMessage:
		n.stats.Delivered++
	case model.EventTimer:
		n.stats.TimersFired++
	}
	if err := h.Handle(n.ctx, ev); err != nil {
		n.stats.HandlerErrors++
		n.log.Debug(n.ctx, "handler reported error",
			logging.String("node_id", id),
			logging.String("event", ev.Kind.String()),
			logging.Err(err),
		)
	}
}

func (n *Network) resolve(to model.Destination) (string, error) {
	if to.Node != "" {
		return to.Node, nil
	}
	if len(to.AnyOf) == 0 {
		return "", ErrNoDestination
	}
	return to.AnyOf[n.rng.IntN(0, len(to.AnyOf)-1)], nil
}

// Host is one node's view of the Network.
type Host struct {
	id  string
	net *Network
}

// ID returns the node ID the host is bound to.
func (h *Host) ID() string { return h.id }

// Now returns the current virtual time.
func (h *Host) Now() time.Time { return h.net.sched.Now() }

// ScheduleTimer arranges for an EventTimer named name to be delivered back to
// this node at virtual time at.
func (h *Host) ScheduleTimer(name string, at time.Time) string {
	var id string
	id = h.net.sched.Schedule(at, func() {
		h.net.deliver(h.id, model.Event{
			Kind:  model.EventTimer,
			At:    h.net.sched.Now(),
			Timer: model.TimerRef{Name: name, ID: id},
		})
	})
	return id
}

// Cancel drops a pending timer instance.
func (h *Host) Cancel(id string) { h.net.sched.Cancel(id) }

// Send stamps msg with this node as source and schedules its delivery after
// the link delay. The message is delivered to exactly one node.
func (h *Host) Send(msg model.Message, to model.Destination) error {
	dest, err := h.net.resolve(to)
	if err != nil {
		return fmt.Errorf("send from %s: %w", h.id, err)
	}
	if _, ok := h.net.handlers[dest]; !ok {
		return fmt.Errorf("send from %s: %w: %q", h.id, ErrUnknownDestination, dest)
	}

	now := h.net.sched.Now()
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.Source = h.id
	msg.SentAt = now

	h.net.stats.Sent++
	h.net.sched.Schedule(now.Add(h.net.delay), func() {
		h.net.deliver(dest, model.Event{
			Kind:    model.EventMessage,
			At:      h.net.sched.Now(),
			Message: msg,
		})
	})
	return nil
}

// RandomInt draws an integer uniformly from [low, high].
func (h *Host) RandomInt(low, high int) int { return h.net.rng.IntN(low, high) }

// RandomReal draws a float uniformly from [low, high).
func (h *Host) RandomReal(low, high float64) float64 { return h.net.rng.Uniform(low, high) }
