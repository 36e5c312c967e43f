package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// DefaultDecay is the orchestrator's decay configuration when a scenario
// does not set one.
var DefaultDecay = model.DecaySpec{
	Initial:  5.0,
	Amount:   0.3,
	Interval: 500 * time.Microsecond,
}

// Orchestrator is the top-tier node. It starts activity with a handshake to a
// random hub, filters what the hubs forward, triggers a new handshake when a
// value passes the gate and keeps a health value that decays while idle.
type Orchestrator struct {
	id   string
	hubs []string
	seed bool

	fusion *fusion
	decay  *core.DecayTimer

	host Host
	log  logging.Logger
	rec  Recorder

	received   int
	sent       int
	forwarded  int
	dropped    int
	unknown    int
	handshakes int
}

// NewOrchestrator builds the orchestrator from spec. hubs lists the
// handshake candidates; when empty the filter sources are used instead.
func NewOrchestrator(spec model.NodeSpec, hubs []string, host Host, opts ...Option) (*Orchestrator, error) {
	f, err := newFusion(spec.ID, spec.Filters, spec.Gate)
	if err != nil {
		return nil, err
	}
	decaySpec := DefaultDecay
	if spec.Decay != nil {
		decaySpec = *spec.Decay
	}
	decay, err := core.NewDecayTimer(decaySpec)
	if err != nil {
		return nil, fmt.Errorf("orchestrator %q: %w", spec.ID, err)
	}
	o := &Orchestrator{
		id:     spec.ID,
		hubs:   append([]string(nil), hubs...),
		seed:   spec.Seed,
		fusion: f,
		decay:  decay,
		host:   host,
	}
	if len(o.hubs) == 0 {
		o.hubs = append([]string(nil), f.sources...)
	}
	opt := buildOptions(spec.ID, model.KindOrchestrator, opts)
	o.log, o.rec = opt.log, opt.recorder
	return o, nil
}

// ID implements Node.
func (o *Orchestrator) ID() string { return o.id }

// Kind implements Node.
func (o *Orchestrator) Kind() model.NodeKind { return model.KindOrchestrator }

// Handle implements Node.
func (o *Orchestrator) Handle(ctx context.Context, ev model.Event) error {
	switch ev.Kind {
	case model.EventStart:
		var err error
		if o.seed {
			err = o.handshake(ctx)
		}
		o.decay.Arm(o.host)
		return err
	case model.EventTimer:
		if ev.Timer.Name != core.DecayTimerName {
			return nil
		}
		if v, applied := o.decay.Fire(o.host, ev.Timer.ID); applied {
			o.rec.DecayFired(o.id, v)
			o.log.Debug(ctx, "decay fired", logging.Float("value", v), logging.Int("idle_fires", o.decay.IdleFires()))
		}
		return nil
	case model.EventMessage:
		o.received++
		o.rec.MessageReceived(o.id)
		err := o.onMeasurement(ctx, ev.Message)
		// Every inbound event pushes the next decay a full interval away.
		o.decay.Reset(o.host)
		return err
	default:
		return nil
	}
}

func (o *Orchestrator) onMeasurement(ctx context.Context, msg model.Message) error {
	if _, ok := o.fusion.filters[msg.Source]; !ok {
		return o.reject(ctx, msg, fmt.Errorf("%w: %q", ErrUnknownSource, msg.Source))
	}
	value, err := parseMeasurement(msg.Payload)
	if err != nil {
		return o.reject(ctx, msg, err)
	}
	filtered, d, err := o.fusion.observe(msg.Source, value)
	if err != nil {
		return o.reject(ctx, msg, err)
	}
	o.rec.PredictionError(o.id, msg.Source, d.Error)

	if !d.Forward {
		o.dropped++
		o.rec.MessageDropped(o.id, DropGate)
		o.log.Debug(ctx, "hub value rejected",
			logging.String("source", msg.Source),
			logging.Float("received", value),
			logging.Float("filtered", filtered),
			logging.Float("prediction_error", d.Error),
		)
		return nil
	}

	o.forwarded++
	o.rec.MessageForwarded(o.id)
	o.log.Info(ctx, "hub value accepted",
		logging.String("source", msg.Source),
		logging.Float("received", value),
		logging.Float("filtered", filtered),
	)
	return o.handshake(ctx)
}

func (o *Orchestrator) reject(ctx context.Context, msg model.Message, err error) error {
	reason := DropMalformed
	if errors.Is(err, ErrUnknownSource) {
		reason = DropUnknownSource
		o.unknown++
	}
	o.dropped++
	o.rec.MessageDropped(o.id, reason)
	o.log.Warn(ctx, "message dropped",
		logging.String("source", msg.Source),
		logging.String("reason", reason),
		logging.Err(err),
	)
	return err
}

func (o *Orchestrator) handshake(ctx context.Context) error {
	msg := model.NewMessage(o.id, model.HandshakePayload)
	if err := o.host.Send(msg, model.AnyOf(o.hubs...)); err != nil {
		return fmt.Errorf("orchestrator %s handshake: %w", o.id, err)
	}
	o.sent++
	o.handshakes++
	o.rec.HandshakeSent(o.id)
	o.log.Info(ctx, "handshake sent", logging.Int("handshakes", o.handshakes))
	return nil
}

// DecayValue returns the current health value.
func (o *Orchestrator) DecayValue() float64 { return o.decay.Value() }

// ErrorLog returns a copy of every prediction error observed so far.
func (o *Orchestrator) ErrorLog() []float64 { return o.fusion.errorLog() }

// Snapshot implements Node.
func (o *Orchestrator) Snapshot() Snapshot {
	return Snapshot{
		ID:        o.id,
		Kind:      model.KindOrchestrator,
		Received:  o.received,
		Sent:      o.sent,
		Forwarded: o.forwarded,
		Dropped:   o.dropped,
		Unknown:   o.unknown,
		Filters:   o.fusion.snapshots(),
		Gate:      o.fusion.gate.Name(),
		Errors:    Summarize(o.fusion.errors),
		Decay:     decaySnapshot(o.decay),
	}
}

// Finish implements Node.
func (o *Orchestrator) Finish() Report {
	v := o.decay.Value()
	return Report{
		ID:         o.id,
		Kind:       model.KindOrchestrator,
		Errors:     Summarize(o.fusion.errors),
		ErrorLog:   o.fusion.errorLog(),
		DecayValue: &v,
		Received:   o.received,
		Sent:       o.sent,
		Forwarded:  o.forwarded,
		Dropped:    o.dropped,
	}
}
