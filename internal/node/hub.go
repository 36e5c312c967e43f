package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// Hub filters the readings of its leaves and forwards the ones that pass the
// gate to its upstream orchestrator. A message from upstream makes the hub
// send a handshake to one of its leaves.
type Hub struct {
	id         string
	upstream   string
	downstream []string
	seed       bool

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

// NewHub builds a hub from spec. downstream lists its leaves; when empty the
// filter sources are used instead.
func NewHub(spec model.NodeSpec, downstream []string, host Host, opts ...Option) (*Hub, error) {
	if spec.Upstream == "" {
		return nil, fmt.Errorf("%w: hub %q has no upstream", core.ErrConfiguration, spec.ID)
	}
	f, err := newFusion(spec.ID, spec.Filters, spec.Gate)
	if err != nil {
		return nil, err
	}
	h := &Hub{
		id:         spec.ID,
		upstream:   spec.Upstream,
		downstream: append([]string(nil), downstream...),
		seed:       spec.Seed,
		fusion:     f,
		host:       host,
	}
	if len(h.downstream) == 0 {
		h.downstream = append([]string(nil), f.sources...)
	}
	if spec.Decay != nil {
		if h.decay, err = core.NewDecayTimer(*spec.Decay); err != nil {
			return nil, fmt.Errorf("hub %q: %w", spec.ID, err)
		}
	}
	o := buildOptions(spec.ID, model.KindHub, opts)
	h.log, h.rec = o.log, o.recorder
	return h, nil
}

// ID implements Node.
func (h *Hub) ID() string { return h.id }

// Kind implements Node.
func (h *Hub) Kind() model.NodeKind { return model.KindHub }

// Handle implements Node.
func (h *Hub) Handle(ctx context.Context, ev model.Event) error {
	switch ev.Kind {
	case model.EventStart:
		if h.decay != nil {
			h.decay.Arm(h.host)
		}
		if h.seed {
			return h.relayHandshake(ctx)
		}
		return nil
	case model.EventTimer:
		h.onTimer(ctx, ev.Timer)
		return nil
	case model.EventMessage:
		h.received++
		h.rec.MessageReceived(h.id)
		err := h.onMessage(ctx, ev.Message)
		if h.decay != nil {
			h.decay.Reset(h.host)
		}
		return err
	default:
		return nil
	}
}

func (h *Hub) onTimer(ctx context.Context, t model.TimerRef) {
	if h.decay == nil || t.Name != core.DecayTimerName {
		return
	}
	if v, applied := h.decay.Fire(h.host, t.ID); applied {
		h.rec.DecayFired(h.id, v)
		h.log.Debug(ctx, "decay fired", logging.Float("value", v), logging.Int("idle_fires", h.decay.IdleFires()))
	}
}

func (h *Hub) onMessage(ctx context.Context, msg model.Message) error {
	if msg.Source == h.upstream {
		return h.relayHandshake(ctx)
	}

	value, err := h.measurement(ctx, msg)
	if err != nil {
		return err
	}
	filtered, d, err := h.fusion.observe(msg.Source, value)
	if err != nil {
		return h.reject(ctx, msg, err)
	}
	h.rec.PredictionError(h.id, msg.Source, d.Error)

	if !d.Forward {
		h.dropped++
		h.rec.MessageDropped(h.id, DropGate)
		h.log.Debug(ctx, "measurement dropped",
			logging.String("source", msg.Source),
			logging.Float("received", value),
			logging.Float("filtered", filtered),
			logging.Float("prediction_error", d.Error),
		)
		return nil
	}

	if err := h.host.Send(msg, model.To(h.upstream)); err != nil {
		return fmt.Errorf("hub %s forward: %w", h.id, err)
	}
	h.forwarded++
	h.sent++
	h.rec.MessageForwarded(h.id)
	h.log.Info(ctx, "measurement forwarded",
		logging.String("source", msg.Source),
		logging.Float("received", value),
		logging.Float("filtered", filtered),
		logging.Float("prediction_error", d.Error),
	)
	return nil
}

// measurement checks the source before the payload so unknown senders are
// reported as such regardless of what they sent.
func (h *Hub) measurement(ctx context.Context, msg model.Message) (float64, error) {
	if _, ok := h.fusion.filters[msg.Source]; !ok {
		return 0, h.reject(ctx, msg, fmt.Errorf("%w: %q", ErrUnknownSource, msg.Source))
	}
	v, err := parseMeasurement(msg.Payload)
	if err != nil {
		return 0, h.reject(ctx, msg, err)
	}
	return v, nil
}

func (h *Hub) reject(ctx context.Context, msg model.Message, err error) error {
	reason := DropMalformed
	if errors.Is(err, ErrUnknownSource) {
		reason = DropUnknownSource
		h.unknown++
	}
	h.dropped++
	h.rec.MessageDropped(h.id, reason)
	h.log.Warn(ctx, "message dropped",
		logging.String("source", msg.Source),
		logging.String("reason", reason),
		logging.Err(err),
	)
	return err
}

func (h *Hub) relayHandshake(ctx context.Context) error {
	msg := model.NewMessage(h.id, model.HandshakePayload)
	if err := h.host.Send(msg, model.AnyOf(h.downstream...)); err != nil {
		return fmt.Errorf("hub %s handshake: %w", h.id, err)
	}
	h.sent++
	h.handshakes++
	h.rec.HandshakeSent(h.id)
	h.log.Info(ctx, "handshake relayed", logging.Int("handshakes", h.handshakes))
	return nil
}

// ErrorLog returns a copy of every prediction error observed so far.
func (h *Hub) ErrorLog() []float64 { return h.fusion.errorLog() }

// Snapshot implements Node.
func (h *Hub) Snapshot() Snapshot {
	return Snapshot{
		ID:        h.id,
		Kind:      model.KindHub,
		Upstream:  h.upstream,
		Received:  h.received,
		Sent:      h.sent,
		Forwarded: h.forwarded,
		Dropped:   h.dropped,
		Unknown:   h.unknown,
		Filters:   h.fusion.snapshots(),
		Gate:      h.fusion.gate.Name(),
		Errors:    Summarize(h.fusion.errors),
		Decay:     decaySnapshot(h.decay),
	}
}

// Finish implements Node. The report carries the mean of the error log.
func (h *Hub) Finish() Report {
	r := Report{
		ID:        h.id,
		Kind:      model.KindHub,
		Errors:    Summarize(h.fusion.errors),
		ErrorLog:  h.fusion.errorLog(),
		Received:  h.received,
		Sent:      h.sent,
		Forwarded: h.forwarded,
		Dropped:   h.dropped,
	}
	if h.decay != nil {
		v := h.decay.Value()
		r.DecayValue = &v
	}
	return r
}
