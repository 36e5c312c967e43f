package node

import (
	"context"
	"fmt"
	"strconv"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

// Leaf is a sensor that, once activated, emits a fixed burst of raw readings
// to its hub. Readings also feed a moving-average smoother whose mean is kept
// as an auxiliary statistic only.
type Leaf struct {
	id       string
	upstream string
	seed     bool

	burst    int
	min, max int
	smoother *core.Smoother

	host Host
	log  logging.Logger
	rec  Recorder

	received int
	sent     int
	dropped  int
	bursts   int
	mean     float64
}

// NewLeaf builds a leaf from spec.
func NewLeaf(spec model.NodeSpec, host Host, opts ...Option) (*Leaf, error) {
	if spec.Upstream == "" {
		return nil, fmt.Errorf("%w: leaf %q has no upstream hub", core.ErrConfiguration, spec.ID)
	}
	smoother, err := core.NewSmoother(spec.WindowSize)
	if err != nil {
		return nil, fmt.Errorf("leaf %q: %w", spec.ID, err)
	}
	// Settings are taken as given; scenario loading fills omitted ones.
	burst := spec.BurstSize
	if burst < 0 {
		return nil, fmt.Errorf("%w: leaf %q burst size %d", core.ErrConfiguration, spec.ID, burst)
	}
	lo, hi := spec.ValueMin, spec.ValueMax
	if hi < lo {
		return nil, fmt.Errorf("%w: leaf %q value range [%d, %d]", core.ErrConfiguration, spec.ID, lo, hi)
	}

	o := buildOptions(spec.ID, model.KindLeaf, opts)
	return &Leaf{
		id:       spec.ID,
		upstream: spec.Upstream,
		seed:     spec.Seed,
		burst:    burst,
		min:      lo,
		max:      hi,
		smoother: smoother,
		host:     host,
		log:      o.log,
		rec:      o.recorder,
	}, nil
}

// ID implements Node.
func (l *Leaf) ID() string { return l.id }

// Kind implements Node.
func (l *Leaf) Kind() model.NodeKind { return model.KindLeaf }

// Handle implements Node.
func (l *Leaf) Handle(ctx context.Context, ev model.Event) error {
	switch ev.Kind {
	case model.EventStart:
		if l.seed {
			return l.transmit(ctx)
		}
		return nil
	case model.EventMessage:
		l.received++
		l.rec.MessageReceived(l.id)
		if ev.Message.IsHandshake() {
			return l.transmit(ctx)
		}
		l.dropped++
		l.rec.MessageDropped(l.id, DropUnexpected)
		l.log.Debug(ctx, "leaf discarded message",
			logging.String("source", ev.Message.Source),
			logging.String("payload", ev.Message.Payload),
		)
		return nil
	default:
		return nil
	}
}

// transmit runs one burst. The raw reading is sent, not the smoothed mean.
func (l *Leaf) transmit(ctx context.Context) error {
	l.bursts++
	for i := 0; i < l.burst; i++ {
		reading := l.host.RandomInt(l.min, l.max)
		l.smoother.Push(int32(reading))
		l.mean, _ = l.smoother.Mean()

		msg := model.NewMessage(l.id, strconv.Itoa(reading))
		if err := l.host.Send(msg, model.To(l.upstream)); err != nil {
			return fmt.Errorf("leaf %s burst %d: %w", l.id, l.bursts, err)
		}
		l.sent++
		l.log.Debug(ctx, "reading sent",
			logging.Int("reading", reading),
			logging.Float("smoothed", l.mean),
		)
	}
	l.log.Info(ctx, "burst complete", logging.Int("count", l.burst), logging.Float("smoothed", l.mean))
	return nil
}

// Snapshot implements Node.
func (l *Leaf) Snapshot() Snapshot {
	return Snapshot{
		ID:       l.id,
		Kind:     model.KindLeaf,
		Upstream: l.upstream,
		Received: l.received,
		Sent:     l.sent,
		Dropped:  l.dropped,
		Window:   l.smoother.Window(),
		Mean:     l.mean,
		Bursts:   l.bursts,
	}
}

// Finish implements Node. Leaves keep no error log.
func (l *Leaf) Finish() Report {
	return Report{
		ID:       l.id,
		Kind:     model.KindLeaf,
		Received: l.received,
		Sent:     l.sent,
		Dropped:  l.dropped,
	}
}
