// Package node implements the per-node behaviour of the sensor network: leaf
// sensors that burst raw readings, hubs that filter and gate them, and the
// orchestrator that fuses hub output and keeps a decaying health value.
//
// Nodes are single-threaded state machines. The engine delivers one
// model.Event at a time through Handle, and every side effect goes through
// the injected Host.
package node

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/core"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/model"
)

var (
	// ErrUnknownSource is returned when a message arrives from a source the
	// node holds no filter for. The message is dropped.
	ErrUnknownSource = errors.New("unknown message source")
	// ErrMalformedPayload is returned when a measurement payload is not a
	// number. The message is dropped.
	ErrMalformedPayload = errors.New("malformed measurement payload")
)

// Host is everything a node may do to the outside world.
type Host interface {
	core.TimerScheduler
	Send(msg model.Message, to model.Destination) error
	RandomInt(low, high int) int
	RandomReal(low, high float64) float64
}

// Recorder receives per-node counters. observability.SensorCollector
// implements it for Prometheus.
type Recorder interface {
	MessageReceived(nodeID string)
	MessageForwarded(nodeID string)
	MessageDropped(nodeID, reason string)
	HandshakeSent(nodeID string)
	PredictionError(nodeID, source string, value float64)
	DecayFired(nodeID string, value float64)
}

// Drop reasons reported to Recorder.MessageDropped.
const (
	DropGate          = "gate"
	DropUnknownSource = "unknown_source"
	DropMalformed     = "malformed"
	DropUnexpected    = "unexpected"
)

type nopRecorder struct{}

func (nopRecorder) MessageReceived(string)                  {}
func (nopRecorder) MessageForwarded(string)                 {}
func (nopRecorder) MessageDropped(string, string)           {}
func (nopRecorder) HandshakeSent(string)                    {}
func (nopRecorder) PredictionError(string, string, float64) {}
func (nopRecorder) DecayFired(string, float64)              {}

// Node is the common surface of leaves, hubs and the orchestrator.
type Node interface {
	ID() string
	Kind() model.NodeKind
	Handle(ctx context.Context, ev model.Event) error
	Snapshot() Snapshot
	Finish() Report
}

// Option customises a node at construction.
type Option func(*options)

type options struct {
	log      logging.Logger
	recorder Recorder
}

// WithLogger sets the node logger. The node ID is attached automatically.
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

func buildOptions(id string, kind model.NodeKind, opts []Option) options {
	o := options{log: logging.Noop(), recorder: nopRecorder{}}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With(logging.String("node_id", id), logging.String("kind", string(kind)))
	return o
}

// Snapshot is a read-only view of a node for telemetry.
type Snapshot struct {
	ID       string
	Kind     model.NodeKind
	Upstream string

	Received  int
	Sent      int
	Forwarded int
	Dropped   int
	Unknown   int

	Filters map[string]core.FilterSnapshot
	Gate    string
	Errors  ErrorSummary
	Decay   *DecaySnapshot

	// Leaf only.
	Window []int32
	Mean   float64
	Bursts int
}

// DecaySnapshot is a read-only view of a decay timer.
type DecaySnapshot struct {
	Value      float64
	Amount     float64
	Interval   time.Duration
	IdleFires  int
	TotalFires int
	Resets     int
	Pending    bool
}

func decaySnapshot(d *core.DecayTimer) *DecaySnapshot {
	if d == nil {
		return nil
	}
	return &DecaySnapshot{
		Value:      d.Value(),
		Amount:     d.Amount(),
		Interval:   d.Interval(),
		IdleFires:  d.IdleFires(),
		TotalFires: d.TotalFires(),
		Resets:     d.Resets(),
		Pending:    d.PendingID() != "",
	}
}

func parseMeasurement(payload string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(payload), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPayload, payload)
	}
	return v, nil
}

// New builds the node described by spec. downstream lists the IDs of the
// nodes reporting to it, as resolved by the topology.
func New(spec model.NodeSpec, downstream []string, host Host, opts ...Option) (Node, error) {
	switch spec.Kind {
	case model.KindLeaf:
		return NewLeaf(spec, host, opts...)
	case model.KindHub:
		return NewHub(spec, downstream, host, opts...)
	case model.KindOrchestrator:
		return NewOrchestrator(spec, downstream, host, opts...)
	default:
		return nil, fmt.Errorf("%w: node %q has unknown kind %q", core.ErrConfiguration, spec.ID, spec.Kind)
	}
}
