// Package sim assembles a runnable sensor network from a scenario and drives
// it through virtual time. It is the only place that holds a lock: the event
// engine and the nodes are single-threaded, and concurrent readers such as
// the telemetry service go through the Simulation.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/sensornet-simulator/internal/engine"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/internal/node"
	"github.com/signalsfoundry/sensornet-simulator/internal/observability"
	"github.com/signalsfoundry/sensornet-simulator/kb"
	"github.com/signalsfoundry/sensornet-simulator/model"
	"github.com/signalsfoundry/sensornet-simulator/timectrl"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNodeNotFound is returned by lookups for an unknown node ID.
var ErrNodeNotFound = errors.New("node not found")

// Option customises a Simulation.
type Option func(*Simulation)

// WithLogger sets the run logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Simulation) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRecorder sets the per-node metrics sink.
func WithRecorder(r node.Recorder) Option {
	return func(s *Simulation) { s.recorder = r }
}

// WithTelemetryMetrics publishes engine progress to c after every advance.
func WithTelemetryMetrics(c *observability.TelemetryCollector) Option {
	return func(s *Simulation) { s.metrics = c }
}

// NodeInfo identifies a node of the running topology.
type NodeInfo struct {
	ID       string
	Kind     model.NodeKind
	Upstream string
}

// Status summarises engine progress.
type Status struct {
	RunID    string
	Name     string
	Now      time.Time
	Elapsed  time.Duration
	Horizon  time.Duration
	Pending  int
	Executed uint64
	Steps    int
	Done     bool
	Traffic  engine.Stats
}

// Report is the end-of-run summary.
type Report struct {
	RunID   string
	Name    string
	Elapsed time.Duration
	Steps   int
	Traffic engine.Stats
	Nodes   []node.Report
}

// Simulation owns one run.
type Simulation struct {
	mu sync.RWMutex

	runID    string
	scenario *kb.Scenario
	topology *kb.KnowledgeBase
	clock    *timectrl.VirtualClock
	sched    *engine.Scheduler
	net      *engine.Network
	nodes    map[string]node.Node
	order    []string

	log      logging.Logger
	recorder node.Recorder
	metrics  *observability.TelemetryCollector

	started bool
	steps   int
}

// New validates sc and builds every node. Nothing runs until Start or Run.
func New(ctx context.Context, sc *kb.Scenario, opts ...Option) (*Simulation, error) {
	if sc == nil {
		return nil, fmt.Errorf("sim.New: scenario is nil")
	}
	s := &Simulation{
		scenario: sc,
		topology: kb.NewKnowledgeBase(),
		nodes:    make(map[string]node.Node),
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, s.runID = logging.EnsureRunID(ctx)
	s.log = s.log.With(logging.String("run_id", s.runID), logging.String("scenario", sc.Name))

	unsubscribe := s.topology.Subscribe(func(ev kb.Event) {
		s.log.Debug(ctx, "node added", logging.String("node_id", ev.Node.ID), logging.String("kind", string(ev.Node.Kind)))
	})
	err := sc.Populate(s.topology)
	unsubscribe()
	if err != nil {
		return nil, err
	}

	s.clock = timectrl.NewVirtualClock(timectrl.Epoch)
	s.sched = engine.NewEventScheduler(s.clock)
	s.net = engine.NewNetwork(s.sched, engine.NewRand(sc.RandSeed),
		engine.WithLinkDelay(sc.LinkDelay),
		engine.WithLogger(s.log),
	)

	nodeOpts := []node.Option{node.WithLogger(s.log)}
	if s.recorder != nil {
		nodeOpts = append(nodeOpts, node.WithRecorder(s.recorder))
	}
	for _, spec := range s.topology.Nodes() {
		n, err := node.New(spec, s.topology.Children(spec.ID), s.net.Host(spec.ID), nodeOpts...)
		if err != nil {
			return nil, err
		}
		if err := s.net.Register(n); err != nil {
			return nil, err
		}
		s.nodes[spec.ID] = n
		s.order = append(s.order, spec.ID)
	}

	if s.metrics != nil {
		counts := make(map[string]int)
		for _, spec := range s.topology.Nodes() {
			counts[string(spec.Kind)]++
		}
		s.metrics.SetTopologyCounts(counts)
	}

	s.log.Info(ctx, "simulation assembled",
		logging.Int("nodes", len(s.order)),
		logging.Duration("horizon", sc.Horizon),
		logging.Duration("link_delay", sc.LinkDelay),
	)
	return s, nil
}

// RunID returns the identifier attached to every log line of this run.
func (s *Simulation) RunID() string { return s.runID }

// Start delivers the start event to every node. It is idempotent.
func (s *Simulation) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked(ctx)
}

func (s *Simulation) startLocked(ctx context.Context) {
	if s.started {
		return
	}
	s.started = true
	s.net.Start(ctx)
}

// Advance runs events for at most d of virtual time, never past the horizon.
// It reports whether the run is finished.
func (s *Simulation) Advance(ctx context.Context, d time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked(ctx)

	horizon := s.clock.StartTime.Add(s.scenario.Horizon)
	deadline := s.clock.Now().Add(d)
	if deadline.After(horizon) {
		deadline = horizon
	}
	steps, err := s.sched.RunUntil(ctx, deadline)
	s.steps += steps
	s.publishLocked()
	if err != nil {
		return false, err
	}
	return s.doneLocked(), nil
}

// Run drives the simulation to its horizon inside a tracing span and returns
// the finish report.
func (s *Simulation) Run(ctx context.Context) (*Report, error) {
	ctx, span := observability.Tracer().Start(ctx, "simulation.run",
		trace.WithAttributes(
			attribute.String("run.id", s.runID),
			attribute.String("scenario.name", s.scenario.Name),
			attribute.Int("topology.nodes", len(s.order)),
		),
	)
	defer span.End()

	started := time.Now()
	if _, err := s.Advance(ctx, s.scenario.Horizon); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	st := s.Status()
	span.SetAttributes(
		attribute.Int("engine.steps", st.Steps),
		attribute.Int64("engine.executed", int64(st.Executed)),
		attribute.Int64("network.sent", int64(st.Traffic.Sent)),
	)
	s.log.Info(ctx, "simulation finished",
		logging.Duration("virtual", st.Elapsed),
		logging.Duration("wall", time.Since(started)),
		logging.Int("steps", st.Steps),
	)
	return s.Finish(ctx), nil
}

// Finish collects every node's report. Each node gets its own span.
func (s *Simulation) Finish(ctx context.Context) *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r := &Report{
		RunID:   s.runID,
		Name:    s.scenario.Name,
		Elapsed: s.clock.Elapsed(),
		Steps:   s.steps,
		Traffic: s.net.Stats(),
	}
	for _, id := range s.order {
		_, span := observability.Tracer().Start(ctx, "node.finish",
			trace.WithAttributes(attribute.String("node.id", id)),
		)
		nr := s.nodes[id].Finish()
		span.SetAttributes(
			attribute.String("node.kind", string(nr.Kind)),
			attribute.Int("node.errors", nr.Errors.Count),
			attribute.Float64("node.error_mean", nr.Errors.Mean),
		)
		span.End()

		if nr.Kind != model.KindLeaf {
			s.log.Info(ctx, "node finished",
				logging.String("node_id", id),
				logging.Int("errors", nr.Errors.Count),
				logging.Float("error_mean", nr.Errors.Mean),
				logging.Int("forwarded", nr.Forwarded),
			)
		}
		r.Nodes = append(r.Nodes, nr)
	}
	return r
}

// Nodes lists the topology in scenario order.
func (s *Simulation) Nodes() []NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NodeInfo, 0, len(s.order))
	for _, spec := range s.topology.Nodes() {
		out = append(out, NodeInfo{ID: spec.ID, Kind: spec.Kind, Upstream: spec.Upstream})
	}
	return out
}

// Snapshot returns the read accessors of one node.
func (s *Simulation) Snapshot(id string) (node.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return node.Snapshot{}, fmt.Errorf("%w: %q", ErrNodeNotFound, id)
	}
	return n.Snapshot(), nil
}

// Status reports engine progress.
func (s *Simulation) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		RunID:    s.runID,
		Name:     s.scenario.Name,
		Now:      s.clock.Now(),
		Elapsed:  s.clock.Elapsed(),
		Horizon:  s.scenario.Horizon,
		Pending:  s.sched.Pending(),
		Executed: s.sched.Executed(),
		Steps:    s.steps,
		Done:     s.doneLocked(),
		Traffic:  s.net.Stats(),
	}
}

func (s *Simulation) doneLocked() bool {
	return s.started && s.clock.Elapsed() >= s.scenario.Horizon
}

func (s *Simulation) publishLocked() {
	if s.metrics == nil {
		return
	}
	s.metrics.SetSimulationState(s.clock.Elapsed(), s.sched.Pending(), s.sched.Executed())
}
