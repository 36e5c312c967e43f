// Package telemetry serves the read accessors of a running simulation over
// gRPC: the node list, per-node filter, error and decay state, and engine
// progress.
package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/internal/node"
	"github.com/signalsfoundry/sensornet-simulator/internal/sim"
	"github.com/signalsfoundry/sensornet-simulator/model"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Source is the slice of sim.Simulation the service reads from.
type Source interface {
	Nodes() []sim.NodeInfo
	Snapshot(id string) (node.Snapshot, error)
	Status() sim.Status
}

// Service implements TelemetryServiceServer.
type Service struct {
	src Source
	log logging.Logger
}

// NewService constructs a Service bound to src.
func NewService(src Source, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{src: src, log: log}
}

func (s *Service) requestLogger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	_, l := logging.WithRequestLogger(ctx, s.log)
	return l
}

// ListNodes implements TelemetryServiceServer.
func (s *Service) ListNodes(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	nodes := s.src.Nodes()
	list := make([]interface{}, 0, len(nodes))
	for _, n := range nodes {
		list = append(list, map[string]interface{}{
			"id":       n.ID,
			"kind":     string(n.Kind),
			"upstream": n.Upstream,
		})
	}
	out, err := structpb.NewStruct(map[string]interface{}{"nodes": list})
	if err != nil {
		return nil, ToStatusError(err)
	}
	s.requestLogger(ctx).Debug(ctx, "listed nodes", logging.Int("count", len(nodes)))
	return out, nil
}

// GetNode implements TelemetryServiceServer.
func (s *Service) GetNode(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	id := strings.TrimSpace(req.GetValue())
	if id == "" {
		return nil, ToStatusError(fmt.Errorf("%w: node id is required", ErrInvalidRequest))
	}

	ctx, span := startChildSpan(ctx, "telemetry.snapshot", id)
	defer span.End()

	snap, err := s.src.Snapshot(id)
	if err != nil {
		span.RecordError(err)
		s.requestLogger(ctx).Warn(ctx, "node lookup failed", logging.String("node_id", id), logging.Err(err))
		return nil, ToStatusError(err)
	}
	out, err := structpb.NewStruct(snapshotFields(snap))
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// GetSimulation implements TelemetryServiceServer.
func (s *Service) GetSimulation(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := s.src.Status()
	out, err := structpb.NewStruct(map[string]interface{}{
		"run_id":          st.RunID,
		"name":            st.Name,
		"elapsed":         st.Elapsed.String(),
		"elapsed_seconds": st.Elapsed.Seconds(),
		"horizon":         st.Horizon.String(),
		"pending_events":  st.Pending,
		"executed_events": float64(st.Executed),
		"steps":           st.Steps,
		"done":            st.Done,
		"traffic": map[string]interface{}{
			"sent":           float64(st.Traffic.Sent),
			"delivered":      float64(st.Traffic.Delivered),
			"timers_fired":   float64(st.Traffic.TimersFired),
			"handler_errors": float64(st.Traffic.HandlerErrors),
		},
	})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}

// snapshotFields flattens a snapshot into values structpb accepts.
func snapshotFields(snap node.Snapshot) map[string]interface{} {
	fields := map[string]interface{}{
		"id":        snap.ID,
		"kind":      string(snap.Kind),
		"upstream":  snap.Upstream,
		"received":  snap.Received,
		"sent":      snap.Sent,
		"forwarded": snap.Forwarded,
		"dropped":   snap.Dropped,
		"unknown":   snap.Unknown,
	}

	if len(snap.Filters) > 0 {
		sources := make([]string, 0, len(snap.Filters))
		for source := range snap.Filters {
			sources = append(sources, source)
		}
		sort.Strings(sources)
		filters := make(map[string]interface{}, len(sources))
		for _, source := range sources {
			f := snap.Filters[source]
			filters[source] = map[string]interface{}{
				"estimate":          f.Estimate,
				"estimate_error":    f.EstimateError,
				"process_noise":     f.ProcessNoise,
				"measurement_noise": f.MeasurementNoise,
				"last_gain":         f.LastGain,
				"updates":           f.Updates,
			}
		}
		fields["filters"] = filters
		fields["gate"] = snap.Gate
		fields["errors"] = map[string]interface{}{
			"count":  snap.Errors.Count,
			"mean":   snap.Errors.Mean,
			"stddev": snap.Errors.StdDev,
			"median": snap.Errors.Median,
			"p95":    snap.Errors.P95,
			"max":    snap.Errors.Max,
		}
	}

	if d := snap.Decay; d != nil {
		fields["decay"] = map[string]interface{}{
			"value":       d.Value,
			"amount":      d.Amount,
			"interval":    d.Interval.String(),
			"idle_fires":  d.IdleFires,
			"total_fires": d.TotalFires,
			"resets":      d.Resets,
			"pending":     d.Pending,
		}
	}

	if snap.Kind == model.KindLeaf {
		window := make([]interface{}, 0, len(snap.Window))
		for _, v := range snap.Window {
			window = append(window, v)
		}
		fields["window"] = window
		fields["smoothed_mean"] = snap.Mean
		fields["bursts"] = snap.Bursts
	}
	return fields
}
