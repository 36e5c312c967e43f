package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// TelemetryCollector bundles Prometheus metrics for the telemetry surface
// and provides helpers to wire them into gRPC servers and HTTP handlers.
type TelemetryCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	TopologyNodes  *prometheus.GaugeVec
	VirtualTime    prometheus.Gauge
	PendingEvents  prometheus.Gauge
	ExecutedEvents prometheus.Gauge
}

// NewTelemetryCollector registers telemetry Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewTelemetryCollector(reg prometheus.Registerer) (*TelemetryCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_requests_total",
		Help: "Total number of handled telemetry RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"})
	requests, err := register(reg, requests)
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "telemetry_request_duration_seconds",
		Help:    "Telemetry RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"})
	durations, err = register(reg, durations)
	if err != nil {
		return nil, err
	}

	nodes, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "topology_nodes",
		Help: "Number of nodes in the running topology, labeled by tier.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	virtualTime, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulation_virtual_time_seconds",
		Help: "Virtual time elapsed in the running simulation.",
	}))
	if err != nil {
		return nil, err
	}
	pending, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulation_pending_events",
		Help: "Events currently scheduled and not cancelled.",
	}))
	if err != nil {
		return nil, err
	}
	executed, err := register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "simulation_executed_events",
		Help: "Events executed so far in the running simulation.",
	}))
	if err != nil {
		return nil, err
	}

	return &TelemetryCollector{
		gatherer:       gatherer,
		RPCRequests:    requests,
		RPCDurations:   durations,
		TopologyNodes:  nodes,
		VirtualTime:    virtualTime,
		PendingEvents:  pending,
		ExecutedEvents: executed,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *TelemetryCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *TelemetryCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetTopologyCounts publishes the number of nodes per tier.
func (c *TelemetryCollector) SetTopologyCounts(counts map[string]int) {
	if c == nil || c.TopologyNodes == nil {
		return
	}
	for kind, n := range counts {
		c.TopologyNodes.WithLabelValues(kind).Set(float64(n))
	}
}

// SetSimulationState publishes engine progress after a run step.
func (c *TelemetryCollector) SetSimulationState(elapsed time.Duration, pending int, executed uint64) {
	if c == nil {
		return
	}
	if c.VirtualTime != nil {
		c.VirtualTime.Set(elapsed.Seconds())
	}
	if c.PendingEvents != nil {
		c.PendingEvents.Set(float64(pending))
	}
	if c.ExecutedEvents != nil {
		c.ExecutedEvents.Set(float64(executed))
	}
}

// SplitMethod splits "/pkg.Service/Method" into ("Service", "Method"). Either
// part is "unknown" when it cannot be parsed.
func SplitMethod(fullMethod string) (string, string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok {
		return "unknown", "unknown"
	}
	if i := strings.LastIndex(method, "/"); i >= 0 {
		service, method = method[:i], method[i+1:]
	}
	if dot := strings.LastIndex(service, "."); dot >= 0 {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds c to reg. When an identical collector is already registered
// the existing one is returned, so collectors can be built more than once
// against the same registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return c, err
	}
	existing, ok := are.ExistingCollector.(C)
	if !ok {
		return c, fmt.Errorf("collector already registered with incompatible type: %w", err)
	}
	return existing, nil
}
