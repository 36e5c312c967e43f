package telemetry

import (
	"context"

	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/internal/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// TracingUnaryServerInterceptor names the RPC span "telemetry.<Method>" and
// annotates it with the request ID and, for node lookups, the node ID. It
// opens a server span itself when no otelgrpc stats handler has done so.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		name := "telemetry." + method

		span := trace.SpanFromContext(ctx)
		owned := !span.SpanContext().IsValid()
		if owned {
			ctx, span = observability.Tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
		} else {
			span.SetName(name)
		}

		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
		)
		if id := logging.RequestIDFromContext(ctx); id != "" {
			span.SetAttributes(attribute.String("request_id", id))
		}
		if v, ok := req.(*wrapperspb.StringValue); ok && v.GetValue() != "" {
			span.SetAttributes(attribute.String("node.id", v.GetValue()))
		}

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
			if owned {
				span.SetStatus(codes.Error, status.Convert(err).Message())
			}
		}
		return resp, err
	}
}

// startChildSpan opens a span for a lookup against the simulation.
func startChildSpan(ctx context.Context, name, nodeID string) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, name, trace.WithAttributes(attribute.String("node.id", nodeID)))
}
