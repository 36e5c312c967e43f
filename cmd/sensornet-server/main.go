package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/internal/observability"
	"github.com/signalsfoundry/sensornet-simulator/internal/sim"
	"github.com/signalsfoundry/sensornet-simulator/internal/telemetry"
	"github.com/signalsfoundry/sensornet-simulator/kb"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// Config is the server configuration assembled from flags.
type Config struct {
	ListenAddress  string
	MetricsAddress string
	ScenarioPath   string
	// TickInterval is the wall-clock pause between advances.
	TickInterval time.Duration
	// Step is the virtual time covered by each advance.
	Step time.Duration
}

func main() {
	_ = godotenv.Load()

	var cfg Config
	flag.StringVar(&cfg.ListenAddress, "grpc-addr", ":50051", "TCP address the telemetry gRPC server listens on")
	flag.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	flag.StringVar(&cfg.ScenarioPath, "scenario", "", "path to a YAML scenario (default: built-in reference deployment)")
	flag.DurationVar(&cfg.TickInterval, "tick", 100*time.Millisecond, "wall-clock interval between simulation advances")
	flag.DurationVar(&cfg.Step, "step", time.Millisecond, "virtual time advanced per tick")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		observability.ShutdownWithTimeout(context.Background(), shutdown, log)
		os.Exit(1)
	}
}

// run serves telemetry on lis and advances the simulation until ctx is done.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	sc, err := loadScenario(cfg.ScenarioPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	collector, err := observability.NewTelemetryCollector(reg)
	if err != nil {
		return fmt.Errorf("telemetry metrics: %w", err)
	}
	sensors, err := observability.NewSensorCollector(reg)
	if err != nil {
		return fmt.Errorf("sensor metrics: %w", err)
	}
	runCtx, log := logging.WithRunLogger(ctx, log)
	s, err := sim.New(runCtx, sc,
		sim.WithLogger(log),
		sim.WithRecorder(sensors),
		sim.WithTelemetryMetrics(collector),
	)
	if err != nil {
		return err
	}
	metricsSrv := serveMetrics(cfg.MetricsAddress, collector, log)

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			telemetry.RequestIDUnaryServerInterceptor(log),
			telemetry.TracingUnaryServerInterceptor(),
			collector.UnaryServerInterceptor(),
		),
	)
	telemetry.RegisterTelemetryServiceServer(server, telemetry.NewService(s, log))

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting telemetry gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		serveErr <- server.Serve(lis)
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		runSimLoop(runCtx, s, cfg.TickInterval, cfg.Step, log)
	}()

	var result error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			result = err
		}
	}

	log.Info(ctx, "shutting down telemetry server")
	server.GracefulStop()
	<-loopDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return result
}

// runSimLoop advances s by step on every tick until the horizon is reached or
// ctx is cancelled. The finish report is logged once.
func runSimLoop(ctx context.Context, s *sim.Simulation, tick, step time.Duration, log logging.Logger) {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	if step <= 0 {
		step = time.Millisecond
	}

	s.Start(ctx)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			done, err := s.Advance(ctx, step)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Warn(ctx, "advance failed", logging.Err(err))
				}
				return
			}
			if done {
				report := s.Finish(ctx)
				log.Info(ctx, "horizon reached; serving final state",
					logging.Duration("elapsed", report.Elapsed),
					logging.Int("steps", report.Steps),
				)
				return
			}
		}
	}
}

// serveMetrics exposes every collector sharing the collector's registry.
func serveMetrics(addr string, collector *observability.TelemetryCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func loadScenario(path string) (*kb.Scenario, error) {
	if path == "" {
		return kb.ReferenceScenario(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario %q: %w", path, err)
	}
	defer f.Close()
	return kb.LoadScenario(f)
}
