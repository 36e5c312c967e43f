package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/signalsfoundry/sensornet-simulator/internal/logging"
	"github.com/signalsfoundry/sensornet-simulator/internal/observability"
	"github.com/signalsfoundry/sensornet-simulator/internal/sim"
	"github.com/signalsfoundry/sensornet-simulator/kb"
)

// Config holds the command-line options of one run.
type Config struct {
	ScenarioPath  string
	Horizon       time.Duration
	Seed          int64
	JSON          bool
	DumpReference bool
}

func main() {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	var cfg Config
	flag.StringVar(&cfg.ScenarioPath, "scenario", "", "path to a YAML scenario (default: built-in reference deployment)")
	flag.DurationVar(&cfg.Horizon, "horizon", 0, "override the scenario horizon (virtual time)")
	flag.Int64Var(&cfg.Seed, "seed", -1, "override the scenario random seed")
	flag.BoolVar(&cfg.JSON, "json", false, "print the finish report as JSON")
	flag.BoolVar(&cfg.DumpReference, "dump-reference", false, "print the reference scenario as YAML and exit")
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

	if err := run(ctx, cfg, log, os.Stdout); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		observability.ShutdownWithTimeout(context.Background(), shutdown, log)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log logging.Logger, out io.Writer) error {
	if cfg.DumpReference {
		return kb.ReferenceScenario().Encode(out)
	}

	sc, err := loadScenario(cfg.ScenarioPath)
	if err != nil {
		return err
	}
	if cfg.Horizon > 0 {
		sc.Horizon = cfg.Horizon
	}
	if cfg.Seed >= 0 {
		sc.RandSeed = uint64(cfg.Seed)
	}

	ctx, log = logging.WithRunLogger(ctx, log)
	s, err := sim.New(ctx, sc, sim.WithLogger(log))
	if err != nil {
		return err
	}
	report, err := s.Run(ctx)
	if err != nil {
		return err
	}

	if cfg.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printReport(out, report)
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

	sc, err := kb.LoadScenario(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenario %q: %w", path, err)
	}
	return sc, nil
}

func printReport(out io.Writer, r *sim.Report) error {
	if r == nil {
		return errors.New("no report")
	}
	fmt.Fprintf(out, "Run %s (%s): %v virtual, %d steps, %d sent, %d delivered, %d timer fires\n",
		r.RunID, r.Name, r.Elapsed, r.Steps, r.Traffic.Sent, r.Traffic.Delivered, r.Traffic.TimersFired)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tKIND\tRECV\tSENT\tFWD\tDROP\tERRORS\tMEAN\tSTDDEV\tP95\tDECAY")
	for _, n := range r.Nodes {
		decay := "-"
		if n.DecayValue != nil {
			decay = fmt.Sprintf("%.2f", *n.DecayValue)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%.3f\t%.3f\t%.3f\t%s\n",
			n.ID, n.Kind, n.Received, n.Sent, n.Forwarded, n.Dropped,
			n.Errors.Count, n.Errors.Mean, n.Errors.StdDev, n.Errors.P95, decay)
	}
	return tw.Flush()
}
