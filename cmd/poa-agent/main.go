// Command poa-agent runs the remediation loop headless: it observes the
// configured event stream for a fixed number of cycles, then writes the run
// report and its Markdown summary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/tiger/payment-ops-agent/internal/agent"
	"github.com/tiger/payment-ops-agent/internal/calendar"
	"github.com/tiger/payment-ops-agent/internal/config"
	"github.com/tiger/payment-ops-agent/internal/memory"
	"github.com/tiger/payment-ops-agent/internal/observability/telemetry"
	"github.com/tiger/payment-ops-agent/internal/report"
	"github.com/tiger/payment-ops-agent/internal/stream"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "poa-agent: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	flags := flag.NewFlagSet("poa-agent", flag.ContinueOnError)
	configDir := flags.String("config", ".", "directory holding config.yaml")
	cycles := flags.Int("cycles", 0, "override configured cycle count")
	scenario := flags.String("scenario", "", "inject a failure scenario before running")
	target := flags.String("target", "", "issuer or bank the scenario targets")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		return err
	}
	if *cycles > 0 {
		cfg.Agent.Cycles = *cycles
	}
	if *scenario != "" {
		cfg.Agent.InitialScenario = *scenario
		cfg.Agent.ScenarioTarget = *target
	}

	logger := newLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	source := stream.NewGenerator(cfg.Agent.Seed)
	if cfg.Agent.InitialScenario != "" {
		if err := source.Inject(stream.Scenario(cfg.Agent.InitialScenario), cfg.Agent.ScenarioTarget); err != nil {
			return err
		}
		logger.Info("scenario injected",
			"scenario", cfg.Agent.InitialScenario,
			"target", cfg.Agent.ScenarioTarget,
		)
	}

	table, err := calendar.Load(cfg.Agent.CalendarPath)
	if err != nil {
		logger.Warn("calendar unavailable, using default thresholds",
			"path", cfg.Agent.CalendarPath, "error", err)
		table = nil
	} else {
		logger.Info("calendar loaded", "path", cfg.Agent.CalendarPath, "days", table.Len())
	}

	var sink telemetry.Sink
	if cfg.Telemetry.CollectorURL != "" {
		sink = telemetry.NewHTTPSink(cfg.Telemetry.CollectorURL, nil)
	}
	pipeline := telemetry.NewPipeline(sink, telemetry.Config{
		QueueCapacity: cfg.Telemetry.QueueCapacity,
	})
	defer pipeline.Close()

	ctrl, err := agent.NewController(agent.Config{
		Source:    source,
		Memory:    memory.NewService(cfg.Agent.WindowCapacity),
		Calendar:  table,
		Telemetry: pipeline,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	interval := time.Duration(cfg.Agent.IntervalMS) * time.Millisecond
	logger.Info("starting remediation loop", "cycles", cfg.Agent.Cycles, "interval", interval)
	if err := runLoop(ctx, ctrl, cfg.Agent.Cycles, interval); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("loop interrupted, writing partial report")
		} else {
			return err
		}
	}

	out := ctrl.Report()
	if err := report.Save(cfg.Agent.ReportPath, out); err != nil {
		return err
	}
	if err := os.WriteFile(cfg.Agent.SummaryPath, []byte(report.RenderMarkdown(out)), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	fmt.Fprintln(stdout, report.RenderText(out))
	fmt.Fprintf(stdout, "report written: %s\n", cfg.Agent.ReportPath)
	fmt.Fprintf(stdout, "summary written: %s\n", cfg.Agent.SummaryPath)
	return nil
}

func runLoop(ctx context.Context, ctrl *agent.Controller, cycles int, interval time.Duration) error {
	for i := 0; i < cycles; i++ {
		if _, err := ctrl.RunCycle(ctx); err != nil {
			return err
		}
		if interval > 0 && i < cycles-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: "15:04:05",
	}))
}
