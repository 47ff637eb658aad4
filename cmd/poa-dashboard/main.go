// Command poa-dashboard serves the operator API and live websocket feed.
// Cycles run on demand through POST /api/run-cycles; the loop holds no
// background schedule of its own.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"

	"github.com/tiger/payment-ops-agent/internal/agent"
	"github.com/tiger/payment-ops-agent/internal/calendar"
	"github.com/tiger/payment-ops-agent/internal/config"
	"github.com/tiger/payment-ops-agent/internal/dashboard"
	"github.com/tiger/payment-ops-agent/internal/memory"
	"github.com/tiger/payment-ops-agent/internal/observability/telemetry"
	"github.com/tiger/payment-ops-agent/internal/stream"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "poa-dashboard: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := flag.NewFlagSet("poa-dashboard", flag.ContinueOnError)
	configDir := flags.String("config", ".", "directory holding config.yaml")
	addr := flags.String("addr", "", "override configured listen address")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configDir)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger := newLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	source := stream.NewGenerator(cfg.Agent.Seed)
	if cfg.Agent.InitialScenario != "" {
		if err := source.Inject(stream.Scenario(cfg.Agent.InitialScenario), cfg.Agent.ScenarioTarget); err != nil {
			return err
		}
	}

	table, err := calendar.Load(cfg.Agent.CalendarPath)
	if err != nil {
		logger.Warn("calendar unavailable, using default thresholds",
			"path", cfg.Agent.CalendarPath, "error", err)
		table = nil
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

	hub := dashboard.NewHub(logger)
	go hub.Run()
	defer hub.Stop()

	server := dashboard.NewServer(ctrl, source, hub, logger)
	logger.Info("dashboard listening", "addr", cfg.Server.Addr)
	return server.Run(cfg.Server.Addr)
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
