package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tiger/payment-ops-agent/internal/agent"
	"github.com/tiger/payment-ops-agent/internal/calendar"
	"github.com/tiger/payment-ops-agent/internal/memory"
	"github.com/tiger/payment-ops-agent/internal/report"
	"github.com/tiger/payment-ops-agent/internal/stream"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the remediation loop and write the run report",
		RunE:  runLoop,
	}

	cmd.Flags().Int("cycles", 20, "number of loop cycles")
	cmd.Flags().Int64("seed", 42, "event generator seed")
	cmd.Flags().String("scenario", "", "failure scenario to inject")
	cmd.Flags().String("target", "", "issuer or bank the scenario targets")
	cmd.Flags().String("calendar", "", "threshold calendar CSV path")
	cmd.Flags().String("out", "agent_report.json", "report output path")
	cmd.Flags().String("summary", "agent_report.md", "Markdown summary output path")
	cmd.Flags().Bool("quiet", false, "suppress per-cycle logging")
	cmd.Flags().String("record", "", "append observed events to a JSONL record")
	cmd.Flags().String("replay", "", "serve events from a JSONL record instead of the generator")
	return cmd
}

func runLoop(cmd *cobra.Command, _ []string) error {
	cycles, _ := cmd.Flags().GetInt("cycles")
	seed, _ := cmd.Flags().GetInt64("seed")
	scenario, _ := cmd.Flags().GetString("scenario")
	target, _ := cmd.Flags().GetString("target")
	calendarPath, _ := cmd.Flags().GetString("calendar")
	outPath, _ := cmd.Flags().GetString("out")
	summaryPath, _ := cmd.Flags().GetString("summary")
	quiet, _ := cmd.Flags().GetBool("quiet")

	recordPath, _ := cmd.Flags().GetString("record")
	replayPath, _ := cmd.Flags().GetString("replay")

	if cycles < 1 {
		return fmt.Errorf("cycles must be positive, got %d", cycles)
	}
	if replayPath != "" && (scenario != "" || recordPath != "") {
		return fmt.Errorf("--replay cannot be combined with --scenario or --record")
	}

	var source agent.Source
	if replayPath != "" {
		replaySource, err := stream.LoadReplay(replayPath)
		if err != nil {
			return err
		}
		source = replaySource
	} else {
		generator := stream.NewGenerator(seed)
		if scenario != "" {
			if err := generator.Inject(stream.Scenario(scenario), target); err != nil {
				return err
			}
		}
		source = generator
		if recordPath != "" {
			source = &stream.Recorder{Source: generator, Path: recordPath}
		}
	}

	var table *calendar.Table
	if calendarPath != "" {
		loaded, err := calendar.Load(calendarPath)
		if err != nil {
			return err
		}
		table = loaded
	}

	logger := slog.Default()
	if quiet {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctrl, err := agent.NewController(agent.Config{
		Source:   source,
		Memory:   memory.NewService(memory.DefaultCapacity),
		Calendar: table,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := ctrl.Run(cmd.Context(), cycles); err != nil {
		return err
	}

	out := ctrl.Report()
	if err := report.Save(outPath, out); err != nil {
		return err
	}
	if err := os.WriteFile(summaryPath, []byte(report.RenderMarkdown(out)), 0o644); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), report.RenderText(out))
	fmt.Fprintf(cmd.OutOrStdout(), "report written: %s\n", outPath)
	fmt.Fprintf(cmd.OutOrStdout(), "summary written: %s\n", summaryPath)
	return nil
}

func scenariosCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List supported failure scenarios",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, scenario := range stream.Scenarios() {
				fmt.Fprintln(cmd.OutOrStdout(), scenario)
			}
			return nil
		},
	}
}
