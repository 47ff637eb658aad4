package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tiger/payment-ops-agent/internal/calendar"
)

func calendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Manage the operating threshold calendar",
	}
	cmd.AddCommand(calendarGenerateCmd())
	cmd.AddCommand(calendarShowCmd())
	return cmd
}

func calendarGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a full-year threshold calendar CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			year, _ := cmd.Flags().GetInt("year")
			out, _ := cmd.Flags().GetString("out")

			days := calendar.Generate(year)
			if err := calendar.Write(out, days); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "calendar written: %s (%d days)\n", out, len(days))
			return nil
		},
	}
	cmd.Flags().Int("year", time.Now().Year(), "calendar year")
	cmd.Flags().String("out", "payment_calendar.csv", "output CSV path")
	return cmd
}

func calendarShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [path]",
		Short: "Show the thresholds for one date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			parsed, err := time.Parse(calendar.DateLayout, date)
			if err != nil {
				return fmt.Errorf("parse date: %w", err)
			}

			table, err := calendar.Load(args[0])
			if err != nil {
				return err
			}
			day, ok := table.Lookup(parsed)
			if !ok {
				return fmt.Errorf("no calendar row for %s", date)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"%s %s max_failure_rate=%.2f max_latency=%.0fms peak=%02d:00-%02d:00\n",
				day.Date, day.Context, day.MaxFailureRate, day.MaxLatencyMS,
				day.PeakStartHour, day.PeakEndHour)
			return nil
		},
	}
	cmd.Flags().String("date", time.Now().Format(calendar.DateLayout), "date to look up (YYYY-MM-DD)")
	return cmd
}
