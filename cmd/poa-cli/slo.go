package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tiger/payment-ops-agent/internal/report"
	"github.com/tiger/payment-ops-agent/internal/tooling/ops"
)

func sloCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "slo [report path]",
		Short: "Evaluate SLO gates over a completed run report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minSuccess, _ := cmd.Flags().GetFloat64("min-success-rate")
			maxLatency, _ := cmd.Flags().GetFloat64("max-latency-p95")

			loaded, err := report.Load(args[0])
			if err != nil {
				return err
			}

			thresholds := ops.DefaultSLOThresholds()
			thresholds.MinFinalSuccessRate = minSuccess
			thresholds.MaxAvgLatencyP95MS = maxLatency

			gate := ops.EvaluateSLOGates(loaded, thresholds)
			fmt.Fprintln(cmd.OutOrStdout(), ops.RenderGateReport(gate))
			if !gate.Passed {
				return fmt.Errorf("%d SLO gate violation(s)", len(gate.Violations))
			}
			return nil
		},
	}
	cmd.Flags().Float64("min-success-rate", ops.DefaultSLOThresholds().MinFinalSuccessRate, "minimum final success rate")
	cmd.Flags().Float64("max-latency-p95", ops.DefaultSLOThresholds().MaxAvgLatencyP95MS, "maximum p95 of per-cycle average latency (ms)")
	return cmd
}
