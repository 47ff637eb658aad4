// Package ops evaluates operational gates over a completed run report.
// A run passes when the loop held the platform inside its health envelope:
// success rate up, latency bounded, interventions measured and not reverted
// in bulk.
package ops

import (
	"fmt"
	"math"
	"sort"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

// SLOThresholds define the run health envelope.
type SLOThresholds struct {
	MinFinalSuccessRate float64
	MaxAvgLatencyP95MS  float64
	MaxCycleTimeP95MS   float64
	MinEvaluatedShare   float64
	MaxRollbackShare    float64
	MaxPendingApprovals int
}

// DefaultSLOThresholds returns the repository baseline envelope.
func DefaultSLOThresholds() SLOThresholds {
	return SLOThresholds{
		MinFinalSuccessRate: 0.85,
		MaxAvgLatencyP95MS:  2000,
		MaxCycleTimeP95MS:   250,
		MinEvaluatedShare:   0.5,
		MaxRollbackShare:    0.25,
		MaxPendingApprovals: 5,
	}
}

// SLOGateReport summarizes gate results for one run.
type SLOGateReport struct {
	Cycles            int      `json:"cycles"`
	FinalSuccessRate  float64  `json:"final_success_rate"`
	AvgLatencyP95MS   *float64 `json:"avg_latency_p95_ms,omitempty"`
	CycleTimeP95MS    *float64 `json:"cycle_time_p95_ms,omitempty"`
	ExecutedActions   int      `json:"executed_actions"`
	EvaluatedActions  int      `json:"evaluated_actions"`
	RolledBackActions int      `json:"rolled_back_actions"`
	PendingApprovals  int      `json:"pending_approvals"`
	Violations        []string `json:"violations,omitempty"`
	Passed            bool     `json:"passed"`
}

// EvaluateSLOGates checks a run report against the thresholds.
func EvaluateSLOGates(run remediation.Report, thresholds SLOThresholds) SLOGateReport {
	gate := SLOGateReport{Cycles: len(run.Metrics)}
	if gate.Cycles == 0 {
		gate.Violations = append(gate.Violations, "no cycle snapshots available for SLO validation")
		return gate
	}

	latencies := make([]float64, 0, gate.Cycles)
	cycleTimes := make([]float64, 0, gate.Cycles)
	for _, snapshot := range run.Metrics {
		latencies = append(latencies, snapshot.AvgLatencyMS)
		cycleTimes = append(cycleTimes, snapshot.CycleTimeMS)
	}
	gate.FinalSuccessRate = run.Metrics[gate.Cycles-1].SuccessRate

	latencyP95 := percentile95(latencies)
	gate.AvgLatencyP95MS = &latencyP95
	cycleP95 := percentile95(cycleTimes)
	gate.CycleTimeP95MS = &cycleP95

	for _, action := range run.Actions {
		if action.Executed {
			gate.ExecutedActions++
		} else if action.RequiresApproval && !action.Approved {
			gate.PendingApprovals++
		}
		if action.Outcome == nil {
			continue
		}
		gate.EvaluatedActions++
		if action.Outcome.SuccessRateImprovement < -0.1 {
			gate.RolledBackActions++
		}
	}

	if gate.FinalSuccessRate < thresholds.MinFinalSuccessRate {
		gate.Violations = append(gate.Violations,
			fmt.Sprintf("final success rate=%.3f below required=%.3f", gate.FinalSuccessRate, thresholds.MinFinalSuccessRate))
	}
	if latencyP95 > thresholds.MaxAvgLatencyP95MS {
		gate.Violations = append(gate.Violations,
			fmt.Sprintf("avg latency p95=%.0fms exceeds threshold=%.0fms", latencyP95, thresholds.MaxAvgLatencyP95MS))
	}
	if cycleP95 > thresholds.MaxCycleTimeP95MS {
		gate.Violations = append(gate.Violations,
			fmt.Sprintf("cycle time p95=%.1fms exceeds threshold=%.1fms", cycleP95, thresholds.MaxCycleTimeP95MS))
	}
	if gate.ExecutedActions > 0 {
		evaluatedShare := float64(gate.EvaluatedActions) / float64(gate.ExecutedActions)
		if evaluatedShare < thresholds.MinEvaluatedShare {
			gate.Violations = append(gate.Violations,
				fmt.Sprintf("evaluated share=%.2f below required=%.2f", evaluatedShare, thresholds.MinEvaluatedShare))
		}
	}
	if gate.EvaluatedActions > 0 {
		rollbackShare := float64(gate.RolledBackActions) / float64(gate.EvaluatedActions)
		if rollbackShare > thresholds.MaxRollbackShare {
			gate.Violations = append(gate.Violations,
				fmt.Sprintf("rollback share=%.2f exceeds max=%.2f", rollbackShare, thresholds.MaxRollbackShare))
		}
	}
	if gate.PendingApprovals > thresholds.MaxPendingApprovals {
		gate.Violations = append(gate.Violations,
			fmt.Sprintf("pending approvals=%d exceeds max=%d", gate.PendingApprovals, thresholds.MaxPendingApprovals))
	}

	gate.Passed = len(gate.Violations) == 0
	return gate
}

// RenderGateReport renders one line per gate outcome for the CLI.
func RenderGateReport(gate SLOGateReport) string {
	status := "PASSED"
	if !gate.Passed {
		status = "FAILED"
	}
	out := fmt.Sprintf("slo gates %s: cycles=%d final_success_rate=%.3f executed=%d evaluated=%d rolled_back=%d pending=%d",
		status, gate.Cycles, gate.FinalSuccessRate, gate.ExecutedActions,
		gate.EvaluatedActions, gate.RolledBackActions, gate.PendingApprovals)
	for _, violation := range gate.Violations {
		out += "\n- " + violation
	}
	return out
}

func percentile95(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	copied := append([]float64(nil), values...)
	sort.Float64s(copied)
	index := int(math.Ceil(0.95*float64(len(copied)))) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(copied) {
		index = len(copied) - 1
	}
	return copied[index]
}
