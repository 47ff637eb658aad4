package ops

import (
	"strings"
	"testing"
	"time"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

func healthyRun() remediation.Report {
	ts := time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC)
	return remediation.Report{
		TotalTransactions: 200,
		Metrics: []remediation.MetricsSnapshot{
			{Timestamp: ts, SuccessRate: 0.90, AvgLatencyMS: 820, CycleTimeMS: 2},
			{Timestamp: ts.Add(time.Minute), SuccessRate: 0.93, AvgLatencyMS: 780, CycleTimeMS: 3},
			{Timestamp: ts.Add(2 * time.Minute), SuccessRate: 0.95, AvgLatencyMS: 700, CycleTimeMS: 2},
		},
		Actions: []remediation.Action{
			{
				ID: "action_1", Type: remediation.ActionReroute, Target: "HDFC",
				Confidence: 0.9, Executed: true,
				Outcome: &remediation.OutcomeMetrics{SuccessRateImprovement: 0.2, ActionSuccessful: true},
			},
			{
				ID: "action_2", Type: remediation.ActionAlertOps, Target: "upi",
				Confidence: 0.75, Executed: true,
				Outcome: &remediation.OutcomeMetrics{SuccessRateImprovement: 0.01},
			},
		},
	}
}

func TestHealthyRunPasses(t *testing.T) {
	t.Parallel()

	gate := EvaluateSLOGates(healthyRun(), DefaultSLOThresholds())
	if !gate.Passed {
		t.Fatalf("expected pass, violations: %v", gate.Violations)
	}
	if gate.FinalSuccessRate != 0.95 {
		t.Fatalf("unexpected final success rate %v", gate.FinalSuccessRate)
	}
	if gate.ExecutedActions != 2 || gate.EvaluatedActions != 2 {
		t.Fatalf("unexpected action totals %+v", gate)
	}
}

func TestLowSuccessRateFails(t *testing.T) {
	t.Parallel()

	run := healthyRun()
	run.Metrics[len(run.Metrics)-1].SuccessRate = 0.60

	gate := EvaluateSLOGates(run, DefaultSLOThresholds())
	if gate.Passed {
		t.Fatal("expected failure")
	}
	if len(gate.Violations) != 1 || !strings.Contains(gate.Violations[0], "final success rate") {
		t.Fatalf("unexpected violations %v", gate.Violations)
	}
}

func TestRollbackShareGate(t *testing.T) {
	t.Parallel()

	run := healthyRun()
	run.Actions[0].Outcome.SuccessRateImprovement = -0.3
	run.Actions[1].Outcome.SuccessRateImprovement = -0.25

	gate := EvaluateSLOGates(run, DefaultSLOThresholds())
	if gate.RolledBackActions != 2 {
		t.Fatalf("expected 2 rollbacks, got %d", gate.RolledBackActions)
	}
	if gate.Passed {
		t.Fatal("expected rollback share violation")
	}
}

func TestPendingApprovalsGate(t *testing.T) {
	t.Parallel()

	run := healthyRun()
	for i := 0; i < 6; i++ {
		run.Actions = append(run.Actions, remediation.Action{
			ID: "gated", Type: remediation.ActionReroute, Target: "HDFC",
			Confidence: 0.9, RequiresApproval: true,
		})
	}

	gate := EvaluateSLOGates(run, DefaultSLOThresholds())
	if gate.PendingApprovals != 6 {
		t.Fatalf("expected 6 pending, got %d", gate.PendingApprovals)
	}
	if gate.Passed {
		t.Fatal("expected pending approvals violation")
	}
}

func TestEmptyRunFails(t *testing.T) {
	t.Parallel()

	gate := EvaluateSLOGates(remediation.Report{}, DefaultSLOThresholds())
	if gate.Passed {
		t.Fatal("expected failure for empty run")
	}
}

func TestRenderGateReport(t *testing.T) {
	t.Parallel()

	gate := EvaluateSLOGates(healthyRun(), DefaultSLOThresholds())
	out := RenderGateReport(gate)
	if !strings.Contains(out, "slo gates PASSED") {
		t.Fatalf("unexpected render:\n%s", out)
	}
}
