package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

func sampleReport() remediation.Report {
	ts := time.Date(2026, time.June, 10, 9, 0, 0, 0, time.UTC)
	return remediation.Report{
		GeneratedAtUTC:    ts.Format(time.RFC3339),
		TotalTransactions: 500,
		Metrics: []remediation.MetricsSnapshot{
			{Timestamp: ts, SuccessRate: 0.92, AvgLatencyMS: 710, PatternsDetected: 1, ActionsTaken: 1, TotalTransactions: 500, CycleTimeMS: 2.1},
		},
		Patterns: []remediation.Pattern{
			{
				ID:          "issuer_degradation_1",
				Type:        remediation.PatternIssuerDegradation,
				Severity:    0.9,
				Scope:       map[string]string{"issuer": "HDFC"},
				Metrics:     map[string]float64{"failure_rate": 0.45},
				FirstSeen:   ts,
				LastSeen:    ts,
				Occurrences: 9,
			},
		},
		Actions: []remediation.Action{
			{
				ID:         "action_1",
				Timestamp:  ts,
				Type:       remediation.ActionReroute,
				Target:     "HDFC",
				Parameters: map[string]any{"from_issuer": "HDFC"},
				Confidence: 0.9,
				Reasoning:  "issuer failing",
				Executed:   true,
				Outcome: &remediation.OutcomeMetrics{
					SuccessRateBefore:      0.55,
					SuccessRateAfter:       0.80,
					SuccessRateImprovement: 0.25,
					LatencyBeforeMS:        900,
					LatencyAfterMS:         650,
					LatencyImprovementMS:   250,
					SampleSizeBefore:       100,
					SampleSizeAfter:        100,
					ActionSuccessful:       true,
				},
			},
		},
		Baseline: remediation.Baseline{SuccessRate: 0.93, FailureRate: 0.07, AvgLatencyMS: 720},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	original := sampleReport()
	path := filepath.Join(t.TempDir(), "report.json")
	if err := Save(path, original); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.TotalTransactions != original.TotalTransactions {
		t.Fatalf("transactions: got %d want %d", loaded.TotalTransactions, original.TotalTransactions)
	}
	if len(loaded.Metrics) != len(original.Metrics) {
		t.Fatalf("metrics: got %d want %d", len(loaded.Metrics), len(original.Metrics))
	}
	if len(loaded.Patterns) != len(original.Patterns) {
		t.Fatalf("patterns: got %d want %d", len(loaded.Patterns), len(original.Patterns))
	}
	if len(loaded.Actions) != len(original.Actions) {
		t.Fatalf("actions: got %d want %d", len(loaded.Actions), len(original.Actions))
	}
	if loaded.Actions[0].Outcome == nil || !loaded.Actions[0].Outcome.ActionSuccessful {
		t.Fatal("outcome lost in round trip")
	}
	if loaded.Baseline != original.Baseline {
		t.Fatalf("baseline: got %+v want %+v", loaded.Baseline, original.Baseline)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "report.json")
	if err := os.WriteFile(path, []byte(`{"generated_at_utc":"2026-06-10T09:00:00Z","surprise":true}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestLoadRejectsInvalidAction(t *testing.T) {
	t.Parallel()

	broken := sampleReport()
	// Executing a gated action without approval violates the gate.
	broken.Actions[0].RequiresApproval = true
	broken.Actions[0].Approved = false

	path := filepath.Join(t.TempDir(), "report.json")
	if err := Save(path, broken); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRenderText(t *testing.T) {
	t.Parallel()

	text := RenderText(sampleReport())
	for _, want := range []string{
		"transactions=500",
		"executed=1",
		"successful=1",
		"issuer_degradation: 1",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestRenderMarkdown(t *testing.T) {
	t.Parallel()

	md := RenderMarkdown(sampleReport())
	for _, want := range []string{
		"# Payment Operations Run Report",
		"## Patterns",
		"| issuer_degradation | 1 | 0.90 |",
		"| action_1 | reroute_payment | HDFC | true | +25.0% success |",
	} {
		if !strings.Contains(md, want) {
			t.Fatalf("markdown missing %q:\n%s", want, md)
		}
	}
}
