package detect

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

func newTestService() Service {
	counter := 0
	service := NewService()
	service.NewID = func() string {
		counter++
		return fmt.Sprintf("id-%03d", counter)
	}
	return service
}

func issuerBatch(issuer string, total, failed int, latencyMS float64, base time.Time) []remediation.Event {
	events := make([]remediation.Event, 0, total)
	for i := 0; i < total; i++ {
		status := remediation.StatusSuccess
		if i < failed {
			status = remediation.StatusFailed
		}
		events = append(events, remediation.Event{
			TransactionID: fmt.Sprintf("TXN_%s_%04d", issuer, i),
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			Method:        remediation.MethodCard,
			BankCode:      "HDFC",
			Issuer:        issuer,
			Status:        status,
			LatencyMS:     latencyMS,
			RoutingPath:   "primary",
		})
	}
	return events
}

func patternsOfType(patterns []remediation.Pattern, t remediation.PatternType) []remediation.Pattern {
	var out []remediation.Pattern
	for _, p := range patterns {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

func TestDetectIssuerDegradation(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	batch := issuerBatch("HDFC_ISSUER", 20, 9, 500, base)

	patterns := newTestService().Detect(Input{Batch: batch, LatencyCeilingMS: 800})
	degradations := patternsOfType(patterns, remediation.PatternIssuerDegradation)
	if len(degradations) != 1 {
		t.Fatalf("expected one issuer_degradation pattern, got %d", len(degradations))
	}

	pattern := degradations[0]
	if math.Abs(pattern.Severity-0.90) > 1e-9 {
		t.Fatalf("expected severity 0.90 for 45%% failure, got %v", pattern.Severity)
	}
	if pattern.Scope["issuer"] != "HDFC_ISSUER" {
		t.Fatalf("unexpected scope: %v", pattern.Scope)
	}
	if pattern.Metrics["failure_rate"] != 0.45 || pattern.Metrics["sample_size"] != 20 {
		t.Fatalf("unexpected metrics: %v", pattern.Metrics)
	}
	if !pattern.FirstSeen.Equal(base) || !pattern.LastSeen.Equal(base.Add(19*time.Second)) {
		t.Fatalf("first/last seen must span contributing events: %v .. %v", pattern.FirstSeen, pattern.LastSeen)
	}
}

func TestDetectSkipsSmallIssuerGroups(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	batch := issuerBatch("SBI_ISSUER", 4, 4, 5000, base)

	if patterns := newTestService().Detect(Input{Batch: batch, LatencyCeilingMS: 800}); len(patterns) != 0 {
		t.Fatalf("groups below minimum sample must emit nothing, got %d patterns", len(patterns))
	}
}

func TestDetectCeilingBreach(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	batch := issuerBatch("ICICI_ISSUER", 6, 0, 1400, base)

	patterns := newTestService().Detect(Input{Batch: batch, LatencyCeilingMS: 900})
	spikes := patternsOfType(patterns, remediation.PatternLatencySpike)
	if len(spikes) != 1 {
		t.Fatalf("expected one ceiling-based latency_spike, got %d", len(spikes))
	}
	if math.Abs(spikes[0].Severity-0.5) > 1e-9 {
		t.Fatalf("expected severity (1400-900)/1000 = 0.5, got %v", spikes[0].Severity)
	}
	if spikes[0].Metrics["limit_used"] != 900 {
		t.Fatalf("pattern must record the ceiling used: %v", spikes[0].Metrics)
	}
}

func TestDetectBothLatencyRulesFireForOneIssuer(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	batch := issuerBatch("VISA", 12, 0, 2600, base)

	patterns := newTestService().Detect(Input{
		Batch:            batch,
		Baseline:         remediation.Baseline{AvgLatencyMS: 900},
		BaselineSet:      true,
		LatencyCeilingMS: 800,
	})
	spikes := patternsOfType(patterns, remediation.PatternLatencySpike)
	if len(spikes) != 2 {
		t.Fatalf("ceiling and baseline rules must both fire, got %d spikes", len(spikes))
	}
	if spikes[0].ID == spikes[1].ID {
		t.Fatalf("overlapping patterns must carry distinct ids")
	}
	baselineSpike := spikes[1]
	want := remediation.Clamp01(2600.0 / (900.0 * 3))
	if math.Abs(baselineSpike.Severity-want) > 1e-9 {
		t.Fatalf("unexpected baseline severity: got %v, want %v", baselineSpike.Severity, want)
	}
	if baselineSpike.Metrics["baseline_latency"] != 900 {
		t.Fatalf("baseline spike must record the baseline: %v", baselineSpike.Metrics)
	}
}

func TestDetectBaselineLatencyDefaultsWhenUnset(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	batch := issuerBatch("VISA", 10, 0, 2700, base)

	patterns := newTestService().Detect(Input{Batch: batch, LatencyCeilingMS: 5000})
	spikes := patternsOfType(patterns, remediation.PatternLatencySpike)
	if len(spikes) != 1 {
		t.Fatalf("expected the baseline rule only, got %d spikes", len(spikes))
	}
	want := remediation.Clamp01(2700.0 / (1000.0 * 3))
	if math.Abs(spikes[0].Severity-want) > 1e-9 {
		t.Fatalf("unset baseline must default to 1000ms: got %v, want %v", spikes[0].Severity, want)
	}
}

func TestDetectRetryStorm(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	batch := make([]remediation.Event, 0, 12)
	for i := 0; i < 12; i++ {
		retries := 0
		if i < 5 {
			retries = 2
		}
		batch = append(batch, remediation.Event{
			TransactionID: fmt.Sprintf("TXN_%04d", i),
			Timestamp:     base.Add(time.Duration(i) * time.Second),
			Method:        remediation.MethodUPI,
			BankCode:      "AXIS",
			Issuer:        fmt.Sprintf("ISSUER_%d", i%4),
			Status:        remediation.StatusRetrying,
			LatencyMS:     700,
			RetryCount:    retries,
			RoutingPath:   "primary",
		})
	}

	patterns := newTestService().Detect(Input{Batch: batch, LatencyCeilingMS: 800})
	storms := patternsOfType(patterns, remediation.PatternRetryStorm)
	if len(storms) != 1 {
		t.Fatalf("expected exactly one retry_storm, got %d", len(storms))
	}

	storm := storms[0]
	wantSeverity := remediation.Clamp01(5.0 / 12.0 * 2)
	if math.Abs(storm.Severity-wantSeverity) > 1e-9 {
		t.Fatalf("unexpected storm severity: got %v, want %v", storm.Severity, wantSeverity)
	}
	if storm.Scope["global"] != "true" {
		t.Fatalf("retry storm must be globally scoped: %v", storm.Scope)
	}
	if storm.Occurrences != 5 {
		t.Fatalf("occurrences must count the storming subset: %d", storm.Occurrences)
	}
	if !storm.LastSeen.Equal(base.Add(4 * time.Second)) {
		t.Fatalf("last seen must come from the storming subset: %v", storm.LastSeen)
	}
}

func TestDetectRetryStormBelowRateThreshold(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	batch := make([]remediation.Event, 0, 20)
	for i := 0; i < 20; i++ {
		retries := 0
		if i < 4 {
			retries = 3
		}
		batch = append(batch, remediation.Event{
			TransactionID: fmt.Sprintf("TXN_%04d", i),
			Timestamp:     base,
			Method:        remediation.MethodWallet,
			BankCode:      "SBI",
			Issuer:        "SBI_ISSUER",
			Status:        remediation.StatusSuccess,
			LatencyMS:     400,
			RetryCount:    retries,
			RoutingPath:   "primary",
		})
	}

	patterns := newTestService().Detect(Input{Batch: batch, LatencyCeilingMS: 800})
	if storms := patternsOfType(patterns, remediation.PatternRetryStorm); len(storms) != 0 {
		t.Fatalf("20%% retry rate must not trigger a storm, got %d", len(storms))
	}
}

func TestDetectMethodFatigue(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	batch := make([]remediation.Event, 0, 10)
	for i := 0; i < 10; i++ {
		status := remediation.StatusSuccess
		if i < 3 {
			status = remediation.StatusFailed
		}
		batch = append(batch, remediation.Event{
			TransactionID: fmt.Sprintf("TXN_%04d", i),
			Timestamp:     base,
			Method:        remediation.MethodNetBanking,
			BankCode:      fmt.Sprintf("BANK_%d", i%3),
			Issuer:        fmt.Sprintf("ISSUER_%d", i%5),
			Status:        status,
			LatencyMS:     600,
			RoutingPath:   "primary",
		})
	}

	patterns := newTestService().Detect(Input{Batch: batch, LatencyCeilingMS: 800})
	fatigues := patternsOfType(patterns, remediation.PatternMethodFatigue)
	if len(fatigues) != 1 {
		t.Fatalf("expected one method_fatigue, got %d", len(fatigues))
	}
	if fatigues[0].Scope["method"] != string(remediation.MethodNetBanking) {
		t.Fatalf("unexpected fatigue scope: %v", fatigues[0].Scope)
	}
	want := remediation.Clamp01(0.3 * 1.5)
	if math.Abs(fatigues[0].Severity-want) > 1e-9 {
		t.Fatalf("unexpected fatigue severity: got %v, want %v", fatigues[0].Severity, want)
	}
}

func TestSeverityAlwaysClamped(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	batch := issuerBatch("KOTAK_ISSUER", 20, 20, 9000, base)

	patterns := newTestService().Detect(Input{
		Batch:            batch,
		Baseline:         remediation.Baseline{AvgLatencyMS: 100},
		BaselineSet:      true,
		LatencyCeilingMS: 200,
	})
	if len(patterns) == 0 {
		t.Fatalf("expected patterns from a fully degraded batch")
	}
	for _, pattern := range patterns {
		if pattern.Severity < 0 || pattern.Severity > 1 {
			t.Fatalf("severity out of range for %s: %v", pattern.Type, pattern.Severity)
		}
	}
}
