package stream

import (
	"testing"
	"time"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

func TestEventsAreWellFormed(t *testing.T) {
	t.Parallel()

	generator := NewGenerator(11)
	generator.Now = func() time.Time { return time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC) }

	events, err := generator.Events(200)
	if err != nil {
		t.Fatalf("unexpected source error: %v", err)
	}
	if len(events) != 200 {
		t.Fatalf("expected a full batch, got %d", len(events))
	}

	seen := make(map[string]struct{}, len(events))
	for _, event := range events {
		if err := event.Validate(); err != nil {
			t.Fatalf("generated event invalid: %v", err)
		}
		if _, dup := seen[event.TransactionID]; dup {
			t.Fatalf("duplicate transaction id %s", event.TransactionID)
		}
		seen[event.TransactionID] = struct{}{}
		if event.LatencyMS < 100 {
			t.Fatalf("latency below the floor: %v", event.LatencyMS)
		}
		if event.Status == remediation.StatusFailed && event.ErrorCode == "" {
			t.Fatalf("failed events must carry an error code")
		}
		if event.Status == remediation.StatusSuccess && event.RetryCount != 0 {
			t.Fatalf("successful events carry no retries")
		}
	}
}

func TestSameSeedSameStream(t *testing.T) {
	t.Parallel()

	fixed := func() time.Time { return time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC) }
	a := NewGenerator(7)
	a.Now = fixed
	b := NewGenerator(7)
	b.Now = fixed

	eventsA, _ := a.Events(50)
	eventsB, _ := b.Events(50)
	for i := range eventsA {
		if eventsA[i] != eventsB[i] {
			t.Fatalf("streams diverged at %d: %+v vs %+v", i, eventsA[i], eventsB[i])
		}
	}
}

func TestInjectTargetedScenario(t *testing.T) {
	t.Parallel()

	generator := NewGenerator(3)
	generator.Now = func() time.Time { return time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC) }

	if err := generator.Inject(ScenarioIssuerDown, "HDFC_ISSUER"); err != nil {
		t.Fatalf("unexpected inject error: %v", err)
	}
	if scenario, target := generator.Active(); scenario != ScenarioIssuerDown || target != "HDFC_ISSUER" {
		t.Fatalf("unexpected active scenario: %s/%s", scenario, target)
	}

	events, _ := generator.Events(2000)
	var targetFailed, targetTotal, otherFailed, otherTotal int
	for _, event := range events {
		if event.Issuer == "HDFC_ISSUER" {
			targetTotal++
			if event.Status == remediation.StatusFailed {
				targetFailed++
			}
			continue
		}
		otherTotal++
		if event.Status == remediation.StatusFailed {
			otherFailed++
		}
	}

	targetRate := float64(targetFailed) / float64(targetTotal)
	otherRate := float64(otherFailed) / float64(otherTotal)
	if targetRate < 0.2 {
		t.Fatalf("degraded issuer failure rate too low: %v", targetRate)
	}
	if otherRate > 0.1 {
		t.Fatalf("untargeted traffic must stay near the normal profile: %v", otherRate)
	}
}

func TestInjectUnknownScenario(t *testing.T) {
	t.Parallel()

	generator := NewGenerator(1)
	if err := generator.Inject(Scenario("meltdown"), ""); err == nil {
		t.Fatalf("expected unknown scenario error")
	}
}

func TestClearRestoresNormal(t *testing.T) {
	t.Parallel()

	generator := NewGenerator(1)
	if err := generator.Inject(ScenarioNetworkSlow, ""); err != nil {
		t.Fatalf("unexpected inject error: %v", err)
	}
	generator.Clear()
	if scenario, target := generator.Active(); scenario != ScenarioNormal || target != "" {
		t.Fatalf("clear must restore the normal profile: %s/%s", scenario, target)
	}
}
