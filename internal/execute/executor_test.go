package execute

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

type stubLedger struct {
	mu      sync.Mutex
	entries map[string]*remediation.Action
}

func newStubLedger(actions ...*remediation.Action) *stubLedger {
	ledger := &stubLedger{entries: make(map[string]*remediation.Action)}
	for _, action := range actions {
		ledger.entries[action.ID] = action
	}
	return ledger
}

func (l *stubLedger) UpdateAction(id string, fn func(*remediation.Action)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[id]
	if !ok {
		return false
	}
	fn(entry)
	return true
}

func eventsWith(n int, successes int, latencyMS float64) []remediation.Event {
	events := make([]remediation.Event, 0, n)
	for i := 0; i < n; i++ {
		status := remediation.StatusFailed
		if i < successes {
			status = remediation.StatusSuccess
		}
		events = append(events, remediation.Event{
			TransactionID: "TXN",
			Status:        status,
			LatencyMS:     latencyMS,
		})
	}
	return events
}

func TestExecuteAutoApproved(t *testing.T) {
	t.Parallel()

	service := NewService(nil)
	action := remediation.Action{ID: "act-1", Type: remediation.ActionAdjustRetry, Target: "VISA"}
	if !service.Execute(&action) {
		t.Fatalf("ungated action must execute")
	}
	if !action.Executed {
		t.Fatalf("execute must mark the action executed")
	}
	if _, ok := service.ExecutedRegistry()["act-1"]; !ok {
		t.Fatalf("executed action must enter the registry")
	}
}

func TestExecuteGatedActionParksInPendingQueue(t *testing.T) {
	t.Parallel()

	service := NewService(nil)
	action := remediation.Action{ID: "act-2", Type: remediation.ActionReroute, Target: "VISA", RequiresApproval: true}
	if service.Execute(&action) {
		t.Fatalf("unapproved gated action must not execute")
	}
	if action.Executed {
		t.Fatalf("gated action must stay unexecuted until approved")
	}
	pending := service.PendingApprovals()
	if len(pending) != 1 || pending[0].ID != "act-2" {
		t.Fatalf("unexpected pending queue: %+v", pending)
	}
	if len(service.ExecutedRegistry()) != 0 {
		t.Fatalf("pending actions must not enter the executed registry")
	}
}

func TestApproveExecutesAndUpdatesLedger(t *testing.T) {
	t.Parallel()

	ledgerEntry := &remediation.Action{ID: "act-3", Type: remediation.ActionReroute, Target: "VISA", RequiresApproval: true}
	service := NewService(newStubLedger(ledgerEntry))

	action := *ledgerEntry
	service.Execute(&action)

	approved, err := service.Approve("act-3", true)
	if err != nil {
		t.Fatalf("unexpected approve error: %v", err)
	}
	if !approved.Approved || !approved.Executed {
		t.Fatalf("approved action must execute: %+v", approved)
	}
	if err := approved.Validate(); err != nil {
		t.Fatalf("approved action violates the approval gate: %v", err)
	}
	if !ledgerEntry.Approved || !ledgerEntry.Executed {
		t.Fatalf("approval must reach the ledger entry: %+v", ledgerEntry)
	}
	if len(service.PendingApprovals()) != 0 {
		t.Fatalf("approval must drain the pending queue")
	}
	if _, ok := service.ExecutedRegistry()["act-3"]; !ok {
		t.Fatalf("approved action must enter the executed registry")
	}
}

func TestRejectDiscardsWithoutExecuting(t *testing.T) {
	t.Parallel()

	ledgerEntry := &remediation.Action{ID: "act-4", Type: remediation.ActionReroute, Target: "VISA", RequiresApproval: true}
	service := NewService(newStubLedger(ledgerEntry))

	action := *ledgerEntry
	service.Execute(&action)

	rejected, err := service.Approve("act-4", false)
	if err != nil {
		t.Fatalf("unexpected reject error: %v", err)
	}
	if rejected.Executed {
		t.Fatalf("rejected action must not execute")
	}
	if ledgerEntry.Executed || ledgerEntry.Approved {
		t.Fatalf("rejection must leave the ledger entry untouched: %+v", ledgerEntry)
	}
	if len(service.ExecutedRegistry()) != 0 || len(service.PendingApprovals()) != 0 {
		t.Fatalf("rejection must leave no executor state behind")
	}
}

func TestApproveUnknownIDIsNotFound(t *testing.T) {
	t.Parallel()

	service := NewService(nil)
	if _, err := service.Approve("missing", true); !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("expected ErrActionNotFound, got %v", err)
	}
}

func TestRollback(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	service := NewService(nil)
	service.Now = func() time.Time { return now }

	action := remediation.Action{ID: "act-5", Type: remediation.ActionReroute, Target: "VISA"}
	service.Execute(&action)

	if err := service.Rollback("act-5", "performance degradation detected"); err != nil {
		t.Fatalf("unexpected rollback error: %v", err)
	}
	if _, ok := service.ExecutedRegistry()["act-5"]; ok {
		t.Fatalf("rollback must remove the action from the executed registry")
	}

	history := service.RollbackHistory()
	if len(history) != 1 {
		t.Fatalf("rollback must append exactly one history entry, got %d", len(history))
	}
	if history[0].Action.ID != "act-5" || !history[0].RolledBackAt.Equal(now) || history[0].Reason == "" {
		t.Fatalf("unexpected rollback record: %+v", history[0])
	}

	if err := service.Rollback("act-5", "again"); !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("second rollback must be a not-found no-op, got %v", err)
	}
	if len(service.RollbackHistory()) != 1 {
		t.Fatalf("failed rollback must not append history")
	}
}

func TestRollbackUnexecutedActionIsNoOp(t *testing.T) {
	t.Parallel()

	service := NewService(nil)
	action := remediation.Action{ID: "act-6", Type: remediation.ActionReroute, Target: "VISA", RequiresApproval: true}
	service.Execute(&action)

	if err := service.Rollback("act-6", "never ran"); !errors.Is(err, ErrActionNotFound) {
		t.Fatalf("pending actions are not in the executed registry, got %v", err)
	}
}

func TestEvaluateImpactMetrics(t *testing.T) {
	t.Parallel()

	service := NewService(nil)
	before := eventsWith(10, 6, 1000)
	after := eventsWith(10, 9, 700)

	metrics, ok := service.Evaluate(before, after)
	if !ok {
		t.Fatalf("expected metrics for non-empty sets")
	}
	if math.Abs(metrics.SuccessRateImprovement-0.3) > 1e-9 {
		t.Fatalf("unexpected success improvement: %v", metrics.SuccessRateImprovement)
	}
	if metrics.LatencyImprovementMS != 300 {
		t.Fatalf("unexpected latency improvement: %v", metrics.LatencyImprovementMS)
	}
	if !metrics.ActionSuccessful {
		t.Fatalf("clear improvement must count as successful")
	}
	if metrics.SampleSizeBefore != 10 || metrics.SampleSizeAfter != 10 {
		t.Fatalf("unexpected sample sizes: %+v", metrics)
	}
}

func TestEvaluateLatencyOnlySuccess(t *testing.T) {
	t.Parallel()

	service := NewService(nil)
	metrics, ok := service.Evaluate(eventsWith(10, 8, 1200), eventsWith(10, 8, 900))
	if !ok || !metrics.ActionSuccessful {
		t.Fatalf("latency improvement above 200ms alone must count as successful: %+v", metrics)
	}
}

func TestEvaluateEmptySetsProduceNoMetrics(t *testing.T) {
	t.Parallel()

	service := NewService(nil)
	if _, ok := service.Evaluate(nil, eventsWith(5, 5, 100)); ok {
		t.Fatalf("empty before set must produce no metrics")
	}
	if _, ok := service.Evaluate(eventsWith(5, 5, 100), nil); ok {
		t.Fatalf("empty after set must produce no metrics")
	}
}

func TestEvaluateBoundaryNotSuccessful(t *testing.T) {
	t.Parallel()

	service := NewService(nil)
	metrics, ok := service.Evaluate(eventsWith(25, 12, 900), eventsWith(25, 13, 900))
	if !ok {
		t.Fatalf("expected metrics")
	}
	// A 4% improvement with no latency gain stays below both success gates.
	if metrics.ActionSuccessful {
		t.Fatalf("sub-threshold improvement must not be successful: %+v", metrics)
	}
}
