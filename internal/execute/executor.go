// Package execute gates decided actions behind approval, tracks the
// executed registry, and measures before/after action impact.
package execute

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

// ErrActionNotFound reports an approval or rollback request for an id the
// executor does not hold. Callers treat it as a no-op, not a fatal error.
var ErrActionNotFound = errors.New("action not found")

const (
	// successRateGain is the improvement above which an action counts as successful.
	successRateGain = 0.05
	// latencyGainMS is the latency reduction above which an action counts as successful.
	latencyGainMS = 200
)

// RollbackRecord is one retraction entry in the rollback history.
type RollbackRecord struct {
	Action       remediation.Action `json:"action"`
	RolledBackAt time.Time          `json:"rolled_back_at"`
	Reason       string             `json:"reason"`
}

// Ledger is the action-ledger update surface the executor uses to reflect
// approval decisions on ledger-resident entries.
type Ledger interface {
	UpdateAction(id string, fn func(*remediation.Action)) bool
}

// Service holds the pending-approval queue and the executed registry behind
// one mutex. Approve may be called from outside the controller goroutine and
// is serialized against Execute here.
type Service struct {
	mu sync.Mutex

	pending   map[string]remediation.Action
	executed  map[string]remediation.Action
	rollbacks []RollbackRecord

	ledger Ledger
	Now    func() time.Time
}

// NewService constructs an executor bound to the given action ledger.
// A nil ledger is allowed; approval decisions then only affect the registry.
func NewService(ledger Ledger) *Service {
	return &Service{
		pending:  make(map[string]remediation.Action),
		executed: make(map[string]remediation.Action),
		ledger:   ledger,
		Now:      time.Now,
	}
}

// Execute runs an action through the approval gate. Gated, unapproved
// actions move to the pending queue and are not executed; everything else
// is marked executed and enters the registry. Reports whether it executed.
func (s *Service) Execute(action *remediation.Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executeLocked(action)
}

func (s *Service) executeLocked(action *remediation.Action) bool {
	if action.RequiresApproval && !action.Approved {
		s.pending[action.ID] = *action
		return false
	}
	action.Executed = true
	s.executed[action.ID] = *action
	return true
}

// Approve resolves a pending action with a human decision. Approval marks
// the action approved, re-runs execution, and reflects both flags on the
// ledger entry; rejection discards the pending action without executing.
func (s *Service) Approve(id string, approve bool) (remediation.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := s.pending[id]
	if !ok {
		return remediation.Action{}, fmt.Errorf("approve %s: %w", id, ErrActionNotFound)
	}
	delete(s.pending, id)

	if !approve {
		return action, nil
	}

	action.Approved = true
	s.executeLocked(&action)
	if s.ledger != nil {
		s.ledger.UpdateAction(id, func(entry *remediation.Action) {
			entry.Approved = true
			entry.Executed = true
		})
	}
	return action, nil
}

// Rollback retracts an executed action from the registry and appends one
// rollback-history entry. The ledger record itself is never removed.
func (s *Service) Rollback(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := s.executed[id]
	if !ok {
		return fmt.Errorf("rollback %s: %w", id, ErrActionNotFound)
	}
	delete(s.executed, id)
	s.rollbacks = append(s.rollbacks, RollbackRecord{
		Action:       action,
		RolledBackAt: s.now(),
		Reason:       reason,
	})
	return nil
}

// Evaluate computes before/after impact metrics for an action. Both event
// sets must be non-empty; otherwise no metrics are produced and the action
// stays unevaluated.
func (s *Service) Evaluate(before, after []remediation.Event) (remediation.OutcomeMetrics, bool) {
	if len(before) == 0 || len(after) == 0 {
		return remediation.OutcomeMetrics{}, false
	}

	successBefore := successRate(before)
	successAfter := successRate(after)
	latencyBefore := meanLatency(before)
	latencyAfter := meanLatency(after)

	metrics := remediation.OutcomeMetrics{
		SuccessRateBefore:      successBefore,
		SuccessRateAfter:       successAfter,
		SuccessRateImprovement: successAfter - successBefore,
		LatencyBeforeMS:        latencyBefore,
		LatencyAfterMS:         latencyAfter,
		LatencyImprovementMS:   latencyBefore - latencyAfter,
		SampleSizeBefore:       len(before),
		SampleSizeAfter:        len(after),
	}
	metrics.ActionSuccessful = metrics.SuccessRateImprovement > successRateGain ||
		metrics.LatencyImprovementMS > latencyGainMS
	return metrics, true
}

// PendingApprovals returns the approval queue ordered by decision time.
func (s *Service) PendingApprovals() []remediation.Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]remediation.Action, 0, len(s.pending))
	for _, action := range s.pending {
		out = append(out, action)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ExecutedRegistry returns a copy of the executed registry keyed by id.
func (s *Service) ExecutedRegistry() map[string]remediation.Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]remediation.Action, len(s.executed))
	for id, action := range s.executed {
		out[id] = action
	}
	return out
}

// RollbackHistory returns a copy of the rollback bookkeeping entries.
func (s *Service) RollbackHistory() []RollbackRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RollbackRecord, len(s.rollbacks))
	copy(out, s.rollbacks)
	return out
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func successRate(events []remediation.Event) float64 {
	successes := 0
	for _, event := range events {
		if event.Status == remediation.StatusSuccess {
			successes++
		}
	}
	return float64(successes) / float64(len(events))
}

func meanLatency(events []remediation.Event) float64 {
	var sum float64
	for _, event := range events {
		sum += event.LatencyMS
	}
	return sum / float64(len(events))
}
