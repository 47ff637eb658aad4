// Package memory holds the agent's shared state: the bounded event window,
// the action ledger, the pattern table, and derived baseline statistics.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

// DefaultCapacity bounds the event window when no capacity is configured.
const DefaultCapacity = 1000

// DefaultLatencyOverrideMS is the detector latency ceiling used when no
// calendar row supplies one.
const DefaultLatencyOverrideMS = 800

// baselineMinSample is the minimum window length required before baseline
// statistics are considered meaningful.
const baselineMinSample = 100

// Service is the single-writer/multi-reader state store. The controller is
// the only writer during a cycle; read-side consumers take snapshots at any
// time through the RWMutex.
type Service struct {
	mu sync.RWMutex

	capacity int
	events   []remediation.Event
	head     int
	count    int

	actions  []remediation.Action
	patterns map[string]remediation.Pattern
	outcomes map[remediation.ActionType][]remediation.OutcomeMetrics

	baseline    remediation.Baseline
	baselineSet bool

	latencyOverrideMS float64
}

// NewService constructs a window memory with the given event capacity.
// Capacity values < 1 fall back to DefaultCapacity.
func NewService(capacity int) *Service {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Service{
		capacity:          capacity,
		events:            make([]remediation.Event, capacity),
		patterns:          make(map[string]remediation.Pattern),
		outcomes:          make(map[remediation.ActionType][]remediation.OutcomeMetrics),
		latencyOverrideMS: DefaultLatencyOverrideMS,
	}
}

// Record appends an event, evicting the oldest when the window is full.
func (s *Service) Record(event remediation.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tail := (s.head + s.count) % s.capacity
	s.events[tail] = event
	if s.count < s.capacity {
		s.count++
		return
	}
	s.head = (s.head + 1) % s.capacity
}

// Len returns the current window length. Never exceeds capacity.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Capacity returns the configured window bound.
func (s *Service) Capacity() int {
	return s.capacity
}

// Recent returns the last n events in arrival order, or the whole window
// when n exceeds the window length. Pure read.
func (s *Service) Recent(n int) []remediation.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recentLocked(n)
}

func (s *Service) recentLocked(n int) []remediation.Event {
	if n < 0 || n > s.count {
		n = s.count
	}
	out := make([]remediation.Event, 0, n)
	start := s.count - n
	for i := start; i < s.count; i++ {
		out = append(out, s.events[(s.head+i)%s.capacity])
	}
	return out
}

// PartitionAround splits the window at t: events strictly before t (most
// recent limit entries) and events at or after t (earliest limit entries),
// both in arrival order. Used by the learning pass to measure action impact.
func (s *Service) PartitionAround(t time.Time, limit int) (before, after []remediation.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := 0; i < s.count; i++ {
		event := s.events[(s.head+i)%s.capacity]
		if event.Timestamp.Before(t) {
			before = append(before, event)
			continue
		}
		if limit > 0 && len(after) >= limit {
			break
		}
		after = append(after, event)
	}
	if limit > 0 && len(before) > limit {
		before = before[len(before)-limit:]
	}
	return before, after
}

// RecomputeBaseline refreshes baseline statistics over the entire current
// window. No-op below the minimum sample size.
func (s *Service) RecomputeBaseline() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count < baselineMinSample {
		return
	}

	var successes, failures int
	var latencySum float64
	for i := 0; i < s.count; i++ {
		event := s.events[(s.head+i)%s.capacity]
		switch event.Status {
		case remediation.StatusSuccess:
			successes++
		case remediation.StatusFailed:
			failures++
		}
		latencySum += event.LatencyMS
	}

	total := float64(s.count)
	s.baseline = remediation.Baseline{
		SuccessRate:  float64(successes) / total,
		FailureRate:  float64(failures) / total,
		AvgLatencyMS: latencySum / total,
	}
	s.baselineSet = true
}

// Baseline returns the current baseline and whether one has been computed.
func (s *Service) Baseline() (remediation.Baseline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseline, s.baselineSet
}

// SetLatencyOverride replaces the detector's dynamic latency ceiling.
// The value persists across cycles until replaced.
func (s *Service) SetLatencyOverride(ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms <= 0 {
		ms = DefaultLatencyOverrideMS
	}
	s.latencyOverrideMS = ms
}

// LatencyOverride returns the active dynamic latency ceiling.
func (s *Service) LatencyOverride() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latencyOverrideMS
}

// AddAction appends an action to the ledger. The ledger is append-only;
// rollback removes actions from the executor registry, never from here.
func (s *Service) AddAction(action remediation.Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, action)
}

// UpdateAction applies fn to the ledger entry with the given id under the
// write lock. Reports whether the entry was found.
func (s *Service) UpdateAction(id string, fn func(*remediation.Action)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.actions) - 1; i >= 0; i-- {
		if s.actions[i].ID == id {
			fn(&s.actions[i])
			return true
		}
	}
	return false
}

// RecordOutcome attaches outcome metrics to a ledger action and appends the
// result to the per-action-type history used for confidence learning.
// The first evaluation wins; later calls are rejected.
func (s *Service) RecordOutcome(id string, metrics remediation.OutcomeMetrics) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.actions) - 1; i >= 0; i-- {
		if s.actions[i].ID != id {
			continue
		}
		if s.actions[i].Outcome != nil {
			return false
		}
		s.actions[i].Outcome = &metrics
		s.outcomes[s.actions[i].Type] = append(s.outcomes[s.actions[i].Type], metrics)
		return true
	}
	return false
}

// CountInFlight counts executed actions still awaiting evaluation.
func (s *Service) CountInFlight() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inFlight := 0
	for i := range s.actions {
		if s.actions[i].Executed && s.actions[i].Outcome == nil {
			inFlight++
		}
	}
	return inFlight
}

// AvgSuccessImprovement averages historical success-rate improvement for an
// action type. Returns 0 when no outcomes exist yet.
func (s *Service) AvgSuccessImprovement(actionType remediation.ActionType) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.outcomes[actionType]
	if len(history) == 0 {
		return 0
	}
	var sum float64
	for _, outcome := range history {
		sum += outcome.SuccessRateImprovement
	}
	return sum / float64(len(history))
}

// RecentActions returns the last n ledger actions in insertion order.
func (s *Service) RecentActions(n int) []remediation.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n < 0 || n > len(s.actions) {
		n = len(s.actions)
	}
	out := make([]remediation.Action, n)
	copy(out, s.actions[len(s.actions)-n:])
	return out
}

// ActionsSnapshot copies the full ledger.
func (s *Service) ActionsSnapshot() []remediation.Action {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]remediation.Action, len(s.actions))
	copy(out, s.actions)
	return out
}

// AddPatterns merges detected patterns into the pattern table. The table
// grows for the lifetime of a run and is exported at run end.
func (s *Service) AddPatterns(patterns []remediation.Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pattern := range patterns {
		s.patterns[pattern.ID] = pattern
	}
}

// PatternsSnapshot copies the pattern table ordered by first-seen time,
// then id, for deterministic export.
func (s *Service) PatternsSnapshot() []remediation.Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]remediation.Pattern, 0, len(s.patterns))
	for _, pattern := range s.patterns {
		out = append(out, pattern)
	}
	sortPatterns(out)
	return out
}

func sortPatterns(patterns []remediation.Pattern) {
	sort.Slice(patterns, func(i, j int) bool {
		if !patterns[i].FirstSeen.Equal(patterns[j].FirstSeen) {
			return patterns[i].FirstSeen.Before(patterns[j].FirstSeen)
		}
		return patterns[i].ID < patterns[j].ID
	})
}
