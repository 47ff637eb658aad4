// Package decide maps detected patterns to candidate mitigations under the
// agent's safety constraints: approval gating, per-scope cooldowns, and a
// cap on simultaneous in-flight actions.
package decide

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

const (
	// AutoApprovalSeverity is the severity above which actions require a
	// human approval before execution.
	AutoApprovalSeverity = 0.6
	// MaxSimultaneousActions caps executed-but-unevaluated actions.
	MaxSimultaneousActions = 3
	// CooldownPeriod is the minimum spacing between actions addressing the
	// same pattern type and scope.
	CooldownPeriod = 5 * time.Minute

	rerouteFailureRate   = 0.3
	retryFailureRate     = 0.15
	fallbackBaselineMult = 2.5
	stormApprovalGate    = 0.7
)

// MemoryView is the read surface the engine needs from window memory.
type MemoryView interface {
	CountInFlight() int
	AvgSuccessImprovement(remediation.ActionType) float64
}

// Engine holds per-key cooldown state. One engine instance serves one
// controller; the cooldown map is not shared process-wide.
type Engine struct {
	maxSimultaneous int
	cooldown        time.Duration

	lastActionAt map[string]time.Time

	Now   func() time.Time
	NewID func() string
}

// NewEngine constructs a decision engine with production safety constants.
func NewEngine() *Engine {
	return &Engine{
		maxSimultaneous: MaxSimultaneousActions,
		cooldown:        CooldownPeriod,
		lastActionAt:    make(map[string]time.Time),
		Now:             time.Now,
		NewID:           uuid.NewString,
	}
}

// Decide evaluates patterns in severity order and returns at most the
// simultaneous-action cap's worth of new actions. Returns nothing when the
// in-flight count already meets the cap.
func (e *Engine) Decide(patterns []remediation.Pattern, mem MemoryView) []remediation.Action {
	if mem.CountInFlight() >= e.maxSimultaneous {
		return nil
	}

	ordered := make([]remediation.Pattern, len(patterns))
	copy(ordered, patterns)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Severity > ordered[j].Severity
	})

	now := e.Now()
	var actions []remediation.Action
	for _, pattern := range ordered {
		key := cooldownKey(pattern)
		if last, ok := e.lastActionAt[key]; ok && now.Sub(last) < e.cooldown {
			continue
		}

		action, ok := e.dispatch(pattern, mem, now)
		if !ok {
			continue
		}
		actions = append(actions, action)
		e.lastActionAt[key] = now

		if len(actions) >= e.maxSimultaneous {
			break
		}
	}
	return actions
}

// dispatch routes a pattern to its type-specific handler. Unknown pattern
// types fall through the default arm and produce no action.
func (e *Engine) dispatch(pattern remediation.Pattern, mem MemoryView, now time.Time) (remediation.Action, bool) {
	switch pattern.Type {
	case remediation.PatternIssuerDegradation:
		return e.handleIssuerDegradation(pattern, mem, now)
	case remediation.PatternLatencySpike:
		return e.handleLatencySpike(pattern, now)
	case remediation.PatternRetryStorm:
		return e.handleRetryStorm(pattern, now)
	case remediation.PatternMethodFatigue:
		return e.handleMethodFatigue(pattern, now)
	default:
		return remediation.Action{}, false
	}
}

func (e *Engine) handleIssuerDegradation(pattern remediation.Pattern, mem MemoryView, now time.Time) (remediation.Action, bool) {
	issuer := pattern.Scope["issuer"]
	failureRate := pattern.Metrics["failure_rate"]
	pastImprovement := mem.AvgSuccessImprovement(remediation.ActionReroute)
	confidence := remediation.Clamp01(min(0.95, pattern.Severity+pastImprovement*0.3))

	switch {
	case failureRate > rerouteFailureRate:
		return remediation.Action{
			ID:        e.actionID(),
			Timestamp: now,
			Type:      remediation.ActionReroute,
			Target:    issuer,
			Parameters: map[string]any{
				"from_issuer":      issuer,
				"to_routing":       "fallback",
				"percentage":       80,
				"duration_minutes": 15,
			},
			Confidence: confidence,
			Reasoning: fmt.Sprintf(
				"Issuer %s showing %.1f%% failure rate (severity: %.2f). Rerouting 80%% traffic to fallback path. Past reroutes improved success by %.1f%%.",
				issuer, failureRate*100, pattern.Severity, pastImprovement*100),
			RequiresApproval: pattern.Severity > AutoApprovalSeverity,
		}, true
	case failureRate > retryFailureRate:
		return remediation.Action{
			ID:        e.actionID(),
			Timestamp: now,
			Type:      remediation.ActionAdjustRetry,
			Target:    issuer,
			Parameters: map[string]any{
				"issuer":              issuer,
				"max_retries":         2,
				"retry_delay_ms":      2000,
				"exponential_backoff": true,
			},
			Confidence: confidence,
			Reasoning: fmt.Sprintf(
				"Issuer %s showing %.1f%% failure rate. Adjusting retry strategy to reduce load and improve success.",
				issuer, failureRate*100),
			RequiresApproval: false,
		}, true
	}
	return remediation.Action{}, false
}

func (e *Engine) handleLatencySpike(pattern remediation.Pattern, now time.Time) (remediation.Action, bool) {
	issuer := pattern.Scope["issuer"]
	avgLatency := pattern.Metrics["avg_latency"]
	baseline, ok := pattern.Metrics["baseline_latency"]
	if !ok || baseline <= 0 {
		baseline = 1000
	}
	if avgLatency <= baseline*fallbackBaselineMult {
		return remediation.Action{}, false
	}

	return remediation.Action{
		ID:        e.actionID(),
		Timestamp: now,
		Type:      remediation.ActionEnableFallback,
		Target:    issuer,
		Parameters: map[string]any{
			"issuer":               issuer,
			"latency_threshold_ms": baseline * 2,
			"fallback_method":      "alternative_gateway",
		},
		Confidence: remediation.Clamp01(min(0.9, pattern.Severity)),
		Reasoning: fmt.Sprintf(
			"Latency spike detected for %s: %.0fms (baseline: %.0fms). Enabling fallback for slow transactions.",
			issuer, avgLatency, baseline),
		RequiresApproval: pattern.Severity > AutoApprovalSeverity,
	}, true
}

func (e *Engine) handleRetryStorm(pattern remediation.Pattern, now time.Time) (remediation.Action, bool) {
	retryRate := pattern.Metrics["retry_rate"]
	return remediation.Action{
		ID:        e.actionID(),
		Timestamp: now,
		Type:      remediation.ActionAdjustRetry,
		Target:    remediation.TargetGlobal,
		Parameters: map[string]any{
			"global_max_retries":        2,
			"retry_backoff_multiplier":  2.0,
			"circuit_breaker_threshold": 5,
		},
		Confidence: 0.85,
		Reasoning: fmt.Sprintf(
			"Retry storm detected: %.1f%% of transactions have high retry counts. Applying global retry limits to prevent cascade failures.",
			retryRate*100),
		RequiresApproval: pattern.Severity > stormApprovalGate,
	}, true
}

func (e *Engine) handleMethodFatigue(pattern remediation.Pattern, now time.Time) (remediation.Action, bool) {
	method := pattern.Scope["method"]
	failureRate := pattern.Metrics["failure_rate"]
	alertLevel := "medium"
	if failureRate > 0.3 {
		alertLevel = "high"
	}

	return remediation.Action{
		ID:        e.actionID(),
		Timestamp: now,
		Type:      remediation.ActionAlertOps,
		Target:    method,
		Parameters: map[string]any{
			"method":             method,
			"failure_rate":       failureRate,
			"alert_level":        alertLevel,
			"recommended_action": "investigate_method_specific_issues",
		},
		Confidence: 0.75,
		Reasoning: fmt.Sprintf(
			"Payment method %s showing %.1f%% failure rate. Alerting ops team for investigation.",
			method, failureRate*100),
		RequiresApproval: false,
	}, true
}

func (e *Engine) actionID() string {
	newID := e.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return "action_" + newID()
}

func cooldownKey(pattern remediation.Pattern) string {
	return string(pattern.Type) + "|" + pattern.ScopeKey()
}
