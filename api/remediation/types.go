// Package remediation defines the contract types exchanged between the
// remediation core, its event sources, and read-side consumers.
package remediation

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PaymentStatus mirrors docs/ReportArtifacts.schema.json event.status.
type PaymentStatus string

const (
	StatusSuccess  PaymentStatus = "success"
	StatusFailed   PaymentStatus = "failed"
	StatusPending  PaymentStatus = "pending"
	StatusRetrying PaymentStatus = "retrying"
)

// PaymentMethod mirrors docs/ReportArtifacts.schema.json event.payment_method.
type PaymentMethod string

const (
	MethodCard       PaymentMethod = "card"
	MethodUPI        PaymentMethod = "upi"
	MethodNetBanking PaymentMethod = "netbanking"
	MethodWallet     PaymentMethod = "wallet"
)

// PatternType enumerates detectable degradation conditions.
type PatternType string

const (
	PatternIssuerDegradation PatternType = "issuer_degradation"
	PatternLatencySpike      PatternType = "latency_spike"
	PatternRetryStorm        PatternType = "retry_storm"
	PatternMethodFatigue     PatternType = "method_fatigue"
)

// ActionType enumerates mitigations the decision engine may propose.
type ActionType string

const (
	ActionAdjustRetry    ActionType = "adjust_retry_strategy"
	ActionReroute        ActionType = "reroute_payment"
	ActionSuppressPath   ActionType = "suppress_failing_path"
	ActionAlertOps       ActionType = "alert_operations"
	ActionEnableFallback ActionType = "enable_fallback_method"
	ActionNoAction       ActionType = "no_action"
)

// TargetGlobal marks actions not scoped to a single issuer or method.
const TargetGlobal = "global"

// Event is one observed transaction outcome. Events are immutable once
// recorded; window memory owns them after ingestion.
type Event struct {
	TransactionID string        `json:"transaction_id"`
	Timestamp     time.Time     `json:"timestamp"`
	MerchantID    string        `json:"merchant_id"`
	Amount        float64       `json:"amount"`
	Method        PaymentMethod `json:"payment_method"`
	BankCode      string        `json:"bank_code"`
	Issuer        string        `json:"issuer"`
	Status        PaymentStatus `json:"status"`
	ErrorCode     string        `json:"error_code,omitempty"`
	LatencyMS     float64       `json:"latency_ms"`
	RetryCount    int           `json:"retry_count"`
	RoutingPath   string        `json:"routing_path"`
}

// Validate checks structural event invariants.
func (e Event) Validate() error {
	if e.TransactionID == "" {
		return fmt.Errorf("transaction_id is required")
	}
	if !isPaymentMethod(e.Method) || !isPaymentStatus(e.Status) {
		return fmt.Errorf("invalid enum value in event %s", e.TransactionID)
	}
	if e.LatencyMS < 0 {
		return fmt.Errorf("latency_ms must be >= 0")
	}
	if e.RetryCount < 0 {
		return fmt.Errorf("retry_count must be >= 0")
	}
	return nil
}

// Pattern is a detected degradation condition. Identical conditions across
// cycles produce distinct pattern ids; there is no cross-cycle dedup.
type Pattern struct {
	ID          string             `json:"pattern_id"`
	Type        PatternType        `json:"pattern_type"`
	Severity    float64            `json:"severity"`
	Scope       map[string]string  `json:"affected_scope"`
	Metrics     map[string]float64 `json:"metrics"`
	FirstSeen   time.Time          `json:"first_seen"`
	LastSeen    time.Time          `json:"last_seen"`
	Occurrences int                `json:"occurrences"`
}

// Validate checks structural pattern invariants.
func (p Pattern) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pattern_id is required")
	}
	if !isPatternType(p.Type) {
		return fmt.Errorf("invalid pattern_type %q", p.Type)
	}
	if p.Severity < 0 || p.Severity > 1 {
		return fmt.Errorf("severity must be in [0,1], got %v", p.Severity)
	}
	if len(p.Scope) == 0 {
		return fmt.Errorf("affected_scope is required")
	}
	return nil
}

// ScopeKey returns a deterministic string form of the affected scope,
// used as part of the decision engine cooldown key.
func (p Pattern) ScopeKey() string {
	keys := make([]string, 0, len(p.Scope))
	for k := range p.Scope {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p.Scope[k])
	}
	return strings.Join(parts, ",")
}

// OutcomeMetrics captures the measured before/after impact of one action.
// Set at most once per action; the first evaluation wins.
type OutcomeMetrics struct {
	SuccessRateBefore      float64 `json:"success_rate_before"`
	SuccessRateAfter       float64 `json:"success_rate_after"`
	SuccessRateImprovement float64 `json:"success_rate_improvement"`
	LatencyBeforeMS        float64 `json:"latency_before"`
	LatencyAfterMS         float64 `json:"latency_after"`
	LatencyImprovementMS   float64 `json:"latency_improvement"`
	SampleSizeBefore       int     `json:"sample_size_before"`
	SampleSizeAfter        int     `json:"sample_size_after"`
	ActionSuccessful       bool    `json:"action_successful"`
}

// Action is a proposed or executed mitigation. The executor flips approved
// and executed; the learning pass attaches outcome metrics.
type Action struct {
	ID               string          `json:"action_id"`
	Timestamp        time.Time       `json:"timestamp"`
	Type             ActionType      `json:"action_type"`
	Target           string          `json:"target"`
	Parameters       map[string]any  `json:"parameters"`
	Confidence       float64         `json:"confidence"`
	Reasoning        string          `json:"reasoning"`
	RequiresApproval bool            `json:"requires_approval"`
	Approved         bool            `json:"approved"`
	Executed         bool            `json:"executed"`
	Outcome          *OutcomeMetrics `json:"outcome_metrics,omitempty"`
}

// Validate checks structural action invariants, including the approval gate:
// an approval-gated action may only be executed once approved.
func (a Action) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("action_id is required")
	}
	if !isActionType(a.Type) {
		return fmt.Errorf("invalid action_type %q", a.Type)
	}
	if a.Target == "" {
		return fmt.Errorf("target is required")
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		return fmt.Errorf("confidence must be in [0,1], got %v", a.Confidence)
	}
	if a.RequiresApproval && a.Executed && !a.Approved {
		return fmt.Errorf("action %s executed without required approval", a.ID)
	}
	return nil
}

// Baseline carries rolling window statistics used as a comparison reference.
type Baseline struct {
	SuccessRate  float64 `json:"success_rate"`
	FailureRate  float64 `json:"failure_rate"`
	AvgLatencyMS float64 `json:"avg_latency"`
}

// MetricsSnapshot is the per-cycle health summary emitted by the controller.
type MetricsSnapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	SuccessRate       float64   `json:"success_rate"`
	AvgLatencyMS      float64   `json:"avg_latency"`
	PatternsDetected  int       `json:"patterns_detected"`
	ActionsTaken      int       `json:"actions_taken"`
	TotalTransactions int64     `json:"total_transactions"`
	CycleTimeMS       float64   `json:"cycle_time_ms"`
}

// Report is the persisted end-of-run export consumed by offline analysis.
type Report struct {
	GeneratedAtUTC    string            `json:"generated_at_utc"`
	TotalTransactions int64             `json:"total_transactions"`
	Metrics           []MetricsSnapshot `json:"metrics_history"`
	Patterns          []Pattern         `json:"patterns_detected"`
	Actions           []Action          `json:"actions_taken"`
	Baseline          Baseline          `json:"baseline_metrics"`
}

// Clamp01 clamps v to [0,1]; severities and confidences always pass through it.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func isPaymentStatus(s PaymentStatus) bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusPending, StatusRetrying:
		return true
	}
	return false
}

func isPaymentMethod(m PaymentMethod) bool {
	switch m {
	case MethodCard, MethodUPI, MethodNetBanking, MethodWallet:
		return true
	}
	return false
}

func isPatternType(t PatternType) bool {
	switch t {
	case PatternIssuerDegradation, PatternLatencySpike, PatternRetryStorm, PatternMethodFatigue:
		return true
	}
	return false
}

func isActionType(t ActionType) bool {
	switch t {
	case ActionAdjustRetry, ActionReroute, ActionSuppressPath, ActionAlertOps, ActionEnableFallback, ActionNoAction:
		return true
	}
	return false
}

// PaymentMethods lists all closed payment method variants.
func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{MethodCard, MethodUPI, MethodNetBanking, MethodWallet}
}
