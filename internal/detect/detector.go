// Package detect analyzes a batch of transaction events against baseline
// context and emits degradation patterns.
package detect

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

// Thresholds configures the detection rules.
type Thresholds struct {
	IssuerMinEvents     int
	IssuerFailureRate   float64
	LatencyMinEvents    int
	LatencyThresholdMS  float64
	RetryMinCount       int
	RetryRate           float64
	MethodMinEvents     int
	MethodFailureRate   float64
	FallbackBaselineMS  float64
	SeverityLatencyUnit float64
}

// DefaultThresholds returns the production detection thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		IssuerMinEvents:     5,
		IssuerFailureRate:   0.15,
		LatencyMinEvents:    10,
		LatencyThresholdMS:  2000,
		RetryMinCount:       3,
		RetryRate:           0.3,
		MethodMinEvents:     8,
		MethodFailureRate:   0.25,
		FallbackBaselineMS:  1000,
		SeverityLatencyUnit: 1000,
	}
}

// Input carries one cycle's batch plus the window context it is judged against.
type Input struct {
	Batch            []remediation.Event
	Baseline         remediation.Baseline
	BaselineSet      bool
	LatencyCeilingMS float64
}

// Service runs the stateless detection pass. Each call produces fresh
// pattern ids; recurring conditions are not deduplicated across cycles.
type Service struct {
	Thresholds Thresholds
	NewID      func() string
}

// NewService returns a detector with default thresholds.
func NewService() Service {
	return Service{
		Thresholds: DefaultThresholds(),
		NewID:      uuid.NewString,
	}
}

type grouped struct {
	byIssuer map[string][]remediation.Event
	byMethod map[remediation.PaymentMethod][]remediation.Event
	// byBank is computed for forward extension; no current rule reads it.
	byBank map[string][]remediation.Event
}

// Detect evaluates all detection rules independently over the batch.
// Overlapping patterns for the same scope are intentional.
func (s Service) Detect(in Input) []remediation.Pattern {
	if len(in.Batch) == 0 {
		return nil
	}

	groups := groupEvents(in.Batch)
	ceiling := in.LatencyCeilingMS
	if ceiling <= 0 {
		ceiling = memoryDefaultCeilingMS
	}

	var patterns []remediation.Pattern
	patterns = append(patterns, s.detectIssuerConditions(groups.byIssuer, ceiling)...)
	patterns = append(patterns, s.detectBaselineLatency(groups.byIssuer, in)...)
	if storm, ok := s.detectRetryStorm(in.Batch); ok {
		patterns = append(patterns, storm)
	}
	patterns = append(patterns, s.detectMethodFatigue(groups.byMethod)...)
	return patterns
}

const memoryDefaultCeilingMS = 800

// detectIssuerConditions runs the dynamic-ceiling and degradation rules over
// issuer groups meeting the minimum sample size.
func (s Service) detectIssuerConditions(byIssuer map[string][]remediation.Event, ceilingMS float64) []remediation.Pattern {
	var patterns []remediation.Pattern
	for _, issuer := range sortedKeys(byIssuer) {
		events := byIssuer[issuer]
		if len(events) < s.Thresholds.IssuerMinEvents {
			continue
		}

		avgLatency := meanLatency(events)
		failRate := failureRate(events)
		first, last := timeBounds(events)

		if avgLatency > ceilingMS {
			patterns = append(patterns, remediation.Pattern{
				ID:       s.patternID(remediation.PatternLatencySpike),
				Type:     remediation.PatternLatencySpike,
				Severity: remediation.Clamp01((avgLatency - ceilingMS) / s.Thresholds.SeverityLatencyUnit),
				Scope:    map[string]string{"issuer": issuer},
				Metrics: map[string]float64{
					"avg_latency": avgLatency,
					"limit_used":  ceilingMS,
					"sample_size": float64(len(events)),
				},
				FirstSeen:   first,
				LastSeen:    last,
				Occurrences: len(events),
			})
		}

		if failRate > s.Thresholds.IssuerFailureRate {
			patterns = append(patterns, remediation.Pattern{
				ID:       s.patternID(remediation.PatternIssuerDegradation),
				Type:     remediation.PatternIssuerDegradation,
				Severity: remediation.Clamp01(failRate * 2),
				Scope:    map[string]string{"issuer": issuer},
				Metrics: map[string]float64{
					"failure_rate": failRate,
					"avg_latency":  avgLatency,
					"sample_size":  float64(len(events)),
				},
				FirstSeen:   first,
				LastSeen:    last,
				Occurrences: len(events),
			})
		}
	}
	return patterns
}

// detectBaselineLatency emits a second latency_spike judged against the
// rolling baseline rather than the calendar ceiling.
func (s Service) detectBaselineLatency(byIssuer map[string][]remediation.Event, in Input) []remediation.Pattern {
	baselineLatency := s.Thresholds.FallbackBaselineMS
	if in.BaselineSet && in.Baseline.AvgLatencyMS > 0 {
		baselineLatency = in.Baseline.AvgLatencyMS
	}

	var patterns []remediation.Pattern
	for _, issuer := range sortedKeys(byIssuer) {
		events := byIssuer[issuer]
		if len(events) < s.Thresholds.LatencyMinEvents {
			continue
		}
		avgLatency := meanLatency(events)
		if avgLatency <= s.Thresholds.LatencyThresholdMS {
			continue
		}
		first, last := timeBounds(events)
		patterns = append(patterns, remediation.Pattern{
			ID:       s.patternID(remediation.PatternLatencySpike),
			Type:     remediation.PatternLatencySpike,
			Severity: remediation.Clamp01(avgLatency / (baselineLatency * 3)),
			Scope:    map[string]string{"issuer": issuer},
			Metrics: map[string]float64{
				"avg_latency":      avgLatency,
				"baseline_latency": baselineLatency,
				"sample_size":      float64(len(events)),
			},
			FirstSeen:   first,
			LastSeen:    last,
			Occurrences: len(events),
		})
	}
	return patterns
}

// detectRetryStorm evaluates the batch globally for retry amplification.
func (s Service) detectRetryStorm(batch []remediation.Event) (remediation.Pattern, bool) {
	var storming []remediation.Event
	for _, event := range batch {
		if event.RetryCount >= 2 {
			storming = append(storming, event)
		}
	}
	if len(storming) < s.Thresholds.RetryMinCount {
		return remediation.Pattern{}, false
	}
	retryRate := float64(len(storming)) / float64(len(batch))
	if retryRate <= s.Thresholds.RetryRate {
		return remediation.Pattern{}, false
	}

	first, last := timeBounds(storming)
	return remediation.Pattern{
		ID:       s.patternID(remediation.PatternRetryStorm),
		Type:     remediation.PatternRetryStorm,
		Severity: remediation.Clamp01(retryRate * 2),
		Scope:    map[string]string{"global": "true"},
		Metrics: map[string]float64{
			"retry_rate":       retryRate,
			"high_retry_count": float64(len(storming)),
			"sample_size":      float64(len(batch)),
		},
		FirstSeen:   first,
		LastSeen:    last,
		Occurrences: len(storming),
	}, true
}

// detectMethodFatigue flags payment methods with elevated failure rates.
func (s Service) detectMethodFatigue(byMethod map[remediation.PaymentMethod][]remediation.Event) []remediation.Pattern {
	methods := make([]string, 0, len(byMethod))
	for method := range byMethod {
		methods = append(methods, string(method))
	}
	sort.Strings(methods)

	var patterns []remediation.Pattern
	for _, method := range methods {
		events := byMethod[remediation.PaymentMethod(method)]
		if len(events) < s.Thresholds.MethodMinEvents {
			continue
		}
		rate := failureRate(events)
		if rate <= s.Thresholds.MethodFailureRate {
			continue
		}
		first, last := timeBounds(events)
		patterns = append(patterns, remediation.Pattern{
			ID:       s.patternID(remediation.PatternMethodFatigue),
			Type:     remediation.PatternMethodFatigue,
			Severity: remediation.Clamp01(rate * 1.5),
			Scope:    map[string]string{"method": method},
			Metrics: map[string]float64{
				"failure_rate": rate,
				"sample_size":  float64(len(events)),
			},
			FirstSeen:   first,
			LastSeen:    last,
			Occurrences: len(events),
		})
	}
	return patterns
}

func (s Service) patternID(patternType remediation.PatternType) string {
	newID := s.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return string(patternType) + "_" + newID()
}

func groupEvents(batch []remediation.Event) grouped {
	groups := grouped{
		byIssuer: make(map[string][]remediation.Event),
		byMethod: make(map[remediation.PaymentMethod][]remediation.Event),
		byBank:   make(map[string][]remediation.Event),
	}
	for _, event := range batch {
		groups.byIssuer[event.Issuer] = append(groups.byIssuer[event.Issuer], event)
		groups.byMethod[event.Method] = append(groups.byMethod[event.Method], event)
		groups.byBank[event.BankCode] = append(groups.byBank[event.BankCode], event)
	}
	return groups
}

func sortedKeys(groups map[string][]remediation.Event) []string {
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func meanLatency(events []remediation.Event) float64 {
	if len(events) == 0 {
		return 0
	}
	var sum float64
	for _, event := range events {
		sum += event.LatencyMS
	}
	return sum / float64(len(events))
}

func failureRate(events []remediation.Event) float64 {
	if len(events) == 0 {
		return 0
	}
	failed := 0
	for _, event := range events {
		if event.Status == remediation.StatusFailed {
			failed++
		}
	}
	return float64(failed) / float64(len(events))
}

func timeBounds(events []remediation.Event) (first, last time.Time) {
	for i, event := range events {
		if i == 0 || event.Timestamp.Before(first) {
			first = event.Timestamp
		}
		if i == 0 || event.Timestamp.After(last) {
			last = event.Timestamp
		}
	}
	return first, last
}
