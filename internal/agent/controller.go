// Package agent runs the closed remediation loop. Each cycle observes a
// batch of payment events, reasons over the window for incident patterns,
// decides mitigations, acts on them through the executor, and learns from
// measured outcomes before snapshotting system health.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tiger/payment-ops-agent/api/remediation"
	"github.com/tiger/payment-ops-agent/internal/calendar"
	"github.com/tiger/payment-ops-agent/internal/decide"
	"github.com/tiger/payment-ops-agent/internal/detect"
	"github.com/tiger/payment-ops-agent/internal/execute"
	"github.com/tiger/payment-ops-agent/internal/memory"
)

const (
	// ObserveBatchSize is the number of events pulled from the source per cycle.
	ObserveBatchSize = 50

	// evalWindowLimit caps the events taken on each side of an action
	// timestamp when measuring its outcome. An action is not judged until
	// this many events have arrived after it.
	evalWindowLimit = 100

	// learnLookback is how many of the most recent ledger actions the learn
	// phase re-examines for pending evaluations.
	learnLookback = 5

	// snapshotWindow is the number of recent events a cycle snapshot
	// summarizes.
	snapshotWindow = 200

	// rollbackHarm is the success-rate improvement below which an executed
	// action is rolled back. The comparison is strict; an improvement of
	// exactly rollbackHarm stands.
	rollbackHarm = -0.1
)

// ErrNoSource is returned when the controller is constructed without an
// event source.
var ErrNoSource = errors.New("agent: event source is required")

// Source supplies the observation batches the loop runs on.
type Source interface {
	Events(n int) ([]remediation.Event, error)
}

// CycleSink receives the per-cycle health snapshot. Implementations must not
// block; the telemetry pipeline satisfies this.
type CycleSink interface {
	EmitCycle(snapshot remediation.MetricsSnapshot)
}

// Config wires the controller's collaborators. Source is required; the rest
// default to fresh instances.
type Config struct {
	Source    Source
	Memory    *memory.Service
	Detector  *detect.Service
	Engine    *decide.Engine
	Executor  *execute.Service
	Calendar  *calendar.Table
	Telemetry CycleSink
	Logger    *slog.Logger
}

// Controller owns one remediation loop and its accumulated run state.
type Controller struct {
	source    Source
	mem       *memory.Service
	detector  detect.Service
	engine    *decide.Engine
	executor  *execute.Service
	calendar  *calendar.Table
	telemetry CycleSink
	logger    *slog.Logger

	// Test seam.
	Now func() time.Time

	mu      sync.RWMutex
	history []remediation.MetricsSnapshot
	total   int64
	cycles  int
}

// NewController builds a controller from cfg.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Source == nil {
		return nil, ErrNoSource
	}
	mem := cfg.Memory
	if mem == nil {
		mem = memory.NewService(memory.DefaultCapacity)
	}
	detector := detect.NewService()
	if cfg.Detector != nil {
		detector = *cfg.Detector
	}
	engine := cfg.Engine
	if engine == nil {
		engine = decide.NewEngine()
	}
	executor := cfg.Executor
	if executor == nil {
		executor = execute.NewService(mem)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		source:    cfg.Source,
		mem:       mem,
		detector:  detector,
		engine:    engine,
		executor:  executor,
		calendar:  cfg.Calendar,
		telemetry: cfg.Telemetry,
		logger:    logger,
		Now:       time.Now,
	}, nil
}

// RunCycle executes one observe, reason, decide, act, learn pass and returns
// the cycle's health snapshot.
func (c *Controller) RunCycle(ctx context.Context) (remediation.MetricsSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return remediation.MetricsSnapshot{}, err
	}
	start := c.Now()

	batch, err := c.observe()
	if err != nil {
		return remediation.MetricsSnapshot{}, fmt.Errorf("observe: %w", err)
	}

	patterns := c.reason(batch)
	actions := c.engine.Decide(patterns, c.mem)
	c.act(actions)
	c.learn()

	snapshot := c.snapshot(start, len(patterns), len(actions))
	if c.telemetry != nil {
		c.telemetry.EmitCycle(snapshot)
	}
	c.logger.Info("cycle complete",
		"cycle", c.Cycles(),
		"events", len(batch),
		"patterns", len(patterns),
		"actions", len(actions),
		"success_rate", snapshot.SuccessRate,
	)
	return snapshot, nil
}

// Run executes cycles loop passes, checking ctx at each cycle boundary.
func (c *Controller) Run(ctx context.Context, cycles int) error {
	for i := 0; i < cycles; i++ {
		if _, err := c.RunCycle(ctx); err != nil {
			return fmt.Errorf("cycle %d: %w", i+1, err)
		}
	}
	return nil
}

func (c *Controller) observe() ([]remediation.Event, error) {
	if day, ok := c.calendar.Lookup(c.Now()); ok {
		c.mem.SetLatencyOverride(day.MaxLatencyMS)
	}

	batch, err := c.source.Events(ObserveBatchSize)
	if err != nil {
		return nil, err
	}
	for _, event := range batch {
		c.mem.Record(event)
	}

	c.mu.Lock()
	c.total += int64(len(batch))
	c.mu.Unlock()
	return batch, nil
}

func (c *Controller) reason(batch []remediation.Event) []remediation.Pattern {
	baseline, baselineSet := c.mem.Baseline()
	patterns := c.detector.Detect(detect.Input{
		Batch:            batch,
		Baseline:         baseline,
		BaselineSet:      baselineSet,
		LatencyCeilingMS: c.mem.LatencyOverride(),
	})
	c.mem.AddPatterns(patterns)
	for _, pattern := range patterns {
		c.logger.Warn("pattern detected",
			"pattern_id", pattern.ID,
			"type", pattern.Type,
			"severity", pattern.Severity,
			"scope", pattern.ScopeKey(),
		)
	}
	return patterns
}

func (c *Controller) act(actions []remediation.Action) {
	for i := range actions {
		executed := c.executor.Execute(&actions[i])
		c.mem.AddAction(actions[i])
		if executed {
			c.logger.Info("action executed",
				"action_id", actions[i].ID,
				"type", actions[i].Type,
				"target", actions[i].Target,
				"confidence", actions[i].Confidence,
			)
		} else {
			c.logger.Info("action queued for approval",
				"action_id", actions[i].ID,
				"type", actions[i].Type,
				"target", actions[i].Target,
			)
		}
	}
}

// learn evaluates recently executed actions against the events on either
// side of their decision time, records outcomes, rolls back measured harm,
// and refreshes the window baseline.
func (c *Controller) learn() {
	for _, action := range c.mem.RecentActions(learnLookback) {
		if !action.Executed || action.Outcome != nil {
			continue
		}
		before, after := c.mem.PartitionAround(action.Timestamp, evalWindowLimit)
		if len(after) < evalWindowLimit {
			continue
		}
		metrics, ok := c.executor.Evaluate(before, after)
		if !ok {
			continue
		}
		c.mem.RecordOutcome(action.ID, metrics)
		c.logger.Info("action evaluated",
			"action_id", action.ID,
			"improvement", metrics.SuccessRateImprovement,
			"latency_gain_ms", metrics.LatencyImprovementMS,
			"successful", metrics.ActionSuccessful,
		)

		if metrics.SuccessRateImprovement < rollbackHarm {
			reason := fmt.Sprintf("success rate dropped %.1f%% after action",
				-metrics.SuccessRateImprovement*100)
			if err := c.executor.Rollback(action.ID, reason); err != nil {
				c.logger.Error("rollback failed", "action_id", action.ID, "error", err)
				continue
			}
			c.logger.Warn("action rolled back", "action_id", action.ID, "reason", reason)
		}
	}
	c.mem.RecomputeBaseline()
}

func (c *Controller) snapshot(start time.Time, patternCount, actionCount int) remediation.MetricsSnapshot {
	recent := c.mem.Recent(snapshotWindow)
	var succeeded int
	var latencySum float64
	for _, event := range recent {
		if event.Status == remediation.StatusSuccess {
			succeeded++
		}
		latencySum += event.LatencyMS
	}
	snapshot := remediation.MetricsSnapshot{
		Timestamp:        c.Now(),
		PatternsDetected: patternCount,
		ActionsTaken:     actionCount,
		CycleTimeMS:      float64(c.Now().Sub(start)) / float64(time.Millisecond),
	}
	if len(recent) > 0 {
		snapshot.SuccessRate = float64(succeeded) / float64(len(recent))
		snapshot.AvgLatencyMS = latencySum / float64(len(recent))
	}

	c.mu.Lock()
	c.cycles++
	snapshot.TotalTransactions = c.total
	c.history = append(c.history, snapshot)
	c.mu.Unlock()
	return snapshot
}

// Approve resolves a pending approval and, on approval, executes the action.
func (c *Controller) Approve(id string, approve bool) (remediation.Action, error) {
	action, err := c.executor.Approve(id, approve)
	if err != nil {
		return remediation.Action{}, err
	}
	if approve {
		c.logger.Info("action approved", "action_id", id)
	} else {
		c.logger.Info("action rejected", "action_id", id)
	}
	return action, nil
}

// PendingApprovals returns the executor's approval queue.
func (c *Controller) PendingApprovals() []remediation.Action {
	return c.executor.PendingApprovals()
}

// RollbackHistory returns reverted actions with their reasons.
func (c *Controller) RollbackHistory() []execute.RollbackRecord {
	return c.executor.RollbackHistory()
}

// MetricsHistory returns a copy of all cycle snapshots so far.
func (c *Controller) MetricsHistory() []remediation.MetricsSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]remediation.MetricsSnapshot, len(c.history))
	copy(out, c.history)
	return out
}

// Cycles returns the number of completed loop passes.
func (c *Controller) Cycles() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cycles
}

// TotalTransactions returns the count of all events observed across cycles.
func (c *Controller) TotalTransactions() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.total
}

// Memory exposes the window for read-side surfaces.
func (c *Controller) Memory() *memory.Service {
	return c.mem
}

// Report assembles the end-of-run export.
func (c *Controller) Report() remediation.Report {
	baseline, _ := c.mem.Baseline()
	c.mu.RLock()
	history := make([]remediation.MetricsSnapshot, len(c.history))
	copy(history, c.history)
	total := c.total
	c.mu.RUnlock()

	return remediation.Report{
		GeneratedAtUTC:    c.Now().UTC().Format(time.RFC3339),
		TotalTransactions: total,
		Metrics:           history,
		Patterns:          c.mem.PatternsSnapshot(),
		Actions:           c.mem.ActionsSnapshot(),
		Baseline:          baseline,
	}
}

// Effectiveness aggregates evaluated outcomes per action type.
type Effectiveness struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
}

// ActionEffectiveness summarizes evaluated action outcomes by type.
func (c *Controller) ActionEffectiveness() map[remediation.ActionType]Effectiveness {
	out := make(map[remediation.ActionType]Effectiveness)
	for _, action := range c.mem.ActionsSnapshot() {
		if action.Outcome == nil {
			continue
		}
		eff := out[action.Type]
		eff.Total++
		if action.Outcome.ActionSuccessful {
			eff.Successful++
		}
		out[action.Type] = eff
	}
	return out
}
