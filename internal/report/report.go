// Package report persists and renders the end-of-run export.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

// Save writes the report as indented JSON.
func Save(path string, report remediation.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Load reads a saved report back, rejecting unknown fields and structurally
// invalid patterns or actions.
func Load(path string) (remediation.Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return remediation.Report{}, fmt.Errorf("read report: %w", err)
	}

	var report remediation.Report
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&report); err != nil {
		return remediation.Report{}, fmt.Errorf("decode report: %w", err)
	}

	for _, pattern := range report.Patterns {
		if err := pattern.Validate(); err != nil {
			return remediation.Report{}, fmt.Errorf("report pattern %s: %w", pattern.ID, err)
		}
	}
	for _, action := range report.Actions {
		if err := action.Validate(); err != nil {
			return remediation.Report{}, fmt.Errorf("report action %s: %w", action.ID, err)
		}
	}
	return report, nil
}

// RenderText renders a terminal summary of the run.
func RenderText(report remediation.Report) string {
	executed, gated, evaluated, successful := actionTotals(report.Actions)

	lines := []string{
		fmt.Sprintf("run report: transactions=%d cycles=%d patterns=%d actions=%d",
			report.TotalTransactions, len(report.Metrics), len(report.Patterns), len(report.Actions)),
		fmt.Sprintf("actions: executed=%d awaiting_approval=%d evaluated=%d successful=%d",
			executed, gated, evaluated, successful),
		fmt.Sprintf("baseline: success_rate=%.3f failure_rate=%.3f avg_latency=%.0fms",
			report.Baseline.SuccessRate, report.Baseline.FailureRate, report.Baseline.AvgLatencyMS),
	}
	counts := patternCounts(report.Patterns)
	for _, patternType := range sortedPatternTypes(counts) {
		lines = append(lines, fmt.Sprintf("- %s: %d", patternType, counts[patternType]))
	}
	return strings.Join(lines, "\n")
}

// RenderMarkdown renders the report for offline review.
func RenderMarkdown(report remediation.Report) string {
	var b strings.Builder
	b.WriteString("# Payment Operations Run Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", report.GeneratedAtUTC)

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "| Transactions | Cycles | Patterns | Actions |\n")
	fmt.Fprintf(&b, "|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %d | %d | %d | %d |\n\n",
		report.TotalTransactions, len(report.Metrics), len(report.Patterns), len(report.Actions))

	fmt.Fprintf(&b, "Baseline: success rate %.1f%%, failure rate %.1f%%, average latency %.0fms.\n\n",
		report.Baseline.SuccessRate*100, report.Baseline.FailureRate*100, report.Baseline.AvgLatencyMS)

	if len(report.Patterns) > 0 {
		b.WriteString("## Patterns\n\n")
		b.WriteString("| Type | Count | Max Severity |\n|---|---|---|\n")
		counts := patternCounts(report.Patterns)
		severities := make(map[remediation.PatternType]float64)
		for _, pattern := range report.Patterns {
			if pattern.Severity > severities[pattern.Type] {
				severities[pattern.Type] = pattern.Severity
			}
		}
		for _, patternType := range sortedPatternTypes(counts) {
			fmt.Fprintf(&b, "| %s | %d | %.2f |\n", patternType, counts[patternType], severities[patternType])
		}
		b.WriteString("\n")
	}

	if len(report.Actions) > 0 {
		b.WriteString("## Actions\n\n")
		b.WriteString("| ID | Type | Target | Executed | Outcome |\n|---|---|---|---|---|\n")
		for _, action := range report.Actions {
			outcome := "pending"
			if action.Outcome != nil {
				outcome = fmt.Sprintf("%+.1f%% success", action.Outcome.SuccessRateImprovement*100)
			} else if action.RequiresApproval && !action.Approved {
				outcome = "awaiting approval"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %t | %s |\n",
				action.ID, action.Type, action.Target, action.Executed, outcome)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func actionTotals(actions []remediation.Action) (executed, gated, evaluated, successful int) {
	for _, action := range actions {
		if action.Executed {
			executed++
		} else if action.RequiresApproval && !action.Approved {
			gated++
		}
		if action.Outcome != nil {
			evaluated++
			if action.Outcome.ActionSuccessful {
				successful++
			}
		}
	}
	return executed, gated, evaluated, successful
}

func patternCounts(patterns []remediation.Pattern) map[remediation.PatternType]int {
	out := make(map[remediation.PatternType]int)
	for _, pattern := range patterns {
		out[pattern.Type]++
	}
	return out
}

func sortedPatternTypes(counts map[remediation.PatternType]int) []remediation.PatternType {
	out := make([]remediation.PatternType, 0, len(counts))
	for patternType := range counts {
		out = append(out, patternType)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
