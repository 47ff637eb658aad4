// Package validation checks report artifacts against both the typed
// validators and the published JSON schema. Offline consumers read the
// exported report; this keeps the two views of the format honest.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tiger/payment-ops-agent/api/remediation"
)

// DefaultSchemaPath locates the published artifact schema relative to the
// repository root.
const DefaultSchemaPath = "docs/ReportArtifacts.schema.json"

// Summary reports fixture validation totals.
type Summary struct {
	Total    int
	Failed   int
	Failures []string
}

// Passed reports whether every fixture behaved as declared.
func (s Summary) Passed() bool {
	return s.Failed == 0
}

type artifactValidator struct {
	name      string
	fragment  string
	validator func([]byte) error
}

func artifactValidators() []artifactValidator {
	return []artifactValidator{
		{name: "event", fragment: "#/$defs/event", validator: validateEvent},
		{name: "pattern", fragment: "#/$defs/pattern", validator: validatePattern},
		{name: "action", fragment: "#/$defs/action", validator: validateAction},
		{name: "report", fragment: "#/$defs/report", validator: validateReport},
	}
}

// ValidateReportFile validates one exported report against the typed
// validators and the schema.
func ValidateReportFile(schemaPath, reportPath string) error {
	raw, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	if err := validateReport(raw); err != nil {
		return fmt.Errorf("typed validation: %w", err)
	}
	schema, err := compileFragment(schemaPath, "#/$defs/report")
	if err != nil {
		return err
	}
	if err := validateAgainstSchema(schema, raw); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

// ValidateFixtures walks root/<artifact>/<valid|invalid>/*.json and checks
// that every fixture passes or fails both validators as its directory
// declares.
func ValidateFixtures(schemaPath, root string) (Summary, error) {
	summary := Summary{}
	for _, entry := range artifactValidators() {
		schema, err := compileFragment(schemaPath, entry.fragment)
		if err != nil {
			return summary, err
		}
		for _, validity := range []struct {
			dir        string
			shouldPass bool
		}{
			{dir: "valid", shouldPass: true},
			{dir: "invalid", shouldPass: false},
		} {
			dir := filepath.Join(root, entry.name, validity.dir)
			names, err := fixtureNames(dir)
			if err != nil {
				return summary, err
			}
			for _, name := range names {
				summary.Total++
				path := filepath.Join(dir, name)
				raw, readErr := os.ReadFile(path)
				if readErr != nil {
					summary.Failed++
					summary.Failures = append(summary.Failures, fmt.Sprintf("%s: read error: %v", path, readErr))
					continue
				}

				typedErr := entry.validator(raw)
				schemaErr := validateAgainstSchema(schema, raw)

				if validity.shouldPass {
					if typedErr != nil || schemaErr != nil {
						summary.Failed++
						summary.Failures = append(summary.Failures, fmt.Sprintf("%s: expected valid, typed_err=%v schema_err=%v", path, typedErr, schemaErr))
					}
					continue
				}
				if typedErr == nil || schemaErr == nil {
					summary.Failed++
					summary.Failures = append(summary.Failures, fmt.Sprintf("%s: expected invalid by both validators, typed_err=%v schema_err=%v", path, typedErr, schemaErr))
				}
			}
		}
	}
	return summary, nil
}

// RenderSummary renders fixture totals for the CLI.
func RenderSummary(summary Summary) string {
	lines := []string{fmt.Sprintf("report fixtures: total=%d failed=%d", summary.Total, summary.Failed)}
	if len(summary.Failures) > 0 {
		lines = append(lines, "failures:")
		for _, failure := range summary.Failures {
			lines = append(lines, "- "+failure)
		}
	}
	return strings.Join(lines, "\n")
}

func fixtureNames(dir string) ([]string, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read fixtures %s: %w", dir, err)
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		if !item.IsDir() {
			names = append(names, item.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func compileFragment(schemaPath, fragment string) (*jsonschema.Schema, error) {
	absPath, err := filepath.Abs(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("resolve schema path: %w", err)
	}
	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open schema file: %w", err)
	}
	defer f.Close()

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(absPath, f); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(absPath + fragment)
	if err != nil {
		return nil, fmt.Errorf("compile schema fragment %s: %w", fragment, err)
	}
	return schema, nil
}

func validateAgainstSchema(schema *jsonschema.Schema, raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}

func validateEvent(raw []byte) error {
	var event remediation.Event
	if err := strictUnmarshal(raw, &event); err != nil {
		return err
	}
	return event.Validate()
}

func validatePattern(raw []byte) error {
	var pattern remediation.Pattern
	if err := strictUnmarshal(raw, &pattern); err != nil {
		return err
	}
	return pattern.Validate()
}

func validateAction(raw []byte) error {
	var action remediation.Action
	if err := strictUnmarshal(raw, &action); err != nil {
		return err
	}
	return action.Validate()
}

func validateReport(raw []byte) error {
	var report remediation.Report
	if err := strictUnmarshal(raw, &report); err != nil {
		return err
	}
	for _, pattern := range report.Patterns {
		if err := pattern.Validate(); err != nil {
			return fmt.Errorf("pattern %s: %w", pattern.ID, err)
		}
	}
	for _, action := range report.Actions {
		if err := action.Validate(); err != nil {
			return fmt.Errorf("action %s: %w", action.ID, err)
		}
	}
	return nil
}

func strictUnmarshal(raw []byte, v any) error {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	if _, err := decoder.Token(); err != io.EOF {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}
