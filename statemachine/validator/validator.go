// Package validator lints transition tables beyond the structural checks the
// engine performs at construction.
package validator

import (
	"fmt"

	"github.com/amp-labs/osf-moderation/statemachine"
)

// ValidationResult contains the results of linting a table.
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// ValidationError represents a problem that makes a table unfit to serve.
type ValidationError struct {
	Code     string   // Error code like "UNREACHABLE_STATE", "SHADOWED_TRANSITION"
	Message  string   // Human-readable error message
	Location Location // Where the error occurred
}

// ValidationWarning represents a non-critical issue.
type ValidationWarning struct {
	Code     string
	Message  string
	Location Location
}

// Location identifies where an issue occurred.
type Location struct {
	Table      string
	State      string
	Trigger    string
	Transition int // index into Table.Transitions, -1 if not applicable
}

func (l Location) String() string {
	switch {
	case l.Trigger != "" && l.Transition >= 0:
		return fmt.Sprintf("%s[%d] %s", l.Table, l.Transition, l.Trigger)
	case l.State != "":
		return fmt.Sprintf("%s state %s", l.Table, l.State)
	default:
		return l.Table
	}
}

// Validate lints table with DefaultRules and any registered rules.
func Validate(table *statemachine.Table) ValidationResult {
	return ValidateWithRules(table, append(DefaultRules(), RegisteredRules...))
}

// ValidateStrict lints like Validate but treats warnings as errors.
func ValidateStrict(table *statemachine.Table) ValidationResult {
	return ValidateWithRulesStrict(table, append(DefaultRules(), RegisteredRules...))
}

// ValidateWithRules lints using custom rules.
func ValidateWithRules(table *statemachine.Table, rules []Rule) ValidationResult {
	result := ValidationResult{Valid: true}

	for _, rule := range rules {
		ruleResult := rule.Check(table)
		result.Errors = append(result.Errors, ruleResult.Errors...)
		result.Warnings = append(result.Warnings, ruleResult.Warnings...)
	}

	for i := range result.Errors {
		result.Errors[i].Location.Table = table.Name
	}

	for i := range result.Warnings {
		result.Warnings[i].Location.Table = table.Name
	}

	if len(result.Errors) > 0 {
		result.Valid = false
	}

	return result
}

// ValidateWithRulesStrict lints with strict mode (treats warnings as errors).
func ValidateWithRulesStrict(table *statemachine.Table, rules []Rule) ValidationResult {
	result := ValidateWithRules(table, rules)

	for _, warning := range result.Warnings {
		result.Errors = append(result.Errors, ValidationError(warning))
	}

	result.Warnings = nil

	if len(result.Errors) > 0 {
		result.Valid = false
	}

	return result
}
