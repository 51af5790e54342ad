//nolint:lll // Long validation messages
package validator

import (
	"fmt"
	"slices"

	"github.com/amp-labs/osf-moderation/statemachine"
)

// Severity defines the severity level of a validation issue.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// RuleResult contains both errors and warnings from a rule check.
type RuleResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// Rule checks a table for one kind of issue.
type Rule interface {
	Name() string
	Severity() Severity
	Check(table *statemachine.Table) RuleResult
}

// DefaultRules returns the standard set of rules.
func DefaultRules() []Rule {
	return []Rule{
		&unreachableStateRule{},
		&deadEndStateRule{},
		&shadowedTransitionRule{},
		&finalStateExitRule{},
		&noopCallbacksRule{},
		&namingConventionRule{},
	}
}

// RegisteredRules stores custom rules run by Validate.
var RegisteredRules []Rule //nolint:gochecknoglobals

// RegisterRule adds a custom rule.
func RegisterRule(rule Rule) {
	RegisteredRules = append(RegisteredRules, rule)
}

// moves reports whether a row can change the state.
func moves(tr statemachine.Transition) bool {
	return !tr.Noop && !tr.Internal()
}

// unreachableStateRule checks for states that cannot be reached from the initial state.
type unreachableStateRule struct{}

func (r *unreachableStateRule) Name() string { return "UnreachableState" }

func (r *unreachableStateRule) Severity() Severity { return SeverityError }

func (r *unreachableStateRule) Check(table *statemachine.Table) RuleResult {
	var errors []ValidationError

	reachable := map[string]bool{table.InitialState: true}

	queue := []string{table.InitialState}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, tr := range table.Transitions {
			if moves(tr) && slices.Contains(tr.Source, current) && !reachable[tr.Dest] {
				reachable[tr.Dest] = true
				queue = append(queue, tr.Dest)
			}
		}
	}

	for _, state := range table.States {
		if !reachable[state] {
			errors = append(errors, ValidationError{
				Code:     "UNREACHABLE_STATE",
				Message:  fmt.Sprintf("State '%s' cannot be reached from initial state '%s'", state, table.InitialState),
				Location: Location{State: state, Transition: -1},
			})
		}
	}

	return RuleResult{Errors: errors}
}

// deadEndStateRule checks for non-final states that nothing can leave.
type deadEndStateRule struct{}

func (r *deadEndStateRule) Name() string { return "DeadEndState" }

func (r *deadEndStateRule) Severity() Severity { return SeverityError }

func (r *deadEndStateRule) Check(table *statemachine.Table) RuleResult {
	var errors []ValidationError

	leaves := make(map[string]bool)

	for _, tr := range table.Transitions {
		if !moves(tr) {
			continue
		}

		for _, s := range tr.Source {
			if s != tr.Dest {
				leaves[s] = true
			}
		}
	}

	for _, state := range table.States {
		if !table.IsFinal(state) && !leaves[state] {
			errors = append(errors, ValidationError{
				Code:     "DEAD_END_STATE",
				Message:  fmt.Sprintf("Non-final state '%s' has no transition out of it; add one or mark it final", state),
				Location: Location{State: state, Transition: -1},
			})
		}
	}

	return RuleResult{Errors: errors}
}

// shadowedTransitionRule flags rows that can never be selected because an
// earlier unconditional row shares their trigger and source.
type shadowedTransitionRule struct{}

func (r *shadowedTransitionRule) Name() string { return "ShadowedTransition" }

func (r *shadowedTransitionRule) Severity() Severity { return SeverityError }

func (r *shadowedTransitionRule) Check(table *statemachine.Table) RuleResult {
	var errors []ValidationError

	for i, later := range table.Transitions {
		for j := range i {
			earlier := table.Transitions[j]
			if earlier.Trigger != later.Trigger || len(earlier.Conditions) > 0 || len(earlier.Unless) > 0 {
				continue
			}

			for _, s := range later.Source {
				if slices.Contains(earlier.Source, s) {
					errors = append(errors, ValidationError{
						Code:     "SHADOWED_TRANSITION",
						Message:  fmt.Sprintf("Transition %d (%s from '%s') is shadowed by unconditional transition %d", i, later.Trigger, s, j),
						Location: Location{State: s, Trigger: later.Trigger, Transition: i},
					})
				}
			}
		}
	}

	return RuleResult{Errors: errors}
}

// finalStateExitRule warns when a final state can still be left.
type finalStateExitRule struct{}

func (r *finalStateExitRule) Name() string { return "FinalStateExit" }

func (r *finalStateExitRule) Severity() Severity { return SeverityWarning }

func (r *finalStateExitRule) Check(table *statemachine.Table) RuleResult {
	var warnings []ValidationWarning

	for i, tr := range table.Transitions {
		if !moves(tr) {
			continue
		}

		for _, s := range tr.Source {
			if table.IsFinal(s) && s != tr.Dest {
				warnings = append(warnings, ValidationWarning{
					Code:     "FINAL_STATE_EXIT",
					Message:  fmt.Sprintf("Final state '%s' can be left by '%s'", s, tr.Trigger),
					Location: Location{State: s, Trigger: tr.Trigger, Transition: i},
				})
			}
		}
	}

	return RuleResult{Warnings: warnings}
}

// noopCallbacksRule warns about callbacks attached to rows that never run them.
type noopCallbacksRule struct{}

func (r *noopCallbacksRule) Name() string { return "NoopCallbacks" }

func (r *noopCallbacksRule) Severity() Severity { return SeverityWarning }

func (r *noopCallbacksRule) Check(table *statemachine.Table) RuleResult {
	var warnings []ValidationWarning

	for i, tr := range table.Transitions {
		if tr.Noop && len(tr.Guards)+len(tr.Before)+len(tr.After) > 0 {
			warnings = append(warnings, ValidationWarning{
				Code:     "NOOP_CALLBACKS",
				Message:  fmt.Sprintf("Noop transition %d (%s) lists guards or hooks that never run", i, tr.Trigger),
				Location: Location{Trigger: tr.Trigger, Transition: i},
			})
		}
	}

	return RuleResult{Warnings: warnings}
}

// namingConventionRule warns about naming convention violations.
type namingConventionRule struct{}

func (r *namingConventionRule) Name() string { return "NamingConvention" }

func (r *namingConventionRule) Severity() Severity { return SeverityWarning }

func (r *namingConventionRule) Check(table *statemachine.Table) RuleResult {
	var warnings []ValidationWarning

	for _, state := range table.States {
		if !isSnakeCase(state) {
			warnings = append(warnings, ValidationWarning{
				Code:     "NAMING_CONVENTION",
				Message:  fmt.Sprintf("State '%s' should use snake_case naming (suggested: '%s')", state, toSnakeCase(state)),
				Location: Location{State: state, Transition: -1},
			})
		}
	}

	for _, trigger := range table.Triggers() {
		if !isSnakeCase(trigger) {
			warnings = append(warnings, ValidationWarning{
				Code:     "NAMING_CONVENTION",
				Message:  fmt.Sprintf("Trigger '%s' should use snake_case naming (suggested: '%s')", trigger, toSnakeCase(trigger)),
				Location: Location{Trigger: trigger, Transition: -1},
			})
		}
	}

	return RuleResult{Warnings: warnings}
}

func isSnakeCase(s string) bool {
	for _, r := range s {
		if r >= 'A' && r <= 'Z' || r == '-' || r == ' ' {
			return false
		}
	}

	return true
}

func toSnakeCase(s string) string {
	var result []rune

	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				result = append(result, '_')
			}

			result = append(result, r+('a'-'A'))
		case r == '-' || r == ' ':
			result = append(result, '_')
		default:
			result = append(result, r)
		}
	}

	return string(result)
}
