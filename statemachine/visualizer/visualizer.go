// Package visualizer renders transition tables as Mermaid state diagrams.
package visualizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/amp-labs/osf-moderation/statemachine"
)

// Visualizer errors.
var (
	ErrTableNil       = errors.New("table cannot be nil")
	ErrNoInitialState = errors.New("table must have an initial state")
)

// GenerateMermaid converts a Table to a Mermaid state diagram.
func GenerateMermaid(table *statemachine.Table) (string, error) {
	return GenerateMermaidWithOptions(table, DefaultOptions())
}

// GenerateMermaidFromFile loads a table from a file and renders it.
func GenerateMermaidFromFile(path string) (string, error) {
	table, err := statemachine.LoadTableFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to load table: %w", err)
	}

	return GenerateMermaid(table)
}

// GenerateMermaidWithOptions renders a table with custom options.
func GenerateMermaidWithOptions(table *statemachine.Table, opts Options) (string, error) {
	if table == nil {
		return "", ErrTableNil
	}

	if table.InitialState == "" {
		return "", ErrNoInitialState
	}

	var sb strings.Builder

	sb.WriteString("```mermaid\n")
	fmt.Fprintf(&sb, "stateDiagram-%s\n", opts.Direction)
	fmt.Fprintf(&sb, "    [*] --> %s\n", table.InitialState)

	highlight := make(map[string]bool)
	for _, state := range opts.HighlightPath {
		highlight[state] = true
	}

	for _, state := range table.States {
		switch {
		case highlight[state]:
			fmt.Fprintf(&sb, "    class %s highlighted\n", state)
		case table.IsFinal(state):
			fmt.Fprintf(&sb, "    class %s finalState\n", state)
		}

		for _, tr := range table.Transitions {
			if !sourcedAt(tr, state) {
				continue
			}

			if tr.Noop && !opts.ShowNoops || tr.Internal() && !opts.ShowInternal {
				continue
			}

			fmt.Fprintf(&sb, "    %s --> %s: %s\n", state, tr.DestFor(state), label(tr, opts))
		}

		if table.IsFinal(state) {
			fmt.Fprintf(&sb, "    %s --> [*]\n", state)
		}
	}

	sb.WriteString("\n")
	sb.WriteString("    classDef finalState fill:#c8e6c9,stroke:#2e7d32,stroke-width:2px\n")
	sb.WriteString("    classDef highlighted fill:#fff9c4,stroke:#f57f17,stroke-width:3px\n")
	sb.WriteString("```\n")

	return sb.String(), nil
}

func sourcedAt(tr statemachine.Transition, state string) bool {
	for _, s := range tr.Source {
		if s == state {
			return true
		}
	}

	return false
}

func label(tr statemachine.Transition, opts Options) string {
	parts := []string{tr.Trigger}

	if opts.ShowConditions {
		for _, c := range tr.Conditions {
			parts = append(parts, "["+c+"]")
		}

		for _, c := range tr.Unless {
			parts = append(parts, "[!"+c+"]")
		}
	}

	if opts.ShowGuards && len(tr.Guards) > 0 {
		parts = append(parts, "{"+strings.Join(tr.Guards, ",")+"}")
	}

	if tr.Noop {
		parts = append(parts, "(noop)")
	}

	return strings.Join(parts, " ")
}
