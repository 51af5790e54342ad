package statemachine

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	moderrors "github.com/amp-labs/osf-moderation/errors"
)

// InternalDest marks a transition that runs callbacks and records an action
// without leaving the source state.
const InternalDest = "="

// TableLoader loads raw table definitions by name. It resolves extends.
type TableLoader interface {
	LoadByName(name string) ([]byte, error)
	ListAvailable() []string
}

// Table is a declarative transition table.
type Table struct {
	Name                  string       `json:"name"                            yaml:"name"`
	Extends               string       `json:"extends,omitempty"               yaml:"extends,omitempty"`
	InitialState          string       `json:"initialState"                    yaml:"initialState"`
	FinalStates           []string     `json:"finalStates,omitempty"           yaml:"finalStates,omitempty"`
	States                []string     `json:"states"                          yaml:"states"`
	IgnoreInvalidTriggers *bool        `json:"ignoreInvalidTriggers,omitempty" yaml:"ignoreInvalidTriggers,omitempty"`
	AfterStateChange      []string     `json:"afterStateChange,omitempty"      yaml:"afterStateChange,omitempty"`
	Transitions           []Transition `json:"transitions"                     yaml:"transitions"`
}

// Transition is one row of a table. Sources are tried in table order;
// the first row whose conditions hold wins.
type Transition struct {
	Trigger    string   `json:"trigger"              yaml:"trigger"`
	Source     []string `json:"source"               yaml:"source"`
	Dest       string   `json:"dest"                 yaml:"dest"`
	Conditions []string `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Unless     []string `json:"unless,omitempty"     yaml:"unless,omitempty"`
	Guards     []string `json:"guards,omitempty"     yaml:"guards,omitempty"`
	Before     []string `json:"before,omitempty"     yaml:"before,omitempty"`
	After      []string `json:"after,omitempty"      yaml:"after,omitempty"`
	Noop       bool     `json:"noop,omitempty"       yaml:"noop,omitempty"`
}

// Internal reports whether the transition stays in its source state.
func (t Transition) Internal() bool {
	return t.Dest == InternalDest
}

// DestFor returns the state the transition ends in when fired from src.
func (t Transition) DestFor(src string) string {
	if t.Internal() || t.Noop {
		return src
	}

	return t.Dest
}

// IgnoresInvalidTriggers reports the table's policy for triggers that have no
// transition from the current state. Tables ignore them unless told otherwise.
func (t *Table) IgnoresInvalidTriggers() bool {
	return t.IgnoreInvalidTriggers == nil || *t.IgnoreInvalidTriggers
}

// Triggers returns every trigger named by the table, in first-seen order.
func (t *Table) Triggers() []string {
	var out []string

	for _, tr := range t.Transitions {
		if !slices.Contains(out, tr.Trigger) {
			out = append(out, tr.Trigger)
		}
	}

	return out
}

// IsFinal reports whether state is declared final.
func (t *Table) IsFinal(state string) bool {
	return slices.Contains(t.FinalStates, state)
}

// Callbacks returns every condition, guard and hook name the table refers to.
func (t *Table) Callbacks() (conditions, guards, hooks []string) {
	add := func(dst []string, names ...string) []string {
		for _, n := range names {
			if !slices.Contains(dst, n) {
				dst = append(dst, n)
			}
		}

		return dst
	}

	hooks = add(hooks, t.AfterStateChange...)

	for _, tr := range t.Transitions {
		conditions = add(conditions, tr.Conditions...)
		conditions = add(conditions, tr.Unless...)
		guards = add(guards, tr.Guards...)
		hooks = add(hooks, tr.Before...)
		hooks = add(hooks, tr.After...)
	}

	return conditions, guards, hooks
}

// Validate checks the table's structure and returns a ConfigurationError
// describing every problem found.
func (t *Table) Validate() error {
	var problems moderrors.Collection

	if t.Name == "" {
		problems.Add(ErrTableNameRequired)
	}

	if len(t.States) == 0 {
		problems.Add(ErrStateRequired)
	}

	declared := make(map[string]bool, len(t.States))

	for _, s := range t.States {
		if declared[s] {
			problems.Addf("%w: %q", ErrDuplicateState, s)
		}

		declared[s] = true
	}

	switch {
	case t.InitialState == "":
		problems.Add(ErrInitialStateRequired)
	case !declared[t.InitialState]:
		problems.Addf("%w: initial state %q", ErrUnknownState, t.InitialState)
	}

	for _, s := range t.FinalStates {
		if !declared[s] {
			problems.Addf("%w: final state %q", ErrUnknownState, s)
		}
	}

	for i, tr := range t.Transitions {
		where := fmt.Sprintf("transition %d (%s)", i, tr.Trigger)

		if tr.Trigger == "" {
			problems.Addf("%s: %w", where, ErrTriggerRequired)
		}

		if len(tr.Source) == 0 {
			problems.Addf("%s: %w", where, ErrSourceRequired)
		}

		for _, s := range tr.Source {
			if !declared[s] {
				problems.Addf("%s: %w: source %q", where, ErrUnknownState, s)
			}
		}

		switch {
		case tr.Dest == "":
			problems.Addf("%s: %w", where, ErrDestRequired)
		case tr.Dest != InternalDest && !declared[tr.Dest]:
			problems.Addf("%s: %w: dest %q", where, ErrUnknownState, tr.Dest)
		}
	}

	return problems.AsConfigurationError(t.Name)
}

// merge lays child over parent: states and transitions are appended after the
// parent's, scalar fields override when set.
func merge(parent, child *Table) *Table {
	out := &Table{
		Name:                  child.Name,
		InitialState:          parent.InitialState,
		FinalStates:           slices.Clone(parent.FinalStates),
		States:                slices.Clone(parent.States),
		IgnoreInvalidTriggers: parent.IgnoreInvalidTriggers,
		AfterStateChange:      slices.Clone(parent.AfterStateChange),
		Transitions:           slices.Clone(parent.Transitions),
	}

	if child.InitialState != "" {
		out.InitialState = child.InitialState
	}

	if child.IgnoreInvalidTriggers != nil {
		out.IgnoreInvalidTriggers = child.IgnoreInvalidTriggers
	}

	for _, s := range child.States {
		if !slices.Contains(out.States, s) {
			out.States = append(out.States, s)
		}
	}

	for _, s := range child.FinalStates {
		if !slices.Contains(out.FinalStates, s) {
			out.FinalStates = append(out.FinalStates, s)
		}
	}

	for _, h := range child.AfterStateChange {
		if !slices.Contains(out.AfterStateChange, h) {
			out.AfterStateChange = append(out.AfterStateChange, h)
		}
	}

	out.Transitions = append(out.Transitions, child.Transitions...)

	return out
}

func parseTable(data []byte) (*Table, error) {
	var table Table

	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse table YAML: %w", err)
	}

	return &table, nil
}

// resolve follows extends through loader, guarding against cycles.
func resolve(table *Table, loader TableLoader, seen []string) (*Table, error) {
	if table.Extends == "" {
		return table, nil
	}

	if slices.Contains(seen, table.Extends) {
		return nil, fmt.Errorf("%w: %s", ErrExtendsCycle, strings.Join(append(seen, table.Extends), " -> "))
	}

	if loader == nil {
		return nil, fmt.Errorf("%w: %q extends %q", ErrNoTableLoader, table.Name, table.Extends)
	}

	data, err := loader.LoadByName(table.Extends)
	if err != nil {
		return nil, fmt.Errorf("failed to load table %q (available: %v): %w",
			table.Extends, loader.ListAvailable(), err)
	}

	parent, err := parseTable(data)
	if err != nil {
		return nil, err
	}

	parent, err = resolve(parent, loader, append(seen, table.Extends))
	if err != nil {
		return nil, err
	}

	return merge(parent, table), nil
}

// LoadTableFromBytes parses a table, resolves extends through loader (which
// may be nil for standalone tables) and validates the result.
func LoadTableFromBytes(data []byte, loader TableLoader) (*Table, error) {
	table, err := parseTable(data)
	if err != nil {
		return nil, err
	}

	table, err = resolve(table, loader, []string{table.Name})
	if err != nil {
		return nil, err
	}

	if err := table.Validate(); err != nil {
		return nil, err
	}

	return table, nil
}

// LoadTable loads a table by name through loader.
func LoadTable(name string, loader TableLoader) (*Table, error) {
	if loader == nil {
		return nil, ErrNoTableLoader
	}

	data, err := loader.LoadByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load table %q (available: %v): %w", name, loader.ListAvailable(), err)
	}

	return LoadTableFromBytes(data, loader)
}

// LoadTableFile reads a table from disk. Extends are resolved against the
// other YAML files in the same directory.
func LoadTableFile(path string) (*Table, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Intentional path-based loading
	if err != nil {
		return nil, fmt.Errorf("failed to read table file %q: %w", path, err)
	}

	return LoadTableFromBytes(data, NewFSLoader(os.DirFS(filepath.Dir(path)), "."))
}

// FSLoader resolves table names to "<dir>/<name>.yaml" inside an fs.FS,
// usually an embed.FS.
type FSLoader struct {
	fsys fs.FS
	dir  string
}

// NewFSLoader creates a loader rooted at dir inside fsys.
func NewFSLoader(fsys fs.FS, dir string) *FSLoader {
	return &FSLoader{fsys: fsys, dir: dir}
}

func (l *FSLoader) LoadByName(name string) ([]byte, error) {
	data, err := fs.ReadFile(l.fsys, l.path(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read table from FS: %w", err)
	}

	return data, nil
}

func (l *FSLoader) ListAvailable() []string {
	entries, err := fs.ReadDir(l.fsys, l.dir)
	if err != nil {
		return nil
	}

	var names []string

	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".yaml"); ok && !e.IsDir() {
			names = append(names, name)
		}
	}

	return names
}

func (l *FSLoader) path(name string) string {
	if l.dir == "" || l.dir == "." {
		return name + ".yaml"
	}

	return l.dir + "/" + name + ".yaml"
}
