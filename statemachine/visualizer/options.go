package visualizer

// Options configures the visualization output.
type Options struct {
	// ShowConditions appends conditions and unless conditions to edge labels.
	ShowConditions bool

	// ShowGuards appends guard names to edge labels.
	ShowGuards bool

	// ShowNoops draws idempotent rows as self loops.
	ShowNoops bool

	// ShowInternal draws internal transitions as self loops.
	ShowInternal bool

	// Direction controls diagram flow: "TD" (top-down) or "LR" (left-right).
	Direction string

	// HighlightPath highlights a specific state path through the diagram.
	HighlightPath []string
}

// DefaultOptions returns sensible defaults for visualization.
func DefaultOptions() Options {
	return Options{
		ShowConditions: true,
		ShowGuards:     true,
		Direction:      "TD",
	}
}

// WithShowConditions enables/disables condition labels.
func (o Options) WithShowConditions(show bool) Options {
	o.ShowConditions = show

	return o
}

// WithShowGuards enables/disables guard labels.
func (o Options) WithShowGuards(show bool) Options {
	o.ShowGuards = show

	return o
}

// WithShowNoops enables/disables noop self loops.
func (o Options) WithShowNoops(show bool) Options {
	o.ShowNoops = show

	return o
}

// WithShowInternal enables/disables internal self loops.
func (o Options) WithShowInternal(show bool) Options {
	o.ShowInternal = show

	return o
}

// WithDirection sets the diagram direction.
func (o Options) WithDirection(direction string) Options {
	o.Direction = direction

	return o
}

// WithHighlightPath sets states to highlight.
func (o Options) WithHighlightPath(path []string) Options {
	o.HighlightPath = path

	return o
}
