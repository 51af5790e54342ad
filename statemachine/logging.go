package statemachine

import (
	"context"
	"log/slog"
)

// Logger provides logging hooks for engine execution.
type Logger interface {
	TransitionFired(ctx context.Context, machine, trigger, from, to string)
	TransitionIgnored(ctx context.Context, machine, trigger, state, reason string)
	TransitionRejected(ctx context.Context, machine, trigger, state string, err error)
}

// DefaultLogger implements Logger using slog.
type DefaultLogger struct {
	logger *slog.Logger
}

// NewDefaultLogger creates a logger that writes through slog.Default.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{}
}

// NewSlogLogger creates a logger that writes through l.
func NewSlogLogger(l *slog.Logger) *DefaultLogger {
	return &DefaultLogger{logger: l}
}

func (l *DefaultLogger) get() *slog.Logger {
	if l.logger != nil {
		return l.logger
	}

	return slog.Default()
}

func (l *DefaultLogger) TransitionFired(ctx context.Context, machine, trigger, from, to string) {
	l.get().InfoContext(ctx, "Transition fired",
		"machine", machine,
		"trigger", trigger,
		"from", from,
		"to", to,
	)
}

func (l *DefaultLogger) TransitionIgnored(ctx context.Context, machine, trigger, state, reason string) {
	l.get().DebugContext(ctx, "Transition ignored",
		"machine", machine,
		"trigger", trigger,
		"state", state,
		"reason", reason,
	)
}

func (l *DefaultLogger) TransitionRejected(ctx context.Context, machine, trigger, state string, err error) {
	l.get().WarnContext(ctx, "Transition rejected",
		"machine", machine,
		"trigger", trigger,
		"state", state,
		"error", err,
	)
}

// nopLogger discards everything.
type nopLogger struct{}

// NopLogger returns a Logger that discards all events.
func NopLogger() Logger { return nopLogger{} }

func (nopLogger) TransitionFired(context.Context, string, string, string, string)   {}
func (nopLogger) TransitionIgnored(context.Context, string, string, string, string) {}
func (nopLogger) TransitionRejected(context.Context, string, string, string, error) {}
