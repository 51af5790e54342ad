package logger

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Annotate attaches slog key-value pairs to err. Loggers configured by this
// package add them to any record that logs the error. Returns nil if err is
// nil.
//
//	return logger.Annotate(err, "sanction_id", id, "kind", kind)
func Annotate(err error, args ...any) error {
	if err == nil {
		return nil
	}

	r := slog.NewRecord(time.Now(), slog.LevelDebug, "", 0)
	r.Add(args...)

	attrs := make([]slog.Attr, 0, r.NumAttrs())

	r.Attrs(func(attr slog.Attr) bool {
		attrs = append(attrs, attr)

		return true
	})

	return &annotatedError{err: err, attrs: attrs}
}

type annotatedError struct {
	err   error
	attrs []slog.Attr
}

func (a *annotatedError) Error() string { return a.err.Error() }

func (a *annotatedError) Unwrap() error { return a.err }

// annotationHandler expands annotated errors into their attributes.
type annotationHandler struct {
	inner slog.Handler
}

var _ slog.Handler = annotationHandler{}

func (h annotationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h annotationHandler) Handle(ctx context.Context, record slog.Record) error {
	var (
		base    []slog.Attr
		extra   []slog.Attr
		touched bool
	)

	record.Attrs(func(attr slog.Attr) bool {
		if err, ok := attr.Value.Any().(error); ok {
			var ae *annotatedError
			if errors.As(err, &ae) {
				touched = true
				extra = append(extra, ae.attrs...)
			}
		}

		base = append(base, attr)

		return true
	})

	if !touched {
		return h.inner.Handle(ctx, record)
	}

	r := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	r.AddAttrs(base...)
	r.AddAttrs(extra...)

	return h.inner.Handle(ctx, r)
}

func (h annotationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return annotationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h annotationHandler) WithGroup(name string) slog.Handler {
	return annotationHandler{inner: h.inner.WithGroup(name)}
}
