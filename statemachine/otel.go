package statemachine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/amp-labs/osf-moderation/statemachine"

// startFireSpan creates the span covering one Fire call. Uses the global
// tracer installed by the telemetry package. The caller ends the span.
//
//nolint:spancheck // Span lifecycle managed by caller
func startFireSpan(ctx context.Context, machine, trigger, kind, targetID, from string) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "statemachine.fire")
	span.SetAttributes(
		attribute.String("machine", machine),
		attribute.String("trigger", trigger),
		attribute.String("target.kind", kind),
		attribute.String("target.id_hash", hashID(targetID)),
		attribute.String("state.from", from),
	)

	return ctx, span
}

func endFireSpan(span trace.Span, to string, outcome Outcome) {
	span.SetAttributes(
		attribute.String("state.to", to),
		attribute.String("outcome", string(outcome)),
	)
	span.SetStatus(codes.Ok, string(outcome))
}
