package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of spans started by this package.
const TracerName = "shotonme-client"

// Common checkout span attributes.
const (
	AttrFlow      = attribute.Key("checkout.flow")
	AttrAmount    = attribute.Key("checkout.amount")
	AttrSessionID = attribute.Key("checkout.session_id")
	AttrOutcome   = attribute.Key("checkout.outcome")
)

// StartSpan starts an internal span under TracerName. The returned func ends
// the span and marks it failed when given a non-nil error:
//
//	ctx, end := tracing.StartSpan(ctx, "checkout.submit")
//	defer func() { end(err) }()
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, finisher(span)
}

// StartVendorSpan starts a client span around one Stripe API operation.
func StartVendorSpan(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "stripe "+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("peer.service", "stripe"),
			attribute.String("stripe.operation", operation),
		),
	)
	return ctx, finisher(span)
}

func finisher(span trace.Span) func(error) {
	return func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// AddEvent records a named event on the span carried by ctx, if any.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes annotates the span carried by ctx, if any.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
