package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"entitygraph/pkg/storage"
)

const tracerName = "entitygraph/session"

// TraceObserver records each event as a finished span. Events arrive after
// the statement ran, so spans carry the statement's own start and end time.
type TraceObserver struct {
	tracer trace.Tracer
}

var _ storage.Observer = (*TraceObserver)(nil)

// NewTraceObserver uses tp, or the global provider when nil.
func NewTraceObserver(tp trace.TracerProvider) *TraceObserver {
	if tp == nil {
		return &TraceObserver{tracer: otel.Tracer(tracerName)}
	}
	return &TraceObserver{tracer: tp.Tracer(tracerName)}
}

// Observe implements storage.Observer.
func (o *TraceObserver) Observe(ctx context.Context, ev storage.Event) {
	name := string(ev.Kind)
	if ev.Table != "" {
		name += " " + ev.Table
	}
	_, span := o.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(ev.Started),
		trace.WithAttributes(
			attribute.String("db.operation", string(ev.Kind)),
			attribute.String("entitygraph.session", ev.Label),
		),
	)
	if ev.Table != "" {
		span.SetAttributes(
			attribute.String("db.sql.table", ev.Table),
			attribute.String("db.statement", ev.Query),
			attribute.Int64("db.rows_affected", ev.RowsAffected),
		)
	}
	if ev.Err != nil {
		span.RecordError(ev.Err)
		span.SetStatus(codes.Error, ev.Err.Error())
	}
	span.End(trace.WithTimestamp(ev.Started.Add(ev.Duration)))
}
