package push

import (
	"context"

	"github.com/vango-dev/wspush/pkg/message"
	"github.com/vango-dev/wspush/pkg/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for dispatch spans.
const defaultTracerName = "wspush"

// Span attribute keys.
const (
	attrApp      = attribute.Key("wspush.app")
	attrSession  = attribute.Key("wspush.session")
	attrView     = attribute.Key("wspush.view")
	attrKind     = attribute.Key("wspush.kind")
	attrReused   = attribute.Key("wspush.context_reused")
	attrDispatch = attribute.Key("wspush.dispatch_id")
)

func startDispatchSpan(ctx context.Context, tracer trace.Tracer, key registry.Key, kind message.Kind) (context.Context, trace.Span) {
	return tracer.Start(ctx, "wspush.dispatch "+kind.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attrApp.String(key.App),
			attrSession.String(key.Session),
			attrView.String(key.View),
			attrKind.String(kind.String()),
		),
	)
}

func endDispatchSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcomeOf(err))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func resolveTracer(tracer trace.Tracer) trace.Tracer {
	if tracer != nil {
		return tracer
	}
	return otel.Tracer(defaultTracerName)
}
