package tracing

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	AttrEventID     = attribute.Key("hush.event.id")
	AttrEventSource = attribute.Key("hush.event.source")
	AttrChannelID   = attribute.Key("hush.channel.id")
	AttrTeamID      = attribute.Key("hush.team.id")
	AttrStage       = attribute.Key("hush.decision.stage")
	AttrAction      = attribute.Key("hush.decision.action")
	AttrRulesHit    = attribute.Key("hush.rules.applied")
	AttrFlushReason = attribute.Key("hush.batch.flush_reason")
	AttrBatchSize   = attribute.Key("hush.batch.size")
	AttrTopic       = attribute.Key("messaging.destination.name")
)

// Start opens a span on component's tracer.
func Start(ctx context.Context, component, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return GetTracer(component).Start(ctx, op, trace.WithAttributes(attrs...))
}

// Decided annotates span with the outcome of a filter decision.
func Decided(span trace.Span, stage, action string, appliedRules []string) {
	span.SetAttributes(
		AttrStage.String(stage),
		AttrAction.String(action),
		AttrRulesHit.StringSlice(appliedRules),
	)
}

// Fail records err on the span carried by ctx. A nil err is ignored.
func Fail(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Middleware traces management API requests. Probes and scrapes are not
// traced.
func Middleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName,
		otelgin.WithFilter(func(r *http.Request) bool {
			return !untraced(r.URL.Path)
		}),
	)
}

func untraced(path string) bool {
	return path == "/health" || path == "/metrics" || strings.HasPrefix(path, "/swagger/")
}
