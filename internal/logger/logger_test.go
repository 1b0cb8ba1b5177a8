package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"hush/pkg/logging"
)

func TestNew(t *testing.T) {
	log, err := New("debug", "json")
	require.NoError(t, err)
	assert.Equal(t, "debug", log.Level())

	log, err = New("nonsense", "console")
	require.NoError(t, err)
	assert.Equal(t, "info", log.Level())
}

func TestSetLevel(t *testing.T) {
	log, err := New("info", "json")
	require.NoError(t, err)

	child := log.With("component", "batching").(*SugaredLogger)
	require.NoError(t, log.SetLevel("warn"))
	assert.Equal(t, "warn", child.Level(), "children share the level")

	assert.Error(t, log.SetLevel("loud"))
	assert.Equal(t, "warn", log.Level())
}

func TestContextFieldsArePrepended(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := FromZap(zap.New(core))
	log.SetServiceName("notification-service")

	ctx := logging.WithEventID(context.Background(), "evt-7")
	log.With("component", "pipeline").InfowCtx(ctx, "decision produced", "action", "allow")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "evt-7", fields["event_id"])
	assert.Equal(t, "notification-service", fields["service_name"])
	assert.Equal(t, "pipeline", fields["component"])
	assert.Equal(t, "allow", fields["action"])
}

func TestSpanTraceIDIsUsedWhenUnset(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := FromZap(zap.New(core))

	traceID := trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: trace.SpanID{1}})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	log.InfowCtx(ctx, "traced")
	assert.Equal(t, traceID.String(), logs.All()[0].ContextMap()["trace_id"])

	log.InfowCtx(logging.WithTraceID(ctx, "req-1"), "explicit")
	assert.Equal(t, "req-1", logs.All()[1].ContextMap()["trace_id"])
}
