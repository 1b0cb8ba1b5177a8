package logging

import (
	"context"
)

const (
	TraceIDKey     = "trace_id"
	EventIDKey     = "event_id"
	ChannelIDKey   = "channel_id"
	TeamIDKey      = "team_id"
	ServiceNameKey = "service_name"
)

type ctxKey string

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey(TraceIDKey), traceID)
}

func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, ctxKey(EventIDKey), eventID)
}

func WithChannelID(ctx context.Context, channelID string) context.Context {
	return context.WithValue(ctx, ctxKey(ChannelIDKey), channelID)
}

func WithTeamID(ctx context.Context, teamID string) context.Context {
	return context.WithValue(ctx, ctxKey(TeamIDKey), teamID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ctxKey(ServiceNameKey), serviceName)
}

func value(ctx context.Context, key string) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxKey(key)).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string     { return value(ctx, TraceIDKey) }
func GetEventID(ctx context.Context) string     { return value(ctx, EventIDKey) }
func GetChannelID(ctx context.Context) string   { return value(ctx, ChannelIDKey) }
func GetTeamID(ctx context.Context) string      { return value(ctx, TeamIDKey) }
func GetServiceName(ctx context.Context) string { return value(ctx, ServiceNameKey) }

// GetLogFields returns the key/value pairs stored in ctx, in a fixed order.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 10)

	for _, key := range []string{TraceIDKey, EventIDKey, ChannelIDKey, TeamIDKey, ServiceNameKey} {
		if v := value(ctx, key); v != "" {
			fields = append(fields, key, v)
		}
	}

	return fields
}
