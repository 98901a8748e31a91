package log

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type sessionIDKey struct{}

// WithSessionID returns a context which knows its session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// WithNewSessionID does the same thing as WithSessionID but generates a new random id.
func WithNewSessionID(ctx context.Context) context.Context {
	return WithSessionID(ctx, uuid.NewString())
}

// ExtractSessionID extracts the session id from a context object.
func ExtractSessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok
}

// ZContext returns the logging fields carried by ctx.
func ZContext(ctx context.Context) zap.Field {
	if id, ok := ExtractSessionID(ctx); ok {
		return zap.String("session", id)
	}
	return zap.Skip()
}
