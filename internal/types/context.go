package types

import "context"

// Context Keys
type contextKey string

const (
	callerKey    contextKey = "caller"
	requestIDKey contextKey = "request_id"
)

// WithCaller stores the resolved CallerIdentity in the context.
func WithCaller(ctx context.Context, caller CallerIdentity) context.Context {
	return context.WithValue(ctx, callerKey, caller)
}

// GetCaller retrieves the CallerIdentity from the context.
func GetCaller(ctx context.Context) (CallerIdentity, bool) {
	caller, ok := ctx.Value(callerKey).(CallerIdentity)
	return caller, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
