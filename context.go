package portalauth

import "context"

type requestIDContextKey struct{}

// WithRequestID attaches a request identifier to ctx. Gateway sends it as
// the request-id header instead of generating a new one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(requestIDContextKey{}).(string)
	return v
}
