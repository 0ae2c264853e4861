package membergate

import "context"

type originContextKey struct{}

// WithOrigin attaches the caller's network origin (normally the client IP)
// to ctx. The Engine uses it for per-origin rate limiting and audit logging;
// a request without an origin skips the per-origin throttle.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originContextKey{}, origin)
}

func originFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	origin, _ := ctx.Value(originContextKey{}).(string)
	return origin
}
