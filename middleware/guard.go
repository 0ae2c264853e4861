package middleware

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/membergate/membergate"
	"github.com/membergate/membergate/permission"
	"github.com/membergate/membergate/sessionjwt"
)

// Attach propagates the request's bearer token and client origin into the
// context so downstream Engine calls can resolve the session and apply
// per-origin throttles. It enforces nothing by itself.
func Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
			ctx = sessionjwt.WithBearer(ctx, token)
		}
		if origin := clientOrigin(r); origin != "" {
			ctx = membergate.WithOrigin(ctx, origin)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Require guards a route with one permission verb evaluated without a
// concrete resource. Use it for create/list routes where ownership does not
// apply.
func Require(engine *membergate.Engine, verb permission.Verb) func(http.Handler) http.Handler {
	return RequireOwned(engine, verb, nil)
}

// RequireOwned guards a route with a verb whose decision may depend on
// resource ownership. The resolver derives the resource from the request
// (typically from path parameters); a nil resolver yields an empty resource.
func RequireOwned(
	engine *membergate.Engine,
	verb permission.Verb,
	resolve func(*http.Request) membergate.ResourceRef,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			var resource membergate.ResourceRef
			if resolve != nil {
				resource = resolve(r)
			}

			if err := engine.Authorize(r.Context(), verb, resource); err != nil {
				writeDenial(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeDenial maps Engine errors onto HTTP statuses. Bodies stay generic;
// the reason detail belongs in the audit trail, not the response.
func writeDenial(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, membergate.ErrUnauthenticated):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, membergate.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, membergate.ErrRateLimited):
		if rl, ok := membergate.AsRateLimited(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
		}
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	case errors.Is(err, membergate.ErrStoreUnavailable):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "forbidden", http.StatusForbidden)
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

// clientOrigin extracts the client address, preferring the first entry of
// X-Forwarded-For when a proxy set one.
func clientOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.SplitN(fwd, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
