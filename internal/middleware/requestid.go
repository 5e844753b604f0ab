package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

func init() {
	uuid.EnableRandPool()
}

// RequestIDHeader carries the request id on requests and responses. gRPC
// uses the lower-case form as a metadata key.
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds ids accepted from clients; longer ones are replaced.
const maxRequestIDLen = 128

// IDSource decides which id a call runs under. The zero value trusts
// well-formed client ids and mints UUIDv4 ids otherwise.
type IDSource struct {
	// Generate mints a new id; nil means UUIDv4.
	Generate func() string
	// IgnoreIncoming always mints a fresh id.
	IgnoreIncoming bool
}

// Resolve returns incoming when it is acceptable, else a fresh id.
func (s IDSource) Resolve(incoming string) string {
	if !s.IgnoreIncoming && validRequestID(incoming) {
		return incoming
	}
	if s.Generate != nil {
		return s.Generate()
	}
	return uuid.NewString()
}

// validRequestID accepts non-empty printable ASCII up to maxRequestIDLen so a
// client id cannot smuggle control characters into access logs.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// RequestID tags every HTTP request with an id using the default IDSource.
func RequestID() Middleware {
	return RequestIDFrom(IDSource{})
}

// RequestIDFrom tags every HTTP request with an id resolved by src. The id
// replaces the request header, is echoed on the response and is stored in
// the request context for logging and error bodies.
func RequestIDFrom(src IDSource) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := src.Resolve(r.Header.Get(RequestIDHeader))
			r.Header.Set(RequestIDHeader, id)
			w.Header().Set(RequestIDHeader, id)
			next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
		})
	}
}

type requestIDKey struct{}

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the id stored by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
