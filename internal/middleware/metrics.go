package middleware

import (
	"net/http"
	"strconv"

	"github.com/wudi/petshop/internal/metrics"
)

// Metrics counts every request and records its latency. A request is
// successful when the handler returned normally, the client did not go away
// and the status is below 400 with no failing Grpc-Status header.
func Metrics(rec *metrics.Recorder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := rec.Begin()
			sw := newStatusWriter(w)

			completed := false
			defer func() {
				code := "aborted"
				success := false
				if completed {
					code = strconv.Itoa(sw.Status())
					success = r.Context().Err() == nil &&
						sw.Status() < http.StatusBadRequest &&
						grpcStatusOK(sw.Header())
				}
				rec.End(start, success)
				rec.ObserveResponse("http", code)
			}()

			next.ServeHTTP(sw, r)
			completed = true
		})
	}
}
