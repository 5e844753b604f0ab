package csrf

import (
	"context"
	"net/http"
)

// Middleware returns an HTTP middleware that runs the request phase before
// next and issues the cookie when the response header is committed.
func (g *Guard) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := g.CheckRequest(r.Header)
			if res.State == StateDisabled {
				pw := &privateHeaderWriter{ResponseWriter: w}
				next.ServeHTTP(pw, r)
				if !pw.wroteHeader {
					removePrivate(w.Header())
				}
				return
			}

			st := &requestState{result: res}
			r = r.WithContext(withState(r.Context(), st))
			cw := &cookieWriter{ResponseWriter: w, guard: g, state: st, ctx: r.Context()}

			completed := false
			defer func() {
				// A panicking handler gets no cookie; the header is left to
				// whatever recovers the panic.
				if completed && !cw.wroteHeader {
					cw.commit(http.StatusOK)
				}
			}()
			next.ServeHTTP(cw, r)
			completed = true
		})
	}
}

// cookieWriter appends the Set-Cookie header at the moment the final status
// is committed, which is the last point headers can still change.
type cookieWriter struct {
	http.ResponseWriter
	guard       *Guard
	state       *requestState
	ctx         context.Context
	wroteHeader bool
}

func (w *cookieWriter) commit(code int) {
	w.wroteHeader = true
	h := w.ResponseWriter.Header()

	used := h.Get(HeaderUsed) != "" || w.state.used.Load()
	removePrivate(h)

	success := code >= 200 && code < 300 && grpcStatusOK(h) && w.ctx.Err() == nil
	if c := w.guard.ResponseCookie(w.state.result, success, used); c != nil {
		h.Add("Set-Cookie", c.String())
	}
}

func (w *cookieWriter) WriteHeader(code int) {
	// 1xx responses are informational and may be followed by the real one.
	if !w.wroteHeader && code >= 200 {
		w.commit(code)
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *cookieWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *cookieWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *cookieWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// privateHeaderWriter only removes private headers a handler may have set.
// It is used when the guard is disabled and otherwise leaves the response alone.
type privateHeaderWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (w *privateHeaderWriter) WriteHeader(code int) {
	if !w.wroteHeader && code >= 200 {
		w.wroteHeader = true
		removePrivate(w.ResponseWriter.Header())
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *privateHeaderWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *privateHeaderWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *privateHeaderWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func removePrivate(h http.Header) {
	h.Del(HeaderUsed)
	h.Del(HeaderMatch)
	h.Del(HeaderError)
}

// grpcStatusOK treats an absent Grpc-Status header as OK, matching gRPC
// responses whose status has not been written yet.
func grpcStatusOK(h http.Header) bool {
	v := h.Get("Grpc-Status")
	return v == "" || v == "0"
}
