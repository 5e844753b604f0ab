package middleware

import "net/http"

// statusWriter records the status and size of a response.
type statusWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (sw *statusWriter) WriteHeader(status int) {
	if !sw.wroteHeader && status >= 200 {
		sw.status = status
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher
func (sw *statusWriter) Flush() {
	sw.wroteHeader = true
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// Status returns the recorded status code
func (sw *statusWriter) Status() int {
	return sw.status
}

// BytesWritten returns the number of bytes written
func (sw *statusWriter) BytesWritten() int64 {
	return sw.bytes
}

// grpcStatusOK reports whether a Grpc-Status header, if present, is OK.
func grpcStatusOK(h http.Header) bool {
	v := h.Get("Grpc-Status")
	return v == "" || v == "0"
}
