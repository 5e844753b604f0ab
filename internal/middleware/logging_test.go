package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggingWritesEntry(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	mw := LoggingWithConfig(LoggingConfig{Logger: zap.New(core)})

	h := NewChain(RequestID(), mw).Then(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("pet"))
	}))

	req := httptest.NewRequest("POST", "/v1/pet?debug=1", nil)
	req.Header.Set("User-Agent", "petshop-test")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("HTTP request").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["status"] != int64(http.StatusCreated) {
		t.Errorf("status = %v", fields["status"])
	}
	if fields["body_bytes"] != int64(3) {
		t.Errorf("body_bytes = %v", fields["body_bytes"])
	}
	if fields["path"] != "/v1/pet" || fields["query"] != "debug=1" {
		t.Errorf("path/query = %v %v", fields["path"], fields["query"])
	}
	if fields["request_id"] == "" {
		t.Error("request_id should be logged")
	}
	if fields["user_agent"] != "petshop-test" {
		t.Errorf("user_agent = %v", fields["user_agent"])
	}
}

func TestLoggingSkipPaths(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	mw := LoggingWithConfig(LoggingConfig{Logger: zap.New(core), SkipPaths: []string{"/live"}})
	h := mw(http.NotFoundHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/live", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/json", nil))

	if n := logs.Len(); n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}
}
