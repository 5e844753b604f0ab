package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestNew(t *testing.T) {
	e := New(400, "bad request")
	if e.Code != 400 {
		t.Errorf("Code = %d, want 400", e.Code)
	}
	if e.Error() != "bad request" {
		t.Errorf("Error() = %q, want %q", e.Error(), "bad request")
	}
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	e := Wrap(inner, 503, "postgres unavailable")

	want := "postgres unavailable: connection refused"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
	if !errors.Is(e, inner) {
		t.Error("errors.Is should find the underlying error")
	}
}

func TestWithDetailsKeepsIdentity(t *testing.T) {
	e := ErrCSRF.WithDetails("tokens do not match").WithRequestID("req-1")

	if e.Details != "tokens do not match" {
		t.Errorf("Details = %q", e.Details)
	}
	if e.RequestID != "req-1" {
		t.Errorf("RequestID = %q", e.RequestID)
	}
	if !errors.Is(e, ErrCSRF) {
		t.Error("derived error should match ErrCSRF")
	}
	if errors.Is(e, ErrForbidden) {
		t.Error("ErrCSRF copy should not match ErrForbidden")
	}
}

func TestAsAPIError(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", ErrValidation)
	ae, ok := AsAPIError(wrapped)
	if !ok {
		t.Fatal("AsAPIError should unwrap the chain")
	}
	if ae.Code != http.StatusBadRequest {
		t.Errorf("Code = %d, want 400", ae.Code)
	}

	if _, ok := AsAPIError(fmt.Errorf("plain")); ok {
		t.Error("plain error should not be an APIError")
	}
	if _, ok := AsAPIError(nil); ok {
		t.Error("nil should not be an APIError")
	}
}

func TestWriteJSON_PreSerialized(t *testing.T) {
	for e := range preSerialized {
		t.Run(e.Message, func(t *testing.T) {
			w := httptest.NewRecorder()
			e.WriteJSON(w)

			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want %q", ct, "application/json")
			}
			if w.Code != e.Code {
				t.Errorf("status = %d, want %d", w.Code, e.Code)
			}

			var body map[string]interface{}
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body["message"] != e.Message {
				t.Errorf("body message = %v, want %q", body["message"], e.Message)
			}
		})
	}
}

func TestWriteJSON_WithDetails(t *testing.T) {
	e := ErrBadRequest.WithDetails("missing field 'name'").WithRequestID("req-abc")

	w := httptest.NewRecorder()
	e.WriteJSON(w)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["details"] != "missing field 'name'" {
		t.Errorf("body details = %v", body["details"])
	}
	if body["request_id"] != "req-abc" {
		t.Errorf("body request_id = %v", body["request_id"])
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, fmt.Errorf("wrapped: %w", ErrCSRF))
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}

	w = httptest.NewRecorder()
	WriteError(w, fmt.Errorf("boom"))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestGRPCStatus(t *testing.T) {
	tests := []struct {
		err  *APIError
		want codes.Code
	}{
		{ErrCSRF, codes.PermissionDenied},
		{ErrValidation, codes.InvalidArgument},
		{ErrNotFound, codes.NotFound},
		{ErrUnauthorized, codes.Unauthenticated},
		{ErrServiceUnavailable, codes.Unavailable},
		{ErrInternalServer, codes.Internal},
		{New(http.StatusBadGateway, "upstream"), codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.err.Message, func(t *testing.T) {
			st, ok := status.FromError(tt.err)
			if !ok {
				t.Fatal("status.FromError should recognise APIError")
			}
			if st.Code() != tt.want {
				t.Errorf("code = %v, want %v", st.Code(), tt.want)
			}
		})
	}
}

func TestGRPCStatusIncludesDetails(t *testing.T) {
	st := ErrValidation.WithDetails("name is required").GRPCStatus()
	if st.Message() != "validation failed: name is required" {
		t.Errorf("message = %q", st.Message())
	}
}
