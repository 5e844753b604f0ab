package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// APIError is an error that can be returned to clients over HTTP or gRPC.
type APIError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	underlying error
}

func (e *APIError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.underlying
}

// Is matches base errors by code and message so that derived copies made by
// WithDetails or WithRequestID still satisfy errors.Is(err, ErrCSRF).
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// WriteJSON writes the error as JSON to the response.
// Base errors (no details/requestID) use pre-serialized JSON.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// GRPCStatus lets gRPC handlers return an *APIError directly; the server
// converts it with status.FromError.
func (e *APIError) GRPCStatus() *status.Status {
	msg := e.Message
	if e.Details != "" {
		msg = msg + ": " + e.Details
	}
	return status.New(GRPCCode(e.Code), msg)
}

// GRPCCode maps an HTTP status code onto the closest gRPC code.
func GRPCCode(httpCode int) codes.Code {
	switch httpCode {
	case http.StatusOK:
		return codes.OK
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusUnauthorized:
		return codes.Unauthenticated
	case http.StatusForbidden:
		return codes.PermissionDenied
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.AlreadyExists
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted
	case http.StatusNotImplemented:
		return codes.Unimplemented
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded
	default:
		if httpCode >= 500 {
			return codes.Internal
		}
		return codes.Unknown
	}
}

// Common errors
var (
	ErrNotFound = &APIError{
		Code:    http.StatusNotFound,
		Message: "Not Found",
	}

	ErrMethodNotAllowed = &APIError{
		Code:    http.StatusMethodNotAllowed,
		Message: "Method Not Allowed",
	}

	ErrUnauthorized = &APIError{
		Code:    http.StatusUnauthorized,
		Message: "Unauthorized",
	}

	ErrForbidden = &APIError{
		Code:    http.StatusForbidden,
		Message: "Forbidden",
	}

	// ErrCSRF is returned by protected endpoints when the double-submit
	// check did not pass for the current request.
	ErrCSRF = &APIError{
		Code:    http.StatusForbidden,
		Message: "csrf token does not match",
	}

	ErrValidation = &APIError{
		Code:    http.StatusBadRequest,
		Message: "validation failed",
	}

	ErrBadRequest = &APIError{
		Code:    http.StatusBadRequest,
		Message: "Bad Request",
	}

	ErrServiceUnavailable = &APIError{
		Code:    http.StatusServiceUnavailable,
		Message: "Service Unavailable",
	}

	ErrInternalServer = &APIError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
	}
)

// preSerialized holds JSON-encoded bytes for base error singletons.
var preSerialized map[*APIError][]byte

func init() {
	bases := []*APIError{
		ErrNotFound, ErrMethodNotAllowed, ErrUnauthorized, ErrForbidden,
		ErrCSRF, ErrValidation, ErrBadRequest, ErrServiceUnavailable,
		ErrInternalServer,
	}
	preSerialized = make(map[*APIError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// New creates a new APIError
func New(code int, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, code int, message string) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		underlying: err,
	}
}

// WithDetails adds details to the error
func (e *APIError) WithDetails(details string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		RequestID:  e.RequestID,
		underlying: e.underlying,
	}
}

// WithRequestID adds a request ID to the error
func (e *APIError) WithRequestID(requestID string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		RequestID:  requestID,
		underlying: e.underlying,
	}
}

// AsAPIError returns the first *APIError in err's chain.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// WriteError writes err to w, falling back to a 500 for non-API errors.
func WriteError(w http.ResponseWriter, err error) {
	if ae, ok := AsAPIError(err); ok {
		ae.WriteJSON(w)
		return
	}
	ErrInternalServer.WriteJSON(w)
}
