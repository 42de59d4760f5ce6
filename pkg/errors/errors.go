package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeTransport        ErrorType = "transport_error"
	ErrorTypeKnownBackend     ErrorType = "backend_error"
	ErrorTypeUnknownBackend   ErrorType = "unknown_backend_error"
	ErrorTypePipelineDelivery ErrorType = "pipeline_delivery_error"
)

// Error codes carried in ErrorEnvelope.ErrorCode
const (
	ErrorCodeIncorrectRequest   = 4001
	ErrorCodeAccessDenied       = 4003
	ErrorCodeNotFound           = 4004
	ErrorCodeUnfinishedChildren = 4006
	ErrorCodeAlreadyFinished    = 4009
	ErrorCodeUnclassified       = 5000
)

// ErrorEnvelope is the structured error body returned by the collector
type ErrorEnvelope struct {
	ErrorCode  int    `json:"errorCode"`
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// Error implements the error interface
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%d: %s", e.ErrorCode, e.Message)
}

// NewErrorEnvelope creates a new error envelope
func NewErrorEnvelope(code int, format string, a ...any) *ErrorEnvelope {
	return &ErrorEnvelope{
		ErrorCode: code,
		Message:   fmt.Sprintf(format, a...),
	}
}

func NewIncorrectRequestError(format string, a ...any) *ErrorEnvelope {
	return NewErrorEnvelope(ErrorCodeIncorrectRequest, format, a...)
}

func NewNotFoundError(kind, id string) *ErrorEnvelope {
	return NewErrorEnvelope(ErrorCodeNotFound, "%s '%s' not found", kind, id)
}

// NewUnfinishedChildrenError is returned when an item is finished before its children
func NewUnfinishedChildrenError(itemID string, pending int) *ErrorEnvelope {
	return NewErrorEnvelope(ErrorCodeUnfinishedChildren, "Test item '%s' has %d unfinished children", itemID, pending)
}

func NewAlreadyFinishedError(kind, id string) *ErrorEnvelope {
	return NewErrorEnvelope(ErrorCodeAlreadyFinished, "%s '%s' is already finished", kind, id)
}

func NewUnclassifiedError(format string, a ...any) *ErrorEnvelope {
	return NewErrorEnvelope(ErrorCodeUnclassified, format, a...)
}

// WriteErrorResponse writes an error envelope with the given HTTP status
func WriteErrorResponse(w http.ResponseWriter, statusCode int, env *ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if encodeErr := json.NewEncoder(w).Encode(env); encodeErr != nil {
		// Fallback to plain text if JSON encoding fails
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "Error: %s", env.Message)
	}
}

// StatusFor maps an error code to the HTTP status the collector answers with
func StatusFor(code int) int {
	switch code {
	case ErrorCodeIncorrectRequest:
		return http.StatusBadRequest
	case ErrorCodeAccessDenied:
		return http.StatusForbidden
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeUnfinishedChildren:
		return http.StatusNotAcceptable
	case ErrorCodeAlreadyFinished:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes env with the status derived from its code
func WriteError(w http.ResponseWriter, env *ErrorEnvelope) {
	WriteErrorResponse(w, StatusFor(env.ErrorCode), env)
}
