package errors

import (
	"fmt"
)

// TransportError reports a failure to exchange bytes with the collector:
// the connection failed or the response body could not be read.
type TransportError struct {
	Method string
	URI    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrorTypeTransport, e.Method, e.URI, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Type returns the error classification
func (e *TransportError) Type() ErrorType { return ErrorTypeTransport }

// KnownBackendError is a failed response whose body parsed as an ErrorEnvelope
type KnownBackendError struct {
	Method        string
	URI           string
	StatusCode    int
	StatusMessage string
	Envelope      ErrorEnvelope
}

func (e *KnownBackendError) Error() string {
	return fmt.Sprintf("%s: %s %s: %d %s: %s", ErrorTypeKnownBackend, e.Method, e.URI, e.StatusCode, e.StatusMessage, e.Envelope.Error())
}

// Type returns the error classification
func (e *KnownBackendError) Type() ErrorType { return ErrorTypeKnownBackend }

// UnknownBackendError is a failed response whose body is not an ErrorEnvelope
type UnknownBackendError struct {
	Method        string
	URI           string
	StatusCode    int
	StatusMessage string
	Body          string

	cause error
}

func (e *UnknownBackendError) Error() string {
	return fmt.Sprintf("%s: %s %s: %d %s: %s", ErrorTypeUnknownBackend, e.Method, e.URI, e.StatusCode, e.StatusMessage, e.Body)
}

// Unwrap returns the read failure, if the body could not be read
func (e *UnknownBackendError) Unwrap() error { return e.cause }

// Type returns the error classification
func (e *UnknownBackendError) Type() ErrorType { return ErrorTypeUnknownBackend }

// PipelineDeliveryError reports a log batch that could not be delivered
type PipelineDeliveryError struct {
	ItemID    string
	BatchSize int
	Err       error
}

func (e *PipelineDeliveryError) Error() string {
	return fmt.Sprintf("%s: item %s: batch of %d: %v", ErrorTypePipelineDelivery, e.ItemID, e.BatchSize, e.Err)
}

func (e *PipelineDeliveryError) Unwrap() error { return e.Err }

// Type returns the error classification
func (e *PipelineDeliveryError) Type() ErrorType { return ErrorTypePipelineDelivery }
