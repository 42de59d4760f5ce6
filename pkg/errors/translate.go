package errors

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// UnreadableBodyMessage replaces the body text when a failed response cannot be read
const UnreadableBodyMessage = "Cannot read the response"

var errNilBody = errors.New("response body is nil")

// Translate converts a failed response into a KnownBackendError when the body is an
// ErrorEnvelope, and into an UnknownBackendError otherwise.
func Translate(uri, method string, statusCode int, statusMessage string, body io.Reader) error {
	unknown := &UnknownBackendError{
		Method:        method,
		URI:           uri,
		StatusCode:    statusCode,
		StatusMessage: statusMessage,
	}

	if body == nil {
		unknown.Body = UnreadableBodyMessage
		unknown.cause = &TransportError{Method: method, URI: uri, Err: errNilBody}
		return unknown
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		unknown.Body = UnreadableBodyMessage
		unknown.cause = &TransportError{Method: method, URI: uri, Err: err}
		return unknown
	}

	if env := decodeEnvelope(raw); env != nil {
		return &KnownBackendError{
			Method:        method,
			URI:           uri,
			StatusCode:    statusCode,
			StatusMessage: statusMessage,
			Envelope:      *env,
		}
	}

	unknown.Body = string(raw)
	return unknown
}

// decodeEnvelope returns nil for anything that is not a JSON object carrying
// an error code or a message. An empty object is an empty envelope. It never panics.
func decodeEnvelope(raw []byte) (env *ErrorEnvelope) {
	defer func() {
		if recover() != nil {
			env = nil
		}
	}()

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil
	}
	_, hasCode := fields["errorCode"]
	_, hasMessage := fields["message"]
	if len(fields) > 0 && !hasCode && !hasMessage {
		return nil
	}

	var decoded ErrorEnvelope
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil
	}
	return &decoded
}
