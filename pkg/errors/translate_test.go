package errors

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestTranslate_KnownEnvelope(t *testing.T) {
	body := `{"errorCode":4004,"message":"Launch 'x' not found","stackTrace":"trace"}`

	err := Translate("http://rp/api/v1/p/launch/x", http.MethodGet, 404, "Not Found", strings.NewReader(body))

	var known *KnownBackendError
	require.ErrorAs(t, err, &known)
	assert.Equal(t, 404, known.StatusCode)
	assert.Equal(t, "Not Found", known.StatusMessage)
	assert.Equal(t, http.MethodGet, known.Method)
	assert.Equal(t, "http://rp/api/v1/p/launch/x", known.URI)
	assert.Equal(t, ErrorEnvelope{ErrorCode: 4004, Message: "Launch 'x' not found", StackTrace: "trace"}, known.Envelope)
}

func TestTranslate_EmptyObjectIsKnown(t *testing.T) {
	err := Translate("/launch", http.MethodPost, 400, "Bad Request", strings.NewReader(` {} `))

	var known *KnownBackendError
	require.ErrorAs(t, err, &known)
	assert.Equal(t, ErrorEnvelope{}, known.Envelope)
	assert.Equal(t, 400, known.StatusCode)
}

func TestTranslate_UnknownBodies(t *testing.T) {
	testCases := []struct {
		name string
		body string
	}{
		{"plain text", "upstream exploded"},
		{"html", "<html><body>502</body></html>"},
		{"json array", `[1,2,3]`},
		{"json null", `null`},
		{"json object without envelope fields", `{"foo":"bar"}`},
		{"truncated json", `{"errorCode":40`},
		{"wrong field types", `{"errorCode":"abc","message":12}`},
		{"empty body", ``},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Translate("/log", http.MethodPost, 500, "Internal Server Error", strings.NewReader(tc.body))

			var unknown *UnknownBackendError
			require.ErrorAs(t, err, &unknown)
			assert.Equal(t, tc.body, unknown.Body, "raw text should be preserved exactly")
			assert.Equal(t, 500, unknown.StatusCode)
			assert.Nil(t, unknown.Unwrap())
		})
	}
}

func TestTranslate_UnreadableBody(t *testing.T) {
	for _, status := range []int{400, 404, 500, 503} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			err := Translate("/item", http.MethodPost, status, http.StatusText(status), failingReader{})

			var unknown *UnknownBackendError
			require.ErrorAs(t, err, &unknown)
			assert.Equal(t, UnreadableBodyMessage, unknown.Body)
			assert.Equal(t, status, unknown.StatusCode)

			var transport *TransportError
			require.ErrorAs(t, err, &transport, "read failure should be reachable as a transport error")
			assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
		})
	}

	t.Run("nil body", func(t *testing.T) {
		err := Translate("/item", http.MethodPost, 500, "Internal Server Error", nil)

		var unknown *UnknownBackendError
		require.ErrorAs(t, err, &unknown)
		assert.Equal(t, UnreadableBodyMessage, unknown.Body)
	})
}
