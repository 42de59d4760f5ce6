package middleware

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	apierrors "github.com/labring/testreport/pkg/errors"
	"github.com/labring/testreport/pkg/utils"
)

// TraceHeader carries the request correlation id
const TraceHeader = "X-Trace-ID"

// Middleware is a function that wraps an http.Handler
type Middleware func(http.Handler) http.Handler

// Chain combines multiple middlewares into a single middleware
func Chain(middlewares ...Middleware) Middleware {
	return func(next http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

type traceIDKey struct{}

// TraceID returns the trace id the Logger middleware stored in ctx
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// Logger middleware logs HTTP requests using slog. A trace id is taken from
// the X-Trace-ID header or generated, echoed back and stored in the context.
func Logger() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			traceID := r.Header.Get(TraceHeader)
			if traceID == "" {
				traceID = utils.NewNanoID()
			}
			r = r.WithContext(context.WithValue(r.Context(), traceIDKey{}, traceID))
			w.Header().Set(TraceHeader, traceID)

			// Wrap ResponseWriter to capture status code
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			fields := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote", r.RemoteAddr),
				slog.Int("status", wrapped.statusCode),
				slog.String("duration", time.Since(start).String()),
				slog.Int64("bytes", wrapped.bytesWritten),
				slog.String("trace_id", traceID),
			}

			// Choose log level based solely on status code
			if wrapped.statusCode >= http.StatusInternalServerError {
				slog.Error("request", fields...)
			} else if wrapped.statusCode >= http.StatusBadRequest {
				slog.Warn("request", fields...)
			} else {
				slog.Info("request", fields...)
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported by underlying ResponseWriter")
}

// Recovery middleware recovers from panics and answers with an error envelope.
// A panicking *ErrorEnvelope keeps its own code.
func Recovery() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				slog.Error("panic recovered",
					slog.Any("error", rec),
					slog.String("stack", string(debug.Stack())),
					slog.String("trace_id", TraceID(r.Context())),
				)

				var env *apierrors.ErrorEnvelope
				switch e := rec.(type) {
				case error:
					if !errors.As(e, &env) {
						env = apierrors.NewUnclassifiedError("%s", e.Error())
					}
				default:
					env = apierrors.NewUnclassifiedError("Unknown error occurred")
				}
				apierrors.WriteError(w, env)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// TokenAuth returns a middleware that validates Authorization: Bearer <token>
func TokenAuth(expectedToken string, skipPaths []string) Middleware {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				apierrors.WriteErrorResponse(w, http.StatusUnauthorized,
					apierrors.NewErrorEnvelope(apierrors.ErrorCodeAccessDenied, "Unauthorized"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
