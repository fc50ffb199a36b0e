package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/contextkeys"
)

// HeaderRequestID carries the request ID between services.
const HeaderRequestID = "X-Request-ID"

// RequestIDMiddleware assigns each request an ID, reusing the upstream one
// when present, and echoes it back in the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := context.WithValue(r.Context(), contextkeys.RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext extracts the request ID, or "" when absent.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextkeys.RequestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// LoggingMiddleware logs one line per request with method, path, status,
// duration, request ID, and acting user when resolved.
func LoggingMiddleware(log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r)

			fields := logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     recorder.status,
				"duration":   time.Since(start).String(),
				"request_id": RequestIDFromContext(r.Context()),
			}
			if actor := GetActor(r); actor != nil {
				fields["user_id"] = actor.UserID
			}
			log.WithFields(fields).Info("request completed")
		})
	}
}
