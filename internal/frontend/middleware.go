package frontend

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/health-dashboard/pkg/auth"
)

const (
	// RequestIDHeader carries the request id in and out of the frontend.
	RequestIDHeader = "X-Request-ID"

	// SessionCookie holds the session token for browser clients.
	SessionCookie = "session"
)

type (
	requestIDKey struct{}
	viewerKey    struct{}
)

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func viewerFrom(ctx context.Context) uint {
	id, _ := ctx.Value(viewerKey{}).(uint)
	return id
}

// withRequestID tags every request with an id, reusing a well-formed
// incoming one.
func (rt *Router) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// instrument records HTTP metrics per matched route pattern.
func (rt *Router) instrument(next http.Handler) http.Handler {
	if rt.metrics == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rt.metrics.HTTPRequestsInFlight.Inc()
		defer rt.metrics.HTTPRequestsInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		rt.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		rt.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
	})
}

// requireSession resolves the viewer from a bearer token or the session
// cookie and rejects the request when neither verifies.
func (rt *Router) requireSession(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			rt.authFailure(w, r, "missing")
			return
		}

		claims, err := auth.ParseToken(rt.secret, rt.issuer, token)
		if err != nil {
			rt.logger.Debug("rejected session", "request_id", requestIDFrom(r.Context()), "error", err)
			rt.authFailure(w, r, "invalid")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), viewerKey{}, claims.UserID)))
	})
}

func (rt *Router) authFailure(w http.ResponseWriter, r *http.Request, reason string) {
	if rt.metrics != nil {
		rt.metrics.AuthFailures.WithLabelValues(reason).Inc()
	}
	rt.writeError(w, r, http.StatusUnauthorized, "unauthorized")
}

func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// observeBackend times a backend call; call the result with the call's error.
func (rt *Router) observeBackend(method string) func(error) {
	if rt.metrics == nil {
		return func(error) {}
	}
	timer := prometheus.NewTimer(rt.metrics.GRPCClientDuration.WithLabelValues(method))
	return func(err error) {
		timer.ObserveDuration()
		rt.metrics.GRPCClientCalls.WithLabelValues(method, codeOf(err).String()).Inc()
	}
}
