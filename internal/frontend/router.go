package frontend

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/grpc"

	"procodus.dev/health-dashboard/internal/rpc"
	"procodus.dev/health-dashboard/pkg/metrics"
)

const defaultBackendTimeout = 10 * time.Second

// Backend is the dashboard API the frontend renders. *rpc.DashboardClient
// implements it.
type Backend interface {
	GetDashboard(ctx context.Context, req *rpc.DashboardRequest, opts ...grpc.CallOption) (*rpc.DashboardResponse, error)
	GetProfile(ctx context.Context, req *rpc.ProfileRequest, opts ...grpc.CallOption) (*rpc.ProfileResponse, error)
}

// RouterConfig holds the configuration for the Router.
type RouterConfig struct {
	Logger  *slog.Logger
	Backend Backend

	// SessionSecret verifies session tokens. SessionIssuer defaults to
	// auth.DefaultIssuer.
	SessionSecret string
	SessionIssuer string

	// BackendTimeout bounds each backend call. Zero means 10s.
	BackendTimeout time.Duration

	// Metrics is optional.
	Metrics *metrics.FrontendMetrics
}

// Router serves the dashboard pages and JSON API.
type Router struct {
	logger  *slog.Logger
	backend Backend
	secret  string
	issuer  string
	timeout time.Duration
	metrics *metrics.FrontendMetrics
	handler http.Handler
}

// NewRouter creates a new Router instance.
func NewRouter(cfg *RouterConfig) (*Router, error) {
	if cfg == nil {
		return nil, errors.New("router config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.Backend == nil {
		return nil, errors.New("backend cannot be nil")
	}

	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret cannot be empty")
	}

	timeout := cfg.BackendTimeout
	if timeout <= 0 {
		timeout = defaultBackendTimeout
	}

	rt := &Router{
		logger:  cfg.Logger,
		backend: cfg.Backend,
		secret:  cfg.SessionSecret,
		issuer:  cfg.SessionIssuer,
		timeout: timeout,
		metrics: cfg.Metrics,
	}
	rt.handler = rt.withRequestID(rt.instrument(rt.setupRoutes()))
	return rt, nil
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

// setupRoutes configures the HTTP routes.
func (rt *Router) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", rt.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	// JSON API
	mux.Handle("GET /api/dashboard", rt.requireSession(rt.handleAPIDashboard))
	mux.Handle("GET /api/patient/{id}/vitals", rt.requireSession(rt.handleAPIPatientVitals))
	mux.Handle("GET /api/profile", rt.requireSession(rt.handleAPIProfile))

	// Pages
	mux.Handle("GET /patient/{id}/vitals", rt.requireSession(rt.handlePatientVitals))
	mux.Handle("GET /profile", rt.requireSession(rt.handleProfile))
	mux.Handle("GET /{$}", rt.requireSession(rt.handleIndex))

	return mux
}
