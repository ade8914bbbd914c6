package frontend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"procodus.dev/health-dashboard/internal/rpc"
	"procodus.dev/health-dashboard/pkg/metrics"
)

// Server represents the frontend HTTP server.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	grpcConn   *grpc.ClientConn
	config     *ServerConfig
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// HTTP server configuration
	HTTPPort int

	// Backend gRPC configuration
	BackendGRPCAddr string
	BackendTimeout  time.Duration

	// Session token verification
	SessionSecret string
	SessionIssuer string
}

// NewServer creates a new frontend Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	if cfg.BackendGRPCAddr == "" {
		return nil, errors.New("backend gRPC address cannot be empty")
	}

	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret cannot be empty")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the frontend server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting frontend server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	// The connection is lazy; the first request dials.
	s.logger.Info("connecting to backend gRPC server", "address", s.config.BackendGRPCAddr)
	conn, err := grpc.NewClient(
		s.config.BackendGRPCAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to backend: %w", err)
	}
	s.grpcConn = conn

	router, err := NewRouter(&RouterConfig{
		Logger:         s.logger,
		Backend:        rpc.NewDashboardClient(conn),
		SessionSecret:  s.config.SessionSecret,
		SessionIssuer:  s.config.SessionIssuer,
		BackendTimeout: s.config.BackendTimeout,
		Metrics:        metrics.NewFrontendMetrics(metrics.Namespace),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpServer.Addr)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("frontend server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			if shutdownErr := s.Shutdown(); shutdownErr != nil {
				s.logger.Error("shutdown after server error failed", "error", shutdownErr)
			}
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down frontend server")

	var errs []error

	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown HTTP server", "error", err)
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
		s.logger.Info("HTTP server stopped")
	}

	if s.grpcConn != nil {
		s.logger.Info("closing gRPC connection")
		if err := s.grpcConn.Close(); err != nil {
			s.logger.Error("failed to close gRPC connection", "error", err)
			errs = append(errs, fmt.Errorf("gRPC connection close error: %w", err))
		}
		s.grpcConn = nil
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("frontend server shutdown completed with errors", "error", err)
		return err
	}

	s.logger.Info("frontend server shutdown completed successfully")
	return nil
}
