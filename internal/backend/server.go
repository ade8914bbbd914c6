package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/gorm"

	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/internal/rpc"
	"procodus.dev/health-dashboard/pkg/feed"
	"procodus.dev/health-dashboard/pkg/logger"
	"procodus.dev/health-dashboard/pkg/metrics"
	"procodus.dev/health-dashboard/pkg/mq"
	"procodus.dev/health-dashboard/pkg/risk"
)

// Server represents the backend server that manages the database, the alert
// pipeline and the gRPC API.
type Server struct {
	logger        *slog.Logger
	db            *gorm.DB
	consumer      *Consumer
	alerts        *AlertPublisher
	publisher     *mq.Client
	grpcServer    *grpc.Server
	metricsServer *http.Server
	config        *ServerConfig
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Database configuration
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPort     int

	// RabbitMQ configuration. An empty URL disables risk alerts.
	RabbitMQURL string
	AlertQueue  string
	AlertTTL    time.Duration

	// Feed source
	FeedBaseURL       string
	FeedTimeout       time.Duration
	FeedResults       int
	FeedRatePerSecond float64

	// Risk classifier
	ModelPath             string
	FallDistanceThreshold float64

	GRPCPort int

	// MetricsPort serves /metrics when > 0.
	MetricsPort int
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.RabbitMQURL != "" && cfg.AlertQueue == "" {
		return nil, errors.New("alert queue cannot be empty when rabbitmq is configured")
	}

	if cfg.DBHost == "" {
		return nil, errors.New("database host cannot be empty")
	}

	if cfg.DBPort <= 0 {
		return nil, errors.New("database port must be positive")
	}

	if cfg.DBUser == "" {
		return nil, errors.New("database user cannot be empty")
	}

	if cfg.DBName == "" {
		return nil, errors.New("database name cannot be empty")
	}

	if cfg.GRPCPort <= 0 {
		return nil, errors.New("gRPC port must be positive")
	}

	if cfg.ModelPath == "" {
		return nil, errors.New("model path cannot be empty")
	}

	if cfg.FeedResults < 0 {
		return nil, errors.New("feed results cannot be negative")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the backend server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting backend server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	backendMetrics := metrics.NewBackendMetrics(metrics.Namespace)

	db, err := NewDB(&DBConfig{
		Host:     s.config.DBHost,
		Port:     s.config.DBPort,
		User:     s.config.DBUser,
		Password: s.config.DBPassword,
		DBName:   s.config.DBName,
		SSLMode:  s.config.DBSSLMode,
		Logger:   s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	store, err := NewStore(s.logger, db, backendMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	aggregator, err := s.newAggregator(store, backendMetrics)
	if err != nil {
		return err
	}

	var notifier AlertNotifier
	if s.config.RabbitMQURL != "" {
		if err := s.startAlerts(ctx, store, backendMetrics); err != nil {
			return err
		}
		notifier = s.alerts
	} else {
		s.logger.Warn("rabbitmq not configured, risk alerts disabled")
	}

	service, err := NewDashboardService(s.logger, aggregator, notifier, backendMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize gRPC service: %w", err)
	}

	s.grpcServer = grpc.NewServer()
	rpc.RegisterDashboardServer(s.grpcServer, service)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, healthServer)
	healthServer.SetServingStatus(rpc.ServiceName, healthpb.HealthCheckResponse_SERVING)

	grpcAddr := fmt.Sprintf(":%d", s.config.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}

	s.logger.Info("starting gRPC server", "address", grpcAddr)

	serveErr := make(chan error, 2)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	if s.config.MetricsPort > 0 {
		s.metricsServer = newMetricsServer(s.config.MetricsPort)
		s.logger.Info("starting metrics server", "address", s.metricsServer.Addr)
		go func() {
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	s.logger.Info("backend server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-serveErr:
		s.logger.Error("server error", "error", err)
		cancel()
		if shutdownErr := s.Shutdown(); shutdownErr != nil {
			s.logger.Error("shutdown after server error failed", "error", shutdownErr)
		}
		return err
	}

	return s.Shutdown()
}

func (s *Server) newAggregator(store *Store, backendMetrics *metrics.BackendMetrics) (*dashboard.Aggregator, error) {
	feedClient, err := feed.NewClient(&feed.ClientConfig{
		Logger:            s.logger,
		BaseURL:           s.config.FeedBaseURL,
		Timeout:           s.config.FeedTimeout,
		DefaultResults:    s.config.FeedResults,
		RequestsPerSecond: s.config.FeedRatePerSecond,
		Burst:             int(s.config.FeedRatePerSecond) + 1,
		Metrics:           metrics.NewFeedMetrics(metrics.Namespace),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize feed client: %w", err)
	}

	classifier, err := risk.NewClassifier(&risk.ClassifierConfig{
		Logger:                s.logger,
		ModelPath:             s.config.ModelPath,
		FallDistanceThreshold: s.config.FallDistanceThreshold,
		Metrics:               metrics.NewRiskMetrics(metrics.Namespace),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize classifier: %w", err)
	}

	// A failed warm-up is retried on the first request.
	if err := classifier.Preload(); err != nil {
		s.logger.Warn("risk model warm-up failed", "path", s.config.ModelPath, "error", err)
	}

	aggregator, err := dashboard.NewAggregator(&dashboard.AggregatorConfig{
		Logger:     s.logger,
		Directory:  store,
		Feed:       feedClient,
		Classifier: classifier,
		Metrics:    backendMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize aggregator: %w", err)
	}
	return aggregator, nil
}

func (s *Server) startAlerts(ctx context.Context, store *Store, backendMetrics *metrics.BackendMetrics) error {
	mqMetrics := metrics.NewMQMetrics(metrics.Namespace)

	publisher, err := mq.NewClient(&mq.ClientConfig{
		Logger:  s.logger,
		URL:     s.config.RabbitMQURL,
		Queue:   s.config.AlertQueue,
		Durable: true,
		Metrics: mqMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize alert publisher client: %w", err)
	}
	s.publisher = publisher

	alerts, err := NewAlertPublisher(&AlertPublisherConfig{
		Logger:    logger.Component(s.logger, "alerts"),
		Publisher: publisher,
		DedupTTL:  s.config.AlertTTL,
		Metrics:   backendMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize alert publisher: %w", err)
	}
	s.alerts = alerts

	consumerClient, err := mq.NewClient(&mq.ClientConfig{
		Logger:  s.logger,
		URL:     s.config.RabbitMQURL,
		Queue:   s.config.AlertQueue,
		Durable: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize alert consumer client: %w", err)
	}

	consumer, err := NewConsumer(&ConsumerConfig{
		Logger:   logger.Component(s.logger, "alert-consumer"),
		Sink:     store,
		MQClient: consumerClient,
		Metrics:  backendMetrics,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}

	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	s.consumer = consumer
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down backend server")

	var errs []error

	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
		s.logger.Info("gRPC server stopped")
	}

	if s.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown error: %w", err))
		}
		cancel()
	}

	if s.alerts != nil {
		s.alerts.Wait()
	}

	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("failed to close alert publisher", "error", err)
		}
	}

	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("consumer shutdown error: %w", err))
		}
	}

	if s.db != nil {
		if err := CloseDB(s.db, s.logger); err != nil {
			errs = append(errs, fmt.Errorf("database close error: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("backend server shutdown completed with errors", "error", err)
		return err
	}

	s.logger.Info("backend server shutdown completed successfully")
	return nil
}

func newMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
