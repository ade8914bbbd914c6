package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/health-dashboard/internal/backend"
	"procodus.dev/health-dashboard/pkg/feed"
	"procodus.dev/health-dashboard/pkg/risk"
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Run the backend server",
	Long: `Run the backend server that:
- Resolves viewers, patients and access grants from PostgreSQL
- Fetches patient vitals from ThingSpeak compatible feeds
- Classifies the current reading with the risk model
- Publishes risk alerts to RabbitMQ and stores them
- Serves the dashboard gRPC API`,
	RunE: runBackend,
}

func init() {
	rootCmd.AddCommand(backendCmd)

	backendCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	backendCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	backendCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	backendCmd.Flags().String("db-password", "", "PostgreSQL password")
	backendCmd.Flags().String("db-name", "health", "PostgreSQL database name")
	backendCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	backendCmd.Flags().String("rabbitmq-url", "", "RabbitMQ URL (empty disables risk alerts)")
	backendCmd.Flags().String("alert-queue", "risk-alerts", "RabbitMQ queue for risk alerts")
	backendCmd.Flags().Duration("alert-ttl", backend.DefaultAlertDedupTTL, "How long a published alert is remembered")
	backendCmd.Flags().String("feed-url", feed.DefaultBaseURL, "ThingSpeak compatible API base URL")
	backendCmd.Flags().Duration("feed-timeout", feed.DefaultTimeout, "Feed request timeout")
	backendCmd.Flags().Int("feed-results", feed.DefaultResults, "Readings fetched without a time range")
	backendCmd.Flags().Float64("feed-rate", 0, "Max feed requests per second (0 disables the limit)")
	backendCmd.Flags().String("model-path", "data/risk_model.pb", "Risk model artifact path")
	backendCmd.Flags().Float64("fall-distance", risk.DefaultFallDistanceThreshold, "Distance below which a reading is a fall risk")
	backendCmd.Flags().Int("grpc-port", 9090, "gRPC server port")
	backendCmd.Flags().Int("metrics-port", 9091, "Prometheus metrics port (0 disables)")

	_ = viper.BindPFlag("backend.db.host", backendCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("backend.db.port", backendCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("backend.db.user", backendCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("backend.db.password", backendCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("backend.db.name", backendCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("backend.db.sslmode", backendCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("backend.rabbitmq.url", backendCmd.Flags().Lookup("rabbitmq-url"))
	_ = viper.BindPFlag("backend.rabbitmq.alert_queue", backendCmd.Flags().Lookup("alert-queue"))
	_ = viper.BindPFlag("backend.rabbitmq.alert_ttl", backendCmd.Flags().Lookup("alert-ttl"))
	_ = viper.BindPFlag("backend.feed.url", backendCmd.Flags().Lookup("feed-url"))
	_ = viper.BindPFlag("backend.feed.timeout", backendCmd.Flags().Lookup("feed-timeout"))
	_ = viper.BindPFlag("backend.feed.results", backendCmd.Flags().Lookup("feed-results"))
	_ = viper.BindPFlag("backend.feed.rate", backendCmd.Flags().Lookup("feed-rate"))
	_ = viper.BindPFlag("backend.model.path", backendCmd.Flags().Lookup("model-path"))
	_ = viper.BindPFlag("backend.model.fall_distance", backendCmd.Flags().Lookup("fall-distance"))
	_ = viper.BindPFlag("backend.grpc.port", backendCmd.Flags().Lookup("grpc-port"))
	_ = viper.BindPFlag("backend.metrics.port", backendCmd.Flags().Lookup("metrics-port"))
}

func runBackend(_ *cobra.Command, _ []string) error {
	logger := GetLogger("backend")
	logger.Info("starting backend service")

	config := &backend.ServerConfig{
		Logger:                logger,
		DBHost:                viper.GetString("backend.db.host"),
		DBPort:                viper.GetInt("backend.db.port"),
		DBUser:                viper.GetString("backend.db.user"),
		DBPassword:            viper.GetString("backend.db.password"),
		DBName:                viper.GetString("backend.db.name"),
		DBSSLMode:             viper.GetString("backend.db.sslmode"),
		RabbitMQURL:           viper.GetString("backend.rabbitmq.url"),
		AlertQueue:            viper.GetString("backend.rabbitmq.alert_queue"),
		AlertTTL:              viper.GetDuration("backend.rabbitmq.alert_ttl"),
		FeedBaseURL:           viper.GetString("backend.feed.url"),
		FeedTimeout:           viper.GetDuration("backend.feed.timeout"),
		FeedResults:           viper.GetInt("backend.feed.results"),
		FeedRatePerSecond:     viper.GetFloat64("backend.feed.rate"),
		ModelPath:             viper.GetString("backend.model.path"),
		FallDistanceThreshold: viper.GetFloat64("backend.model.fall_distance"),
		GRPCPort:              viper.GetInt("backend.grpc.port"),
		MetricsPort:           viper.GetInt("backend.metrics.port"),
	}

	server, err := backend.NewServer(config)
	if err != nil {
		logger.Error("failed to create backend server", "error", err)
		return err
	}

	logger.Info("backend server configuration",
		"db_host", config.DBHost,
		"db_port", config.DBPort,
		"db_name", config.DBName,
		"alerts_enabled", config.RabbitMQURL != "",
		"alert_queue", config.AlertQueue,
		"feed_url", config.FeedBaseURL,
		"model_path", config.ModelPath,
		"grpc_port", config.GRPCPort,
		"metrics_port", config.MetricsPort,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("backend server error", "error", err)
		return err
	}

	logger.Info("backend server stopped")
	return nil
}
