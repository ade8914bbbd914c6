package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/health-dashboard/internal/frontend"
)

var frontendCmd = &cobra.Command{
	Use:   "frontend",
	Short: "Run the frontend server",
	Long: `Run the frontend web server that:
- Authenticates viewers from session tokens
- Renders role-based dashboards from the backend gRPC API
- Serves the same dashboards as JSON under /api`,
	RunE: runFrontend,
}

func init() {
	rootCmd.AddCommand(frontendCmd)

	frontendCmd.Flags().Int("http-port", 8080, "HTTP server port")
	frontendCmd.Flags().String("backend-addr", "localhost:9090", "Backend gRPC server address")
	frontendCmd.Flags().Duration("backend-timeout", 0, "Timeout for backend calls (0 uses the default)")
	frontendCmd.Flags().String("session-issuer", "", "Expected session token issuer")

	_ = viper.BindPFlag("frontend.http.port", frontendCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("frontend.backend.addr", frontendCmd.Flags().Lookup("backend-addr"))
	_ = viper.BindPFlag("frontend.backend.timeout", frontendCmd.Flags().Lookup("backend-timeout"))
	_ = viper.BindPFlag("session.issuer", frontendCmd.Flags().Lookup("session-issuer"))
}

func runFrontend(_ *cobra.Command, _ []string) error {
	logger := GetLogger("frontend")
	logger.Info("starting frontend service")

	config := &frontend.ServerConfig{
		Logger:          logger,
		HTTPPort:        viper.GetInt("frontend.http.port"),
		BackendGRPCAddr: viper.GetString("frontend.backend.addr"),
		BackendTimeout:  viper.GetDuration("frontend.backend.timeout"),
		SessionSecret:   viper.GetString("session.secret"),
		SessionIssuer:   viper.GetString("session.issuer"),
	}

	server, err := frontend.NewServer(config)
	if err != nil {
		logger.Error("failed to create frontend server", "error", err)
		return err
	}

	logger.Info("frontend server configuration",
		"http_port", config.HTTPPort,
		"backend_addr", config.BackendGRPCAddr,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("frontend server error", "error", err)
		return err
	}

	logger.Info("frontend server stopped")
	return nil
}
