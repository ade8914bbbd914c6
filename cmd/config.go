package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"procodus.dev/health-dashboard/pkg/logger"
)

// EnvPrefix prefixes every environment override, e.g.
// HEALTH_DASHBOARD_BACKEND_DB_HOST for backend.db.host.
const EnvPrefix = "HEALTH_DASHBOARD"

// InitConfig initializes Viper configuration.
// It reads an optional .env file, then config.yaml, then environment variables.
func InitConfig(cfgFile string) error {
	// Variables already set in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/health-dashboard/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			// Config file not found; rely on env vars and defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// GetLogger creates the logger of a service from configuration.
func GetLogger(service string) *slog.Logger {
	return logger.New(&logger.Config{
		Output:  os.Stdout,
		Level:   logger.ParseLevel(viper.GetString("log.level")),
		Format:  viper.GetString("log.format"),
		Service: service,
	})
}
