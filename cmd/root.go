// Package main provides the unified CLI entry point for the health dashboard services.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "health-dashboard",
		Short: "Role-based IoT health monitoring dashboard",
		Long: `A role-based health monitoring dashboard with these components:
- backend: access policy, risk classification and the dashboard gRPC API
- frontend: web dashboard and JSON API for patients, caregivers and admins
- simulator: ThingSpeak compatible feed of synthetic patient vitals
- seed: demo users and access grants
- token: session tokens for local use`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or /etc/health-dashboard/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")
	rootCmd.PersistentFlags().String("session-secret", "", "HS256 secret for session tokens")

	if err := viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		log.Fatalf("failed to bind log-level flag: %v", err)
	}
	if err := viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format")); err != nil {
		log.Fatalf("failed to bind log-format flag: %v", err)
	}
	if err := viper.BindPFlag("session.secret", rootCmd.PersistentFlags().Lookup("session-secret")); err != nil {
		log.Fatalf("failed to bind session-secret flag: %v", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if err := InitConfig(cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}
