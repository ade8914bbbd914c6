package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/health-dashboard/pkg/auth"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session token for a user",
	RunE:  runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().Uint("user-id", 0, "User to issue the token for")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	tokenCmd.Flags().String("issuer", "", "Token issuer (defaults to the frontend's)")
}

func runToken(cmd *cobra.Command, _ []string) error {
	userID, err := cmd.Flags().GetUint("user-id")
	if err != nil {
		return err
	}
	if userID == 0 {
		return errors.New("--user-id is required")
	}

	ttl, err := cmd.Flags().GetDuration("ttl")
	if err != nil {
		return err
	}

	issuer, err := cmd.Flags().GetString("issuer")
	if err != nil {
		return err
	}
	if issuer == "" {
		issuer = viper.GetString("session.issuer")
	}

	token, err := auth.NewToken(viper.GetString("session.secret"), issuer, userID, ttl)
	if err != nil {
		return err
	}

	fmt.Println(token)
	return nil
}
