package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/health-dashboard/internal/backend"
	"procodus.dev/health-dashboard/internal/dashboard"
	"procodus.dev/health-dashboard/pkg/auth"
	"procodus.dev/health-dashboard/pkg/generator"
	"procodus.dev/health-dashboard/pkg/vitals"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo accounts",
	Long: `Create a patient, a doctor, a relative and an admin, grant the doctor
and the relative access to the patient and print a session token for each
account.`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)

	seedCmd.Flags().String("channel", "", "Patient channel as id:read_key (generated when empty)")
	seedCmd.Flags().Uint64("seed", 0, "Random seed for generated identities (0 picks one)")
	seedCmd.Flags().Duration("token-ttl", 24*time.Hour, "Lifetime of the printed session tokens")

	_ = viper.BindPFlag("seed.channel", seedCmd.Flags().Lookup("channel"))
	_ = viper.BindPFlag("seed.seed", seedCmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("seed.token_ttl", seedCmd.Flags().Lookup("token-ttl"))
}

func runSeed(cmd *cobra.Command, _ []string) error {
	logger := GetLogger("seed")
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	gen := generator.New(viper.GetUint64("seed.seed"))

	channel := gen.Channel()
	if v := viper.GetString("seed.channel"); v != "" {
		parsed, err := parseChannels([]string{v})
		if err != nil {
			return err
		}
		channel = parsed[0]
	}

	db, err := backend.NewDB(&backend.DBConfig{
		Logger:   logger,
		Host:     viper.GetString("backend.db.host"),
		Port:     viper.GetInt("backend.db.port"),
		User:     viper.GetString("backend.db.user"),
		Password: viper.GetString("backend.db.password"),
		DBName:   viper.GetString("backend.db.name"),
		SSLMode:  viper.GetString("backend.db.sslmode"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.CloseDB(db, logger); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	store, err := backend.NewStore(logger, db, nil)
	if err != nil {
		return err
	}

	newUser := func(role vitals.Role) *backend.User {
		id := gen.Identity()
		return &backend.User{
			Username: id.Username,
			Email:    id.Email,
			Phone:    id.Phone,
			Role:     role,
		}
	}

	patient := newUser(vitals.RolePatient)
	patient.IoTPlatform = dashboard.PlatformThingSpeak
	patient.ChannelID = &channel.ID
	patient.ReadKey = &channel.ReadKey

	users := []*backend.User{
		patient,
		newUser(vitals.RoleDoctor),
		newUser(vitals.RoleRelative),
		newUser(vitals.RoleAdmin),
	}
	for _, u := range users {
		if err := store.CreateUser(ctx, u); err != nil {
			return err
		}
	}

	for _, grantee := range users[1:3] {
		err := store.CreateGrant(ctx, patient.ID, grantee.ID)
		if err != nil && !errors.Is(err, backend.ErrDuplicateGrant) {
			return err
		}
	}

	secret := viper.GetString("session.secret")
	ttl := viper.GetDuration("seed.token_ttl")
	for _, u := range users {
		line := fmt.Sprintf("%-9s id=%d username=%s", u.Role.String(), u.ID, u.Username)
		if secret != "" {
			token, err := auth.NewToken(secret, viper.GetString("session.issuer"), u.ID, ttl)
			if err != nil {
				return err
			}
			line += " token=" + token
		}
		fmt.Println(line)
	}

	logger.Info("database seeded",
		"patient_id", patient.ID,
		"channel_id", channel.ID,
	)
	return nil
}
