package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/health-dashboard/internal/simulator"
	"procodus.dev/health-dashboard/pkg/generator"
	"procodus.dev/health-dashboard/pkg/metrics"
)

var simulatorCmd = &cobra.Command{
	Use:   "simulator",
	Short: "Run the feed simulator",
	Long: `Run a ThingSpeak compatible feed server that:
- Generates synthetic patient vitals per channel
- Serves /channels/{id}/feeds.json with api_key, results, start and end
- Prints the credentials of generated channels`,
	RunE: runSimulator,
}

func init() {
	rootCmd.AddCommand(simulatorCmd)

	simulatorCmd.Flags().Int("http-port", 8090, "HTTP server port")
	simulatorCmd.Flags().StringSlice("channel", nil, "Fixed channel as id:read_key (repeatable)")
	simulatorCmd.Flags().Int("channel-count", 3, "Number of channels with generated credentials")
	simulatorCmd.Flags().Duration("interval", 15*time.Second, "Interval between readings")
	simulatorCmd.Flags().Int("history", 500, "Readings backfilled per channel at startup")
	simulatorCmd.Flags().Uint64("seed", 0, "Random seed (0 picks one)")
	simulatorCmd.Flags().Float64("fever-rate", generator.DefaultProfile.FeverRate, "Chance of a fever reading")
	simulatorCmd.Flags().Float64("fall-rate", generator.DefaultProfile.FallRate, "Chance of a fall reading")

	_ = viper.BindPFlag("simulator.http.port", simulatorCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("simulator.channels", simulatorCmd.Flags().Lookup("channel"))
	_ = viper.BindPFlag("simulator.channel_count", simulatorCmd.Flags().Lookup("channel-count"))
	_ = viper.BindPFlag("simulator.interval", simulatorCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("simulator.history", simulatorCmd.Flags().Lookup("history"))
	_ = viper.BindPFlag("simulator.seed", simulatorCmd.Flags().Lookup("seed"))
	_ = viper.BindPFlag("simulator.fever_rate", simulatorCmd.Flags().Lookup("fever-rate"))
	_ = viper.BindPFlag("simulator.fall_rate", simulatorCmd.Flags().Lookup("fall-rate"))
}

// parseChannels reads "id:read_key" pairs.
func parseChannels(values []string) ([]generator.Channel, error) {
	channels := make([]generator.Channel, 0, len(values))
	for _, v := range values {
		id, key, ok := strings.Cut(strings.TrimSpace(v), ":")
		if !ok || id == "" || key == "" {
			return nil, fmt.Errorf("invalid channel %q, want id:read_key", v)
		}
		channels = append(channels, generator.Channel{ID: id, ReadKey: key})
	}
	return channels, nil
}

func runSimulator(_ *cobra.Command, _ []string) error {
	logger := GetLogger("simulator")
	logger.Info("starting simulator service")

	channels, err := parseChannels(viper.GetStringSlice("simulator.channels"))
	if err != nil {
		return err
	}

	config := &simulator.ServerConfig{
		Logger:       logger,
		HTTPPort:     viper.GetInt("simulator.http.port"),
		Channels:     channels,
		ChannelCount: viper.GetInt("simulator.channel_count"),
		Interval:     viper.GetDuration("simulator.interval"),
		History:      viper.GetInt("simulator.history"),
		Seed:         viper.GetUint64("simulator.seed"),
		Profile: generator.Profile{
			FeverRate: viper.GetFloat64("simulator.fever_rate"),
			FallRate:  viper.GetFloat64("simulator.fall_rate"),
		},
		Metrics: metrics.NewSimulatorMetrics(metrics.Namespace),
	}

	server, err := simulator.NewServer(config)
	if err != nil {
		logger.Error("failed to create simulator", "error", err)
		return err
	}

	for _, ch := range server.Channels() {
		fmt.Printf("channel %s read_key %s\n", ch.ID, ch.ReadKey)
	}

	if err := server.Run(context.Background()); err != nil {
		logger.Error("simulator error", "error", err)
		return err
	}

	return nil
}
