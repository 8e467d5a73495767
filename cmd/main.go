package main

import (
	"os"

	"github.com/httprunner/WatchTracker/internal/env"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "watchtracker",
	Short: "Track Myki watches and record their GPS positions",
	Long:  `watchtracker polls the Myki watch cloud service for every watch on the account and reports each position to the configured sinks (memory, sqlite, jsonl, influx, redis, dynamodb, feishu bitable).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(firstNonEmpty(rootLogLevel, env.String("LOG_LEVEL", ""), "info"))
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
		return nil
	},
}

var (
	rootLogLevel     string
	rootUsername     string
	rootPassword     string
	rootBaseURL      string
	rootScanInterval string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "Log level: debug, info, warn, error (default from LOG_LEVEL, else info)")
	rootCmd.PersistentFlags().StringVar(&rootUsername, "username", "", "Myki account username (default from MYKI_USERNAME)")
	rootCmd.PersistentFlags().StringVar(&rootPassword, "password", "", "Myki account password (default from MYKI_PASSWORD)")
	rootCmd.PersistentFlags().StringVar(&rootBaseURL, "base-url", "", "Myki service base URL (default from MYKI_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&rootScanInterval, "scan-interval", "", "Polling interval, e.g. 300 or 5m (default from MYKI_SCAN_INTERVAL)")
	rootCmd.AddCommand(
		newRunCmd(),
		newDevicesCmd(),
		newPollCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("watchtracker command failed")
	}
}
