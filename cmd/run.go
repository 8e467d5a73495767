package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	watchtracker "github.com/httprunner/WatchTracker"
	"github.com/httprunner/WatchTracker/internal/config"
	"github.com/httprunner/WatchTracker/internal/env"
	"github.com/httprunner/WatchTracker/internal/statusapi"
	"github.com/httprunner/WatchTracker/pkg/registry"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var (
		flagInitialScan bool
		flagStatusAddr  string
		flagGrace       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "List watches once, then poll their positions on every scan interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker, err := loadTracker()
			if err != nil {
				return err
			}
			client, err := newMykiClient(tracker)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sinks, err := registry.NewFromConfig(ctx, config.SinksFromEnv(tracker.ScanInterval), watchtracker.HostUUID())
			if err != nil {
				return err
			}
			defer func() {
				if err := sinks.Close(); err != nil {
					log.Warn().Err(err).Msg("close sinks failed")
				}
			}()

			scanner, err := watchtracker.NewScanner(watchtracker.ScannerConfig{
				API:      client,
				Reporter: sinks.Manager,
				Interval: tracker.ScanInterval,
			})
			if err != nil {
				return err
			}

			sg := watchtracker.NewSafeGroup(ctx)
			if err := scanner.Setup(sg.Context()); err != nil {
				return err
			}
			defer scanner.Stop()
			log.Info().
				Str("base_url", client.BaseURL()).
				Dur("interval", scanner.Interval()).
				Str("sinks", sinks.Manager.Name()).
				Msg("starting watch tracker")

			if flagInitialScan {
				reported := scanner.Update(sg.Context())
				log.Info().Int("reported", reported).Msg("initial scan finished")
			}

			sg.GoSafe("scanner", func(ctx context.Context) error {
				<-ctx.Done()
				scanner.Stop()
				return nil
			})

			statusAddr := firstNonEmpty(flagStatusAddr, env.String(config.EnvStatusHTTPAddr, ""))
			if statusAddr != "" {
				deps := statusapi.Dependencies{
					Addr:    statusAddr,
					Latest:  sinks.Memory,
					Devices: scanner,
				}
				if sinks.SQLite != nil {
					deps.History = sinks.SQLite
				}
				server := statusapi.NewServer(deps)
				sg.GoSafe("status-api", server.Run)
			}

			err = sg.WaitOrInterrupt(flagGrace)
			if errors.Is(err, context.Canceled) {
				log.Info().Msg("watch tracker stopped")
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&flagInitialScan, "initial-scan", false, "Poll every watch once right after setup")
	cmd.Flags().StringVar(&flagStatusAddr, "status-addr", "", "Serve the status API on this address (default from STATUS_HTTP_ADDR)")
	cmd.Flags().DurationVar(&flagGrace, "shutdown-grace", 10*time.Second, "How long to wait for running work after an interrupt")

	return cmd
}
