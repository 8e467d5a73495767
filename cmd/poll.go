package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	watchtracker "github.com/httprunner/WatchTracker"
	"github.com/spf13/cobra"
)

func newPollCmd() *cobra.Command {
	var flagID string

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll one watch once and print its sighting as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(flagID)
			if id == "" {
				return fmt.Errorf("--id must be provided")
			}
			tracker, err := loadTracker()
			if err != nil {
				return err
			}
			client, err := newMykiClient(tracker)
			if err != nil {
				return err
			}

			var got *watchtracker.Sighting
			poller, err := watchtracker.NewPoller(watchtracker.PollerConfig{
				API: client,
				Reporter: watchtracker.ReporterFunc(func(_ context.Context, s watchtracker.Sighting) error {
					s.ProviderUUID = watchtracker.HostUUID()
					got = &s
					return nil
				}),
			})
			if err != nil {
				return err
			}
			if !poller.Poll(cmd.Context(), id) || got == nil {
				return fmt.Errorf("no position for device %s", id)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				watchtracker.Sighting
				Attributes map[string]any `json:"attributes"`
			}{*got, got.Attributes()})
		},
	}

	cmd.Flags().StringVar(&flagID, "id", "", "Device id to poll")
	return cmd
}
