package main

import (
	"encoding/json"
	"fmt"

	watchtracker "github.com/httprunner/WatchTracker"
	"github.com/spf13/cobra"
)

func newDevicesCmd() *cobra.Command {
	var flagJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the watches on the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			tracker, err := loadTracker()
			if err != nil {
				return err
			}
			client, err := newMykiClient(tracker)
			if err != nil {
				return err
			}
			devices := watchtracker.ListDevices(cmd.Context(), client)
			out := cmd.OutOrStdout()
			if flagJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(devices)
			}
			for _, d := range devices {
				fmt.Fprintln(out, d.ID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagJSON, "json", false, "Print the full device records as JSON")
	return cmd
}
