package summary

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/options"
	"github.com/asnowfix/esp32-fleet/internal/fleet"
)

type Result struct {
	Generation    uint64    `json:"generation" yaml:"generation"`
	FetchedAt     time.Time `json:"fetched_at" yaml:"fetched_at"`
	fleet.Summary `yaml:",inline"`
}

var Cmd = &cobra.Command{
	Use:   "summary",
	Short: "Show fleet-level figures: counts, uptime, averages, records and energy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		snap, err := options.FetchSnapshot(ctx)
		if err != nil {
			return err
		}
		now := time.Now()
		return options.PrintResult(Result{
			Generation: snap.Generation,
			FetchedAt:  snap.FetchedAt,
			Summary:    fleet.Summarize(snap.Rows(now), now, options.Power(ctx)),
		})
	},
}
