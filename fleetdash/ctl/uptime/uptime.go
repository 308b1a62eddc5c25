package uptime

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/options"
	"github.com/asnowfix/esp32-fleet/internal/fleet"
)

var rangeFlag string

func init() {
	Cmd.Flags().StringVarP(&rangeFlag, "range", "r", string(fleet.DefaultUptimeRange), "window: 24h, 7d, 30d or 90d")
}

var Cmd = &cobra.Command{
	Use:   "uptime",
	Short: "Show the daily fleet uptime series from the hosted data store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r := fleet.UptimeRange(rangeFlag)
		if _, ok := fleet.UptimeRanges[r]; !ok {
			return fmt.Errorf("invalid range %q", rangeFlag)
		}
		ctx := cmd.Context()
		client, err := options.ClientFrom(ctx)
		if err != nil {
			return err
		}
		points, err := client.Uptime(ctx, r.Since(time.Now()))
		if err != nil {
			return err
		}
		return options.PrintResult(points)
	},
}
