package history

import (
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/options"
	"github.com/asnowfix/esp32-fleet/fleetdash/storage"
	"github.com/asnowfix/esp32-fleet/internal/fleet"
)

var flags struct {
	Db          string
	Since       time.Duration
	Transitions int
	Daily       bool
}

func init() {
	Cmd.Flags().StringVar(&flags.Db, "history-db", "", "local history SQLite `file` (default from configuration)")
	Cmd.Flags().DurationVarP(&flags.Since, "since", "S", 24*time.Hour, "how far back samples are listed")
	Cmd.Flags().IntVarP(&flags.Transitions, "transitions", "t", 20, "number of recent status changes listed")
	Cmd.Flags().BoolVar(&flags.Daily, "daily", false, "list daily uptime averages instead of samples")
}

type Result struct {
	Samples     []storage.Sample    `json:"samples,omitempty" yaml:"samples,omitempty"`
	Daily       []fleet.UptimePoint `json:"daily,omitempty" yaml:"daily,omitempty"`
	Transitions []fleet.Transition  `json:"transitions" yaml:"transitions"`
}

var Cmd = &cobra.Command{
	Use:   "history",
	Short: "Show the fleet samples and status changes recorded by the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logr.FromContextOrDiscard(ctx)

		db := flags.Db
		if db == "" {
			config, err := options.ConfigFrom(ctx)
			if err != nil {
				return err
			}
			db = config.HistoryDb
		}
		h, err := storage.Open(log, db)
		if err != nil {
			return err
		}
		defer h.Close()

		since := time.Now().Add(-flags.Since)
		var res Result
		if flags.Daily {
			res.Daily, err = h.Uptime(ctx, since)
		} else {
			res.Samples, err = h.Samples(ctx, since)
		}
		if err != nil {
			return err
		}
		if res.Transitions, err = h.Transitions(ctx, flags.Transitions); err != nil {
			return err
		}
		return options.PrintResult(res)
	},
}
