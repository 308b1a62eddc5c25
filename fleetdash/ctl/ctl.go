package ctl

import (
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/history"
	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/list"
	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/options"
	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/status"
	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/summary"
	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/uptime"
	"github.com/asnowfix/esp32-fleet/internal/store"
)

var Cmd = &cobra.Command{
	Use:   "ctl",
	Short: "Query the ESP32 fleet from the command line",
	Args:  cobra.NoArgs,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		log := logr.FromContextOrDiscard(ctx)

		config, err := options.Load(cmd.Flags())
		if err != nil {
			return err
		}
		ctx = options.WithConfig(ctx, config)

		// The local history does not need the hosted store
		if cmd.Name() != history.Cmd.Name() {
			if err := config.Validate(); err != nil {
				return err
			}
			client, err := store.NewClient(log, config.Store)
			if err != nil {
				log.Error(err, "Failed to initialize data store client")
				return err
			}
			ctx = options.WithClient(ctx, client)
		}

		cmd.SetContext(ctx)
		return nil
	},
}

func init() {
	options.RegisterFlags(Cmd.PersistentFlags())

	Cmd.AddCommand(list.Cmd)
	Cmd.AddCommand(summary.Cmd)
	Cmd.AddCommand(status.Cmd)
	Cmd.AddCommand(history.Cmd)
	Cmd.AddCommand(uptime.Cmd)
}
