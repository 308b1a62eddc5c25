package daemon

import (
	"github.com/go-logr/logr"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/options"
	"github.com/asnowfix/esp32-fleet/hlog"
)

func init() {
	Cmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon, in the foreground or under the service manager",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hlog.InitForDaemon(options.Flags.Verbose, options.Flags.Debug)
		ctx := logr.NewContext(cmd.Context(), hlog.Logger)

		s, d, err := load(ctx, cmd.Flags())
		if err != nil {
			return err
		}
		if service.Interactive() {
			return d.Run()
		}
		hlog.Logger.Info("Running under the service manager", "platform", service.Platform())
		return s.Run()
	},
}
