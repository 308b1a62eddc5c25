package daemon

import (
	"github.com/spf13/cobra"

	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/options"
)

func init() {
	options.RegisterFlags(Cmd.PersistentFlags())
	options.RegisterDaemonFlags(Cmd.PersistentFlags())
}

var Cmd = &cobra.Command{
	Use:   "daemon",
	Short: "fleetdash daemon",
	Long:  "fleetdash daemon: polls the hosted device store and serves the fleet dashboard, API, metrics and MQTT status",
	Args:  cobra.NoArgs,
}
