package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/asnowfix/esp32-fleet/fleetdash/ctl"
	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/options"
	"github.com/asnowfix/esp32-fleet/fleetdash/daemon"
	"github.com/asnowfix/esp32-fleet/hlog"
	"github.com/asnowfix/esp32-fleet/internal/debug"
	"github.com/asnowfix/esp32-fleet/internal/global"
)

var Cmd = &cobra.Command{
	Use:           "fleetdash",
	Short:         "ESP32 fleet status dashboard",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		hlog.Init(options.Flags.Verbose, options.Flags.Debug, options.Flags.Quiet)
		if debug.IsDebuggerAttached() {
			hlog.Logger.Info("Running under debugger, command timeout disabled")
			options.Flags.CommandTimeout = 0
		}
		ctx := options.CommandLineContext(cmd.Context(), hlog.Logger, options.Flags.CommandTimeout, getVersion())
		cmd.SetContext(ctx)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		global.Cancel(cmd.Context())
		return nil
	},
}

func init() {
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Verbose, "verbose", "v", false, "verbose output (info level, mutually exclusive with --debug and --quiet)")
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Debug, "debug", "d", false, "debug output (shows V(1) logs, mutually exclusive with --verbose and --quiet)")
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Quiet, "quiet", "q", false, "quiet output (error level only, mutually exclusive with --verbose and --debug)")
	Cmd.PersistentFlags().BoolVarP(&options.Flags.Json, "json", "j", false, "output in json format")
	Cmd.PersistentFlags().DurationVarP(&options.Flags.CommandTimeout, "command-timeout", "C", options.COMMAND_DEFAULT_TIMEOUT, "maximum time to wait for a command to finish (0 = wait indefinitely)")
	Cmd.PersistentFlags().DurationVarP(&options.Flags.MdnsTimeout, "mdns-timeout", "M", options.MDNS_LOOKUP_DEFAULT_TIMEOUT, "timeout for mDNS lookups")

	// Make log level flags mutually exclusive
	Cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	Cmd.AddCommand(ctl.Cmd)
	Cmd.AddCommand(daemon.Cmd)
}

func main() {
	cobra.EnableTraverseRunHooks = true
	err := Cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
