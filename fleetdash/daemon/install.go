package daemon

import (
	"context"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/options"
)

func init() {
	Cmd.AddCommand(installCmd)
	Cmd.AddCommand(uninstallCmd)
}

func serviceConfig() *service.Config {
	args := []string{"daemon", "run"}
	if options.Flags.ConfigFile != "" {
		if abs, err := filepath.Abs(options.Flags.ConfigFile); err == nil {
			args = append(args, "--config", abs)
		}
	}
	return &service.Config{
		Name:        options.PROGRAM,
		DisplayName: "ESP32 fleet dashboard",
		Description: "Polls the hosted ESP32 device store and serves the fleet status dashboard",
		Arguments:   args,
		Option: service.KeyValue{
			"Restart":      "on-failure",
			"LogDirectory": "/var/log/" + options.PROGRAM,
		},
	}
}

// load builds the daemon from the configuration and wraps it as a system service
func load(ctx context.Context, fs *pflag.FlagSet) (service.Service, *daemon, error) {
	log, err := logr.FromContext(ctx)
	if err != nil {
		return nil, nil, err
	}

	config, err := options.Load(fs)
	if err != nil {
		log.Error(err, "Failed to load configuration")
		return nil, nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, nil, err
	}

	d := NewDaemon(ctx, config)

	s, err := service.New(d, serviceConfig())
	if err != nil {
		log.Error(err, "Failed to create (background) service")
		return nil, nil, err
	}
	return s, d, nil
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install fleetdash as a " + service.Platform() + " service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := load(cmd.Context(), cmd.Flags())
		if err != nil {
			return err
		}
		logr.FromContextOrDiscard(cmd.Context()).Info("Installing service", "platform", service.Platform())
		return s.Install()
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Uninstall fleetdash as a " + service.Platform() + " service",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := service.New(NewDaemon(cmd.Context(), nil), serviceConfig())
		if err != nil {
			return err
		}
		logr.FromContextOrDiscard(cmd.Context()).Info("Uninstalling service", "platform", service.Platform())
		return s.Uninstall()
	},
}
