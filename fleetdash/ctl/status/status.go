package status

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/list"
	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/options"
	"github.com/asnowfix/esp32-fleet/internal/fleet"
)

type Result struct {
	list.Device  `yaml:",inline"`
	Booted       string `json:"booted,omitempty" yaml:"booted,omitempty"`
	ExpectedNext string `json:"expected_next_update,omitempty" yaml:"expected_next_update,omitempty"`
	AllowedDelay string `json:"max_allowed_delay" yaml:"max_allowed_delay"`
}

var Cmd = &cobra.Command{
	Use:   "status <device-id>",
	Short: "Show the resolved status of one device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid device id %q: %w", args[0], err)
		}
		snap, err := options.FetchSnapshot(cmd.Context())
		if err != nil {
			return err
		}
		now := time.Now()
		for _, d := range snap.Devices {
			if d.DeviceId != id {
				continue
			}
			r := fleet.NewRow(d, now)
			res := Result{
				Device:       list.NewDevice(r, now),
				Booted:       d.Booted.Raw(),
				AllowedDelay: fleet.MaxAllowedDelay(d).String(),
			}
			if next, ok := fleet.ExpectedNextUpdate(d); ok {
				res.ExpectedNext = next.UTC().Format(time.RFC3339)
			}
			return options.PrintResult(res)
		}
		return fmt.Errorf("device %d not found", id)
	},
}
