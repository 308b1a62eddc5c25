package list

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/options"
	"github.com/asnowfix/esp32-fleet/internal/fleet"
)

var flags struct {
	Sort        string
	Dir         string
	Mixed       bool
	OnlineOnly  bool
	OfflineOnly bool
}

func init() {
	Cmd.Flags().StringVarP(&flags.Sort, "sort", "s", string(fleet.SortByStatus), "sort key: device_id, status, uptime, last_updated, firmware_version, cpu_temperature or wifi_rssi")
	Cmd.Flags().StringVarP(&flags.Dir, "dir", "D", string(fleet.Ascending), "sort direction: asc or desc")
	Cmd.Flags().BoolVar(&flags.Mixed, "mixed", false, "do not list online devices first")
	Cmd.Flags().BoolVar(&flags.OnlineOnly, "online", false, "only list online devices")
	Cmd.Flags().BoolVar(&flags.OfflineOnly, "offline", false, "only list offline devices")
	Cmd.MarkFlagsMutuallyExclusive("online", "offline")
}

var Cmd = &cobra.Command{
	Use:   "list [device-id-filter]",
	Short: "List the fleet devices with their resolved status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		q := fleet.DefaultQuery()
		var err error
		if q.Key, err = fleet.ParseSortKey(flags.Sort); err != nil {
			return err
		}
		if q.Direction, err = fleet.ParseDirection(flags.Dir); err != nil {
			return err
		}
		q.OnlineFirst = !flags.Mixed
		if len(args) > 0 {
			q.Filter = args[0]
		}

		snap, err := options.FetchSnapshot(cmd.Context())
		if err != nil {
			return err
		}
		now := time.Now()
		out := make([]Device, 0, len(snap.Devices))
		for _, r := range fleet.Order(snap.Rows(now), q) {
			if flags.OnlineOnly && !r.Status.Online() || flags.OfflineOnly && r.Status.Online() {
				continue
			}
			out = append(out, NewDevice(r, now))
		}
		return options.PrintResult(out)
	},
}

// Device is one device as printed by the ctl commands
type Device struct {
	DeviceId       int          `json:"device_id" yaml:"device_id"`
	Status         fleet.Status `json:"status" yaml:"status"`
	LastSeen       string       `json:"last_seen" yaml:"last_seen"`
	LastUpdated    string       `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
	Uptime         string       `json:"uptime,omitempty" yaml:"uptime,omitempty"`
	Downtime       string       `json:"downtime,omitempty" yaml:"downtime,omitempty"`
	Firmware       string       `json:"firmware_version,omitempty" yaml:"firmware_version,omitempty"`
	UpdateInterval float64      `json:"update_interval" yaml:"update_interval"`
	CpuTemperature *float64     `json:"cpu_temperature,omitempty" yaml:"cpu_temperature,omitempty"`
	WifiRssi       *float64     `json:"wifi_rssi,omitempty" yaml:"wifi_rssi,omitempty"`
	WifiSsid       *string      `json:"wifi_ssid,omitempty" yaml:"wifi_ssid,omitempty"`
}

func NewDevice(r fleet.Row, now time.Time) Device {
	d := Device{
		DeviceId:       r.DeviceId,
		Status:         r.Status,
		LastSeen:       fleet.LastSeen(r.Device, now),
		LastUpdated:    r.LastUpdated.Raw(),
		Firmware:       r.FirmwareVersion,
		UpdateInterval: r.UpdateInterval.Duration().Seconds(),
		CpuTemperature: r.CpuTemperature,
		WifiRssi:       r.WifiRssi,
		WifiSsid:       r.WifiSsid,
	}
	if r.HasUptime() {
		d.Uptime = fleet.FormatElapsed(r.Uptime)
	}
	if r.HasDowntime() {
		d.Downtime = fleet.FormatElapsed(r.Downtime)
	}
	return d
}
