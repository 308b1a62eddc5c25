package store

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
)

var (
	deviceListColumns = []string{"device_id", "firmware_version", "booted", "update_interval", "broadcasting"}
	telemetryColumns  = []string{"device_id", "created_at", "cpu_temperature", "wifi_rssi", "wifi_ssid"}
)

type telemetryRow struct {
	DeviceId       int             `json:"device_id"`
	CreatedAt      fleet.Timestamp `json:"created_at"`
	CpuTemperature *float64        `json:"cpu_temperature"`
	WifiRssi       *float64        `json:"wifi_rssi"`
	WifiSsid       *string         `json:"wifi_ssid"`
}

// Devices fetches the current device rows, ordered by device id.
func (c *Client) Devices(ctx context.Context) ([]fleet.Device, error) {
	if c.cfg.Mode == ModeTable {
		var devices []fleet.Device
		err := c.Select(ctx, Query{Table: c.cfg.DevicesTable, OrderBy: "device_id"}, &devices)
		if err != nil {
			return nil, err
		}
		return devices, nil
	}
	return c.mergedDevices(ctx)
}

func (c *Client) mergedDevices(ctx context.Context) ([]fleet.Device, error) {
	var devices []fleet.Device
	err := c.Select(ctx, Query{
		Table:   c.cfg.DeviceListTable,
		Columns: deviceListColumns,
		OrderBy: "device_id",
	}, &devices)
	if err != nil {
		return nil, err
	}

	since := c.now().Add(-c.cfg.TelemetryWindow).UTC()
	var telemetry []telemetryRow
	err = c.Select(ctx, Query{
		Table:      c.cfg.TelemetryTable,
		Columns:    telemetryColumns,
		Conditions: []Condition{{Column: "created_at", Operator: "gte", Value: since.Format(time.RFC3339)}},
		OrderBy:    "created_at",
		Descending: true,
	}, &telemetry)
	if err != nil {
		return nil, err
	}

	return c.merge(devices, telemetry), nil
}

// merge overlays the most recent telemetry row of each listed device. Telemetry of
// devices missing from the list is ignored.
func (c *Client) merge(devices []fleet.Device, telemetry []telemetryRow) []fleet.Device {
	latest := make(map[int]telemetryRow, len(devices))
	for _, t := range telemetry {
		prev, seen := latest[t.DeviceId]
		if !seen || newer(t.CreatedAt, prev.CreatedAt) {
			latest[t.DeviceId] = t
		}
	}

	out := make([]fleet.Device, 0, len(devices))
	for _, d := range devices {
		if t, ok := latest[d.DeviceId]; ok {
			d.LastUpdated = t.CreatedAt
			d.CpuTemperature = t.CpuTemperature
			d.WifiRssi = t.WifiRssi
			d.WifiSsid = t.WifiSsid
			delete(latest, d.DeviceId)
		}
		out = append(out, d)
	}
	if len(latest) > 0 {
		c.log.V(1).Info("Ignoring telemetry of unlisted devices", "count", len(latest))
	}
	slices.SortStableFunc(out, func(a, b fleet.Device) int { return cmp.Compare(a.DeviceId, b.DeviceId) })
	return out
}

func newer(a, b fleet.Timestamp) bool {
	ta, oka := a.Time()
	tb, okb := b.Time()
	if !okb {
		return oka
	}
	return oka && ta.After(tb)
}

// Uptime fetches the daily fleet uptime series from the day of since on.
func (c *Client) Uptime(ctx context.Context, since time.Time) ([]fleet.UptimePoint, error) {
	points := make([]fleet.UptimePoint, 0)
	err := c.Select(ctx, Query{
		Table:      c.cfg.UptimeTable,
		Columns:    []string{"day", "uptime_percent"},
		Conditions: []Condition{{Column: "day", Operator: "gte", Value: since.UTC().Format(fleet.DayLayout)}},
		OrderBy:    "day",
	}, &points)
	if err != nil {
		return nil, err
	}
	return points, nil
}
