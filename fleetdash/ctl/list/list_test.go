package list

import (
	"testing"
	"time"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
)

var now = time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC)

func TestNewDeviceOnline(t *testing.T) {
	rssi := -60.0
	d := fleet.Device{
		DeviceId:        1315,
		FirmwareVersion: "1.4.2",
		Booted:          fleet.NewTimestamp(now.Add(-4 * time.Hour)),
		LastUpdated:     fleet.NewTimestamp(now.Add(-10 * time.Minute)),
		UpdateInterval:  fleet.Seconds(1800),
		WifiRssi:        &rssi,
	}
	got := NewDevice(fleet.NewRow(d, now), now)

	if got.Status != fleet.Broadcasting {
		t.Errorf("status %s, want %s", got.Status, fleet.Broadcasting)
	}
	if got.LastSeen != "10m ago" {
		t.Errorf("last seen %q", got.LastSeen)
	}
	if got.Uptime != "4h" || got.Downtime != "" {
		t.Errorf("uptime %q downtime %q", got.Uptime, got.Downtime)
	}
	if got.UpdateInterval != 1800 || got.Firmware != "1.4.2" {
		t.Errorf("device %+v", got)
	}
	if got.WifiRssi == nil || *got.WifiRssi != -60 {
		t.Errorf("rssi %v", got.WifiRssi)
	}
}

func TestNewDeviceOffline(t *testing.T) {
	d := fleet.Device{
		DeviceId:       3227,
		LastUpdated:    fleet.NewTimestamp(now.Add(-2 * time.Hour)),
		UpdateInterval: fleet.Seconds(1800),
	}
	got := NewDevice(fleet.NewRow(d, now), now)

	if got.Status != fleet.Offline {
		t.Errorf("status %s, want %s", got.Status, fleet.Offline)
	}
	if got.LastSeen != "2h ago" {
		t.Errorf("last seen %q", got.LastSeen)
	}
	// expected again 30m after the last update
	if got.Downtime != "1h 30m" || got.Uptime != "" {
		t.Errorf("uptime %q downtime %q", got.Uptime, got.Downtime)
	}
}

func TestNewDeviceNeverSeen(t *testing.T) {
	got := NewDevice(fleet.NewRow(fleet.Device{DeviceId: 2408}, now), now)
	if got.Status != fleet.Offline || got.LastSeen != "never" || got.Downtime != "" || got.LastUpdated != "" {
		t.Errorf("device %+v", got)
	}
}
