package metrics

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
	"github.com/asnowfix/esp32-fleet/internal/monitor"
)

var at = time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC)

func snapshot(generation uint64, err error, devices ...fleet.Device) *monitor.Snapshot {
	return &monitor.Snapshot{Generation: generation, FetchedAt: at, Devices: devices, Err: err}
}

func seen(id int, ago time.Duration) fleet.Device {
	return fleet.Device{DeviceId: id, UpdateInterval: fleet.Seconds(1800), LastUpdated: fleet.NewTimestamp(at.Add(-ago))}
}

func TestSnapshotGauges(t *testing.T) {
	var latest *monitor.Snapshot
	e := NewExporter(testr.New(t), fleet.DefaultPowerModel, func() *monitor.Snapshot { return latest })

	latest = snapshot(3, nil, seen(1315, time.Minute), seen(2408, time.Hour), seen(3227, 2*time.Hour))
	e.SnapshotApplied(context.Background(), snapshot(2, nil), latest, []fleet.Transition{
		{DeviceId: 2408, From: fleet.Broadcasting, To: fleet.Offline, At: at},
	})

	if got := testutil.ToFloat64(e.devices.WithLabelValues("Offline")); got != 2 {
		t.Errorf("offline devices: %v", got)
	}
	if got := testutil.ToFloat64(e.devices.WithLabelValues("Broadcasting")); got != 1 {
		t.Errorf("broadcasting devices: %v", got)
	}
	if got := testutil.ToFloat64(e.generation); got != 3 {
		t.Errorf("generation: %v", got)
	}
	if got := testutil.ToFloat64(e.transitions.WithLabelValues("Offline")); got != 1 {
		t.Errorf("transitions to offline: %v", got)
	}
	if got := testutil.ToFloat64(e.fetchErrors); got != 0 {
		t.Errorf("fetch errors: %v", got)
	}

	e.SnapshotApplied(context.Background(), latest, snapshot(4, errors.New("timeout")), nil)
	if got := testutil.ToFloat64(e.fetchErrors); got != 1 {
		t.Errorf("fetch errors after failure: %v", got)
	}
	if got := testutil.ToFloat64(e.devices.WithLabelValues("Offline")); got != 2 {
		t.Errorf("offline devices after a failed fetch: %v, want the last fetched count", got)
	}
	if got := testutil.ToFloat64(e.generation); got != 4 {
		t.Errorf("generation after a failed fetch: %v", got)
	}
	if got := testutil.ToFloat64(e.lastFetch); got != float64(at.Unix()) {
		t.Errorf("last fetch: %v", got)
	}
}

func TestAveragesWithoutReports(t *testing.T) {
	e := NewExporter(testr.New(t), fleet.DefaultPowerModel, func() *monitor.Snapshot { return nil })

	reporting := seen(1315, time.Minute)
	rssi, temperature := -60.0, 41.5
	reporting.WifiRssi = &rssi
	reporting.CpuTemperature = &temperature
	e.SnapshotApplied(context.Background(), snapshot(0, nil), snapshot(1, nil, reporting), nil)
	if got := testutil.ToFloat64(e.rssi); got != -60 {
		t.Errorf("average rssi: %v", got)
	}
	if got := testutil.ToFloat64(e.temperature); got != 41.5 {
		t.Errorf("average temperature: %v", got)
	}

	e.SnapshotApplied(context.Background(), snapshot(1, nil), snapshot(2, nil, seen(1315, time.Minute)), nil)
	if got := testutil.ToFloat64(e.rssi); !math.IsNaN(got) {
		t.Errorf("average rssi without reports: %v, want NaN", got)
	}
	if got := testutil.ToFloat64(e.temperature); !math.IsNaN(got) {
		t.Errorf("average temperature without reports: %v, want NaN", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	latest := snapshot(1, nil, seen(1, time.Minute))
	e := NewExporter(testr.New(t), fleet.DefaultPowerModel, func() *monitor.Snapshot { return latest })
	e.SnapshotApplied(context.Background(), snapshot(0, nil), latest, nil)

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`fleetdash_devices{status="Broadcasting"} 1`,
		`fleetdash_uptime_percent 100`,
		`fleetdash_snapshot_generation 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output lacks %q", want)
		}
	}
}

func TestHealth(t *testing.T) {
	var latest *monitor.Snapshot
	e := NewExporter(testr.New(t), fleet.DefaultPowerModel, func() *monitor.Snapshot { return latest })

	for _, tt := range []struct {
		snapshot *monitor.Snapshot
		code     int
		status   string
	}{
		{snapshot(0, nil), http.StatusServiceUnavailable, "starting"},
		{snapshot(5, errors.New("401")), http.StatusServiceUnavailable, "fetch_failed"},
		{snapshot(6, nil), http.StatusOK, `"status":"ok"`},
	} {
		latest = tt.snapshot
		rec := httptest.NewRecorder()
		e.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != tt.code || !strings.Contains(rec.Body.String(), tt.status) {
			t.Errorf("generation %d: %d %s", tt.snapshot.Generation, rec.Code, rec.Body.String())
		}
	}
}
