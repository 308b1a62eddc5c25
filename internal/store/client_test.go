package store

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
)

const testKey = "anon-key"

func newTestClient(t *testing.T, mode Mode, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(testr.New(t), Config{Endpoint: srv.URL, Key: testKey, Mode: mode})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestNewClientRequiresConnection(t *testing.T) {
	for _, cfg := range []Config{
		{},
		{Endpoint: "https://example.supabase.co"},
		{Key: testKey},
	} {
		if _, err := NewClient(testr.New(t), cfg); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("%+v: got %v, want ErrNotConfigured", cfg, err)
		}
	}
	if _, err := NewClient(testr.New(t), Config{Endpoint: "ftp://example", Key: testKey}); err == nil {
		t.Error("non-http endpoint accepted")
	}
	if _, err := NewClient(testr.New(t), Config{Endpoint: "https://example", Key: testKey, Mode: "joined"}); err == nil {
		t.Error("unknown mode accepted")
	}
}

func TestSelectRequest(t *testing.T) {
	c := newTestClient(t, ModeTable, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/things" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if got := r.Header.Get("apikey"); got != testKey {
			t.Errorf("apikey header: %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+testKey {
			t.Errorf("authorization header: %q", got)
		}
		q := r.URL.Query()
		if got := q.Get("select"); got != "a,b" {
			t.Errorf("select: %q", got)
		}
		if got := q.Get("order"); got != "a.desc" {
			t.Errorf("order: %q", got)
		}
		if got := q.Get("limit"); got != "5" {
			t.Errorf("limit: %q", got)
		}
		if got := q.Get("b"); got != "gte.2026-10-17T00:00:00+02:00" {
			t.Errorf("filter: %q", got)
		}
		w.Write([]byte(`[{"a": 1}, {"a": 2}]`))
	})

	var out []struct {
		A int `json:"a"`
	}
	err := c.Select(context.Background(), Query{
		Table:      "things",
		Columns:    []string{"a", "b"},
		Conditions: []Condition{{Column: "b", Operator: "gte", Value: "2026-10-17T00:00:00+02:00"}},
		OrderBy:    "a",
		Descending: true,
		Limit:      5,
	}, &out)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(out) != 2 || out[1].A != 2 {
		t.Errorf("decoded %+v", out)
	}
}

func TestSelectHTTPError(t *testing.T) {
	c := newTestClient(t, ModeTable, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message": "Invalid API key"}`))
	})
	_, err := c.Devices(context.Background())
	var herr *HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("got %v, want *HTTPError", err)
	}
	if herr.StatusCode != http.StatusUnauthorized || herr.Message != "Invalid API key" {
		t.Errorf("got %+v", herr)
	}
}

func TestDevicesTableMode(t *testing.T) {
	c := newTestClient(t, ModeTable, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/devices" || r.URL.Query().Get("select") != "*" {
			t.Errorf("unexpected request %s", r.URL)
		}
		w.Write([]byte(`[
			{"device_id": 1315, "firmware_version": "v1.2.0", "last_updated": "2026-10-17T11:12:00Z", "update_interval": "1800"},
			{"device_id": 2408, "last_updated": null, "update_interval": null, "wifi_rssi": -70}
		]`))
	})
	devices, err := c.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices", len(devices))
	}
	if !devices[0].LastUpdated.Valid() || devices[0].UpdateInterval.Duration() != 30*time.Minute {
		t.Errorf("device 1315: %+v", devices[0])
	}
	if devices[1].LastUpdated.Valid() || devices[1].WifiRssi == nil || *devices[1].WifiRssi != -70 {
		t.Errorf("device 2408: %+v", devices[1])
	}
}

func TestDevicesMergedMode(t *testing.T) {
	c := newTestClient(t, ModeMerged, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/v1/device_list":
			w.Write([]byte(`[
				{"device_id": 1315, "firmware_version": "v1.10.0", "booted": "2026-10-17T02:00:00Z", "update_interval": 1800},
				{"device_id": 2408, "firmware_version": "v1.9.2", "update_interval": 60, "broadcasting": false},
				{"device_id": 3227, "firmware_version": "v1.2.0"}
			]`))
		case "/rest/v1/device_telemetry":
			q := r.URL.Query()
			if got := q.Get("created_at"); got != "gte.2026-10-16T12:00:00Z" {
				t.Errorf("telemetry window: %q", got)
			}
			if got := q.Get("order"); got != "created_at.desc" {
				t.Errorf("telemetry order: %q", got)
			}
			w.Write([]byte(`[
				{"device_id": 1315, "created_at": "2026-10-17T11:55:00+00:00", "cpu_temperature": 48.5, "wifi_rssi": -61, "wifi_ssid": "lab"},
				{"device_id": 2408, "created_at": "2026-10-17T11:58:00+00:00", "cpu_temperature": 41},
				{"device_id": 9999, "created_at": "2026-10-17T11:59:00+00:00"},
				{"device_id": 1315, "created_at": "2026-10-17T11:25:00+00:00", "cpu_temperature": 47.0},
				{"device_id": 2408, "created_at": "2026-10-17T11:59:30+00:00", "cpu_temperature": 42}
			]`))
		default:
			http.NotFound(w, r)
		}
	})

	devices, err := c.Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 3 {
		t.Fatalf("got %d devices, want 3", len(devices))
	}

	d := devices[0]
	last, _ := d.LastUpdated.Time()
	if d.DeviceId != 1315 || !last.Equal(time.Date(2026, time.October, 17, 11, 55, 0, 0, time.UTC)) {
		t.Errorf("device 1315 last update: %v", last)
	}
	if d.CpuTemperature == nil || *d.CpuTemperature != 48.5 || d.WifiSsid == nil || *d.WifiSsid != "lab" {
		t.Errorf("device 1315 telemetry: %+v", d)
	}

	// out-of-order rows: the most recent one wins
	d = devices[1]
	if d.CpuTemperature == nil || *d.CpuTemperature != 42 {
		t.Errorf("device 2408 telemetry: %+v", d)
	}
	if d.Broadcasting == nil || *d.Broadcasting {
		t.Errorf("device 2408 broadcasting flag lost: %+v", d)
	}

	d = devices[2]
	if d.DeviceId != 3227 || d.LastUpdated.Valid() || d.CpuTemperature != nil {
		t.Errorf("device 3227 without telemetry: %+v", d)
	}
}

func TestUptime(t *testing.T) {
	c := newTestClient(t, ModeMerged, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/uptime_daily" {
			t.Errorf("path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if got := q.Get("day"); got != "gte.2026-10-10" {
			t.Errorf("window: %q", got)
		}
		if got := q.Get("order"); got != "day.asc" {
			t.Errorf("order: %q", got)
		}
		w.Write([]byte(`[{"day": "2026-10-10", "uptime_percent": 97.5}, {"day": "2026-10-11", "uptime_percent": 100}]`))
	})
	points, err := c.Uptime(context.Background(), fleet.DefaultUptimeRange.Since(c.now()))
	if err != nil {
		t.Fatalf("Uptime: %v", err)
	}
	if len(points) != 2 || points[0].Day != "2026-10-10" || points[0].UptimePercent != 97.5 {
		t.Errorf("got %+v", points)
	}
}
