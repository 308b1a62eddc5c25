package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
	"github.com/asnowfix/esp32-fleet/internal/monitor"
)

var day = time.Date(2026, time.October, 15, 0, 0, 0, 0, time.UTC)

func openHistory(t *testing.T) *History {
	t.Helper()
	h, err := Open(testr.New(t), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestSamplesRoundTrip(t *testing.T) {
	h := openHistory(t)
	ctx := context.Background()

	rssi := -70.0
	s := fleet.Summary{Total: 3, Broadcasting: 1, Offline: 2, UptimePercent: 100.0 / 3, AverageRSSI: &rssi, EstimatedDailyEnergyKWh: 0.057024}
	if err := h.RecordSample(ctx, day.Add(time.Hour), s); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}
	// same instant again replaces the row
	s.Offline, s.Idle = 1, 1
	if err := h.RecordSample(ctx, day.Add(time.Hour), s); err != nil {
		t.Fatalf("RecordSample again: %v", err)
	}

	samples, err := h.Samples(ctx, day)
	if err != nil {
		t.Fatalf("Samples: %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
	got := samples[0]
	if !got.TakenAt.Equal(day.Add(time.Hour)) || got.Total != 3 || got.Idle != 1 || got.Offline != 1 {
		t.Errorf("sample: %+v", got)
	}
	if got.AverageRSSI == nil || *got.AverageRSSI != -70 || got.AverageTemperature != nil {
		t.Errorf("averages: rssi=%v temperature=%v", got.AverageRSSI, got.AverageTemperature)
	}
}

func TestUptimeDailyAverage(t *testing.T) {
	h := openHistory(t)
	ctx := context.Background()

	for _, tt := range []struct {
		at      time.Time
		percent float64
	}{
		{day.Add(-time.Hour), 0},
		{day.Add(time.Hour), 100},
		{day.Add(13 * time.Hour), 50},
		{day.Add(25 * time.Hour), 80},
	} {
		if err := h.RecordSample(ctx, tt.at, fleet.Summary{UptimePercent: tt.percent}); err != nil {
			t.Fatalf("RecordSample: %v", err)
		}
	}

	points, err := h.Uptime(ctx, day.Add(9*time.Hour))
	if err != nil {
		t.Fatalf("Uptime: %v", err)
	}
	want := []fleet.UptimePoint{{Day: "2026-10-15", UptimePercent: 75}, {Day: "2026-10-16", UptimePercent: 80}}
	if len(points) != len(want) {
		t.Fatalf("got %+v, want %+v", points, want)
	}
	for i := range want {
		if points[i].Day != want[i].Day || math.Abs(points[i].UptimePercent-want[i].UptimePercent) > 1e-9 {
			t.Errorf("point %d: got %+v, want %+v", i, points[i], want[i])
		}
	}
}

func TestTransitionsNewestFirst(t *testing.T) {
	h := openHistory(t)
	ctx := context.Background()

	err := h.RecordTransitions(ctx, []fleet.Transition{
		{DeviceId: 1315, From: fleet.Broadcasting, To: fleet.Offline, At: day},
		{DeviceId: 2408, From: fleet.Offline, To: fleet.Idle, At: day.Add(time.Minute)},
	})
	if err != nil {
		t.Fatalf("RecordTransitions: %v", err)
	}
	if err := h.RecordTransitions(ctx, nil); err != nil {
		t.Fatalf("RecordTransitions without changes: %v", err)
	}

	got, err := h.Transitions(ctx, 1)
	if err != nil {
		t.Fatalf("Transitions: %v", err)
	}
	if len(got) != 1 || got[0].DeviceId != 2408 || got[0].To != fleet.Idle || !got[0].At.Equal(day.Add(time.Minute)) {
		t.Errorf("latest transition: %+v", got)
	}

	all, err := h.Transitions(ctx, 0)
	if err != nil || len(all) != 2 {
		t.Errorf("all transitions: %+v %v", all, err)
	}
}

func TestPrune(t *testing.T) {
	h := openHistory(t)
	ctx := context.Background()

	h.RecordSample(ctx, day.Add(-48*time.Hour), fleet.Summary{})
	h.RecordSample(ctx, day, fleet.Summary{})
	h.RecordTransitions(ctx, []fleet.Transition{{DeviceId: 1, From: fleet.Broadcasting, To: fleet.Offline, At: day.Add(-72 * time.Hour)}})

	removed, err := h.Prune(ctx, day.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed %d rows, want 2", removed)
	}
	samples, _ := h.Samples(ctx, time.Time{})
	if len(samples) != 1 {
		t.Errorf("%d samples left, want 1", len(samples))
	}
}

func TestRecorder(t *testing.T) {
	h := openHistory(t)
	ctx := context.Background()
	observer := h.Recorder(fleet.DefaultPowerModel)

	at := day.Add(12 * time.Hour)
	next := &monitor.Snapshot{
		Generation: 2,
		FetchedAt:  at,
		Devices: []fleet.Device{{
			DeviceId:       1315,
			UpdateInterval: fleet.Seconds(1800),
			LastUpdated:    fleet.NewTimestamp(at.Add(-time.Minute)),
		}},
	}
	changes := []fleet.Transition{{DeviceId: 1315, From: fleet.Offline, To: fleet.Broadcasting, At: at}}
	observer.SnapshotApplied(ctx, &monitor.Snapshot{Generation: 1}, next, changes)

	samples, err := h.Samples(ctx, day)
	if err != nil || len(samples) != 1 || samples[0].Broadcasting != 1 || samples[0].UptimePercent != 100 {
		t.Errorf("samples: %+v %v", samples, err)
	}
	transitions, err := h.Transitions(ctx, 10)
	if err != nil || len(transitions) != 1 {
		t.Errorf("transitions: %+v %v", transitions, err)
	}
}
