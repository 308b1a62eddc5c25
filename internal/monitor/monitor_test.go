package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
	"github.com/asnowfix/esp32-fleet/internal/store"
)

type sourceFunc func(ctx context.Context) ([]fleet.Device, error)

func (f sourceFunc) Devices(ctx context.Context) ([]fleet.Device, error) {
	return f(ctx)
}

var testConfig = Config{
	PollInterval:  time.Hour,
	FetchTimeout:  time.Second,
	FetchRetries:  2,
	RetryInterval: time.Millisecond,
}

var t0 = time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC)

func device(id int, ago time.Duration) fleet.Device {
	return fleet.Device{
		DeviceId:       id,
		UpdateInterval: fleet.Seconds(1800),
		LastUpdated:    fleet.NewTimestamp(t0.Add(-ago)),
	}
}

func newMonitor(t *testing.T, src Source) *Monitor {
	m := New(testr.New(t), src, testConfig)
	m.now = func() time.Time { return t0 }
	return m
}

func TestRefreshApplies(t *testing.T) {
	m := newMonitor(t, sourceFunc(func(ctx context.Context) ([]fleet.Device, error) {
		return []fleet.Device{device(1315, time.Minute)}, nil
	}))
	if s := m.Snapshot(); s.Generation != 0 || len(s.Devices) != 0 {
		t.Fatalf("initial snapshot: %+v", s)
	}
	s, applied := m.Refresh(context.Background())
	if !applied || s.Generation != 1 || len(s.Devices) != 1 || s.Err != nil {
		t.Fatalf("applied=%v snapshot=%+v", applied, s)
	}
	if m.Snapshot() != s {
		t.Error("Snapshot does not return the applied snapshot")
	}
}

func TestSupersededFetchDropped(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	m := newMonitor(t, sourceFunc(func(ctx context.Context) ([]fleet.Device, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return []fleet.Device{device(1, time.Minute)}, nil
		}
		return []fleet.Device{device(2, time.Minute), device(3, time.Minute)}, nil
	}))

	type result struct {
		s       *Snapshot
		applied bool
	}
	slow := make(chan result)
	go func() {
		s, applied := m.Refresh(context.Background())
		slow <- result{s, applied}
	}()
	<-started

	s, applied := m.Refresh(context.Background())
	if !applied || s.Generation != 2 {
		t.Fatalf("latest fetch: applied=%v generation=%d", applied, s.Generation)
	}

	close(release)
	r := <-slow
	if r.applied {
		t.Errorf("superseded fetch was applied")
	}
	if got := m.Snapshot(); got.Generation != 2 || len(got.Devices) != 2 {
		t.Errorf("snapshot after stale answer: generation=%d devices=%d", got.Generation, len(got.Devices))
	}
}

func TestFetchFailureEmptiesSnapshot(t *testing.T) {
	var calls atomic.Int32
	fail := errors.New("connection refused")
	m := newMonitor(t, sourceFunc(func(ctx context.Context) ([]fleet.Device, error) {
		if calls.Add(1) == 1 {
			return []fleet.Device{device(1, time.Minute)}, nil
		}
		return nil, fail
	}))

	m.Refresh(context.Background())
	s, applied := m.Refresh(context.Background())
	if !applied {
		t.Fatal("failed fetch must still be applied")
	}
	if len(s.Devices) != 0 || !errors.Is(s.Err, fail) {
		t.Errorf("snapshot: devices=%d err=%v", len(s.Devices), s.Err)
	}
	// first call, then one attempt plus two retries
	if got := calls.Load(); got != 4 {
		t.Errorf("source called %d times, want 4", got)
	}
}

func TestRetryRecovers(t *testing.T) {
	var calls atomic.Int32
	m := newMonitor(t, sourceFunc(func(ctx context.Context) ([]fleet.Device, error) {
		if calls.Add(1) < 3 {
			return nil, &store.HTTPError{StatusCode: http.StatusBadGateway}
		}
		return []fleet.Device{device(1, time.Minute)}, nil
	}))
	s, _ := m.Refresh(context.Background())
	if s.Err != nil || len(s.Devices) != 1 {
		t.Errorf("snapshot: devices=%d err=%v", len(s.Devices), s.Err)
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	m := newMonitor(t, sourceFunc(func(ctx context.Context) ([]fleet.Device, error) {
		calls.Add(1)
		return nil, &store.HTTPError{StatusCode: http.StatusUnauthorized}
	}))
	s, _ := m.Refresh(context.Background())
	var herr *store.HTTPError
	if !errors.As(s.Err, &herr) {
		t.Errorf("snapshot error: %v", s.Err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("source called %d times, want 1", got)
	}
}

func TestObserversSeeTransitions(t *testing.T) {
	var calls atomic.Int32
	m := newMonitor(t, sourceFunc(func(ctx context.Context) ([]fleet.Device, error) {
		if calls.Add(1) == 1 {
			return []fleet.Device{device(1315, time.Minute), device(2408, 2*time.Hour)}, nil
		}
		return []fleet.Device{device(1315, 2*time.Hour), device(2408, 2*time.Hour)}, nil
	}))

	var seen [][]fleet.Transition
	m.Observe(ObserverFunc(func(ctx context.Context, prev, next *Snapshot, changes []fleet.Transition) {
		if prev == nil || next == nil || next.Generation != prev.Generation+1 {
			t.Errorf("observer got prev=%v next=%v", prev, next)
		}
		seen = append(seen, changes)
	}))

	m.Refresh(context.Background())
	m.Refresh(context.Background())

	if len(seen) != 2 {
		t.Fatalf("observer called %d times", len(seen))
	}
	if len(seen[0]) != 0 {
		t.Errorf("first snapshot reported transitions: %+v", seen[0])
	}
	if len(seen[1]) != 1 || seen[1][0].DeviceId != 1315 || seen[1][0].To != fleet.Offline {
		t.Errorf("second snapshot transitions: %+v", seen[1])
	}
}

func TestTransitionsSurviveFailedFetch(t *testing.T) {
	var calls atomic.Int32
	m := newMonitor(t, sourceFunc(func(ctx context.Context) ([]fleet.Device, error) {
		switch calls.Add(1) {
		case 1:
			return []fleet.Device{device(1315, time.Minute)}, nil
		case 2:
			return nil, &store.HTTPError{StatusCode: http.StatusUnauthorized}
		}
		return []fleet.Device{device(1315, 2*time.Hour)}, nil
	}))

	var seen [][]fleet.Transition
	m.Observe(ObserverFunc(func(ctx context.Context, prev, next *Snapshot, changes []fleet.Transition) {
		seen = append(seen, changes)
	}))

	m.Refresh(context.Background())
	if s, _ := m.Refresh(context.Background()); s.Err == nil || len(s.Devices) != 0 {
		t.Fatalf("failed fetch snapshot: devices=%d err=%v", len(s.Devices), s.Err)
	}
	m.Refresh(context.Background())

	if len(seen) != 3 {
		t.Fatalf("observer called %d times", len(seen))
	}
	if len(seen[1]) != 0 {
		t.Errorf("failed fetch reported transitions: %+v", seen[1])
	}
	if len(seen[2]) != 1 || seen[2][0].DeviceId != 1315 || seen[2][0].From != fleet.Broadcasting || seen[2][0].To != fleet.Offline {
		t.Errorf("transitions after the outage: %+v", seen[2])
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetched := make(chan struct{}, 1)
	m := newMonitor(t, sourceFunc(func(context.Context) ([]fleet.Device, error) {
		select {
		case fetched <- struct{}{}:
		default:
		}
		return nil, nil
	}))

	done := make(chan error)
	go func() { done <- m.Run(ctx) }()

	<-fetched
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
