package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/asnowfix/esp32-fleet/hlog"
	"github.com/asnowfix/esp32-fleet/internal/fleet"
	"github.com/asnowfix/esp32-fleet/internal/store"
)

// Source provides the current device rows.
type Source interface {
	Devices(ctx context.Context) ([]fleet.Device, error)
}

type Config struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	FetchRetries  int           `mapstructure:"fetch_retries"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

var DefaultConfig = Config{
	PollInterval:  30 * time.Second,
	FetchTimeout:  15 * time.Second,
	FetchRetries:  2,
	RetryInterval: time.Second,
}

// Snapshot is one applied fetch. It is never modified once published.
type Snapshot struct {
	Generation uint64
	FetchedAt  time.Time
	Devices    []fleet.Device
	Err        error
}

// Rows resolves the devices of the snapshot as of now.
func (s *Snapshot) Rows(now time.Time) []fleet.Row {
	if s == nil {
		return nil
	}
	return fleet.Annotate(s.Devices, now)
}

type Observer interface {
	SnapshotApplied(ctx context.Context, prev, next *Snapshot, changes []fleet.Transition)
}

type ObserverFunc func(ctx context.Context, prev, next *Snapshot, changes []fleet.Transition)

func (f ObserverFunc) SnapshotApplied(ctx context.Context, prev, next *Snapshot, changes []fleet.Transition) {
	f(ctx, prev, next, changes)
}

// Monitor polls a Source and keeps the latest snapshot. Each fetch carries a generation
// number; a fetch completing after a newer one was issued is dropped.
type Monitor struct {
	log    logr.Logger
	source Source
	cfg    Config
	now    func() time.Time

	issued  atomic.Uint64
	current atomic.Pointer[Snapshot]

	mu        sync.Mutex // serializes apply and notify
	observers []Observer
	baseline  *Snapshot // last successful snapshot, transitions are computed against it
}

func New(log logr.Logger, source Source, cfg Config) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig.FetchTimeout
	}
	if cfg.FetchRetries < 0 {
		cfg.FetchRetries = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultConfig.RetryInterval
	}
	m := &Monitor{
		log:    log.WithName("monitor"),
		source: source,
		cfg:    cfg,
		now:    time.Now,
	}
	m.current.Store(&Snapshot{})
	return m
}

func (m *Monitor) Observe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Snapshot returns the latest applied snapshot; generation 0 before the first fetch.
func (m *Monitor) Snapshot() *Snapshot {
	return m.current.Load()
}

func (m *Monitor) PollInterval() time.Duration {
	return m.cfg.PollInterval
}

// Refresh fetches the devices and applies the result if no newer fetch was issued
// meanwhile. A failed fetch applies an empty device list but reports no transitions: the
// next successful fetch is compared with the last successful one.
func (m *Monitor) Refresh(ctx context.Context) (*Snapshot, bool) {
	generation := m.issued.Add(1)
	log := m.log.WithValues("generation", generation)

	devices, err := m.fetch(ctx, log)
	if err != nil {
		hlog.ErrorIfNotCanceled(log, err, "Fetching devices")
		devices = nil
	}
	next := &Snapshot{
		Generation: generation,
		FetchedAt:  m.now(),
		Devices:    devices,
		Err:        err,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if latest := m.issued.Load(); generation != latest {
		log.Info("Dropping superseded fetch", "latest", latest)
		return m.current.Load(), false
	}
	prev := m.current.Swap(next)
	var changes []fleet.Transition
	if err == nil {
		if m.baseline != nil {
			changes = fleet.Diff(m.baseline.Rows(m.baseline.FetchedAt), next.Rows(next.FetchedAt), next.FetchedAt)
		}
		m.baseline = next
	}
	log.V(1).Info("Applied snapshot", "devices", len(devices), "transitions", len(changes))

	for _, o := range m.observers {
		o.SnapshotApplied(ctx, prev, next, changes)
	}
	return next, true
}

func (m *Monitor) fetch(ctx context.Context, log logr.Logger) ([]fleet.Device, error) {
	var devices []fleet.Device

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.RetryInterval
	b.MaxElapsedTime = 0

	attempt := func() error {
		fctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
		defer cancel()
		var err error
		devices, err = m.source.Devices(fctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Info("Retrying fetch", "error", err.Error(), "in", wait)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(m.cfg.FetchRetries)), ctx)
	if err := backoff.RetryNotify(attempt, policy, notify); err != nil {
		return nil, err
	}
	return devices, nil
}

// retryable is false for client errors other than throttling, which the store will keep
// answering the same way.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var herr *store.HTTPError
	if errors.As(err, &herr) {
		return herr.StatusCode >= 500 || herr.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// Run refreshes right away, then every poll interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("Starting", "poll_interval", m.cfg.PollInterval)
	m.Refresh(ctx)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log.Info("Stopping")
			return nil
		case <-ticker.C:
			m.Refresh(ctx)
		}
	}
}
