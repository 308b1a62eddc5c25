package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
	"github.com/asnowfix/esp32-fleet/internal/monitor"
)

const namespace = "fleetdash"

// Exporter publishes fleet gauges for Prometheus and serves them over HTTP
type Exporter struct {
	registry *prometheus.Registry
	power    fleet.PowerModel
	log      logr.Logger

	devices     *prometheus.GaugeVec
	uptime      prometheus.Gauge
	rssi        prometheus.Gauge
	temperature prometheus.Gauge
	energy      prometheus.Gauge
	transitions *prometheus.CounterVec
	fetchErrors prometheus.Counter
	generation  prometheus.Gauge
	lastFetch   prometheus.Gauge

	latest     func() *monitor.Snapshot
	httpServer *http.Server
	listener   net.Listener
}

// NewExporter creates a new metrics exporter reading the current snapshot from latest
func NewExporter(log logr.Logger, power fleet.PowerModel, latest func() *monitor.Snapshot) *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		power:    power,
		log:      log.WithName("metrics"),
		latest:   latest,
		devices: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Number of devices per resolved status.",
		}, []string{"status"}),
		uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_percent",
			Help:      "Share of online devices, in percent.",
		}),
		rssi: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "average_rssi_dbm",
			Help:      "Average WiFi RSSI over reporting devices.",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "average_cpu_temperature_celsius",
			Help:      "Average CPU temperature over reporting devices.",
		}),
		energy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "estimated_daily_energy_kwh",
			Help:      "Estimated daily energy draw of the fleet.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Device status changes, by new status.",
		}, []string{"to"}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Device fetches that failed after retries.",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_generation",
			Help:      "Generation of the last applied snapshot.",
		}),
		lastFetch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_fetch_timestamp_seconds",
			Help:      "Unix time of the last successful fetch.",
		}),
	}
	e.registry.MustRegister(
		e.devices, e.uptime, e.rssi, e.temperature, e.energy,
		e.transitions, e.fetchErrors, e.generation, e.lastFetch,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, s := range []fleet.Status{fleet.Broadcasting, fleet.Idle, fleet.Offline} {
		e.devices.WithLabelValues(string(s))
		e.transitions.WithLabelValues(string(s))
	}
	return e
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// SnapshotApplied updates the gauges from an applied snapshot. A failed fetch only counts
// as an error: the gauges keep describing the last fleet that was actually read.
func (e *Exporter) SnapshotApplied(ctx context.Context, prev, next *monitor.Snapshot, changes []fleet.Transition) {
	e.generation.Set(float64(next.Generation))
	if next.Err != nil {
		e.fetchErrors.Inc()
		return
	}
	e.lastFetch.Set(float64(next.FetchedAt.Unix()))

	s := fleet.Summarize(next.Rows(next.FetchedAt), next.FetchedAt, e.power)
	e.devices.WithLabelValues(string(fleet.Broadcasting)).Set(float64(s.Broadcasting))
	e.devices.WithLabelValues(string(fleet.Idle)).Set(float64(s.Idle))
	e.devices.WithLabelValues(string(fleet.Offline)).Set(float64(s.Offline))
	e.uptime.Set(s.UptimePercent)
	e.energy.Set(s.EstimatedDailyEnergyKWh)
	// NaN when no device reports a value
	e.rssi.Set(valueOrNaN(s.AverageRSSI))
	e.temperature.Set(valueOrNaN(s.AverageTemperature))

	for _, c := range changes {
		e.transitions.WithLabelValues(string(c.To)).Inc()
	}
}

func valueOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// Handler serves /metrics and /health
func (e *Exporter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", e.handleHealth)
	return mux
}

// Start begins serving on addr until Stop
func (e *Exporter) Start(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	e.listener = l
	e.httpServer = &http.Server{
		Handler:           e.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		e.log.Info("Starting HTTP server for Prometheus metrics", "addr", l.Addr().String())
		if err := e.httpServer.Serve(l); err != nil && err != http.ErrServerClosed {
			e.log.Error(err, "HTTP server error")
		}
	}()
	return nil
}

// Stop shuts down the metrics exporter
func (e *Exporter) Stop() error {
	e.log.Info("Shutting down metrics exporter")
	if e.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	return nil
}

func (e *Exporter) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := struct {
		Status     string `json:"status"`
		Generation uint64 `json:"generation"`
		Error      string `json:"error,omitempty"`
	}{Status: "ok"}

	code := http.StatusOK
	s := e.latest()
	switch {
	case s == nil || s.Generation == 0:
		health.Status = "starting"
		code = http.StatusServiceUnavailable
	case s.Err != nil:
		health.Status = "fetch_failed"
		health.Error = s.Err.Error()
		code = http.StatusServiceUnavailable
	}
	if s != nil {
		health.Generation = s.Generation
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
