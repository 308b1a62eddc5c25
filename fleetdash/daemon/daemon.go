package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/kardianos/service"

	"github.com/asnowfix/esp32-fleet/fleetdash/ctl/options"
	"github.com/asnowfix/esp32-fleet/fleetdash/metrics"
	"github.com/asnowfix/esp32-fleet/fleetdash/mqtt"
	"github.com/asnowfix/esp32-fleet/fleetdash/storage"
	"github.com/asnowfix/esp32-fleet/hlog"
	"github.com/asnowfix/esp32-fleet/internal/cache"
	"github.com/asnowfix/esp32-fleet/internal/fleet"
	"github.com/asnowfix/esp32-fleet/internal/global"
	"github.com/asnowfix/esp32-fleet/internal/monitor"
	"github.com/asnowfix/esp32-fleet/internal/mynet"
	"github.com/asnowfix/esp32-fleet/internal/store"
	"github.com/asnowfix/esp32-fleet/internal/ui"
)

const MQTT_STATUS_LOG_INTERVAL = 2 * time.Minute

type daemon struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *options.Config
	done   chan struct{}
}

func NewDaemon(ctx context.Context, config *options.Config) *daemon {
	ctx, cancel := context.WithCancel(ctx)
	return &daemon{
		ctx:    ctx,
		cancel: cancel,
		config: config,
		done:   make(chan struct{}),
	}
}

func (d *daemon) Start(s service.Service) error {
	// Start should not block. Do the actual work async.
	go func() {
		if err := d.Run(); err != nil {
			logr.FromContextOrDiscard(d.ctx).Error(err, "Daemon failed")
			global.Cancel(d.ctx)
		}
	}()
	return nil
}

func (d *daemon) Stop(s service.Service) error {
	d.cancel()
	select {
	case <-d.done:
	case <-time.After(10 * time.Second):
	}
	return nil
}

func (d *daemon) Run() error {
	defer close(d.done)
	log, err := logr.FromContext(d.ctx)
	if err != nil {
		return err
	}
	c := d.config
	version := global.Version(d.ctx)
	log.Info("Starting fleetdash daemon", "version", version, "mode", c.Store.Mode, "poll_interval", c.Monitor.PollInterval)

	client, err := store.NewClient(log, c.Store)
	if err != nil {
		log.Error(err, "Failed to initialize data store client")
		return err
	}
	mon := monitor.New(log, client, c.Monitor)

	history, err := storage.Open(log.WithName("storage"), c.HistoryDb)
	if err != nil {
		log.Error(err, "Failed to open local history", "db", c.HistoryDb)
		return err
	}
	defer history.Close()
	mon.Observe(history.Recorder(c.Power))

	var uptimeSource fleet.UptimeSource = client
	if c.UptimeSource == options.UptimeFromHistory {
		uptimeSource = history
	}
	uptime, err := cache.NewUptime(log, uptimeSource, c.UptimeCache)
	if err != nil {
		log.Error(err, "Failed to initialize uptime cache")
		return err
	}
	defer uptime.Close()

	// Start Prometheus Metrics Exporter
	if c.MetricsPort > 0 {
		exporter := metrics.NewExporter(log, c.Power, mon.Snapshot)
		if err := exporter.Start(fmt.Sprintf(":%d", c.MetricsPort)); err != nil {
			log.Error(err, "Failed to start metrics exporter")
			return err
		}
		defer exporter.Stop()
		mon.Observe(exporter)
	} else {
		log.Info("Prometheus metrics exporter disabled")
	}

	resolver := mynet.NewResolver(log, options.Flags.MdnsTimeout)

	// Mirror status changes to the MQTT broker, if any
	if c.Mqtt.Broker != "" {
		publisher, err := mqtt.NewPublisher(d.ctx, log, c.Mqtt, resolver, c.Power)
		if err != nil {
			log.Error(err, "Failed to initialize MQTT publisher")
			return err
		}
		if err := publisher.Connect(d.ctx); err != nil {
			return err
		}
		defer publisher.Close()
		mon.Observe(publisher)
		go logMqttStatus(logr.NewContext(d.ctx, log.WithName("mqtt.ClientMonitor")), publisher)
	} else {
		log.Info("MQTT publisher disabled")
	}

	// Start UI & API
	server, err := ui.NewServer(log, mon, uptime, history, c.Power, version)
	if err != nil {
		log.Error(err, "Failed to initialize UI server")
		return err
	}
	mon.Observe(server)
	if err := server.Start(d.ctx, c.UiPort); err != nil {
		log.Error(err, "Failed to start UI server")
		return err
	}

	if !c.NoMdnsPublish {
		txt := []string{
			fmt.Sprintf("program=%s", options.PROGRAM),
			fmt.Sprintf("version=%s", version),
			"path=/",
		}
		if err := resolver.PublishService(d.ctx, options.PROGRAM, "_http._tcp", c.UiPort, txt); err != nil {
			log.Error(err, "Failed to publish dashboard over mDNS")
		}
	} else {
		log.Info("Skipping mDNS publishing (--no-mdns-publish)")
	}

	go prune(logr.NewContext(d.ctx, log.WithName("storage.Pruner")), history, c.HistoryRetention)

	log.Info("Running")
	err = mon.Run(d.ctx)
	log.Info("Shutting down")
	if hlog.IsContextCancellation(err) {
		return nil
	}
	return err
}

// prune drops history older than retention, hourly
func prune(ctx context.Context, history *storage.History, retention time.Duration) {
	log := logr.FromContextOrDiscard(ctx)
	if retention <= 0 {
		log.Info("History pruning disabled")
		return
	}
	ticker := time.NewTicker(options.HISTORY_PRUNE_INTERVAL)
	defer ticker.Stop()
	for {
		removed, err := history.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Error(err, "Failed to prune history")
		} else if removed > 0 {
			log.Info("Pruned history", "removed", removed, "retention", retention)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func logMqttStatus(ctx context.Context, publisher *mqtt.Publisher) {
	log := logr.FromContextOrDiscard(ctx)
	ticker := time.NewTicker(MQTT_STATUS_LOG_INTERVAL)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Info("MQTT client connection status", "connected", publisher.IsConnected(), "client_id", publisher.Id, "broker", publisher.BrokerUrl())
		}
	}
}
