package options

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/asnowfix/esp32-fleet/fleetdash/mqtt"
	"github.com/asnowfix/esp32-fleet/internal/cache"
	"github.com/asnowfix/esp32-fleet/internal/fleet"
	"github.com/asnowfix/esp32-fleet/internal/monitor"
	"github.com/asnowfix/esp32-fleet/internal/store"
)

const PROGRAM = "fleetdash"

// Where the uptime chart reads its daily series from
const (
	UptimeFromStore   = "store"
	UptimeFromHistory = "history"
)

// Config is the merged configuration: flags over environment over config file over defaults.
type Config struct {
	Store   store.Config   `mapstructure:",squash"`
	Monitor monitor.Config `mapstructure:",squash"`

	Power            fleet.PowerModel `mapstructure:"power"`
	Mqtt             mqtt.Config      `mapstructure:"mqtt"`
	UptimeCache      cache.Config     `mapstructure:"uptime_cache"`
	UptimeSource     string           `mapstructure:"uptime_source"`
	HistoryDb        string           `mapstructure:"history_db"`
	HistoryRetention time.Duration    `mapstructure:"history_retention"`
	UiPort           int              `mapstructure:"ui_port"`
	MetricsPort      int              `mapstructure:"metrics_port"`
	NoMdnsPublish    bool             `mapstructure:"no_mdns_publish"`
}

// flagKeys maps command-line flags to configuration keys
var flagKeys = map[string]string{
	"endpoint":          "endpoint",
	"key":               "key",
	"mode":              "mode",
	"poll-interval":     "poll_interval",
	"fetch-timeout":     "fetch_timeout",
	"fetch-retries":     "fetch_retries",
	"telemetry-window":  "telemetry_window",
	"history-db":        "history_db",
	"history-retention": "history_retention",
	"uptime-source":     "uptime_source",
	"uptime-cache-ttl":  "uptime_cache.ttl",
	"ui-port":           "ui_port",
	"metrics-port":      "metrics_port",
	"mqtt-broker":       "mqtt.broker",
	"mqtt-topic-prefix": "mqtt.topic_prefix",
	"no-mdns-publish":   "no_mdns_publish",
}

// envAliases are the variable names used by the hosted service's own tooling
var envAliases = map[string][]string{
	"endpoint": {"SUPABASE_URL", "NEXT_PUBLIC_SUPABASE_URL"},
	"key":      {"SUPABASE_ANON_KEY", "NEXT_PUBLIC_SUPABASE_ANON_KEY"},
}

func setDefaults(v *viper.Viper) {
	sd := store.DefaultConfig
	v.SetDefault("endpoint", "")
	v.SetDefault("key", "")
	v.SetDefault("mode", string(sd.Mode))
	v.SetDefault("devices_table", sd.DevicesTable)
	v.SetDefault("device_list_table", sd.DeviceListTable)
	v.SetDefault("telemetry_table", sd.TelemetryTable)
	v.SetDefault("uptime_table", sd.UptimeTable)
	v.SetDefault("telemetry_window", sd.TelemetryWindow)

	md := monitor.DefaultConfig
	v.SetDefault("poll_interval", md.PollInterval)
	v.SetDefault("fetch_timeout", md.FetchTimeout)
	v.SetDefault("fetch_retries", md.FetchRetries)
	v.SetDefault("retry_interval", md.RetryInterval)

	v.SetDefault("power.current_amps", fleet.DefaultPowerModel.CurrentAmps)
	v.SetDefault("power.voltage", fleet.DefaultPowerModel.Voltage)

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.topic_prefix", mqtt.DefaultTopicPrefix)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")

	cd := cache.DefaultConfig()
	v.SetDefault("uptime_cache.ttl", cd.TTL)
	v.SetDefault("uptime_cache.max_cost", cd.MaxCost)
	v.SetDefault("uptime_cache.num_counters", cd.NumCounters)
	v.SetDefault("uptime_cache.buffer_items", cd.BufferItems)

	v.SetDefault("uptime_source", UptimeFromStore)
	v.SetDefault("history_db", PROGRAM+".db")
	v.SetDefault("history_retention", 90*24*time.Hour)
	v.SetDefault("ui_port", 8080)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("no_mdns_publish", false)
}

// RegisterFlags declares the configuration flags shared by every command
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&Flags.ConfigFile, "config", "c", "", "configuration `file` (default "+PROGRAM+".yaml in ., $HOME/.config/"+PROGRAM+", /etc/"+PROGRAM+")")
	fs.String("endpoint", "", "hosted data store URL (env SUPABASE_URL)")
	fs.String("key", "", "hosted data store public API key (env SUPABASE_ANON_KEY)")
	fs.String("mode", string(store.DefaultConfig.Mode), "device query mode: table or merged")
	fs.Duration("poll-interval", monitor.DefaultConfig.PollInterval, "device refresh period")
	fs.Duration("fetch-timeout", monitor.DefaultConfig.FetchTimeout, "timeout of one fetch attempt")
	fs.Int("fetch-retries", monitor.DefaultConfig.FetchRetries, "retries of a failed fetch")
	fs.Duration("telemetry-window", store.DefaultConfig.TelemetryWindow, "how far back telemetry rows are read in merged mode")
}

// RegisterDaemonFlags declares the flags only the daemon uses
func RegisterDaemonFlags(fs *pflag.FlagSet) {
	fs.String("history-db", PROGRAM+".db", "local history SQLite `file`")
	fs.Duration("history-retention", 90*24*time.Hour, "how long history samples are kept")
	fs.String("uptime-source", UptimeFromStore, "uptime chart source: store or history")
	fs.Duration("uptime-cache-ttl", cache.DefaultConfig().TTL, "uptime series cache TTL")
	fs.Int("ui-port", 8080, "dashboard HTTP port")
	fs.Int("metrics-port", 9100, "Prometheus exporter port (0 disables)")
	fs.String("mqtt-broker", "", "MQTT broker to publish status to (empty disables, "+mqtt.Zeroconf+" browses mDNS)")
	fs.String("mqtt-topic-prefix", mqtt.DefaultTopicPrefix, "MQTT topic prefix")
	fs.Bool("no-mdns-publish", false, "do not announce the dashboard over mDNS")
}

// Load reads the configuration and binds the flags that were declared on fs
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if Flags.ConfigFile != "" {
		v.SetConfigFile(Flags.ConfigFile)
	} else {
		v.SetConfigName(PROGRAM)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", PROGRAM))
		}
		v.AddConfigPath(filepath.Join("/etc", PROGRAM))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if Flags.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading configuration: %w", err)
		}
	}

	v.SetEnvPrefix(strings.ToUpper(PROGRAM))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{strings.ToUpper(PROGRAM) + "_" + strings.ToUpper(key)}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, err
		}
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	return &c, nil
}

// Validate reports missing or inconsistent settings
func (c *Config) Validate() error {
	var errs []error
	if c.Store.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required (--endpoint, "+strings.ToUpper(PROGRAM)+"_ENDPOINT or SUPABASE_URL)"))
	}
	if c.Store.Key == "" {
		errs = append(errs, errors.New("key is required (--key, "+strings.ToUpper(PROGRAM)+"_KEY or SUPABASE_ANON_KEY)"))
	}
	mode, err := store.ParseMode(string(c.Store.Mode))
	if err != nil {
		errs = append(errs, err)
	}
	c.Store.Mode = mode
	if c.Monitor.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %v", c.Monitor.PollInterval))
	}
	if c.Monitor.FetchRetries < 0 {
		errs = append(errs, fmt.Errorf("fetch_retries must not be negative, got %d", c.Monitor.FetchRetries))
	}
	switch c.UptimeSource {
	case UptimeFromStore, UptimeFromHistory:
	default:
		errs = append(errs, fmt.Errorf("uptime_source must be %s or %s, got %q", UptimeFromStore, UptimeFromHistory, c.UptimeSource))
	}
	if c.UiPort <= 0 || c.UiPort > 65535 {
		errs = append(errs, fmt.Errorf("ui_port out of range: %d", c.UiPort))
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics_port out of range: %d", c.MetricsPort))
	}
	if c.Power.CurrentAmps < 0 || c.Power.Voltage < 0 {
		errs = append(errs, fmt.Errorf("power model must not be negative: %+v", c.Power))
	}
	return errors.Join(errs...)
}
