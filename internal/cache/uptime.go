package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/go-logr/logr"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
)

// Config holds configuration for the uptime cache
type Config struct {
	TTL time.Duration `mapstructure:"ttl"`
	// MaxCost is the maximum cost of cache (in points)
	MaxCost int64 `mapstructure:"max_cost"`
	// NumCounters is the number of keys to track frequency (10x expected items)
	NumCounters int64 `mapstructure:"num_counters"`
	// BufferItems is the number of keys per Get buffer
	BufferItems int64 `mapstructure:"buffer_items"`
}

func DefaultConfig() Config {
	return Config{
		TTL:         5 * time.Minute,
		MaxCost:     1 << 16,
		NumCounters: 1000,
		BufferItems: 64,
	}
}

// Uptime is a read-through cache of a daily uptime series, keyed by the first day of
// the requested window.
type Uptime struct {
	cache  *ristretto.Cache
	log    logr.Logger
	source fleet.UptimeSource
	ttl    time.Duration
}

func NewUptime(log logr.Logger, source fleet.UptimeSource, config Config) (*Uptime, error) {
	defaults := DefaultConfig()
	if config.TTL <= 0 {
		config.TTL = defaults.TTL
	}
	if config.MaxCost <= 0 {
		config.MaxCost = defaults.MaxCost
	}
	if config.NumCounters <= 0 {
		config.NumCounters = defaults.NumCounters
	}
	if config.BufferItems <= 0 {
		config.BufferItems = defaults.BufferItems
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: config.NumCounters,
		MaxCost:     config.MaxCost,
		BufferItems: config.BufferItems,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ristretto cache: %w", err)
	}

	log = log.WithName("cache.Uptime")
	log.Info("Uptime cache initialized", "ttl", config.TTL)
	return &Uptime{
		cache:  cache,
		log:    log,
		source: source,
		ttl:    config.TTL,
	}, nil
}

func (c *Uptime) Uptime(ctx context.Context, since time.Time) ([]fleet.UptimePoint, error) {
	since = since.UTC()
	since = time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	key := since.Format(fleet.DayLayout)

	if value, found := c.cache.Get(key); found {
		if points, ok := value.([]fleet.UptimePoint); ok {
			return points, nil
		}
		c.log.Error(nil, "Invalid cached value type", "key", key)
	}

	points, err := c.source.Uptime(ctx, since)
	if err != nil {
		return nil, err
	}
	// cost is one per point, at least one for empty series
	if !c.cache.SetWithTTL(key, points, int64(len(points)+1), c.ttl) {
		c.log.V(1).Info("Failed to cache uptime series (buffer full)", "key", key)
	}
	return points, nil
}

// Wait blocks until pending writes are visible to Uptime.
func (c *Uptime) Wait() {
	c.cache.Wait()
}

// Clear drops every cached series.
func (c *Uptime) Clear() {
	c.log.Info("Clearing uptime cache")
	c.cache.Clear()
}

func (c *Uptime) Close() {
	c.cache.Close()
}

// Stats returns cache statistics
func (c *Uptime) Stats() map[string]any {
	metrics := c.cache.Metrics
	return map[string]any{
		"hits":      metrics.Hits(),
		"misses":    metrics.Misses(),
		"hit_ratio": metrics.Ratio(),
	}
}
