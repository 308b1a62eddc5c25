package options

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
	"github.com/asnowfix/esp32-fleet/internal/monitor"
	"github.com/asnowfix/esp32-fleet/internal/store"
)

type contextKey int

const (
	configKey contextKey = iota
	clientKey
)

var ErrNoClient = errors.New("no data store client in context")

func WithConfig(ctx context.Context, c *Config) context.Context {
	return context.WithValue(ctx, configKey, c)
}

func ConfigFrom(ctx context.Context) (*Config, error) {
	if c, ok := ctx.Value(configKey).(*Config); ok {
		return c, nil
	}
	return nil, errors.New("no configuration in context")
}

func WithClient(ctx context.Context, c *store.Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

func ClientFrom(ctx context.Context) (*store.Client, error) {
	if c, ok := ctx.Value(clientKey).(*store.Client); ok {
		return c, nil
	}
	return nil, ErrNoClient
}

// FetchSnapshot performs one monitored fetch, with the configured timeout and retries. Unlike
// the dashboard, a one-shot command reports the fetch failure instead of an empty fleet.
func FetchSnapshot(ctx context.Context) (*monitor.Snapshot, error) {
	c, err := ConfigFrom(ctx)
	if err != nil {
		return nil, err
	}
	client, err := ClientFrom(ctx)
	if err != nil {
		return nil, err
	}
	m := monitor.New(logr.FromContextOrDiscard(ctx), client, c.Monitor)
	snap, applied := m.Refresh(ctx)
	if !applied {
		return nil, fmt.Errorf("fetch superseded")
	}
	if snap.Err != nil {
		return nil, snap.Err
	}
	return snap, nil
}

// Power returns the configured power model, the default one without configuration
func Power(ctx context.Context) fleet.PowerModel {
	if c, err := ConfigFrom(ctx); err == nil {
		return c.Power
	}
	return fleet.DefaultPowerModel
}
