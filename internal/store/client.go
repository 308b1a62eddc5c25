package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/schema"
)

type Mode string

const (
	// ModeTable reads every column of a single devices table.
	ModeTable Mode = "table"
	// ModeMerged joins the device list with the latest telemetry row of each device.
	ModeMerged Mode = "merged"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeTable, ModeMerged:
		return m, nil
	case "":
		return ModeMerged, nil
	}
	return "", fmt.Errorf("unknown store mode %q (want %s or %s)", s, ModeTable, ModeMerged)
}

type Config struct {
	Endpoint        string        `mapstructure:"endpoint"`
	Key             string        `mapstructure:"key"`
	Mode            Mode          `mapstructure:"mode"`
	DevicesTable    string        `mapstructure:"devices_table"`
	DeviceListTable string        `mapstructure:"device_list_table"`
	TelemetryTable  string        `mapstructure:"telemetry_table"`
	UptimeTable     string        `mapstructure:"uptime_table"`
	TelemetryWindow time.Duration `mapstructure:"telemetry_window"`
}

var DefaultConfig = Config{
	Mode:            ModeMerged,
	DevicesTable:    "devices",
	DeviceListTable: "device_list",
	TelemetryTable:  "device_telemetry",
	UptimeTable:     "uptime_daily",
	TelemetryWindow: 24 * time.Hour,
}

var ErrNotConfigured = errors.New("store endpoint and key are required")

// HTTPError is a non-2xx answer of the data store.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("store: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("store: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Client queries the hosted data store over its REST interface. It is safe for concurrent use.
type Client struct {
	log     logr.Logger
	cfg     Config
	base    *url.URL
	http    *http.Client
	encoder *schema.Encoder
	now     func() time.Time
}

func NewClient(log logr.Logger, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" || strings.TrimSpace(cfg.Key) == "" {
		return nil, ErrNotConfigured
	}
	base, err := url.Parse(strings.TrimSpace(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("store endpoint %q: %w", cfg.Endpoint, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" || base.Host == "" {
		return nil, fmt.Errorf("store endpoint %q: not an http(s) URL", cfg.Endpoint)
	}

	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode
	if cfg.DevicesTable == "" {
		cfg.DevicesTable = DefaultConfig.DevicesTable
	}
	if cfg.DeviceListTable == "" {
		cfg.DeviceListTable = DefaultConfig.DeviceListTable
	}
	if cfg.TelemetryTable == "" {
		cfg.TelemetryTable = DefaultConfig.TelemetryTable
	}
	if cfg.UptimeTable == "" {
		cfg.UptimeTable = DefaultConfig.UptimeTable
	}
	if cfg.TelemetryWindow <= 0 {
		cfg.TelemetryWindow = DefaultConfig.TelemetryWindow
	}

	encoder := schema.NewEncoder()
	return &Client{
		log:     log.WithName("store"),
		cfg:     cfg,
		base:    base,
		http:    &http.Client{},
		encoder: encoder,
		now:     time.Now,
	}, nil
}

func (c *Client) Mode() Mode {
	return c.cfg.Mode
}

// Condition is a PostgREST horizontal filter: column=op.value.
type Condition struct {
	Column   string
	Operator string // eq, gte, lt, ...
	Value    string
}

// Query selects columns from a table, optionally filtered and ordered.
type Query struct {
	Table      string
	Columns    []string
	Conditions []Condition
	OrderBy    string
	Descending bool
	Limit      int
}

type queryParams struct {
	Select string `schema:"select,omitempty"`
	Order  string `schema:"order,omitempty"`
	Limit  int    `schema:"limit,omitempty"`
}

func (c *Client) values(q Query) (url.Values, error) {
	p := queryParams{
		Select: "*",
		Limit:  q.Limit,
	}
	if len(q.Columns) > 0 {
		p.Select = strings.Join(q.Columns, ",")
	}
	if q.OrderBy != "" {
		p.Order = q.OrderBy + ".asc"
		if q.Descending {
			p.Order = q.OrderBy + ".desc"
		}
	}
	values := url.Values{}
	if err := c.encoder.Encode(p, values); err != nil {
		return nil, err
	}
	for _, cond := range q.Conditions {
		values.Add(cond.Column, cond.Operator+"."+cond.Value)
	}
	return values, nil
}

// Select runs q and decodes the JSON array answer into out.
func (c *Client) Select(ctx context.Context, q Query, out any) error {
	if q.Table == "" {
		return errors.New("store: query without table")
	}
	values, err := c.values(q)
	if err != nil {
		return fmt.Errorf("encoding query on %s: %w", q.Table, err)
	}
	u := c.base.JoinPath("rest", "v1", q.Table)
	u.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.cfg.Key)
	req.Header.Set("Authorization", "Bearer "+c.cfg.Key)
	req.Header.Set("Accept", "application/json")

	c.log.V(1).Info("Calling", "method", http.MethodGet, "table", q.Table, "query", u.RawQuery)
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("querying %s: %w", q.Table, err)
	}
	defer res.Body.Close()
	c.log.V(1).Info("status code", "table", q.Table, "code", res.StatusCode)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return readError(res)
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s: %w", q.Table, err)
	}
	return nil
}

func readError(res *http.Response) error {
	herr := &HTTPError{StatusCode: res.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		herr.Message = payload.Message
	} else {
		herr.Message = strings.TrimSpace(string(body))
	}
	return herr
}
