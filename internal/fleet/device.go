package fleet

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultUpdateInterval is used when a device does not declare a usable reporting period.
const DefaultUpdateInterval = 1800 * time.Second

// Device is one row of the hosted devices collection, as last reported by an ESP32 unit.
type Device struct {
	DeviceId        int       `json:"device_id"`
	FirmwareVersion string    `json:"firmware_version"`
	Booted          Timestamp `json:"booted"`
	LastUpdated     Timestamp `json:"last_updated"`
	UpdateInterval  Interval  `json:"update_interval"`
	CpuTemperature  *float64  `json:"cpu_temperature"`
	WifiRssi        *float64  `json:"wifi_rssi"`
	WifiSsid        *string   `json:"wifi_ssid"`
	Broadcasting    *bool     `json:"broadcasting,omitempty"`
}

// Timestamp is a leniently decoded point in time. Decoding never fails: null, empty or
// unparseable values yield a Timestamp for which Time() reports false.
type Timestamp struct {
	raw   string
	t     time.Time
	valid bool
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{raw: t.Format(time.RFC3339Nano), t: t, valid: true}
}

// ParseTimestamp accepts RFC 3339 and the PostgreSQL text forms. Zone-less values are UTC.
func ParseTimestamp(s string) Timestamp {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{raw: s, t: t, valid: true}
		}
	}
	return Timestamp{raw: s}
}

// Time returns the parsed instant, or false when absent or malformed.
func (ts Timestamp) Time() (time.Time, bool) {
	return ts.t, ts.valid
}

func (ts Timestamp) Valid() bool {
	return ts.valid
}

// Raw returns the text as received, including malformed values.
func (ts Timestamp) Raw() string {
	return ts.raw
}

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*ts = Timestamp{}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		*ts = ParseTimestamp(s)
		return nil
	}
	// epoch seconds or milliseconds
	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		*ts = Timestamp{raw: string(b)}
		return nil
	}
	if n >= 1e12 {
		*ts = Timestamp{raw: string(b), t: time.UnixMilli(int64(n)).UTC(), valid: true}
	} else {
		*ts = Timestamp{raw: string(b), t: time.Unix(int64(n), 0).UTC(), valid: true}
	}
	return nil
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.valid {
		return json.Marshal(ts.t.Format(time.RFC3339Nano))
	}
	if ts.raw != "" {
		return json.Marshal(ts.raw)
	}
	return []byte("null"), nil
}

// Interval is a device's declared reporting period, in seconds on the wire.
type Interval struct {
	seconds float64
	valid   bool
}

func Seconds(s float64) Interval {
	return Interval{seconds: s, valid: s > 0}
}

// MaxUpdateInterval bounds declared periods so that MaxAllowedDelay stays representable.
const MaxUpdateInterval = time.Duration(math.MaxInt64) - GracePeriod

// Duration returns the declared period, or DefaultUpdateInterval when absent or not a
// positive number. Periods beyond MaxUpdateInterval are clamped to it.
func (i Interval) Duration() time.Duration {
	if !i.valid {
		return DefaultUpdateInterval
	}
	if i.seconds >= MaxUpdateInterval.Seconds() {
		return MaxUpdateInterval
	}
	return time.Duration(i.seconds * float64(time.Second))
}

func (i Interval) Declared() bool {
	return i.valid
}

func (i *Interval) UnmarshalJSON(b []byte) error {
	*i = Interval{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	*i = Seconds(n)
	return nil
}

func (i Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.Duration().Seconds())
}
