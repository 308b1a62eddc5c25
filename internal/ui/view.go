package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
)

// TableQuery is the query string of the dashboard and its partials
type TableQuery struct {
	Q           string `schema:"q"`
	Sort        string `schema:"sort"`
	Dir         string `schema:"dir"`
	OnlineFirst string `schema:"online_first"`
	Range       string `schema:"range"`
}

// Query validates the table parameters. Absent values take the defaults.
func (tq TableQuery) Query() (fleet.Query, error) {
	q := fleet.DefaultQuery()
	q.Filter = tq.Q
	if tq.Sort != "" {
		k, err := fleet.ParseSortKey(tq.Sort)
		if err != nil {
			return q, err
		}
		q.Key = k
	}
	if tq.Dir != "" {
		d, err := fleet.ParseDirection(tq.Dir)
		if err != nil {
			return q, err
		}
		q.Direction = d
	}
	switch strings.ToLower(strings.TrimSpace(tq.OnlineFirst)) {
	case "":
	case "1", "true", "on", "yes":
		q.OnlineFirst = true
	case "0", "false", "off", "no":
		q.OnlineFirst = false
	default:
		return q, fmt.Errorf("invalid online_first %q", tq.OnlineFirst)
	}
	return q, nil
}

// UptimeRange returns the selected chart window, the default one when unknown.
func (tq TableQuery) UptimeRange() fleet.UptimeRange {
	r := fleet.UptimeRange(tq.Range)
	if _, ok := fleet.UptimeRanges[r]; !ok {
		return fleet.DefaultUptimeRange
	}
	return r
}

// normalized echoes the effective parameters back into the form controls
func normalized(q fleet.Query, r fleet.UptimeRange) TableQuery {
	return TableQuery{
		Q:           strings.TrimSpace(q.Filter),
		Sort:        string(q.Key),
		Dir:         string(q.Direction),
		OnlineFirst: strconv.FormatBool(q.OnlineFirst),
		Range:       string(r),
	}
}

// DeviceView represents a device row for rendering in the UI
type DeviceView struct {
	Id           int
	Status       string
	StatusClass  string
	LastSeen     string
	LastUpdated  string // raw value, shown as tooltip
	Elapsed      string
	ElapsedLabel string
	Firmware     string
	Temperature  string
	RSSI         string
	SSID         string
}

func statusClass(s fleet.Status) string {
	switch s {
	case fleet.Broadcasting:
		return "is-success"
	case fleet.Idle:
		return "is-warning"
	default:
		return "is-danger"
	}
}

func RowToView(r fleet.Row, now time.Time) DeviceView {
	v := DeviceView{
		Id:          r.DeviceId,
		Status:      string(r.Status),
		StatusClass: statusClass(r.Status),
		LastSeen:    fleet.LastSeen(r.Device, now),
		LastUpdated: r.LastUpdated.Raw(),
		Firmware:    r.FirmwareVersion,
		Temperature: formatReading(r.CpuTemperature, "%.1f °C"),
		RSSI:        formatReading(r.WifiRssi, "%.0f dBm"),
		SSID:        "n/a",
	}
	if v.Firmware == "" {
		v.Firmware = "n/a"
	}
	if r.WifiSsid != nil && *r.WifiSsid != "" {
		v.SSID = *r.WifiSsid
	}
	switch {
	case r.HasUptime():
		v.ElapsedLabel = "up"
		v.Elapsed = fleet.FormatElapsed(r.Uptime)
	case r.HasDowntime():
		v.ElapsedLabel = "down"
		v.Elapsed = fleet.FormatElapsed(r.Downtime)
	default:
		v.Elapsed = "n/a"
	}
	return v
}

func formatReading(v *float64, format string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf(format, *v)
}

// SummaryView holds the formatted summary cards
type SummaryView struct {
	fleet.Summary
	Online          int
	Uptime          string
	AverageRSSI     string
	AverageTemp     string
	LongestUptime   string
	LongestDowntime string
	Energy          string
}

func SummaryToView(s fleet.Summary) SummaryView {
	v := SummaryView{
		Summary:         s,
		Online:          s.Online(),
		Uptime:          fmt.Sprintf("%.1f%%", s.UptimePercent),
		AverageRSSI:     formatReading(s.AverageRSSI, "%.0f dBm"),
		AverageTemp:     formatReading(s.AverageTemperature, "%.1f °C"),
		LongestUptime:   "n/a",
		LongestDowntime: "n/a",
		Energy:          fmt.Sprintf("%.3f kWh", s.EstimatedDailyEnergyKWh),
	}
	if s.LongestUptime != nil {
		v.LongestUptime = fmt.Sprintf("#%d · %s", s.LongestUptime.DeviceId, fleet.FormatElapsed(s.LongestUptime.For))
	}
	if s.LongestDowntime != nil {
		v.LongestDowntime = fmt.Sprintf("#%d · %s", s.LongestDowntime.DeviceId, fleet.FormatElapsed(s.LongestDowntime.For))
	}
	return v
}

// TransitionView is one line of the recent status changes
type TransitionView struct {
	DeviceId  int
	From      string
	To        string
	ToClass   string
	Ago       string
	Timestamp string
}

func TransitionToView(t fleet.Transition, now time.Time) TransitionView {
	return TransitionView{
		DeviceId:  t.DeviceId,
		From:      string(t.From),
		To:        string(t.To),
		ToClass:   statusClass(t.To),
		Ago:       fleet.FormatElapsed(now.Sub(t.At)) + " ago",
		Timestamp: t.At.UTC().Format(time.RFC3339),
	}
}

const (
	chartWidth  = 600
	chartHeight = 160
)

// UptimeChart is the daily uptime series laid out as SVG bars
type UptimeChart struct {
	Range  string
	Width  int
	Height int
	Bars   []UptimeBar
	Error  string
}

type UptimeBar struct {
	Day     string
	Percent float64
	X       float64
	Y       float64
	Width   float64
	Height  float64
	Class   string
}

func NewUptimeChart(r fleet.UptimeRange, points []fleet.UptimePoint) UptimeChart {
	c := UptimeChart{Range: string(r), Width: chartWidth, Height: chartHeight}
	if len(points) == 0 {
		return c
	}
	slot := float64(chartWidth) / float64(len(points))
	for i, p := range points {
		percent := min(max(p.UptimePercent, 0), 100)
		h := percent / 100 * chartHeight
		class := "bar-good"
		switch {
		case percent < 50:
			class = "bar-bad"
		case percent < 90:
			class = "bar-fair"
		}
		c.Bars = append(c.Bars, UptimeBar{
			Day:     p.Day,
			Percent: p.UptimePercent,
			X:       float64(i)*slot + slot*0.1,
			Y:       chartHeight - h,
			Width:   slot * 0.8,
			Height:  h,
			Class:   class,
		})
	}
	return c
}
