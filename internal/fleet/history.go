package fleet

import (
	"context"
	"time"
)

// Transition is a status change of one device between two consecutive snapshots.
type Transition struct {
	DeviceId int       `json:"device_id" yaml:"device_id"`
	From     Status    `json:"from" yaml:"from"`
	To       Status    `json:"to" yaml:"to"`
	At       time.Time `json:"at" yaml:"at"`
}

// Diff lists the devices of next whose status differs from prev. Devices that only appear
// in next are not transitions.
func Diff(prev, next []Row, at time.Time) []Transition {
	before := make(map[int]Status, len(prev))
	for _, r := range prev {
		before[r.DeviceId] = r.Status
	}
	var changes []Transition
	for _, r := range next {
		from, ok := before[r.DeviceId]
		if ok && from != r.Status {
			changes = append(changes, Transition{DeviceId: r.DeviceId, From: from, To: r.Status, At: at})
		}
	}
	return changes
}

// UptimePoint is one day of the fleet uptime percentage series.
type UptimePoint struct {
	Day           string  `json:"day" yaml:"day"` // YYYY-MM-DD
	UptimePercent float64 `json:"uptime_percent" yaml:"uptime_percent"`
}

const DayLayout = "2006-01-02"

// UptimeSource serves the daily uptime series from a given day on.
type UptimeSource interface {
	Uptime(ctx context.Context, since time.Time) ([]UptimePoint, error)
}

// UptimeRange is a trailing window selectable for the uptime chart.
type UptimeRange string

var UptimeRanges = map[UptimeRange]time.Duration{
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
	"90d": 90 * 24 * time.Hour,
}

const DefaultUptimeRange UptimeRange = "7d"

// Since returns the first day of the window ending at now; unknown ranges use the default.
func (r UptimeRange) Since(now time.Time) time.Time {
	d, ok := UptimeRanges[r]
	if !ok {
		d = UptimeRanges[DefaultUptimeRange]
	}
	since := now.Add(-d).UTC()
	return time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
}
