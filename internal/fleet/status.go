package fleet

import (
	"time"
)

// GracePeriod is added to a device's declared interval before it is considered offline.
const GracePeriod = 60 * time.Second

type Status string

const (
	Broadcasting Status = "Broadcasting"
	Idle         Status = "Idle"
	Offline      Status = "Offline"
)

// Online is true for devices that reported within their allowed delay.
func (s Status) Online() bool {
	return s == Broadcasting || s == Idle
}

func (s Status) rank() int {
	switch s {
	case Broadcasting:
		return 0
	case Idle:
		return 1
	default:
		return 2
	}
}

// MaxAllowedDelay is the declared update interval plus the grace period.
func MaxAllowedDelay(d Device) time.Duration {
	return d.UpdateInterval.Duration() + GracePeriod
}

// Resolve classifies a device at the given instant. A device is offline when its last
// update is absent, malformed, or strictly older than MaxAllowedDelay. An online device
// whose broadcasting flag is present and false is Idle.
func Resolve(d Device, now time.Time) Status {
	last, ok := d.LastUpdated.Time()
	if !ok {
		return Offline
	}
	if now.Sub(last) > MaxAllowedDelay(d) {
		return Offline
	}
	if d.Broadcasting != nil && !*d.Broadcasting {
		return Idle
	}
	return Broadcasting
}

// ExpectedNextUpdate is when the device should report again.
func ExpectedNextUpdate(d Device) (time.Time, bool) {
	last, ok := d.LastUpdated.Time()
	if !ok {
		return time.Time{}, false
	}
	return last.Add(d.UpdateInterval.Duration()), true
}

// Uptime is the time elapsed since boot, false when the boot time is unknown.
func Uptime(d Device, now time.Time) (time.Duration, bool) {
	booted, ok := d.Booted.Time()
	if !ok {
		return 0, false
	}
	return max(now.Sub(booted), 0), true
}

// Downtime is the time elapsed since the expected next update, false when the device never
// reported.
func Downtime(d Device, now time.Time) (time.Duration, bool) {
	next, ok := ExpectedNextUpdate(d)
	if !ok {
		return 0, false
	}
	return max(now.Sub(next), 0), true
}

// Row is a device tagged with its status as of one snapshot instant.
type Row struct {
	Device
	Status   Status
	Uptime   time.Duration // online devices only
	Downtime time.Duration // offline devices only

	hasUptime   bool
	hasDowntime bool
}

func NewRow(d Device, now time.Time) Row {
	r := Row{Device: d, Status: Resolve(d, now)}
	if r.Status.Online() {
		r.Uptime, r.hasUptime = Uptime(d, now)
	} else {
		r.Downtime, r.hasDowntime = Downtime(d, now)
	}
	return r
}

// Annotate resolves every device of a snapshot once.
func Annotate(devices []Device, now time.Time) []Row {
	rows := make([]Row, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, NewRow(d, now))
	}
	return rows
}

func (r Row) HasUptime() bool {
	return r.hasUptime
}

func (r Row) HasDowntime() bool {
	return r.hasDowntime
}
