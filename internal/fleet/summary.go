package fleet

import (
	"time"
)

// PowerModel estimates consumption with a constant draw per device.
type PowerModel struct {
	CurrentAmps float64 `json:"current_amps" mapstructure:"current_amps"`
	Voltage     float64 `json:"voltage" mapstructure:"voltage"`
}

// DefaultPowerModel is an ESP32 with WiFi active on a 3.3V rail.
var DefaultPowerModel = PowerModel{
	CurrentAmps: 0.24,
	Voltage:     3.3,
}

// DailyEnergyKWh is devices × A × V × 24h, in kWh.
func (p PowerModel) DailyEnergyKWh(devices int) float64 {
	return float64(devices) * p.CurrentAmps * p.Voltage * 24 / 1000
}

// Record names the device holding an uptime or downtime record.
type Record struct {
	DeviceId int           `json:"device_id" yaml:"device_id"`
	Since    time.Time     `json:"since" yaml:"since"`
	For      time.Duration `json:"for" yaml:"for"`
}

type Summary struct {
	Total                   int      `json:"total" yaml:"total"`
	Broadcasting            int      `json:"broadcasting" yaml:"broadcasting"`
	Idle                    int      `json:"idle" yaml:"idle"`
	Offline                 int      `json:"offline" yaml:"offline"`
	UptimePercent           float64  `json:"uptime_percent" yaml:"uptime_percent"`
	AverageRSSI             *float64 `json:"average_rssi,omitempty" yaml:"average_rssi,omitempty"`
	AverageTemperature      *float64 `json:"average_temperature,omitempty" yaml:"average_temperature,omitempty"`
	LongestUptime           *Record  `json:"longest_uptime,omitempty" yaml:"longest_uptime,omitempty"`
	LongestDowntime         *Record  `json:"longest_downtime,omitempty" yaml:"longest_downtime,omitempty"`
	EstimatedDailyEnergyKWh float64  `json:"estimated_daily_energy_kwh" yaml:"estimated_daily_energy_kwh"`
}

func (s Summary) Online() int {
	return s.Broadcasting + s.Idle
}

// Summarize reduces a snapshot to fleet-level figures.
func Summarize(rows []Row, now time.Time, power PowerModel) Summary {
	s := Summary{Total: len(rows)}

	var rssi, temperature average

	for _, r := range rows {
		switch r.Status {
		case Broadcasting:
			s.Broadcasting++
		case Idle:
			s.Idle++
		default:
			s.Offline++
		}

		rssi.add(r.WifiRssi)
		temperature.add(r.CpuTemperature)

		if r.Status.Online() {
			if booted, ok := r.Booted.Time(); ok {
				if s.LongestUptime == nil || now.Sub(booted) > s.LongestUptime.For {
					s.LongestUptime = &Record{DeviceId: r.DeviceId, Since: booted, For: now.Sub(booted)}
				}
			}
		} else {
			if last, ok := r.LastUpdated.Time(); ok {
				if s.LongestDowntime == nil || last.Before(s.LongestDowntime.Since) {
					s.LongestDowntime = &Record{DeviceId: r.DeviceId, Since: last, For: now.Sub(last)}
				}
			}
		}
	}

	if s.Total > 0 {
		s.UptimePercent = float64(s.Online()) * 100 / float64(s.Total)
	}
	s.AverageRSSI = rssi.value()
	s.AverageTemperature = temperature.value()
	s.EstimatedDailyEnergyKWh = power.DailyEnergyKWh(s.Total)
	return s
}

type average struct {
	sum float64
	n   int
}

func (a *average) add(v *float64) {
	if v != nil {
		a.sum += *v
		a.n++
	}
}

func (a *average) value() *float64 {
	if a.n == 0 {
		return nil
	}
	v := a.sum / float64(a.n)
	return &v
}
