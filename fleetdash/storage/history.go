package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/jmoiron/sqlx"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
	"github.com/asnowfix/esp32-fleet/internal/monitor"
)

// History keeps fleet samples and status transitions in a local SQLite file.
type History struct {
	db  *sqlx.DB
	log logr.Logger
}

// Sample is the fleet summary recorded for one applied snapshot.
type Sample struct {
	TakenAt            time.Time `json:"taken_at" yaml:"taken_at"`
	Total              int       `json:"total" yaml:"total"`
	Broadcasting       int       `json:"broadcasting" yaml:"broadcasting"`
	Idle               int       `json:"idle" yaml:"idle"`
	Offline            int       `json:"offline" yaml:"offline"`
	UptimePercent      float64   `json:"uptime_percent" yaml:"uptime_percent"`
	AverageRSSI        *float64  `json:"average_rssi,omitempty" yaml:"average_rssi,omitempty"`
	AverageTemperature *float64  `json:"average_temperature,omitempty" yaml:"average_temperature,omitempty"`
	EnergyKWh          float64   `json:"energy_kwh" yaml:"energy_kwh"`
}

// sampleDB represents a sample in the database; times are unix milliseconds
type sampleDB struct {
	TakenAt        int64           `db:"taken_at"`
	Total          int             `db:"total"`
	Broadcasting   int             `db:"broadcasting"`
	Idle           int             `db:"idle"`
	Offline        int             `db:"offline"`
	UptimePercent  float64         `db:"uptime_percent"`
	AvgRssi        sql.NullFloat64 `db:"avg_rssi"`
	AvgTemperature sql.NullFloat64 `db:"avg_temperature"`
	EnergyKWh      float64         `db:"energy_kwh"`
}

type transitionDB struct {
	ID       int64  `db:"id"`
	DeviceId int    `db:"device_id"`
	From     string `db:"from_status"`
	To       string `db:"to_status"`
	At       int64  `db:"at"`
}

func Open(log logr.Logger, dbName string) (*History, error) {
	db, err := sqlx.Connect("sqlite3", dbName)
	if err != nil {
		log.Error(err, "Failed to connect to database", "dbType", "sqlite3", "dbName", dbName)
		return nil, err
	}
	h := &History{
		db:  db,
		log: log.WithName("History"),
	}
	if err := h.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS samples (
		taken_at INTEGER PRIMARY KEY,  -- unix milliseconds
		total INTEGER NOT NULL,
		broadcasting INTEGER NOT NULL,
		idle INTEGER NOT NULL,
		offline INTEGER NOT NULL,
		uptime_percent REAL NOT NULL,
		avg_rssi REAL,
		avg_temperature REAL,
		energy_kwh REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id INTEGER NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		at INTEGER NOT NULL  -- unix milliseconds
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_at ON transitions(at);
	`
	_, err := h.db.Exec(schema)
	if err != nil {
		h.log.Error(err, "Failed to create history tables")
	}
	return err
}

// Close closes the database connection & syncs it to persistent storage.
func (h *History) Close() error {
	h.log.Info("Closing database connection")
	return h.db.Close()
}

func (h *History) RecordSample(ctx context.Context, at time.Time, s fleet.Summary) error {
	row := sampleDB{
		TakenAt:        at.UnixMilli(),
		Total:          s.Total,
		Broadcasting:   s.Broadcasting,
		Idle:           s.Idle,
		Offline:        s.Offline,
		UptimePercent:  s.UptimePercent,
		AvgRssi:        nullable(s.AverageRSSI),
		AvgTemperature: nullable(s.AverageTemperature),
		EnergyKWh:      s.EstimatedDailyEnergyKWh,
	}
	query := `
	INSERT INTO samples (taken_at, total, broadcasting, idle, offline, uptime_percent, avg_rssi, avg_temperature, energy_kwh)
	VALUES (:taken_at, :total, :broadcasting, :idle, :offline, :uptime_percent, :avg_rssi, :avg_temperature, :energy_kwh)
	ON CONFLICT(taken_at) DO UPDATE SET
		total = excluded.total,
		broadcasting = excluded.broadcasting,
		idle = excluded.idle,
		offline = excluded.offline,
		uptime_percent = excluded.uptime_percent,
		avg_rssi = excluded.avg_rssi,
		avg_temperature = excluded.avg_temperature,
		energy_kwh = excluded.energy_kwh`
	if _, err := h.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("recording sample: %w", err)
	}
	return nil
}

func (h *History) RecordTransitions(ctx context.Context, changes []fleet.Transition) error {
	if len(changes) == 0 {
		return nil
	}
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `INSERT INTO transitions (device_id, from_status, to_status, at) VALUES (:device_id, :from_status, :to_status, :at)`
	for _, c := range changes {
		_, err := tx.NamedExecContext(ctx, query, transitionDB{
			DeviceId: c.DeviceId,
			From:     string(c.From),
			To:       string(c.To),
			At:       c.At.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("recording transition of device %d: %w", c.DeviceId, err)
		}
	}
	return tx.Commit()
}

// Samples returns the samples taken at or after since, oldest first.
func (h *History) Samples(ctx context.Context, since time.Time) ([]Sample, error) {
	rows := make([]sampleDB, 0)
	err := h.db.SelectContext(ctx, &rows, `SELECT * FROM samples WHERE taken_at >= ? ORDER BY taken_at`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("reading samples: %w", err)
	}
	samples := make([]Sample, 0, len(rows))
	for _, r := range rows {
		samples = append(samples, Sample{
			TakenAt:            time.UnixMilli(r.TakenAt).UTC(),
			Total:              r.Total,
			Broadcasting:       r.Broadcasting,
			Idle:               r.Idle,
			Offline:            r.Offline,
			UptimePercent:      r.UptimePercent,
			AverageRSSI:        pointer(r.AvgRssi),
			AverageTemperature: pointer(r.AvgTemperature),
			EnergyKWh:          r.EnergyKWh,
		})
	}
	return samples, nil
}

// Transitions returns the most recent transitions, newest first. limit <= 0 returns all.
func (h *History) Transitions(ctx context.Context, limit int) ([]fleet.Transition, error) {
	rows := make([]transitionDB, 0)
	query := `SELECT * FROM transitions ORDER BY at DESC, id DESC`
	var err error
	if limit > 0 {
		err = h.db.SelectContext(ctx, &rows, query+` LIMIT ?`, limit)
	} else {
		err = h.db.SelectContext(ctx, &rows, query)
	}
	if err != nil {
		return nil, fmt.Errorf("reading transitions: %w", err)
	}
	out := make([]fleet.Transition, 0, len(rows))
	for _, r := range rows {
		out = append(out, fleet.Transition{
			DeviceId: r.DeviceId,
			From:     fleet.Status(r.From),
			To:       fleet.Status(r.To),
			At:       time.UnixMilli(r.At).UTC(),
		})
	}
	return out, nil
}

// Uptime averages the sample uptime percentages per UTC day, from the day of since on.
func (h *History) Uptime(ctx context.Context, since time.Time) ([]fleet.UptimePoint, error) {
	since = since.UTC()
	start := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
	samples, err := h.Samples(ctx, start)
	if err != nil {
		return nil, err
	}

	type acc struct {
		sum float64
		n   int
	}
	days := make(map[string]*acc)
	for _, s := range samples {
		day := s.TakenAt.Format(fleet.DayLayout)
		a, ok := days[day]
		if !ok {
			a = &acc{}
			days[day] = a
		}
		a.sum += s.UptimePercent
		a.n++
	}

	points := make([]fleet.UptimePoint, 0, len(days))
	for day, a := range days {
		points = append(points, fleet.UptimePoint{Day: day, UptimePercent: a.sum / float64(a.n)})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Day < points[j].Day })
	return points, nil
}

// Prune deletes samples and transitions older than before.
func (h *History) Prune(ctx context.Context, before time.Time) (int64, error) {
	var removed int64
	for _, query := range []string{
		`DELETE FROM samples WHERE taken_at < ?`,
		`DELETE FROM transitions WHERE at < ?`,
	} {
		res, err := h.db.ExecContext(ctx, query, before.UnixMilli())
		if err != nil {
			return removed, fmt.Errorf("pruning history: %w", err)
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	h.log.V(1).Info("Pruned history", "before", before, "removed", removed)
	return removed, nil
}

// Recorder records every applied snapshot. Failed fetches are not sampled.
func (h *History) Recorder(power fleet.PowerModel) monitor.Observer {
	return monitor.ObserverFunc(func(ctx context.Context, prev, next *monitor.Snapshot, changes []fleet.Transition) {
		if next.Err != nil {
			h.log.V(1).Info("Not sampling failed fetch", "generation", next.Generation)
			return
		}
		summary := fleet.Summarize(next.Rows(next.FetchedAt), next.FetchedAt, power)
		if err := h.RecordSample(ctx, next.FetchedAt, summary); err != nil {
			h.log.Error(err, "Failed to record sample", "generation", next.Generation)
		}
		if err := h.RecordTransitions(ctx, changes); err != nil {
			h.log.Error(err, "Failed to record transitions", "generation", next.Generation)
		}
	})
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func pointer(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}
