package ui

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/schema"

	"github.com/asnowfix/esp32-fleet/internal/fleet"
	"github.com/asnowfix/esp32-fleet/internal/monitor"
)

const DefaultPort = 8080

const recentTransitions = 20

// Snapshotter hands out the latest applied snapshot
type Snapshotter interface {
	Snapshot() *monitor.Snapshot
	PollInterval() time.Duration
}

// TransitionSource lists the most recent status changes, newest first
type TransitionSource interface {
	Transitions(ctx context.Context, limit int) ([]fleet.Transition, error)
}

type Server struct {
	log         logr.Logger
	snapshots   Snapshotter
	uptime      fleet.UptimeSource
	transitions TransitionSource // optional
	power       fleet.PowerModel
	version     string
	assets      *Assets
	decoder     *schema.Decoder
	sse         *SSEBroadcaster
	ws          *WSHub
	now         func() time.Time
}

func NewServer(log logr.Logger, snapshots Snapshotter, uptime fleet.UptimeSource, transitions TransitionSource, power fleet.PowerModel, version string) (*Server, error) {
	assets, err := LoadAssets()
	if err != nil {
		return nil, fmt.Errorf("ui static assets: %w", err)
	}
	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)

	s := &Server{
		log:         log.WithName("ui"),
		snapshots:   snapshots,
		uptime:      uptime,
		transitions: transitions,
		power:       power,
		version:     version,
		assets:      assets,
		decoder:     decoder,
		now:         time.Now,
	}
	s.sse = NewSSEBroadcaster(s.log)
	s.ws = NewWSHub(s.log, s.currentSummary)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/static/", s.assets)
	mux.HandleFunc("/", s.index)

	// HTMX endpoints for partial HTML responses
	mux.HandleFunc("/htmx/table", s.htmxTable)
	mux.HandleFunc("/htmx/summary", s.htmxSummary)
	mux.HandleFunc("/htmx/uptime", s.htmxUptime)
	mux.HandleFunc("/htmx/transitions", s.htmxTransitions)

	mux.HandleFunc("/api/devices", s.apiDevices)
	mux.HandleFunc("/api/summary", s.apiSummary)
	mux.HandleFunc("/api/uptime", s.apiUptime)
	mux.HandleFunc("/api/transitions", s.apiTransitions)

	mux.Handle("/events", s.sse)
	mux.Handle("/ws", s.ws)

	return s.middleware(mux)
}

// middleware logs every request and turns handler panics into 500s
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error(fmt.Errorf("%v", rec), "panic recovered", "path", r.URL.Path, "stack", string(debug.Stack()))
				if sw.status == 0 {
					http.Error(sw, "internal error", http.StatusInternalServerError)
				}
			}
			s.log.V(1).Info("http", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "status", sw.status, "bytes", sw.bytes, "dur", time.Since(start))
		}()
		next.ServeHTTP(sw, r)
	})
}

// Start listens on the given port until ctx is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("ui listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		s.log.Info("UI server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(err, "UI server failed")
		} else {
			s.log.Info("UI server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.log.V(1).Info("UI server shutdown")
	}()

	return nil
}

// SnapshotApplied pushes the new snapshot to the SSE and websocket clients
func (s *Server) SnapshotApplied(ctx context.Context, prev, next *monitor.Snapshot, changes []fleet.Transition) {
	s.sse.BroadcastSnapshot(SnapshotEvent{
		Generation:         next.Generation,
		FetchedAt:          next.FetchedAt,
		Devices:            len(next.Devices),
		NextRefreshSeconds: s.nextRefresh(next),
	})
	for _, t := range changes {
		s.sse.BroadcastStatusChange(t)
	}
	if s.ws.Clients() > 0 {
		s.ws.BroadcastSummary(s.summaryOf(next))
	}
}

func (s *Server) summaryOf(snap *monitor.Snapshot) WSSummary {
	now := s.now()
	return WSSummary{
		Generation: snap.Generation,
		FetchedAt:  snap.FetchedAt,
		Summary:    fleet.Summarize(snap.Rows(now), now, s.power),
	}
}

func (s *Server) currentSummary() *WSSummary {
	snap := s.snapshots.Snapshot()
	if snap == nil || snap.Generation == 0 {
		return nil
	}
	ws := s.summaryOf(snap)
	return &ws
}

// nextRefresh is the number of seconds until the next poll is due
func (s *Server) nextRefresh(snap *monitor.Snapshot) int {
	interval := s.snapshots.PollInterval()
	if snap == nil || snap.FetchedAt.IsZero() {
		return int(interval.Seconds())
	}
	left := snap.FetchedAt.Add(interval).Sub(s.now())
	return int(max(left, 0).Round(time.Second).Seconds())
}

func (s *Server) decodeQuery(r *http.Request) (TableQuery, fleet.Query, error) {
	var tq TableQuery
	if err := r.ParseForm(); err != nil {
		return tq, fleet.Query{}, err
	}
	if err := s.decoder.Decode(&tq, r.Form); err != nil {
		return tq, fleet.Query{}, err
	}
	q, err := tq.Query()
	return tq, q, err
}

// view resolves the current snapshot at now: summary over the whole fleet, rows filtered and ordered
func (s *Server) view(q fleet.Query) (*monitor.Snapshot, fleet.Summary, []fleet.Row, time.Time) {
	now := s.now()
	snap := s.snapshots.Snapshot()
	rows := snap.Rows(now)
	return snap, fleet.Summarize(rows, now, s.power), fleet.Order(rows, q), now
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	tq, q, err := s.decodeQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap, summary, rows, now := s.view(q)
	ur := tq.UptimeRange()

	data := PageData{
		Version:     s.version,
		Query:       normalized(q, ur),
		SortKeys:    fleet.SortKeys,
		Ranges:      uptimeRangeOrder,
		Generation:  snap.Generation,
		NextRefresh: s.nextRefresh(snap),
		Summary:     SummaryToView(summary),
		Devices:     deviceViews(rows, now),
		Transitions: s.recentTransitions(r.Context(), now),
		Uptime:      s.uptimeChart(r.Context(), ur, now),
		Assets:      s.assets.Paths(),
	}
	if !snap.FetchedAt.IsZero() {
		data.FetchedAt = snap.FetchedAt.Format(time.RFC3339)
	}
	s.render(w, "page", data)
}

func (s *Server) htmxTable(w http.ResponseWriter, r *http.Request) {
	_, q, err := s.decodeQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_, _, rows, now := s.view(q)
	s.render(w, "table", deviceViews(rows, now))
}

func (s *Server) htmxSummary(w http.ResponseWriter, r *http.Request) {
	_, summary, _, _ := s.view(fleet.DefaultQuery())
	s.render(w, "summary", SummaryToView(summary))
}

func (s *Server) htmxUptime(w http.ResponseWriter, r *http.Request) {
	tq, _, err := s.decodeQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.render(w, "uptime", s.uptimeChart(r.Context(), tq.UptimeRange(), s.now()))
}

func (s *Server) htmxTransitions(w http.ResponseWriter, r *http.Request) {
	s.render(w, "transitions", s.recentTransitions(r.Context(), s.now()))
}

// DeviceJSON is a device row as served by /api/devices
type DeviceJSON struct {
	fleet.Device
	Status          fleet.Status `json:"status"`
	UptimeSeconds   *int64       `json:"uptime_seconds,omitempty"`
	DowntimeSeconds *int64       `json:"downtime_seconds,omitempty"`
	LastSeen        string       `json:"last_seen"`
}

func RowToJSON(r fleet.Row, now time.Time) DeviceJSON {
	d := DeviceJSON{Device: r.Device, Status: r.Status, LastSeen: fleet.LastSeen(r.Device, now)}
	if r.HasUptime() {
		v := int64(r.Uptime.Seconds())
		d.UptimeSeconds = &v
	}
	if r.HasDowntime() {
		v := int64(r.Downtime.Seconds())
		d.DowntimeSeconds = &v
	}
	return d
}

func (s *Server) apiDevices(w http.ResponseWriter, r *http.Request) {
	_, q, err := s.decodeQuery(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	_, _, rows, now := s.view(q)
	out := make([]DeviceJSON, 0, len(rows))
	for _, row := range rows {
		out = append(out, RowToJSON(row, now))
	}
	s.writeJSON(w, out)
}

func (s *Server) apiSummary(w http.ResponseWriter, r *http.Request) {
	snap, summary, _, _ := s.view(fleet.DefaultQuery())
	s.writeJSON(w, WSSummary{Generation: snap.Generation, FetchedAt: snap.FetchedAt, Summary: summary})
}

func (s *Server) apiUptime(w http.ResponseWriter, r *http.Request) {
	tq, _, err := s.decodeQuery(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	if tq.Range != "" {
		if _, ok := fleet.UptimeRanges[fleet.UptimeRange(tq.Range)]; !ok {
			writeJSONError(w, http.StatusBadRequest, fmt.Errorf("invalid range %q", tq.Range))
			return
		}
	}
	if s.uptime == nil {
		s.writeJSON(w, []fleet.UptimePoint{})
		return
	}
	points, err := s.uptime.Uptime(r.Context(), tq.UptimeRange().Since(s.now()))
	if err != nil {
		s.log.Error(err, "uptime history")
		writeJSONError(w, http.StatusBadGateway, err)
		return
	}
	if points == nil {
		points = []fleet.UptimePoint{}
	}
	s.writeJSON(w, points)
}

func (s *Server) apiTransitions(w http.ResponseWriter, r *http.Request) {
	if s.transitions == nil {
		s.writeJSON(w, []fleet.Transition{})
		return
	}
	changes, err := s.transitions.Transitions(r.Context(), recentTransitions)
	if err != nil {
		s.log.Error(err, "recent transitions")
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	if changes == nil {
		changes = []fleet.Transition{}
	}
	s.writeJSON(w, changes)
}

func deviceViews(rows []fleet.Row, now time.Time) []DeviceView {
	views := make([]DeviceView, 0, len(rows))
	for _, r := range rows {
		views = append(views, RowToView(r, now))
	}
	return views
}

func (s *Server) recentTransitions(ctx context.Context, now time.Time) []TransitionView {
	if s.transitions == nil {
		return nil
	}
	changes, err := s.transitions.Transitions(ctx, recentTransitions)
	if err != nil {
		s.log.Error(err, "recent transitions")
		return nil
	}
	views := make([]TransitionView, 0, len(changes))
	for _, t := range changes {
		views = append(views, TransitionToView(t, now))
	}
	return views
}

func (s *Server) uptimeChart(ctx context.Context, r fleet.UptimeRange, now time.Time) UptimeChart {
	if s.uptime == nil {
		return NewUptimeChart(r, nil)
	}
	points, err := s.uptime.Uptime(ctx, r.Since(now))
	if err != nil {
		s.log.Error(err, "uptime history", "range", r)
		c := NewUptimeChart(r, nil)
		c.Error = err.Error()
		return c
	}
	return NewUptimeChart(r, points)
}

// render executes a named template into a buffer so failures still get a clean 500
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := pageTmpl.ExecuteTemplate(&buf, name, data); err != nil {
		s.log.Error(err, "failed to render", "template", name)
		http.Error(w, "unable to render "+name, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error(err, "failed to encode JSON response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// statusWriter captures response status code and bytes written
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

// Hijack lets websocket upgrades through the wrapper
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
