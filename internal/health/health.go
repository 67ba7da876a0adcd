// Package health serves the status routes of the server as JSON:
//
//   - GET /healthz: liveness, always 200.
//   - GET /readyz: 200 when every [Checker] passes, 503 otherwise.
//   - GET /status: running flag, live session count and server time.
//   - GET /logs: tail of the server log file, ?lines=N to change the count.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultLogLines is how many lines /logs returns without ?lines.
	DefaultLogLines = 100
	// MaxLogLines caps ?lines.
	MaxLogLines = 2000

	checkTimeout = 5 * time.Second
)

// Checker is one readiness dependency. Check returns nil when healthy and
// must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// SessionCounter reports the number of live sessions.
type SessionCounter interface{ Len() int }

// LogTailer returns up to n of the newest log lines, oldest first.
type LogTailer func(n int) ([]string, error)

// Handler serves the status routes. Configure it with options; it is safe
// for concurrent use afterwards.
type Handler struct {
	checkers []Checker
	sessions SessionCounter
	tail     LogTailer
	lines    int
	version  string
	now      func() time.Time
	started  time.Time
}

// Option configures a [Handler].
type Option func(*Handler)

// WithCheckers adds readiness checks. /readyz runs them concurrently.
func WithCheckers(c ...Checker) Option {
	return func(h *Handler) { h.checkers = append(h.checkers, c...) }
}

// WithSessions sets the counter behind the sessions field of /status.
func WithSessions(s SessionCounter) Option { return func(h *Handler) { h.sessions = s } }

// WithLogTail serves tail on /logs with n lines by default.
func WithLogTail(tail LogTailer, n int) Option {
	return func(h *Handler) {
		h.tail = tail
		if n > 0 {
			h.lines = min(n, MaxLogLines)
		}
	}
}

// WithVersion adds the build version to /status.
func WithVersion(v string) Option { return func(h *Handler) { h.version = v } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(h *Handler) { h.now = now } }

// New returns a Handler.
func New(opts ...Option) *Handler {
	h := &Handler{lines: DefaultLogLines, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	h.started = h.now()
	return h
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /status", h.Status)
	mux.HandleFunc("GET /logs", h.Logs)
}

type probeBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, probeBody{Status: "ok"})
}

func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		failed bool
		g      errgroup.Group
	)
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			verdict := "ok"
			if err := c.Check(ctx); err != nil {
				verdict = "fail: " + err.Error()
			}
			mu.Lock()
			checks[c.Name] = verdict
			failed = failed || verdict != "ok"
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if failed {
		writeJSON(w, http.StatusServiceUnavailable, probeBody{Status: "fail", Checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, probeBody{Status: "ok", Checks: checks})
}

type statusBody struct {
	Status    string  `json:"status"`
	Sessions  int     `json:"sessions"`
	Timestamp float64 `json:"timestamp"`
	Uptime    float64 `json:"uptime_seconds"`
	Version   string  `json:"version,omitempty"`
}

func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	body := statusBody{
		Status:    "running",
		Timestamp: float64(now.UnixNano()) / 1e9,
		Uptime:    now.Sub(h.started).Seconds(),
		Version:   h.version,
	}
	if h.sessions != nil {
		body.Sessions = h.sessions.Len()
	}
	writeJSON(w, http.StatusOK, body)
}

type logsBody struct {
	Logs  []string `json:"logs"`
	Error string   `json:"error,omitempty"`
}

// Logs returns the log tail. A missing log file is an empty list; other
// read errors are a 500 carrying the error text.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	n := h.lines
	if q := r.URL.Query().Get("lines"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v <= 0 {
			writeJSON(w, http.StatusBadRequest, logsBody{Logs: []string{}, Error: "lines must be a positive integer"})
			return
		}
		n = min(v, MaxLogLines)
	}

	body := logsBody{Logs: []string{}}
	if h.tail != nil {
		lines, err := h.tail(n)
		if err != nil {
			slog.Warn("health: read log tail", "err", err)
			body.Error = err.Error()
			writeJSON(w, http.StatusInternalServerError, body)
			return
		}
		if lines != nil {
			body.Logs = lines
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(b, '\n'))
}
