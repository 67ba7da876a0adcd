package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/internal/segment"
)

// Defaults for the idle reaper.
const (
	DefaultIdleTimeout  = 10 * time.Minute
	DefaultReapInterval = 5 * time.Minute
)

// ErrCapacity is returned by [Registry.Create] when the session limit has
// been reached.
var ErrCapacity = errors.New("session: too many sessions")

// SegmenterFactory builds the segmenter for a new session.
type SegmenterFactory func() (*segment.Segmenter, error)

// Registry owns the live sessions. All methods are safe for concurrent use.
type Registry struct {
	newSegmenter SegmenterFactory
	maxSessions  int
	maxPending   int
	historySize  int
	now          func() time.Time
	newID        func() string
	metrics      *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a [Registry].
type Option func(*Registry)

// WithMaxSessions caps the number of live sessions. Zero means unlimited.
func WithMaxSessions(n int) Option {
	return func(r *Registry) { r.maxSessions = n }
}

// WithMaxPending sets the task queue depth of new sessions.
func WithMaxPending(n int) Option {
	return func(r *Registry) { r.maxPending = n }
}

// WithHistorySize sets the transcript history length of new sessions.
func WithHistorySize(n int) Option {
	return func(r *Registry) { r.historySize = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDFunc overrides session id generation.
func WithIDFunc(fn func() string) Option {
	return func(r *Registry) { r.newID = fn }
}

// WithMetrics records session gauges and reaper counts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry returns an empty Registry whose sessions get their segmenter
// from newSegmenter.
func NewRegistry(newSegmenter SegmenterFactory, opts ...Option) *Registry {
	r := &Registry{
		newSegmenter: newSegmenter,
		maxPending:   DefaultMaxPending,
		historySize:  DefaultHistorySize,
		now:          time.Now,
		newID:        shortID,
		sessions:     make(map[string]*Session),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// shortID returns the first eight characters of a random UUID.
func shortID() string {
	return uuid.NewString()[:8]
}

// Create registers a fresh session with a unique id. The session context is
// derived from parent and is cancelled by [Registry.Destroy].
func (r *Registry) Create(parent context.Context) (*Session, error) {
	if r.newSegmenter == nil {
		return nil, errors.New("session: no segmenter factory")
	}
	r.mu.Lock()
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		return nil, ErrCapacity
	}
	r.mu.Unlock()

	seg, err := r.newSegmenter()
	if err != nil {
		return nil, fmt.Errorf("session: create segmenter: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		_ = seg.Close()
		return nil, ErrCapacity
	}
	id := r.newID()
	for tries := 0; r.sessions[id] != nil; tries++ {
		if tries == 16 {
			_ = seg.Close()
			return nil, errors.New("session: could not allocate a unique id")
		}
		id = r.newID()
	}

	ctx, cancel := context.WithCancel(observe.WithSessionID(parent, id))
	now := r.now()
	s := &Session{
		id:        id,
		createdAt: now,
		seg:       seg,
		history:   NewHistory(r.historySize),
		tasks:     NewTaskSlot(ctx, r.maxPending),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.touch(now)
	r.sessions[id] = s

	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("session created", "session_id", id, "sessions", len(r.sessions))
	return s, nil
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Touch records activity on the session id. It reports whether the session
// exists.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if ok {
		s.touch(r.now())
	}
	return ok
}

// Destroy removes the session id and cancels its context. Destroying an
// unknown or already destroyed id is a no-op that returns false.
func (r *Registry) Destroy(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	n := len(r.sessions)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	if r.metrics != nil {
		r.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	slog.Info("session destroyed", "session_id", id, "sessions", n)
	return true
}

// ReapIdle destroys every session whose last activity is older than
// timeout relative to now and returns their ids.
func (r *Registry) ReapIdle(now time.Time, timeout time.Duration) []string {
	r.mu.Lock()
	var idle []string
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity()) > timeout {
			idle = append(idle, id)
		}
	}
	r.mu.Unlock()

	var reaped []string
	for _, id := range idle {
		if r.Destroy(id) {
			reaped = append(reaped, id)
		}
	}
	if len(reaped) > 0 {
		slog.Info("reaped idle sessions", "count", len(reaped), "timeout", timeout)
		if r.metrics != nil {
			r.metrics.SessionsReaped.Add(context.Background(), int64(len(reaped)))
		}
	}
	return reaped
}

// RunReaper calls [Registry.ReapIdle] every interval until ctx is done.
func (r *Registry) RunReaper(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReapIdle(r.now(), timeout)
		}
	}
}

// DestroyAll destroys every session.
func (r *Registry) DestroyAll() {
	for _, id := range r.IDs() {
		r.Destroy(id)
	}
}

// IDs returns the ids of all live sessions in no particular order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
