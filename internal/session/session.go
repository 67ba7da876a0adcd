// Package session tracks the live audio connections of the server.
//
// A [Registry] owns the id→[Session] mapping. Registration, lookup,
// destruction and idle reaping are mutually exclusive on the mapping; a
// session's segmenter and transcript history are only touched by the
// connection goroutine that owns it, and its last-activity timestamp is an
// atomic value so that the reaper can read it without locking the session.
package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxnote/internal/segment"
)

// Session is the state of one live connection.
type Session struct {
	id        string
	createdAt time.Time
	seg       *segment.Segmenter
	history   *History
	tasks     *TaskSlot

	ctx    context.Context
	cancel context.CancelFunc

	lastActivity atomic.Int64 // unix nanoseconds
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was registered.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Segmenter returns the session's segmentation state machine. It must only
// be used by the owning connection goroutine.
func (s *Session) Segmenter() *segment.Segmenter { return s.seg }

// History returns the recent transcript history. It must only be used by
// the owning connection goroutine.
func (s *Session) History() *History { return s.history }

// Tasks returns the session's pipeline task slot.
func (s *Session) Tasks() *TaskSlot { return s.tasks }

// Context returns a context that is cancelled when the session is destroyed.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed when the session is destroyed.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// LastActivity returns the time of the last inbound frame.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

func (s *Session) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

// Close releases the session's per-connection resources: it waits for the
// task slot to drain after cancellation and closes the segmenter. It is
// called by the owning connection goroutine after the session has been
// destroyed.
func (s *Session) Close() error {
	s.cancel()
	s.tasks.Wait()
	s.history.Clear()
	return s.seg.Close()
}
