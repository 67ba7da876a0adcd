// Package transport serves the audio WebSocket endpoint.
//
// Each connection owns one session. Binary messages carry raw 16-bit mono
// PCM and are fed to the session's segmenter in arrival order. Completed
// utterances are transcribed inline; a transcript containing a trigger
// phrase schedules a pipeline run on the session's task slot so that the
// read loop keeps accepting audio while the instruction is processed.
//
// Outbound events are written by one goroutine per connection in the order
// they were emitted.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxnote/internal/event"
	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/internal/pipeline"
	"github.com/MrWong99/voxnote/internal/session"
	"github.com/MrWong99/voxnote/internal/trigger"
)

// Defaults for [Server].
const (
	DefaultReadLimit    = 4 << 20
	DefaultSendBuffer   = 64
	DefaultWriteTimeout = 10 * time.Second
)

// busyMessage is sent when a trigger arrives while the session's task
// queue is full.
const busyMessage = "Still processing earlier requests, please repeat the command in a moment."

// Transcriber turns an utterance into text. An empty result means nothing
// was recognised.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) string
}

// Triggers decides whether a transcript completes an instruction.
type Triggers interface {
	Check(text string, h trigger.History) (instruction, matched string, ok bool)
}

// Runner processes an instruction.
type Runner interface {
	Run(ctx context.Context, sessionID, text string, sink event.Sink) pipeline.Outcome
}

// Server is an [http.Handler] that upgrades requests to WebSocket
// connections and drives one session per connection.
type Server struct {
	registry    *session.Registry
	transcriber Transcriber
	triggers    Triggers
	runner      Runner

	acceptOpts   *websocket.AcceptOptions
	readLimit    int64
	sendBuffer   int
	writeTimeout time.Duration
	now          func() time.Time
	metrics      *observe.Metrics

	wg sync.WaitGroup
}

// Option configures a [Server].
type Option func(*Server)

// WithOriginPatterns allows cross-origin browser clients whose Origin host
// matches one of patterns. An entry of "*" disables the check.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) {
		for _, p := range patterns {
			if p == "*" {
				s.acceptOpts.InsecureSkipVerify = true
				return
			}
		}
		s.acceptOpts.OriginPatterns = patterns
	}
}

// WithReadLimit caps the size of one inbound message.
func WithReadLimit(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

// WithSendBuffer sets the per-connection outbound queue length.
func WithSendBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

// WithWriteTimeout bounds a single outbound write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithMetrics counts dropped chunks on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New returns a Server.
func New(reg *session.Registry, tr Transcriber, trig Triggers, run Runner, opts ...Option) *Server {
	s := &Server{
		registry:     reg,
		transcriber:  tr,
		triggers:     trig,
		runner:       run,
		acceptOpts:   &websocket.AcceptOptions{},
		readLimit:    DefaultReadLimit,
		sendBuffer:   DefaultSendBuffer,
		writeTimeout: DefaultWriteTimeout,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Wait blocks until every connection handler has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// ServeHTTP upgrades the request and serves the connection until the
// client disconnects or the session is destroyed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.wg.Add(1)
	defer s.wg.Done()

	conn, err := websocket.Accept(w, r, s.acceptOpts)
	if err != nil {
		slog.Warn("transport: websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(s.readLimit)

	sess, err := s.registry.Create(context.WithoutCancel(r.Context()))
	if err != nil {
		slog.Warn("transport: rejecting connection", "remote", r.RemoteAddr, "err", err)
		if errors.Is(err, session.ErrCapacity) {
			conn.Close(websocket.StatusTryAgainLater, "server at capacity")
		} else {
			conn.Close(websocket.StatusInternalError, "session setup failed")
		}
		return
	}

	c := newConnection(s, conn, sess)
	c.serve(r.Context())
}

// connection is the per-client state owned by one handler goroutine.
type connection struct {
	srv  *Server
	conn *websocket.Conn
	sess *session.Session
	log  *slog.Logger

	out          chan event.Event
	writerDone   chan struct{}
	stopWriter   context.CancelFunc
	writerCtx    context.Context
	disconnected atomic.Bool
}

func newConnection(s *Server, conn *websocket.Conn, sess *session.Session) *connection {
	wctx, cancel := context.WithCancel(context.Background())
	return &connection{
		srv:        s,
		conn:       conn,
		sess:       sess,
		log:        observe.Logger(sess.Context()),
		out:        make(chan event.Event, s.sendBuffer),
		writerDone: make(chan struct{}),
		writerCtx:  wctx,
		stopWriter: cancel,
	}
}

// Emit queues e for the writer goroutine. Events emitted after the writer
// stopped are dropped.
func (c *connection) Emit(e event.Event) {
	select {
	case c.out <- e:
	case <-c.writerDone:
	case <-c.writerCtx.Done():
	}
}

func (c *connection) serve(reqCtx context.Context) {
	id := c.sess.ID()
	c.log.Info("client connected")

	go c.writeLoop()
	go c.watchSession()

	c.Emit(event.Connected(id))
	err := c.readLoop(reqCtx)
	c.disconnected.Store(true)

	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		c.log.Info("client disconnected", "status", status)
	case errors.Is(err, context.Canceled):
		c.log.Info("connection closed", "reason", "server shutdown")
	default:
		c.log.Info("connection closed", "err", err)
	}

	c.srv.registry.Destroy(id)
	if err := c.sess.Close(); err != nil {
		c.log.Warn("transport: closing session", "err", err)
	}
	c.stopWriter()
	<-c.writerDone
	c.conn.CloseNow()
	c.log.Info("handler finished")
}

// watchSession closes the socket when the session is destroyed while the
// client is still connected, which happens on idle reaping and shutdown.
func (c *connection) watchSession() {
	<-c.sess.Done()
	if c.disconnected.Load() {
		return
	}
	c.log.Info("session ended, closing connection")
	c.conn.Close(websocket.StatusGoingAway, "idle timeout")
}

func (c *connection) readLoop(ctx context.Context) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		c.srv.registry.Touch(c.sess.ID())

		if typ != websocket.MessageBinary {
			c.log.Warn("transport: ignoring text message", "bytes", len(data))
			continue
		}
		c.handleAudio(data)
	}
}

func (c *connection) handleAudio(chunk []byte) {
	ctx := c.sess.Context()
	utts, err := c.sess.Segmenter().Process(ctx, chunk)
	if err != nil {
		c.log.Warn("transport: dropping audio chunk", "err", err)
		if c.srv.metrics != nil {
			c.srv.metrics.DroppedChunks.Add(ctx, 1)
		}
		return
	}
	for _, u := range utts {
		c.handleUtterance(ctx, u.Audio, u.SampleRate)
	}
}

func (c *connection) handleUtterance(ctx context.Context, pcm []byte, rate int) {
	text := c.srv.transcriber.Transcribe(ctx, pcm, rate)
	if text == "" || ctx.Err() != nil {
		return
	}
	id := c.sess.ID()
	c.sess.History().Add(text)
	c.Emit(event.Transcription(id, text, c.srv.now()))
	c.log.Info("transcription", "text", text)

	instruction, phrase, ok := c.srv.triggers.Check(text, c.sess.History())
	if !ok {
		return
	}
	c.log.Info("trigger detected", "phrase", phrase, "instruction", instruction)

	err := c.sess.Tasks().Submit(func(ctx context.Context) {
		c.srv.runner.Run(ctx, id, instruction, c)
	})
	switch {
	case errors.Is(err, session.ErrBusy):
		c.log.Warn("transport: instruction rejected, task queue full")
		c.Emit(event.Error(id, busyMessage, c.srv.now()))
	case err != nil:
		c.log.Warn("transport: instruction not scheduled", "err", err)
	}
}

func (c *connection) writeLoop() {
	defer close(c.writerDone)
	for {
		select {
		case <-c.writerCtx.Done():
			c.drain()
			return
		case e := <-c.out:
			if err := c.write(e); err != nil {
				c.log.Debug("transport: write failed", "type", e.Type, "err", err)
				return
			}
		}
	}
}

// drain flushes events queued before the writer was stopped.
func (c *connection) drain() {
	for {
		select {
		case e := <-c.out:
			if err := c.write(e); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *connection) write(e event.Event) error {
	data, err := e.Marshal()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.srv.writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}
