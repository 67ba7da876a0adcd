package transport_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxnote/internal/classify"
	"github.com/MrWong99/voxnote/internal/event"
	"github.com/MrWong99/voxnote/internal/notes"
	"github.com/MrWong99/voxnote/internal/pipeline"
	"github.com/MrWong99/voxnote/internal/segment"
	"github.com/MrWong99/voxnote/internal/session"
	"github.com/MrWong99/voxnote/internal/transport"
	"github.com/MrWong99/voxnote/internal/trigger"
	llmmock "github.com/MrWong99/voxnote/pkg/provider/llm/mock"
	vadmock "github.com/MrWong99/voxnote/pkg/provider/vad/mock"
)

// Frames of 4 samples; an utterance ends after 2 silent frames and needs 2
// speech frames. A frame whose first byte is non-zero is speech.
var testSegConfig = segment.Config{
	SampleRate:           16000,
	FrameSamples:         4,
	Threshold:            0.5,
	PauseThresholdFrames: 2,
	MinSpeechFrames:      2,
}

func speechFrames(n int) []byte {
	b := make([]byte, n*testSegConfig.FrameBytes())
	for i := 0; i < len(b); i += testSegConfig.FrameBytes() {
		b[i] = 1
	}
	return b
}

func silenceFrames(n int) []byte {
	return make([]byte, n*testSegConfig.FrameBytes())
}

// utterance is one chunk that completes exactly one utterance.
func utterance() []byte {
	return append(speechFrames(2), silenceFrames(2)...)
}

func newRegistry(opts ...session.Option) *session.Registry {
	return session.NewRegistry(func() (*segment.Segmenter, error) {
		return segment.New(testSegConfig, &vadmock.Session{ProbabilityFunc: vadmock.NonZero})
	}, opts...)
}

// scriptedTranscriber returns its texts in order, then "".
type scriptedTranscriber struct {
	mu    sync.Mutex
	texts []string
}

func (s *scriptedTranscriber) Transcribe(context.Context, []byte, int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.texts) == 0 {
		return ""
	}
	t := s.texts[0]
	s.texts = s.texts[1:]
	return t
}

type runnerFunc func(ctx context.Context, sessionID, text string, sink event.Sink) pipeline.Outcome

func (f runnerFunc) Run(ctx context.Context, sessionID, text string, sink event.Sink) pipeline.Outcome {
	return f(ctx, sessionID, text, sink)
}

func startServer(t *testing.T, srv *transport.Server) string {
	t.Helper()
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	return "ws" + strings.TrimPrefix(hs.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var e event.Event
	if err := wsjson.Read(ctx, conn, &e); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return e
}

func send(t *testing.T, conn *websocket.Conn, typ websocket.MessageType, data []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, typ, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestServer_EndToEnd(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	tr := &scriptedTranscriber{texts: []string{"note that chmod changes permissions", "save that"}}
	p := &llmmock.Provider{Contents: []string{`{"intent":"take_notes","context":"linux","action":"insert","text":"chmod changes permissions","metadata":{"date":"2026-05-01"},"confidence":0.9}`}}
	c, err := classify.New(p)
	if err != nil {
		t.Fatal(err)
	}
	store := notes.New(t.TempDir())
	srv := transport.New(reg, tr, trigger.New(nil), pipeline.New(c, store))
	conn := dial(t, startServer(t, srv))

	connected := readEvent(t, conn)
	if connected.Type != event.TypeConnected || connected.Message != event.ConnectedMessage || len(connected.SessionID) != 8 {
		t.Fatalf("first event = %+v", connected)
	}
	id := connected.SessionID

	send(t, conn, websocket.MessageBinary, utterance())
	if e := readEvent(t, conn); e.Type != event.TypeTranscription || e.Text != "note that chmod changes permissions" {
		t.Fatalf("event = %+v", e)
	}

	send(t, conn, websocket.MessageBinary, utterance())
	want := []event.Type{event.TypeTranscription, event.TypeProcessing, event.TypeFeedback}
	var got []event.Event
	for range want {
		got = append(got, readEvent(t, conn))
	}
	for i, e := range got {
		if e.Type != want[i] || e.SessionID != id {
			t.Fatalf("event %d = %+v, want type %s", i, e, want[i])
		}
	}
	fb := got[2]
	if fb.Message != "✅ Notes added to 'linux' category with insert action." || fb.Details == nil || fb.Details.Intent != "take_notes" {
		t.Errorf("feedback = %+v", fb)
	}

	prompt := p.CompleteCalls[0].Req.Messages[0].Content
	if !strings.Contains(prompt, "note that chmod changes permissions save that") {
		t.Errorf("instruction not built from history:\n%s", prompt)
	}
	content, _ := store.Read("linux")
	if !strings.Contains(content, "## 2026-05-01\nchmod changes permissions") {
		t.Errorf("note file = %q", content)
	}
}

func TestServer_DropsBadChunksAndText(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	tr := &scriptedTranscriber{texts: []string{"hello"}}
	srv := transport.New(reg, tr, trigger.New(nil), runnerFunc(func(context.Context, string, string, event.Sink) pipeline.Outcome {
		t.Error("runner called without trigger")
		return pipeline.Outcome{}
	}))
	conn := dial(t, startServer(t, srv))
	readEvent(t, conn)

	send(t, conn, websocket.MessageBinary, []byte{1, 2, 3})
	send(t, conn, websocket.MessageText, []byte(`{"hello":"world"}`))
	send(t, conn, websocket.MessageBinary, utterance())

	if e := readEvent(t, conn); e.Type != event.TypeTranscription || e.Text != "hello" {
		t.Fatalf("event = %+v", e)
	}
}

func TestServer_SilenceProducesNothing(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	tr := &scriptedTranscriber{texts: []string{"unexpected"}}
	srv := transport.New(reg, tr, trigger.New(nil), runnerFunc(func(context.Context, string, string, event.Sink) pipeline.Outcome {
		return pipeline.Outcome{}
	}))
	conn := dial(t, startServer(t, srv))
	readEvent(t, conn)

	// One speech frame is below the minimum and is discarded.
	send(t, conn, websocket.MessageBinary, append(speechFrames(1), silenceFrames(4)...))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var e event.Event
	if err := wsjson.Read(ctx, conn, &e); err == nil {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestServer_CapacityRejected(t *testing.T) {
	t.Parallel()

	reg := newRegistry(session.WithMaxSessions(1))
	srv := transport.New(reg, &scriptedTranscriber{}, trigger.New(nil), runnerFunc(func(context.Context, string, string, event.Sink) pipeline.Outcome {
		return pipeline.Outcome{}
	}))
	url := startServer(t, srv)

	first := dial(t, url)
	readEvent(t, first)

	second := dial(t, url)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := second.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusTryAgainLater {
		t.Fatalf("close status = %v (err %v), want StatusTryAgainLater", got, err)
	}
}

func TestServer_ReapClosesConnection(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	srv := transport.New(reg, &scriptedTranscriber{}, trigger.New(nil), runnerFunc(func(context.Context, string, string, event.Sink) pipeline.Outcome {
		return pipeline.Outcome{}
	}))
	conn := dial(t, startServer(t, srv))
	id := readEvent(t, conn).SessionID

	if !reg.Destroy(id) {
		t.Fatal("session not registered")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
		t.Fatalf("close status = %v (err %v), want StatusGoingAway", got, err)
	}
}

func TestServer_DisconnectDestroysSession(t *testing.T) {
	t.Parallel()

	reg := newRegistry()
	srv := transport.New(reg, &scriptedTranscriber{}, trigger.New(nil), runnerFunc(func(context.Context, string, string, event.Sink) pipeline.Outcome {
		return pipeline.Outcome{}
	}))
	conn := dial(t, startServer(t, srv))
	readEvent(t, conn)
	if reg.Len() != 1 {
		t.Fatalf("Len = %d, want 1", reg.Len())
	}

	conn.Close(websocket.StatusNormalClosure, "bye")
	srv.Wait()
	if reg.Len() != 0 {
		t.Errorf("Len = %d after disconnect, want 0", reg.Len())
	}
}

func TestServer_BusyTriggerReportsError(t *testing.T) {
	t.Parallel()

	reg := newRegistry(session.WithMaxPending(0))
	release := make(chan struct{})
	defer close(release)
	tr := &scriptedTranscriber{texts: []string{"save that", "save that"}}
	srv := transport.New(reg, tr, trigger.New(nil), runnerFunc(func(ctx context.Context, id, _ string, sink event.Sink) pipeline.Outcome {
		sink.Emit(event.Processing(id, time.Now()))
		select {
		case <-release:
		case <-ctx.Done():
		}
		return pipeline.Outcome{}
	}))
	conn := dial(t, startServer(t, srv))
	readEvent(t, conn)

	send(t, conn, websocket.MessageBinary, utterance())
	if e := readEvent(t, conn); e.Type != event.TypeTranscription {
		t.Fatalf("event = %+v", e)
	}
	if e := readEvent(t, conn); e.Type != event.TypeProcessing {
		t.Fatalf("event = %+v", e)
	}

	send(t, conn, websocket.MessageBinary, utterance())
	if e := readEvent(t, conn); e.Type != event.TypeTranscription {
		t.Fatalf("event = %+v", e)
	}
	e := readEvent(t, conn)
	if e.Type != event.TypeError || e.Success == nil || *e.Success {
		t.Fatalf("event = %+v, want ERROR", e)
	}
}
