// Package transcribe turns utterance audio into text through an
// [asr.Recognizer].
//
// Recognizers consume files, so every call writes the utterance to a
// temporary WAV file in the configured directory and removes it afterwards,
// whatever the outcome.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/provider/asr"
)

// DefaultTempDir is the directory temporary WAV files are written to when
// none is configured.
const DefaultTempDir = "output_files"

// Transcriber adapts a Recognizer to raw PCM utterances. It is safe for
// concurrent use.
type Transcriber struct {
	rec     asr.Recognizer
	dir     string
	now     func() time.Time
	metrics *observe.Metrics
}

// Option configures a [Transcriber].
type Option func(*Transcriber)

// WithTempDir sets the directory for temporary WAV files.
func WithTempDir(dir string) Option {
	return func(t *Transcriber) { t.dir = dir }
}

// WithClock overrides time.Now for file naming.
func WithClock(now func() time.Time) Option {
	return func(t *Transcriber) { t.now = now }
}

// WithMetrics records recognition latency and failures on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Transcriber) { t.metrics = m }
}

// New returns a Transcriber that recognises with rec. The temp directory is
// created if it does not exist.
func New(rec asr.Recognizer, opts ...Option) (*Transcriber, error) {
	if rec == nil {
		return nil, errors.New("transcribe: nil recognizer")
	}
	t := &Transcriber{rec: rec, dir: DefaultTempDir, now: time.Now}
	for _, o := range opts {
		o(t)
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcribe: create temp dir: %w", err)
	}
	return t, nil
}

// Dir returns the temp directory.
func (t *Transcriber) Dir() string { return t.dir }

// Transcribe returns the recognised text of pcm, 16-bit mono at sampleRate,
// with surrounding whitespace removed. Any failure is logged and yields "".
// The session id for file naming is taken from ctx.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) string {
	text, err := t.transcribe(ctx, pcm, sampleRate)
	if err != nil {
		observe.Logger(ctx).Error("transcription failed", "err", err,
			"audio_duration", audio.Duration(pcm, sampleRate))
		if t.metrics != nil {
			t.metrics.RecordProviderError(ctx, "asr", errorKind(err))
		}
		return ""
	}
	return text
}

func (t *Transcriber) transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if len(pcm) == 0 {
		return "", asr.ErrNoAudio
	}
	ctx, span := observe.StartSpan(ctx, "transcribe")
	defer span.End()

	path, err := t.writeTemp(ctx, pcm, sampleRate)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			observe.Logger(ctx).Warn("remove temp audio", "path", path, "err", err)
		}
	}()

	start := time.Now()
	text, err := t.rec.Recognize(ctx, path)
	if t.metrics != nil {
		observe.ObserveSince(ctx, t.metrics.ASRDuration, start)
	}
	if err != nil {
		return "", fmt.Errorf("recognize: %w", err)
	}
	text = strings.TrimSpace(text)
	observe.Logger(ctx).Info("transcribed utterance",
		"chars", len(text), "latency", time.Since(start))
	return text, nil
}

// writeTemp stores pcm as a WAV file named <session>_<timestamp>_*.wav.
func (t *Transcriber) writeTemp(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	id := observe.SessionID(ctx)
	if id == "" {
		id = "session"
	}
	pattern := fmt.Sprintf("%s_%s_*.wav", id, t.now().Format("20060102_150405"))
	f, err := os.CreateTemp(t.dir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp audio: %w", err)
	}
	if _, err := f.Write(audio.EncodeWAV(pcm, sampleRate, 1)); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp audio: %w", err)
	}
	return f.Name(), nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, asr.ErrNoAudio):
		return "empty"
	default:
		return "recognize"
	}
}
