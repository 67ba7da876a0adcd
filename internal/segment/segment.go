// Package segment turns a per-connection stream of fixed-size PCM frames
// into utterances using a voice activity signal.
//
// A [Segmenter] keeps the buffered audio and the speech and silence counters
// of one stream. Frames are scored one at a time. Trailing silence is kept
// in the buffer while speaking so that short pauses inside a sentence are
// not cut; once the silence run reaches the pause threshold the buffered
// audio is emitted as an [Utterance] if it holds enough speech, and dropped
// as noise otherwise. The buffer and both counters are cleared at every
// boundary.
//
// A Segmenter is owned by a single goroutine and is not safe for concurrent
// use.
package segment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/pkg/provider/vad"
)

// ErrChunkSize is returned by [Segmenter.Process] for chunks whose length is
// not a positive multiple of the frame size. Nothing from such a chunk is
// processed.
var ErrChunkSize = errors.New("segment: chunk is not a whole number of frames")

// Config holds the segmentation parameters.
type Config struct {
	// SampleRate of the incoming PCM in Hz.
	SampleRate int

	// FrameSamples is the number of 16-bit mono samples per frame.
	FrameSamples int

	// Threshold is the speech probability a frame must exceed to count as
	// speech.
	Threshold float64

	// PauseThresholdFrames is the run of silent frames that ends an
	// utterance.
	PauseThresholdFrames int

	// MinSpeechFrames is the minimum number of speech frames an utterance
	// must contain to be emitted.
	MinSpeechFrames int
}

// DefaultConfig returns 16 kHz audio in 512-sample frames, a 0.5 speech
// threshold and 60-frame pause and minimum-speech thresholds (about 1.9 s
// each).
func DefaultConfig() Config {
	return Config{
		SampleRate:           16000,
		FrameSamples:         512,
		Threshold:            0.5,
		PauseThresholdFrames: 60,
		MinSpeechFrames:      60,
	}
}

// FrameBytes returns the byte length of one frame.
func (c Config) FrameBytes() int { return c.FrameSamples * 2 }

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("frame samples must be positive, got %d", c.FrameSamples))
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold must be in [0, 1], got %v", c.Threshold))
	}
	if c.PauseThresholdFrames <= 0 {
		errs = append(errs, fmt.Errorf("pause threshold frames must be positive, got %d", c.PauseThresholdFrames))
	}
	if c.MinSpeechFrames < 0 {
		errs = append(errs, fmt.Errorf("min speech frames must not be negative, got %d", c.MinSpeechFrames))
	}
	return errors.Join(errs...)
}

// Utterance is a completed span of buffered audio.
type Utterance struct {
	// Audio is raw 16-bit mono PCM. The slice is owned by the receiver.
	Audio []byte

	// SampleRate of Audio in Hz.
	SampleRate int

	// SpeechFrames is the number of frames classified as speech.
	SpeechFrames int

	// TotalFrames is the number of frames in Audio, trailing silence
	// included.
	TotalFrames int
}

// Duration returns the playback length of the utterance.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(u.Audio)/2) * time.Second / time.Duration(u.SampleRate)
}

// State is a snapshot of the segmenter's counters.
type State struct {
	Speaking      bool
	SpeechFrames  int
	SilentFrames  int
	BufferedBytes int
}

// Segmenter is the per-stream segmentation state machine.
type Segmenter struct {
	cfg        Config
	frameBytes int
	vad        vad.SessionHandle
	metrics    *observe.Metrics

	buf      []byte
	speaking bool
	speech   int
	silent   int
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithMetrics records VAD latency and utterance outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Segmenter) { s.metrics = m }
}

// New returns a Segmenter that scores frames with h. The Segmenter takes
// ownership of h and closes it in [Segmenter.Close].
func New(cfg Config, h vad.SessionHandle, opts ...Option) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("segment: %w", err)
	}
	if h == nil {
		return nil, errors.New("segment: nil VAD session")
	}
	s := &Segmenter{cfg: cfg, frameBytes: cfg.FrameBytes(), vad: h}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Config returns the segmentation parameters.
func (s *Segmenter) Config() Config { return s.cfg }

// Process scores every frame of chunk in order and returns the utterances
// completed by it, usually none or one. A chunk that is not a whole number
// of frames is rejected with [ErrChunkSize] before any frame is scored.
//
// A VAD failure on a frame is logged and the frame counts as silence.
func (s *Segmenter) Process(ctx context.Context, chunk []byte) ([]Utterance, error) {
	if len(chunk) == 0 || len(chunk)%s.frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes, frame is %d bytes", ErrChunkSize, len(chunk), s.frameBytes)
	}

	start := time.Now()
	var out []Utterance
	for off := 0; off < len(chunk); off += s.frameBytes {
		if u, ok := s.step(ctx, chunk[off:off+s.frameBytes]); ok {
			out = append(out, u)
		}
	}
	if s.metrics != nil {
		observe.ObserveSince(ctx, s.metrics.VADDuration, start)
	}
	return out, nil
}

// step advances the state machine by one frame.
func (s *Segmenter) step(ctx context.Context, frame []byte) (Utterance, bool) {
	ev, err := s.vad.ProcessFrame(frame)
	if err != nil {
		observe.Logger(ctx).Warn("segment: vad frame failed, treating as silence", "err", err)
		if s.metrics != nil {
			s.metrics.RecordProviderError(ctx, "vad", "frame")
		}
		ev.Probability = 0
	}
	isSpeech := ev.Probability > s.cfg.Threshold

	switch {
	case isSpeech:
		if !s.speaking {
			observe.Logger(ctx).Debug("segment: speech started")
		}
		s.speaking = true
		s.silent = 0
		s.speech++
		s.buf = append(s.buf, frame...)
		return Utterance{}, false

	case s.speaking:
		s.silent++
		s.buf = append(s.buf, frame...)
		if s.silent < s.cfg.PauseThresholdFrames {
			return Utterance{}, false
		}
		return s.boundary(ctx)

	default:
		return Utterance{}, false
	}
}

// boundary closes the current candidate utterance. The buffer and counters
// are always cleared.
func (s *Segmenter) boundary(ctx context.Context) (Utterance, bool) {
	u := Utterance{
		SampleRate:   s.cfg.SampleRate,
		SpeechFrames: s.speech,
		TotalFrames:  len(s.buf) / s.frameBytes,
	}
	emit := s.speech >= s.cfg.MinSpeechFrames
	if emit {
		u.Audio = make([]byte, len(s.buf))
		copy(u.Audio, s.buf)
	}

	s.speaking = false
	s.speech = 0
	s.silent = 0
	s.buf = s.buf[:0]

	outcome := "discarded"
	if emit {
		outcome = "emitted"
	}
	observe.Logger(ctx).Info("segment: pause detected",
		"outcome", outcome, "speech_frames", u.SpeechFrames, "total_frames", u.TotalFrames)
	if s.metrics != nil {
		s.metrics.RecordUtterance(ctx, outcome)
	}
	return u, emit
}

// State returns a snapshot of the counters.
func (s *Segmenter) State() State {
	return State{
		Speaking:      s.speaking,
		SpeechFrames:  s.speech,
		SilentFrames:  s.silent,
		BufferedBytes: len(s.buf),
	}
}

// Reset drops any buffered audio and clears the VAD state.
func (s *Segmenter) Reset() {
	s.speaking = false
	s.speech = 0
	s.silent = 0
	s.buf = nil
	s.vad.Reset()
}

// Close releases the buffer and the VAD session.
func (s *Segmenter) Close() error {
	s.buf = nil
	s.speaking = false
	s.speech = 0
	s.silent = 0
	return s.vad.Close()
}
