// Package energy provides a model-free VAD engine that scores frames by
// their RMS energy.
//
// The probability is rms / (2 * gate), clamped to [0, 1], so a frame whose
// RMS equals the gate scores exactly 0.5. It is adequate for close-talk
// microphones in quiet rooms and needs no model files, which makes it the
// default engine for development.
package energy

import (
	"fmt"
	"math"

	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/provider/vad"
)

// DefaultGate is the RMS level (in 16-bit sample units) that scores 0.5.
const DefaultGate = 300.0

// Option configures an [Engine].
type Option func(*Engine)

// WithGate sets the RMS level that maps to probability 0.5.
func WithGate(rms float64) Option {
	return func(e *Engine) {
		if rms > 0 {
			e.gate = rms
		}
	}
}

// Engine is a stateless energy-based vad.Engine.
type Engine struct {
	gate float64
}

// New returns an energy Engine.
func New(opts ...Option) *Engine {
	e := &Engine{gate: DefaultGate}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("energy: frame samples must be positive, got %d", cfg.FrameSamples)
	}
	return &session{frameBytes: cfg.FrameBytes(), gate: e.gate}, nil
}

type session struct {
	frameBytes int
	gate       float64
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, vad.ErrClosed
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrFrameSize, len(frame), s.frameBytes)
	}
	p := audio.RMS(frame) / (2 * s.gate)
	return vad.Event{Probability: math.Min(1, p)}, nil
}

func (s *session) Reset() {}

func (s *session) Close() error {
	s.closed = true
	return nil
}

var _ vad.Engine = (*Engine)(nil)
