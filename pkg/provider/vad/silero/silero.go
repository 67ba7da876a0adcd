// Package silero provides a vad.Engine backed by the Silero VAD ONNX model
// through github.com/streamer45/silero-vad-go.
//
// Building this package requires the ONNX Runtime shared library and CGO.
// Each session owns its own detector so that recurrent model state never
// leaks between streams.
//
// The detector reports speech segments rather than raw scores, so a session
// maps its trigger state to a probability: 1 while the detector considers
// speech active, 0 otherwise. End-of-speech hangover is left to the caller;
// the detector itself is configured with no minimum silence.
package silero

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/provider/vad"
)

// Engine creates Silero VAD sessions from a model file.
type Engine struct {
	modelPath string
}

// New returns an Engine that loads the model at modelPath for every session.
func New(modelPath string) (*Engine, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("silero: model path must not be empty")
	}
	return &Engine{modelPath: modelPath}, nil
}

// NewSession implements vad.Engine. Only 8 kHz and 16 kHz audio is supported
// by the model.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate != 16000 && cfg.SampleRate != 8000 {
		return nil, fmt.Errorf("silero: unsupported sample rate %d", cfg.SampleRate)
	}
	if cfg.FrameSamples <= 0 {
		return nil, fmt.Errorf("silero: frame samples must be positive, got %d", cfg.FrameSamples)
	}
	threshold := cfg.SpeechThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            e.modelPath,
		SampleRate:           cfg.SampleRate,
		Threshold:            float32(threshold),
		MinSilenceDurationMs: 0,
		SpeechPadMs:          0,
	})
	if err != nil {
		return nil, fmt.Errorf("silero: create detector: %w", err)
	}
	return &session{sd: sd, frameBytes: cfg.FrameBytes()}, nil
}

type session struct {
	sd         *speech.Detector
	frameBytes int
	speaking   bool
	closed     bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, vad.ErrClosed
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("%w: got %d bytes, want %d", vad.ErrFrameSize, len(frame), s.frameBytes)
	}
	// Detect only scores windows that are followed by at least one more
	// sample, so the frame is padded by a single zero sample.
	samples := append(audio.ToFloat32(frame), 0)
	segments, err := s.sd.Detect(samples)
	if err != nil {
		return vad.Event{}, fmt.Errorf("silero: detect: %w", err)
	}
	for _, seg := range segments {
		s.speaking = seg.SpeechEndAt == 0
	}
	if s.speaking {
		return vad.Event{Probability: 1}, nil
	}
	return vad.Event{Probability: 0}, nil
}

func (s *session) Reset() {
	if s.closed {
		return
	}
	_ = s.sd.Reset()
	s.speaking = false
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sd.Destroy()
}

var _ vad.Engine = (*Engine)(nil)
