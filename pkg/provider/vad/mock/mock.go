// Package mock scripts voice activity for tests.
//
//	sess := &mock.Session{Probabilities: []float64{0.9, 0.9, 0.1}}
//	eng := &mock.Engine{NewSessionFunc: func(vad.Config) vad.SessionHandle { return sess }}
package mock

import (
	"sync"

	"github.com/MrWong99/voxnote/pkg/provider/vad"
)

// Engine hands out sessions and remembers the configs it was asked for.
type Engine struct {
	// NewSessionFunc builds each handle. Nil yields a fresh silent Session.
	NewSessionFunc func(cfg vad.Config) vad.SessionHandle

	// Err fails every NewSession call.
	Err error

	mu      sync.Mutex
	configs []vad.Config
}

var _ vad.Engine = (*Engine)(nil)

func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	e.configs = append(e.configs, cfg)
	e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	if e.NewSessionFunc != nil {
		return e.NewSessionFunc(cfg), nil
	}
	return &Session{}, nil
}

// Configs returns the config of every NewSession call so far.
func (e *Engine) Configs() []vad.Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]vad.Config(nil), e.configs...)
}

// NonZero scores a frame as speech (0.9) when its first byte is set and as
// silence (0.1) otherwise.
func NonZero(frame []byte) float64 {
	if len(frame) > 0 && frame[0] != 0 {
		return 0.9
	}
	return 0.1
}

// Session replays speech probabilities. ProbabilityFunc wins over the
// script; once Probabilities runs out, Probability is returned.
type Session struct {
	Probabilities   []float64
	Probability     float64
	ProbabilityFunc func(frame []byte) float64

	// ProcessFrameErr fails every frame.
	ProcessFrameErr error
	// CloseErr is returned by Close.
	CloseErr error

	// Counters, read after the session is done.
	FramesSeen     int
	ResetCallCount int
	CloseCallCount int

	mu sync.Mutex
}

var _ vad.SessionHandle = (*Session)(nil)

func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FramesSeen++
	switch {
	case s.ProcessFrameErr != nil:
		return vad.Event{}, s.ProcessFrameErr
	case s.ProbabilityFunc != nil:
		return vad.Event{Probability: s.ProbabilityFunc(frame)}, nil
	case len(s.Probabilities) > 0:
		p := s.Probabilities[0]
		s.Probabilities = s.Probabilities[1:]
		return vad.Event{Probability: p}, nil
	}
	return vad.Event{Probability: s.Probability}, nil
}

func (s *Session) Reset() {
	s.mu.Lock()
	s.ResetCallCount++
	s.mu.Unlock()
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}
