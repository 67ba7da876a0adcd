// Package vad defines the Engine interface for Voice Activity Detection
// backends.
//
// A VAD engine wraps a frame-level speech detector (Silero VAD, an energy
// gate, or a test double) and surfaces it as a stateful, per-stream session.
// Each session keeps its own detector state so that concurrent audio streams
// are processed independently.
//
// ProcessFrame is synchronous: it returns a speech probability for one frame
// before the next frame is submitted, which keeps frame order within a
// stream strictly sequential.
//
// Engines must be safe for concurrent use across different sessions. A single
// SessionHandle must not be shared across goroutines.
package vad

// Config holds the parameters for a VAD session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the rate of the
	// PCM frames passed to ProcessFrame. Typical: 16000.
	SampleRate int

	// FrameSamples is the number of 16-bit mono samples per frame. Engines
	// reject frames of any other length. Typical: 512.
	FrameSamples int

	// SpeechThreshold is the probability above which the caller classifies a
	// frame as speech. Engines with an internal trigger use it as their own
	// activation threshold. Range: [0.0, 1.0]. Typical: 0.5.
	SpeechThreshold float64
}

// FrameBytes returns the byte length of one frame under cfg.
func (c Config) FrameBytes() int {
	return c.FrameSamples * 2
}

// SessionHandle represents an active VAD session for a single audio stream.
type SessionHandle interface {
	// ProcessFrame scores a single frame of raw little-endian 16-bit mono PCM
	// at the configured SampleRate and FrameSamples. Returns an error if the
	// frame size is wrong or the engine fails.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases all resources associated with the session. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// Returns an error if the configuration is unsupported or resources
	// cannot be allocated.
	NewSession(cfg Config) (SessionHandle, error)
}
