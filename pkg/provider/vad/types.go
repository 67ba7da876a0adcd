package vad

import "errors"

// Event is the detection result for a single audio frame.
type Event struct {
	// Probability is the speech probability score (0.0–1.0).
	Probability float64
}

// ErrFrameSize is returned by ProcessFrame for frames that do not match the
// configured frame length.
var ErrFrameSize = errors.New("vad: frame size mismatch")

// ErrClosed is returned by ProcessFrame after Close.
var ErrClosed = errors.New("vad: session closed")
