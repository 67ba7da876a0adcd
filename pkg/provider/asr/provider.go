// Package asr defines the Recognizer interface for batch speech recognition
// backends.
//
// A Recognizer turns one complete audio file into text. The server writes
// every closed utterance to a temporary 16-bit mono WAV file and hands its
// path to the Recognizer; streaming and partial results are not part of the
// contract.
//
// Implementations must be safe for concurrent use: recognitions for
// different sessions may run at the same time.
package asr

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when the audio file holds no samples.
var ErrNoAudio = errors.New("asr: audio file contains no samples")

// Recognizer is the abstraction over any batch ASR backend.
type Recognizer interface {
	// Recognize transcribes the WAV file at path and returns the recognised
	// text with surrounding whitespace removed. An empty string with a nil
	// error means the backend heard nothing.
	//
	// The file is owned by the caller and must not be modified or removed.
	Recognize(ctx context.Context, path string) (string, error)
}
