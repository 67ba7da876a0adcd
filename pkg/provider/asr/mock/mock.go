// Package mock provides a test double for the asr.Recognizer interface.
//
// Example:
//
//	r := &mock.Recognizer{Text: "save that"}
//	text, _ := r.Recognize(ctx, "/tmp/utt.wav")
//	// inspect r.Calls
package mock

import (
	"context"
	"os"
	"sync"

	"github.com/MrWong99/voxnote/pkg/provider/asr"
)

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// Path is the file path passed to Recognize.
	Path string

	// Existed reports whether the file was present on disk during the call.
	Existed bool

	// Size is the file size in bytes at call time, or -1 if it could not be
	// read.
	Size int64
}

// Recognizer is a mock implementation of asr.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Text is returned by Recognize when Texts is exhausted.
	Text string

	// Texts, if non-empty, is consumed in order, one entry per call.
	Texts []string

	// Err, if non-nil, is returned as the error from Recognize.
	Err error

	// RecognizeFunc, if set, overrides all other fields.
	RecognizeFunc func(ctx context.Context, path string) (string, error)

	// Calls records every call to Recognize.
	Calls []RecognizeCall
}

// Recognize records the call and returns the configured text or error.
func (r *Recognizer) Recognize(ctx context.Context, path string) (string, error) {
	call := RecognizeCall{Path: path, Size: -1}
	if fi, err := os.Stat(path); err == nil {
		call.Existed = true
		call.Size = fi.Size()
	}

	r.mu.Lock()
	r.Calls = append(r.Calls, call)
	fn := r.RecognizeFunc
	var text string
	if len(r.Texts) > 0 {
		text = r.Texts[0]
		r.Texts = r.Texts[1:]
	} else {
		text = r.Text
	}
	err := r.Err
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, path)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of Recognize calls.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// LastCall returns the most recent call and whether there was one.
func (r *Recognizer) LastCall() (RecognizeCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Calls) == 0 {
		return RecognizeCall{}, false
	}
	return r.Calls[len(r.Calls)-1], true
}

var _ asr.Recognizer = (*Recognizer)(nil)
