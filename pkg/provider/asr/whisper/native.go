// This file contains the Native recognizer backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/provider/asr"
)

// modelSampleRate is the only input rate whisper.cpp accepts.
const modelSampleRate = 16000

// Compile-time assertion that Native implements asr.Recognizer.
var _ asr.Recognizer = (*Native)(nil)

// Native implements asr.Recognizer using the whisper.cpp Go bindings. The
// model is loaded once and shared; each recognition creates its own
// inference context.
type Native struct {
	model    whisperlib.Model
	language string
	sem      *semaphore.Weighted
}

// NativeOption is a functional option for configuring a Native recognizer.
type NativeOption func(*Native)

// WithNativeLanguage sets the language code for transcription (e.g., "en",
// "de"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// WithNativeConcurrency limits the number of inferences running at once.
// Defaults to 1; whisper.cpp already uses every core for a single
// inference.
func WithNativeConcurrency(limit int) NativeOption {
	return func(n *Native) {
		if limit > 0 {
			n.sem = semaphore.NewWeighted(int64(limit))
		}
	}
}

// NewNative loads the whisper.cpp model from modelPath. The caller must call
// Close when the recognizer is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("whisper: model %q: %w", modelPath, err)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{
		model:    model,
		language: defaultLanguage,
		sem:      semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Recognize decodes the WAV file at path, resamples it to 16 kHz when
// needed and runs inference.
func (n *Native) Recognize(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("whisper: read audio: %w", err)
	}
	pcm, rate, ok := audio.DecodeWAV(data)
	if !ok {
		return "", fmt.Errorf("whisper: %s is not a 16-bit PCM WAV file", path)
	}
	if len(pcm) == 0 {
		return "", asr.ErrNoAudio
	}
	pcm = audio.ResampleMono16(pcm, rate, modelSampleRate)

	if err := n.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	defer n.sem.Release(1)

	return n.infer(audio.ToFloat32(pcm))
}

// infer runs whisper.cpp inference on a fresh context and returns the
// concatenated segment text.
func (n *Native) infer(samples []float32) (string, error) {
	// Contexts are not thread-safe but the model can be shared.
	wctx, err := n.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
