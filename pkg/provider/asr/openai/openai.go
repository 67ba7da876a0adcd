// Package openai transcribes utterance files with the OpenAI audio API or
// a self-hosted server that mirrors it, such as faster-whisper-server.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxnote/pkg/provider/asr"
)

// DefaultModel is used when New gets an empty model.
const DefaultModel = "whisper-1"

// Recognizer uploads each WAV file and returns the transcript.
type Recognizer struct {
	client   oai.Client
	model    string
	language string
	prompt   string
}

var _ asr.Recognizer = (*Recognizer)(nil)

type settings struct {
	baseURL  string
	language string
	prompt   string
	timeout  time.Duration
}

// Option tunes [New].
type Option func(*settings)

// WithBaseURL targets a compatible server. The API key is then optional.
func WithBaseURL(url string) Option { return func(s *settings) { s.baseURL = url } }

// WithLanguage passes an ISO-639-1 language hint.
func WithLanguage(lang string) Option { return func(s *settings) { s.language = lang } }

// WithPrompt primes the model with vocabulary, for example the trigger
// phrases, so they are spelled consistently.
func WithPrompt(p string) Option { return func(s *settings) { s.prompt = p } }

// WithTimeout bounds each upload.
func WithTimeout(d time.Duration) Option { return func(s *settings) { s.timeout = d } }

// New returns a recognizer for model, or [DefaultModel] when model is
// empty. apiKey may only be empty together with [WithBaseURL].
func New(apiKey, model string, opts ...Option) (*Recognizer, error) {
	var s settings
	for _, o := range opts {
		o(&s)
	}
	if apiKey == "" {
		if s.baseURL == "" {
			return nil, errors.New("openai: api key required for the hosted API")
		}
		apiKey = "local"
	}
	if model == "" {
		model = DefaultModel
	}

	ro := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		ro = append(ro, option.WithBaseURL(s.baseURL))
	}
	if s.timeout > 0 {
		ro = append(ro, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	return &Recognizer{
		client:   oai.NewClient(ro...),
		model:    model,
		language: s.language,
		prompt:   s.prompt,
	}, nil
}

func (r *Recognizer) Recognize(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("openai: open utterance: %w", err)
	}
	defer f.Close()

	params := oai.AudioTranscriptionNewParams{File: f, Model: oai.AudioModel(r.model)}
	if r.language != "" {
		params.Language = oai.String(r.language)
	}
	if r.prompt != "" {
		params.Prompt = oai.String(r.prompt)
	}
	res, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe %s with %s: %w", path, r.model, err)
	}
	return strings.TrimSpace(res.Text), nil
}
