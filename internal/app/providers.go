package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MrWong99/voxnote/internal/config"
	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/internal/resilience"
	"github.com/MrWong99/voxnote/pkg/provider/asr"
	"github.com/MrWong99/voxnote/pkg/provider/llm"
	"github.com/MrWong99/voxnote/pkg/provider/vad"
)

// Providers holds one interface value per engine slot. Populated by
// [BuildProviders] or injected directly in tests.
type Providers struct {
	VAD vad.Engine
	ASR asr.Recognizer
	LLM llm.Provider

	// closers release engines that hold native resources (e.g. a loaded
	// whisper model).
	closers []io.Closer
}

// Close releases every engine that implements [io.Closer].
func (p *Providers) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func (p *Providers) track(v any) {
	if c, ok := v.(io.Closer); ok {
		p.closers = append(p.closers, c)
	}
}

// BuildProviders instantiates the engines named in cfg using reg. The ASR
// and LLM slots are wrapped in a fallback group so that configured
// fallbacks take over when the primary fails or its breaker opens. Failures
// of each attempt are counted on m.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{}
	fb := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  cfg.Classifier.MaxFailures,
			ResetTimeout: cfg.Classifier.ResetTimeout,
		},
	}
	if m != nil {
		fb.CircuitBreaker.OnStateChange = breakerObserver(m)
		fb.OnFailure = func(provider string, err error) {
			kind := "error"
			if errors.Is(err, resilience.ErrCircuitOpen) {
				kind = "circuit_open"
			}
			m.RecordProviderError(context.Background(), provider, kind)
		}
	}

	v, err := reg.CreateVAD(cfg.Providers.VAD)
	if err != nil {
		return nil, fmt.Errorf("app: create vad %q: %w", cfg.Providers.VAD.Name, err)
	}
	ps.VAD = v
	ps.track(v)
	slog.Info("provider created", "kind", "vad", "name", cfg.Providers.VAD.Name)

	primaryASR, err := reg.CreateASR(cfg.Providers.ASR)
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("app: create asr %q: %w", cfg.Providers.ASR.Name, err)
	}
	ps.track(primaryASR)
	asrGroup := resilience.NewASRFallback(primaryASR, cfg.Providers.ASR.Name, fb)
	slog.Info("provider created", "kind", "asr", "name", cfg.Providers.ASR.Name, "model", cfg.Providers.ASR.Model)
	for _, e := range cfg.Providers.ASRFallbacks {
		r, err := reg.CreateASR(e)
		if err != nil {
			ps.Close()
			return nil, fmt.Errorf("app: create asr fallback %q: %w", e.Name, err)
		}
		ps.track(r)
		asrGroup.AddFallback(e.Name, r)
		slog.Info("provider created", "kind", "asr", "name", e.Name, "fallback", true)
	}
	ps.ASR = asrGroup

	primaryLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("app: create llm %q: %w", cfg.Providers.LLM.Name, err)
	}
	ps.track(primaryLLM)
	llmGroup := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Name, fb)
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Name, "model", cfg.Providers.LLM.Model)
	for _, e := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(e)
		if err != nil {
			ps.Close()
			return nil, fmt.Errorf("app: create llm fallback %q: %w", e.Name, err)
		}
		ps.track(p)
		llmGroup.AddFallback(e.Name, p)
		slog.Info("provider created", "kind", "llm", "name", e.Name, "fallback", true)
	}
	ps.LLM = llmGroup

	return ps, nil
}

// breakerObserver counts breaker transitions on m.
func breakerObserver(m *observe.Metrics) func(name string, from, to resilience.State) {
	return func(name string, _, to resilience.State) {
		m.RecordBreakerTransition(context.Background(), name, to.String())
	}
}
