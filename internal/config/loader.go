package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad": {"energy", "silero"},
	"asr": {"whisper", "whisper-native", "openai"},
	"llm": {"ollama", "openai", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to be applied and returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == cfg.Server.StatusAddr {
		errs = append(errs, fmt.Errorf("server.listen_addr and server.status_addr must differ, both are %q", cfg.Server.ListenAddr))
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 || cfg.Logging.MaxAgeDays < 0 {
		errs = append(errs, errors.New("logging limits must not be negative"))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.FrameSamples <= 0 {
		errs = append(errs, fmt.Errorf("audio.frame_samples must be positive, got %d", cfg.Audio.FrameSamples))
	}
	if t := cfg.Segmenter.Threshold; t != nil && (*t < 0 || *t >= 1) {
		errs = append(errs, fmt.Errorf("segmenter.threshold %v is out of range [0, 1)", *t))
	}
	if cfg.Segmenter.PauseThresholdFrames <= 0 {
		errs = append(errs, fmt.Errorf("segmenter.pause_threshold_frames must be positive, got %d", cfg.Segmenter.PauseThresholdFrames))
	}
	if n := cfg.Segmenter.MinSpeechFrames; n != nil && *n < 0 {
		errs = append(errs, fmt.Errorf("segmenter.min_speech_frames must not be negative, got %d", *n))
	}

	if cfg.Sessions.IdleTimeout < 0 || cfg.Sessions.ReapInterval < 0 {
		errs = append(errs, errors.New("sessions.idle_timeout and sessions.reap_interval must not be negative"))
	}
	if cfg.Sessions.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_sessions must not be negative, got %d", cfg.Sessions.MaxSessions))
	}
	if cfg.Sessions.MaxTranscripts < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_transcripts must not be negative, got %d", cfg.Sessions.MaxTranscripts))
	}
	if n := cfg.Sessions.MaxPendingCommands; n != nil && *n < 0 {
		errs = append(errs, fmt.Errorf("sessions.max_pending_commands must not be negative, got %d", *n))
	}

	for i, p := range cfg.Triggers.Phrases {
		if strings.TrimSpace(p) == "" {
			errs = append(errs, fmt.Errorf("triggers.phrases[%d] is empty", i))
		}
	}
	if cfg.Triggers.History < 0 {
		errs = append(errs, fmt.Errorf("triggers.history must not be negative, got %d", cfg.Triggers.History))
	}
	if cfg.Triggers.History > cfg.Sessions.MaxTranscripts {
		slog.Warn("triggers.history exceeds sessions.max_transcripts; instructions are limited by the transcript buffer",
			"history", cfg.Triggers.History, "max_transcripts", cfg.Sessions.MaxTranscripts)
	}

	c := cfg.Classifier
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("classifier.timeout must not be negative, got %s", c.Timeout))
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		errs = append(errs, fmt.Errorf("classifier.temperature %v is out of range [0, 2]", *c.Temperature))
	}
	if c.LowConfidence != nil && (*c.LowConfidence < 0 || *c.LowConfidence > 1) {
		errs = append(errs, fmt.Errorf("classifier.low_confidence %v is out of range [0, 1]", *c.LowConfidence))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("classifier.max_tokens must not be negative, got %d", c.MaxTokens))
	}

	if cfg.Notes.Dir == "" {
		errs = append(errs, errors.New("notes.dir is required"))
	}

	errs = append(errs, validateEntry("vad", "providers.vad", cfg.Providers.VAD)...)
	errs = append(errs, validateEntry("asr", "providers.asr", cfg.Providers.ASR)...)
	errs = append(errs, validateEntry("llm", "providers.llm", cfg.Providers.LLM)...)
	for i, e := range cfg.Providers.ASRFallbacks {
		errs = append(errs, validateEntry("asr", fmt.Sprintf("providers.asr_fallbacks[%d]", i), e)...)
	}
	for i, e := range cfg.Providers.LLMFallbacks {
		errs = append(errs, validateEntry("llm", fmt.Sprintf("providers.llm_fallbacks[%d]", i), e)...)
	}

	return errors.Join(errs...)
}

func validateEntry(kind, path string, e ProviderEntry) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", path)}
	}
	validateProviderName(kind, e.Name)

	var errs []error
	switch {
	case kind == "asr" && e.Name == "whisper-native" && e.Model == "":
		errs = append(errs, fmt.Errorf("%s.model must be the path of a whisper model file", path))
	case kind == "vad" && e.Name == "silero" && e.Model == "":
		errs = append(errs, fmt.Errorf("%s.model must be the path of the Silero ONNX model", path))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
