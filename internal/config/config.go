// Package config provides the configuration schema, loader, and provider
// registry for the voxnote server.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Audio         AudioConfig         `yaml:"audio"`
	Segmenter     SegmenterConfig     `yaml:"segmenter"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Triggers      TriggersConfig      `yaml:"triggers"`
	Classifier    ClassifierConfig    `yaml:"classifier"`
	Notes         NotesConfig         `yaml:"notes"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Providers     ProvidersConfig     `yaml:"providers"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the audio WebSocket endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// StatusAddr is the TCP address of the status, health, metrics and MCP
	// endpoints.
	StatusAddr string `yaml:"status_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists Origin host patterns accepted for browser
	// WebSocket clients. "*" accepts any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig configures the rotating log file served by /logs.
type LoggingConfig struct {
	// File is the log file path. Defaults to logs/server.log.
	File string `yaml:"file"`

	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// AudioConfig describes the inbound PCM stream.
type AudioConfig struct {
	SampleRate   int `yaml:"sample_rate"`
	FrameSamples int `yaml:"frame_samples"`
}

// SegmenterConfig holds the voice activity thresholds. Threshold and
// MinSpeechFrames are pointers because zero is a meaningful setting for both.
type SegmenterConfig struct {
	// Threshold is the probability a frame must exceed to count as speech.
	// The silero engine applies it inside its detector instead and reports
	// only 0 or 1, so the segmenter's own comparison passes its verdict
	// through unchanged. Silero treats 0 as its 0.5 default.
	Threshold *float64 `yaml:"threshold"`

	PauseThresholdFrames int `yaml:"pause_threshold_frames"`

	// MinSpeechFrames is the least number of speech frames an utterance
	// needs to be emitted. Zero emits every utterance.
	MinSpeechFrames *int `yaml:"min_speech_frames"`
}

// SessionsConfig bounds per-connection state.
type SessionsConfig struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ReapInterval time.Duration `yaml:"reap_interval"`

	// MaxSessions caps concurrent connections. Zero means unlimited.
	MaxSessions int `yaml:"max_sessions"`

	MaxTranscripts int `yaml:"max_transcripts"`

	// MaxPendingCommands is how many triggered instructions may wait behind
	// the running one.
	MaxPendingCommands *int `yaml:"max_pending_commands"`
}

// TriggersConfig selects the phrases that submit an instruction.
type TriggersConfig struct {
	Phrases []string `yaml:"phrases"`

	// History is the number of transcripts joined into an instruction.
	History int `yaml:"history"`

	// Fuzzy enables phonetic matching of phrases.
	Fuzzy bool `yaml:"fuzzy"`
}

// ClassifierConfig tunes the intent model call.
type ClassifierConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	Temperature *float64      `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`

	// LowConfidence is the confidence below which feedback asks the user to
	// verify the result.
	LowConfidence *float64 `yaml:"low_confidence"`

	// PromptFile replaces the built-in prompt. "{text}" in the file is
	// replaced by the instruction.
	PromptFile string `yaml:"prompt_file"`

	// JSONMode asks providers that support it to constrain output to JSON.
	JSONMode bool `yaml:"json_mode"`

	// MaxFailures and ResetTimeout configure the circuit breaker around each
	// LLM provider.
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// NotesConfig locates the topic files.
type NotesConfig struct {
	Dir string `yaml:"dir"`

	// DateFormat is a Go time layout used for section keys.
	DateFormat string `yaml:"date_format"`
}

// TranscriptionConfig holds the transient WAV location.
type TranscriptionConfig struct {
	TempDir string `yaml:"temp_dir"`
}

// ProvidersConfig declares which provider implementation to use for each
// stage. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	VAD          ProviderEntry   `yaml:"vad"`
	ASR          ProviderEntry   `yaml:"asr"`
	ASRFallbacks []ProviderEntry `yaml:"asr_fallbacks"`
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "ollama", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gemma3:12b",
	// "whisper-1"), or a model file path for local engines.
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`
}

// StringOption returns Options[key] when it is a string, otherwise def.
func (e ProviderEntry) StringOption(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// IntOption returns Options[key] when it is an integer, otherwise def.
func (e ProviderEntry) IntOption(key string, def int) int {
	switch v := e.Options[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// FloatOption returns Options[key] when it is a number, otherwise def.
func (e ProviderEntry) FloatOption(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}
