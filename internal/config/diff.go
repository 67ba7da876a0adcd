package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are applied; changes to
// anything else are listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TriggersChanged bool
	NewTriggers     TriggersConfig

	LowConfidenceChanged bool
	NewLowConfidence     float64

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TriggersChanged && !d.LowConfidenceChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed. Both configs
// are expected to have defaults applied.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Triggers.Phrases, new.Triggers.Phrases) ||
		old.Triggers.Fuzzy != new.Triggers.Fuzzy ||
		old.Triggers.History != new.Triggers.History {
		d.TriggersChanged = true
		d.NewTriggers = new.Triggers
	}

	if lc := floatOr(new.Classifier.LowConfidence, DefaultLowConfidence); lc != floatOr(old.Classifier.LowConfidence, DefaultLowConfidence) {
		d.LowConfidenceChanged = true
		d.NewLowConfidence = lc
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		old.Server.StatusAddr != new.Server.StatusAddr ||
		!slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Logging != new.Logging {
		d.RestartRequired = append(d.RestartRequired, "logging")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !segmenterEqual(old.Segmenter, new.Segmenter) {
		d.RestartRequired = append(d.RestartRequired, "segmenter")
	}
	if !sessionsEqual(old.Sessions, new.Sessions) {
		d.RestartRequired = append(d.RestartRequired, "sessions")
	}
	if !classifierEqual(old.Classifier, new.Classifier) {
		d.RestartRequired = append(d.RestartRequired, "classifier")
	}
	if old.Notes != new.Notes {
		d.RestartRequired = append(d.RestartRequired, "notes")
	}
	if old.Transcription != new.Transcription {
		d.RestartRequired = append(d.RestartRequired, "transcription")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	return d
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func segmenterEqual(a, b SegmenterConfig) bool {
	return floatOr(a.Threshold, DefaultThreshold) == floatOr(b.Threshold, DefaultThreshold) &&
		a.PauseThresholdFrames == b.PauseThresholdFrames &&
		intOr(a.MinSpeechFrames, DefaultMinSpeech) == intOr(b.MinSpeechFrames, DefaultMinSpeech)
}

func sessionsEqual(a, b SessionsConfig) bool {
	return a.IdleTimeout == b.IdleTimeout &&
		a.ReapInterval == b.ReapInterval &&
		a.MaxSessions == b.MaxSessions &&
		a.MaxTranscripts == b.MaxTranscripts &&
		intOr(a.MaxPendingCommands, DefaultMaxPending) == intOr(b.MaxPendingCommands, DefaultMaxPending)
}

// classifierEqual ignores LowConfidence, which is hot-reloadable.
func classifierEqual(a, b ClassifierConfig) bool {
	return a.Timeout == b.Timeout &&
		floatOr(a.Temperature, DefaultTemperature) == floatOr(b.Temperature, DefaultTemperature) &&
		a.MaxTokens == b.MaxTokens &&
		a.PromptFile == b.PromptFile &&
		a.JSONMode == b.JSONMode &&
		a.MaxFailures == b.MaxFailures &&
		a.ResetTimeout == b.ResetTimeout
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.VAD, b.VAD) &&
		entryEqual(a.ASR, b.ASR) &&
		entryEqual(a.LLM, b.LLM) &&
		slices.EqualFunc(a.ASRFallbacks, b.ASRFallbacks, entryEqual) &&
		slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, entryEqual)
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		if w, ok := b.Options[k]; !ok || !scalarEqual(v, w) {
			return false
		}
	}
	return true
}

// scalarEqual compares YAML scalars; nested values are considered changed.
func scalarEqual(a, b any) bool {
	switch a.(type) {
	case string, bool, int, int64, float64, nil:
		return a == b
	}
	return false
}
