package config

import "time"

// Default values filled in by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8765"
	DefaultStatusAddr     = ":5000"
	DefaultLogFile        = "logs/server.log"
	DefaultSampleRate     = 16000
	DefaultFrameSamples   = 512
	DefaultThreshold      = 0.5
	DefaultPauseFrames    = 60
	DefaultMinSpeech      = 60
	DefaultIdleTimeout    = 10 * time.Minute
	DefaultReapInterval   = 5 * time.Minute
	DefaultMaxTranscripts = 10
	DefaultMaxPending     = 2
	DefaultTriggerHistory = 3
	DefaultClassifyTime   = 30 * time.Second
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 500
	DefaultLowConfidence  = 0.7
	DefaultNotesDir       = "./notes"
	DefaultDateFormat     = "2006-01-02"
	DefaultTempDir        = "output_files"
	DefaultVAD            = "energy"
	DefaultASR            = "whisper"
	DefaultASRURL         = "http://localhost:8080"
	DefaultLLM            = "ollama"
	DefaultLLMModel       = "gemma3:12b"
	DefaultLLMURL         = "http://localhost:11434"
)

// DefaultTriggerPhrases are used when triggers.phrases is empty.
func DefaultTriggerPhrases() []string {
	return []string{"confirm and submit", "process notes", "save that", "add to notes"}
}

// ApplyDefaults fills every unset field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	s.ListenAddr = orString(s.ListenAddr, DefaultListenAddr)
	s.StatusAddr = orString(s.StatusAddr, DefaultStatusAddr)
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}

	l := &cfg.Logging
	l.File = orString(l.File, DefaultLogFile)
	l.MaxSizeMB = orInt(l.MaxSizeMB, 10)
	l.MaxBackups = orInt(l.MaxBackups, 3)
	l.MaxAgeDays = orInt(l.MaxAgeDays, 28)

	cfg.Audio.SampleRate = orInt(cfg.Audio.SampleRate, DefaultSampleRate)
	cfg.Audio.FrameSamples = orInt(cfg.Audio.FrameSamples, DefaultFrameSamples)

	seg := &cfg.Segmenter
	if seg.Threshold == nil {
		t := DefaultThreshold
		seg.Threshold = &t
	}
	seg.PauseThresholdFrames = orInt(seg.PauseThresholdFrames, DefaultPauseFrames)
	if seg.MinSpeechFrames == nil {
		n := DefaultMinSpeech
		seg.MinSpeechFrames = &n
	}

	ss := &cfg.Sessions
	ss.IdleTimeout = orDuration(ss.IdleTimeout, DefaultIdleTimeout)
	ss.ReapInterval = orDuration(ss.ReapInterval, DefaultReapInterval)
	ss.MaxTranscripts = orInt(ss.MaxTranscripts, DefaultMaxTranscripts)
	if ss.MaxPendingCommands == nil {
		n := DefaultMaxPending
		ss.MaxPendingCommands = &n
	}

	if len(cfg.Triggers.Phrases) == 0 {
		cfg.Triggers.Phrases = DefaultTriggerPhrases()
	}
	cfg.Triggers.History = orInt(cfg.Triggers.History, DefaultTriggerHistory)

	c := &cfg.Classifier
	c.Timeout = orDuration(c.Timeout, DefaultClassifyTime)
	c.MaxTokens = orInt(c.MaxTokens, DefaultMaxTokens)
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	if c.LowConfidence == nil {
		lc := DefaultLowConfidence
		c.LowConfidence = &lc
	}

	cfg.Notes.Dir = orString(cfg.Notes.Dir, DefaultNotesDir)
	cfg.Notes.DateFormat = orString(cfg.Notes.DateFormat, DefaultDateFormat)
	cfg.Transcription.TempDir = orString(cfg.Transcription.TempDir, DefaultTempDir)

	p := &cfg.Providers
	p.VAD.Name = orString(p.VAD.Name, DefaultVAD)
	p.ASR.Name = orString(p.ASR.Name, DefaultASR)
	if p.ASR.Name == "whisper" {
		p.ASR.BaseURL = orString(p.ASR.BaseURL, DefaultASRURL)
	}
	if p.LLM.Name == "" {
		p.LLM.Name = DefaultLLM
		p.LLM.Model = orString(p.LLM.Model, DefaultLLMModel)
	}
	if p.LLM.Name == "ollama" {
		p.LLM.BaseURL = orString(p.LLM.BaseURL, DefaultLLMURL)
		p.LLM.Model = orString(p.LLM.Model, DefaultLLMModel)
	}
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
