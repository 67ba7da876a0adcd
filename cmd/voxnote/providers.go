package main

import (
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/voxnote/internal/config"
	"github.com/MrWong99/voxnote/pkg/provider/asr"
	oaiasr "github.com/MrWong99/voxnote/pkg/provider/asr/openai"
	"github.com/MrWong99/voxnote/pkg/provider/asr/whisper"
	"github.com/MrWong99/voxnote/pkg/provider/llm"
	"github.com/MrWong99/voxnote/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/voxnote/pkg/provider/llm/openai"
	"github.com/MrWong99/voxnote/pkg/provider/vad"
	"github.com/MrWong99/voxnote/pkg/provider/vad/energy"
	"github.com/MrWong99/voxnote/pkg/provider/vad/silero"
)

// registerBuiltinProviders wires all built-in engine factories into reg.
// Each factory receives a config.ProviderEntry and constructs the engine
// from the implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("energy", func(entry config.ProviderEntry) (vad.Engine, error) {
		return energy.New(energy.WithGate(entry.FloatOption("gate", energy.DefaultGate))), nil
	})

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		return silero.New(entry.Model)
	})

	// ── ASR ───────────────────────────────────────────────────────────────────

	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Recognizer, error) {
		opts := []whisper.Option{whisper.WithLanguage(entry.StringOption("language", "en"))}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterASR("whisper-native", func(entry config.ProviderEntry) (asr.Recognizer, error) {
		return whisper.NewNative(entry.Model,
			whisper.WithNativeLanguage(entry.StringOption("language", "en")),
			whisper.WithNativeConcurrency(entry.IntOption("concurrency", 1)),
		)
	})

	reg.RegisterASR("openai", func(entry config.ProviderEntry) (asr.Recognizer, error) {
		var opts []oaiasr.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaiasr.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.StringOption("language", ""); lang != "" {
			opts = append(opts, oaiasr.WithLanguage(lang))
		}
		if prompt := entry.StringOption("prompt", ""); prompt != "" {
			opts = append(opts, oaiasr.WithPrompt(prompt))
		}
		if secs := entry.IntOption("timeout_seconds", 0); secs > 0 {
			opts = append(opts, oaiasr.WithTimeout(time.Duration(secs)*time.Second))
		}
		return oaiasr.New(entry.APIKey, entry.Model, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	// openai gets the native client; everything else in anyllm.Supported
	// goes through any-llm-go with optional APIKey and BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.StringOption("organization", ""); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if secs := entry.IntOption("timeout_seconds", 0); secs > 0 {
			opts = append(opts, oaillm.WithTimeout(time.Duration(secs)*time.Second))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range anyllm.Supported {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	for _, kind := range []string{"vad", "asr", "llm"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}
