package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voxnote/pkg/provider/asr"
	"github.com/MrWong99/voxnote/pkg/provider/llm"
	"github.com/MrWong99/voxnote/pkg/provider/vad"
)

// ErrProviderNotRegistered means a config entry names a provider that no
// factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider from its config entry.
type Factory[T any] func(ProviderEntry) (T, error)

// factories is one kind's name-to-factory table.
type factories[T any] struct {
	kind   string
	mu     sync.RWMutex
	byName map[string]Factory[T]
}

func (f *factories[T]) register(name string, fn Factory[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byName == nil {
		f.byName = map[string]Factory[T]{}
	}
	f.byName[name] = fn
}

func (f *factories[T]) create(e ProviderEntry) (T, error) {
	f.mu.RLock()
	fn, ok := f.byName[e.Name]
	f.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %q (have %v)", ErrProviderNotRegistered, f.kind, e.Name, f.names())
	}
	return fn(e)
}

func (f *factories[T]) names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Sorted(maps.Keys(f.byName))
}

// Registry resolves the provider names used in [ProvidersConfig] to
// constructors. Registering a name twice replaces the first factory. It is
// safe for concurrent use.
type Registry struct {
	vad factories[vad.Engine]
	asr factories[asr.Recognizer]
	llm factories[llm.Provider]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.vad.kind, r.asr.kind, r.llm.kind = "vad", "asr", "llm"
	return r
}

func (r *Registry) RegisterVAD(name string, fn Factory[vad.Engine])     { r.vad.register(name, fn) }
func (r *Registry) RegisterASR(name string, fn Factory[asr.Recognizer]) { r.asr.register(name, fn) }
func (r *Registry) RegisterLLM(name string, fn Factory[llm.Provider])   { r.llm.register(name, fn) }

// CreateVAD builds the VAD engine named by e.Name.
func (r *Registry) CreateVAD(e ProviderEntry) (vad.Engine, error) { return r.vad.create(e) }

// CreateASR builds the recognizer named by e.Name.
func (r *Registry) CreateASR(e ProviderEntry) (asr.Recognizer, error) { return r.asr.create(e) }

// CreateLLM builds the completion provider named by e.Name.
func (r *Registry) CreateLLM(e ProviderEntry) (llm.Provider, error) { return r.llm.create(e) }

// Names lists the registered names of kind "vad", "asr" or "llm", sorted.
func (r *Registry) Names(kind string) []string {
	switch kind {
	case "vad":
		return r.vad.names()
	case "asr":
		return r.asr.names()
	case "llm":
		return r.llm.names()
	}
	return nil
}
