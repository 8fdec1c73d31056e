// Package factory constructs STT providers by name so the session
// engine can swap implementations at runtime.
package factory

import (
	"fmt"
	"sort"

	"github.com/GarupanOjisan/voice-summary-sub000/internal/config"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt/google"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt/mock"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt/upload"
	"github.com/GarupanOjisan/voice-summary-sub000/internal/stt/whisper"
)

// Constructor builds a provider from its configuration.
type Constructor func(cfg config.ProviderConfig) stt.Provider

// Factory creates providers from a named registry.
type Factory struct {
	cfg          *config.Config
	constructors map[string]Constructor
}

// New creates a factory with the built-in providers registered.
func New(cfg *config.Config) *Factory {
	f := &Factory{
		cfg:          cfg,
		constructors: make(map[string]Constructor),
	}
	f.Register("mock", func(config.ProviderConfig) stt.Provider { return mock.New() })
	f.Register("google", func(pc config.ProviderConfig) stt.Provider { return google.New(pc) })
	f.Register("voxtral", func(pc config.ProviderConfig) stt.Provider { return upload.New(pc) })
	f.Register("whisper", func(pc config.ProviderConfig) stt.Provider { return whisper.New(pc) })
	return f
}

// Register adds or replaces a named constructor.
func (f *Factory) Register(name string, c Constructor) {
	f.constructors[name] = c
}

// Create builds a new, uninitialized provider instance.
func (f *Factory) Create(name string) (stt.Provider, error) {
	c, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("unknown stt provider %q (available: %v)", name, f.Names())
	}
	return c(f.cfg.Provider(name)), nil
}

// Known reports whether a provider name is registered.
func (f *Factory) Known(name string) bool {
	_, ok := f.constructors[name]
	return ok
}

// Names returns the registered provider names, sorted.
func (f *Factory) Names() []string {
	names := make([]string, 0, len(f.constructors))
	for name := range f.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
