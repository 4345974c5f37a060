package config

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/vadscribe/pkg/audio/source"
	"github.com/MrWong99/vadscribe/pkg/provider/stt"
	"github.com/MrWong99/vadscribe/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// VADFactory builds a speech scorer engine from its config entry.
type VADFactory func(ProviderEntry) (vad.Engine, error)

// STTFactory builds a transcriber from its config entry and the shared
// decoding parameters.
type STTFactory func(ProviderEntry, stt.Params) (stt.Transcriber, error)

// SourceFactory opens the configured audio stream.
type SourceFactory func(context.Context, StreamConfig) (source.Source, error)

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	vad     map[string]VADFactory
	stt     map[string]STTFactory
	sources map[SourceKind]SourceFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:     make(map[string]VADFactory),
		stt:     make(map[string]STTFactory),
		sources: make(map[SourceKind]SourceFactory),
	}
}

// RegisterVAD registers a VAD engine factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterSTT registers a transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterSource registers a chunk source factory for kind.
func (r *Registry) RegisterSource(kind SourceKind, factory SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[kind] = factory
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates a transcriber using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry, params stt.Params) (stt.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry, params)
}

// OpenSource opens the stream described by cfg with the factory registered
// for cfg.Source.
func (r *Registry) OpenSource(ctx context.Context, cfg StreamConfig) (source.Source, error) {
	r.mu.RLock()
	factory, ok := r.sources[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: source/%q", ErrProviderNotRegistered, cfg.Source)
	}
	return factory(ctx, cfg)
}

// Names returns the sorted names registered for kind ("vad", "stt" or
// "source").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "vad":
		for n := range r.vad {
			names = append(names, n)
		}
	case "stt":
		for n := range r.stt {
			names = append(names, n)
		}
	case "source":
		for n := range r.sources {
			names = append(names, string(n))
		}
	}
	slices.Sort(names)
	return names
}
