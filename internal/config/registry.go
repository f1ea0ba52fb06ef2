package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/lingua/pkg/audio/capture"
	"github.com/MrWong99/lingua/pkg/audio/playback"
	"github.com/MrWong99/lingua/pkg/provider/live"
	"github.com/MrWong99/lingua/pkg/provider/llm"
	"github.com/MrWong99/lingua/pkg/provider/transcribe"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	live       map[string]func(ProviderEntry) (live.Provider, error)
	transcribe map[string]func(ProviderEntry) (transcribe.Transcriber, error)
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	capture    map[string]func() (capture.Device, error)
	playback   map[string]func(sampleRate int) (playback.Output, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:       make(map[string]func(ProviderEntry) (live.Provider, error)),
		transcribe: make(map[string]func(ProviderEntry) (transcribe.Transcriber, error)),
		llm:        make(map[string]func(ProviderEntry) (llm.Provider, error)),
		capture:    make(map[string]func() (capture.Device, error)),
		playback:   make(map[string]func(int) (playback.Output, error)),
	}
}

// RegisterLive registers a realtime session provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterTranscriber registers a question-extraction factory under name.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (transcribe.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcribe[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterCapture registers a microphone device factory under name.
func (r *Registry) RegisterCapture(name string, factory func() (capture.Device, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterPlayback registers a sound output factory under name.
func (r *Registry) RegisterPlayback(name string, factory func(sampleRate int) (playback.Output, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playback[name] = factory
}

// CreateLive instantiates a realtime session provider using the factory
// registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	r.mu.RLock()
	factory, ok := r.live[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranscriber instantiates a transcriber using the factory registered under entry.Name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (transcribe.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcribe[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcribe/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCapture opens the factory registered under name.
func (r *Registry) CreateCapture(name string) (capture.Device, error) {
	r.mu.RLock()
	factory, ok := r.capture[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, name)
	}
	return factory()
}

// CreatePlayback opens the output registered under name at sampleRate.
func (r *Registry) CreatePlayback(name string, sampleRate int) (playback.Output, error) {
	r.mu.RLock()
	factory, ok := r.playback[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: playback/%q", ErrProviderNotRegistered, name)
	}
	return factory(sampleRate)
}
