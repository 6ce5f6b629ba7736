package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tonearm/tonearm/pkg/provider/audioclass"
	"github.com/tonearm/tonearm/pkg/provider/embeddings"
	"github.com/tonearm/tonearm/pkg/provider/fingerprint"
	"github.com/tonearm/tonearm/pkg/provider/llm"
	"github.com/tonearm/tonearm/pkg/provider/stt"
	"github.com/tonearm/tonearm/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	llm         map[string]func(ProviderEntry) (llm.Provider, error)
	stt         map[string]func(ProviderEntry) (stt.Provider, error)
	embeddings  map[string]func(ProviderEntry) (embeddings.Provider, error)
	vad         map[string]func(ProviderEntry) (vad.Engine, error)
	audioClass  map[string]func(ProviderEntry) (audioclass.Classifier, error)
	fingerprint map[string]func(ProviderEntry) (fingerprint.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:         make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:         make(map[string]func(ProviderEntry) (stt.Provider, error)),
		embeddings:  make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
		vad:         make(map[string]func(ProviderEntry) (vad.Engine, error)),
		audioClass:  make(map[string]func(ProviderEntry) (audioclass.Classifier, error)),
		fingerprint: make(map[string]func(ProviderEntry) (fingerprint.Provider, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterAudioClass registers an audio classifier factory under name.
func (r *Registry) RegisterAudioClass(name string, factory func(ProviderEntry) (audioclass.Classifier, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audioClass[name] = factory
}

// RegisterFingerprint registers a fingerprint provider factory under name.
func (r *Registry) RegisterFingerprint(name string, factory func(ProviderEntry) (fingerprint.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fingerprint[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings instantiates an embeddings provider using the factory registered under entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVAD instantiates a VAD engine using the factory registered under entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudioClass instantiates an audio classifier using the factory registered under entry.Name.
func (r *Registry) CreateAudioClass(entry ProviderEntry) (audioclass.Classifier, error) {
	r.mu.RLock()
	factory, ok := r.audioClass[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: audio_class/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateFingerprint instantiates a fingerprint provider using the factory registered under entry.Name.
func (r *Registry) CreateFingerprint(entry ProviderEntry) (fingerprint.Provider, error) {
	r.mu.RLock()
	factory, ok := r.fingerprint[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: fingerprint/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
