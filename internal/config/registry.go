package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxbridge/voxbridge/internal/llmgw"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory
// has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to constructor functions for each pipeline
// stage. It is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]func(LLMConfig) (llmgw.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{llm: make(map[string]func(LLMConfig) (llmgw.Provider, error))}
}

// RegisterLLM registers an LLM provider factory under name (one of "cloud",
// "local", "webhook", "openai-direct"). Subsequent calls with the same name
// overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(LLMConfig) (llmgw.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under
// name. Returns [ErrProviderNotRegistered] if none was registered.
func (r *Registry) CreateLLM(name string, cfg LLMConfig) (llmgw.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}
