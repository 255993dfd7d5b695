package config_test

import (
	"context"
	"errors"
	"testing"

	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/llmgw"
)

type stubProvider struct{}

func (stubProvider) StreamCompletion(ctx context.Context, req llmgw.ChatRequest) (<-chan llmgw.Chunk, error) {
	return nil, nil
}

func TestRegistry_CreateLLM_NotRegistered(t *testing.T) {
	r := config.NewRegistry()
	_, err := r.CreateLLM("cloud", config.LLMConfig{})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_RegisterAndCreateLLM(t *testing.T) {
	r := config.NewRegistry()
	r.RegisterLLM("cloud", func(cfg config.LLMConfig) (llmgw.Provider, error) {
		return stubProvider{}, nil
	})
	p, err := r.CreateLLM("cloud", config.LLMConfig{})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if p == nil {
		t.Fatal("provider is nil")
	}
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	r := config.NewRegistry()
	r.RegisterLLM("cloud", func(config.LLMConfig) (llmgw.Provider, error) {
		return nil, errors.New("first")
	})
	r.RegisterLLM("cloud", func(config.LLMConfig) (llmgw.Provider, error) {
		return nil, errors.New("second")
	})
	_, err := r.CreateLLM("cloud", config.LLMConfig{})
	if err.Error() != "second" {
		t.Fatalf("err = %v, want second", err)
	}
}
