package llmgw

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
)

// AnyLLMProvider implements [Provider] by wrapping
// github.com/mozilla-ai/any-llm-go, backing both the cloud and local LLM
// families named in SPEC_FULL.md §4.4.1 ("cloud" → openai/anthropic,
// "local" → ollama) behind a single plain-text streaming contract.
type AnyLLMProvider struct {
	backend anyllmlib.Provider
	model   string
}

// NewCloudProvider constructs an AnyLLMProvider backed by the given cloud
// sub-provider name ("openai" or "anthropic").
func NewCloudProvider(subProvider, model string, opts ...anyllmlib.Option) (*AnyLLMProvider, error) {
	backend, err := createCloudBackend(subProvider, opts...)
	if err != nil {
		return nil, fmt.Errorf("llmgw: create cloud backend %q: %w", subProvider, err)
	}
	return &AnyLLMProvider{backend: backend, model: model}, nil
}

// NewLocalProvider constructs an AnyLLMProvider backed by Ollama, reading
// OLLAMA_BASE_URL via opts if the caller wants a non-default host.
func NewLocalProvider(model string, opts ...anyllmlib.Option) (*AnyLLMProvider, error) {
	backend, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("llmgw: create local backend: %w", err)
	}
	return &AnyLLMProvider{backend: backend, model: model}, nil
}

func createCloudBackend(subProvider string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(subProvider) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported cloud sub-provider %q; supported: openai, anthropic", subProvider)
	}
}

// StreamCompletion implements [Provider].
func (p *AnyLLMProvider) StreamCompletion(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	params := p.buildParams(req)

	backendChunks, backendErrs := p.backend.CompletionStream(ctx, params)

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			out := Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}
			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}
		if err := <-backendErrs; err != nil {
			select {
			case ch <- Chunk{Err: fmt.Errorf("llmgw: any-llm stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

func (p *AnyLLMProvider) buildParams(req ChatRequest) anyllmlib.CompletionParams {
	var messages []anyllmlib.Message
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content, Name: m.Name})
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	return params
}
