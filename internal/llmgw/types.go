// Package llmgw turns a session's conversation history into a streamed
// assistant reply: it builds the per-turn context, routes it to the agent's
// configured backend (cloud, local, or webhook), and splits the streamed
// text into sentence-level fragments for the TTS gateway to consume.
package llmgw

import "context"

// Message is one turn of conversation history handed to a [Provider].
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content string
	Name    string
}

// ChatRequest is the input to a streamed completion call.
type ChatRequest struct {
	SystemPrompt string
	Messages     []Message
	Temperature  float64
}

// Chunk is one piece of a streamed completion. FinishReason is non-empty only
// on the terminal chunk of a stream.
type Chunk struct {
	Text         string
	FinishReason string
	Err          error
}

// Provider streams a chat completion. Implementations must close the
// returned channel when the stream ends, whether successfully or with an
// error recorded on the final [Chunk].
type Provider interface {
	StreamCompletion(ctx context.Context, req ChatRequest) (<-chan Chunk, error)
}
