// Package ttsgw synthesizes sentence text into audio and streams the result
// back in per-session FIFO order: one sentence is ever in flight for a given
// session, matching the transport's single ordered outbound queue.
package ttsgw

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
)

// Request is the input to a single synthesis call.
type Request struct {
	Text   string
	Voice  string
	Rate   float64
	Pitch  float64
	Format string // e.g. "wav"
}

// Metadata is the final record of a completed synthesis.
type Metadata struct {
	DurationMS float64
	SampleRate int
}

// Event is one piece of a streamed synthesis. Exactly one of Chunk, Meta, or
// Err is set. Meta or Err, whichever arrives, is always the terminal event.
type Event struct {
	Chunk []byte
	Meta  *Metadata
	Err   error
}

// Provider synthesizes text into a stream of audio chunks terminated by a
// [Metadata] record.
type Provider interface {
	Synthesize(ctx context.Context, req Request) (<-chan Event, error)
}

// wsRequest is the JSON control message sent once a synthesis connection is
// established.
type wsRequest struct {
	Text   string  `json:"text"`
	Voice  string  `json:"voice"`
	Rate   float64 `json:"rate,omitempty"`
	Pitch  float64 `json:"pitch,omitempty"`
	Format string  `json:"format"`
}

// wsMetadata is the JSON shape of the final, non-binary message on a
// synthesis connection.
type wsMetadata struct {
	Type       string  `json:"type"`
	DurationMS float64 `json:"duration_ms"`
	SampleRate int     `json:"sample_rate"`
}

// WSProvider implements [Provider] by opening one WebSocket connection per
// synthesis call against a TTS engine: send the request as a text frame,
// then read binary audio frames until a terminal "complete" text frame
// carries the duration/sample-rate metadata.
type WSProvider struct {
	url string
}

// NewWSProvider constructs a WSProvider dialing url for each Synthesize call.
func NewWSProvider(url string) *WSProvider {
	return &WSProvider{url: url}
}

func (p *WSProvider) Synthesize(ctx context.Context, req Request) (<-chan Event, error) {
	conn, _, err := websocket.Dial(ctx, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("ttsgw: dial: %w", err)
	}

	body, err := json.Marshal(wsRequest{
		Text:   req.Text,
		Voice:  req.Voice,
		Rate:   req.Rate,
		Pitch:  req.Pitch,
		Format: req.Format,
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "marshal request")
		return nil, fmt.Errorf("ttsgw: marshal request: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, body); err != nil {
		conn.Close(websocket.StatusInternalError, "send request")
		return nil, fmt.Errorf("ttsgw: send request: %w", err)
	}

	ch := make(chan Event)
	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "synthesis complete")
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				select {
				case ch <- Event{Err: fmt.Errorf("ttsgw: read: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			if typ == websocket.MessageBinary {
				select {
				case ch <- Event{Chunk: data}:
				case <-ctx.Done():
					return
				}
				continue
			}
			var meta wsMetadata
			if err := json.Unmarshal(data, &meta); err != nil {
				select {
				case ch <- Event{Err: fmt.Errorf("ttsgw: parse metadata: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case ch <- Event{Meta: &Metadata{DurationMS: meta.DurationMS, SampleRate: meta.SampleRate}}:
			case <-ctx.Done():
			}
			return
		}
	}()

	return ch, nil
}
