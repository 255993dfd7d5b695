package llmgw

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// maxWebhookLineBytes bounds a single streamed line to guard against a
// misbehaving webhook that never sends a newline.
const maxWebhookLineBytes = 1 << 20

// WebhookProvider implements [Provider] by POSTing the full context to a
// user-operated HTTP endpoint and reading its response as newline-delimited
// JSON fragments. It deliberately skips any SDK: this streaming contract is
// this specification's own, not a third-party API with an SDK to model
// (see DESIGN.md).
type WebhookProvider struct {
	url        string
	httpClient *http.Client
}

// NewWebhookProvider constructs a WebhookProvider posting to url with the
// given per-request timeout.
func NewWebhookProvider(url string, timeout time.Duration) *WebhookProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookProvider{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type webhookRequest struct {
	SystemPrompt string    `json:"system_prompt"`
	Messages     []Message `json:"messages"`
	Temperature  float64   `json:"temperature,omitempty"`
}

// webhookFragment is one line of the webhook's newline-delimited JSON
// response stream. Done marks the final line; the text on that line (if
// any) is still part of the response.
type webhookFragment struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// StreamCompletion implements [Provider] against the webhook's
// newline-delimited JSON streaming contract.
func (p *WebhookProvider) StreamCompletion(ctx context.Context, req ChatRequest) (<-chan Chunk, error) {
	body, err := json.Marshal(webhookRequest{
		SystemPrompt: req.SystemPrompt,
		Messages:     req.Messages,
		Temperature:  req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("llmgw: marshal webhook request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmgw: build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	ch := make(chan Chunk)
	go func() {
		defer close(ch)

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			ch <- Chunk{Err: fmt.Errorf("llmgw: webhook request: %w", err)}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			ch <- Chunk{Err: fmt.Errorf("llmgw: webhook returned status %d", resp.StatusCode)}
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 4096), maxWebhookLineBytes)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var frag webhookFragment
			if err := json.Unmarshal(line, &frag); err != nil {
				select {
				case ch <- Chunk{Err: fmt.Errorf("llmgw: parse webhook fragment: %w", err)}:
				case <-ctx.Done():
				}
				return
			}
			finish := ""
			if frag.Done {
				finish = "stop"
			}
			select {
			case ch <- Chunk{Text: frag.Text, FinishReason: finish}:
			case <-ctx.Done():
				return
			}
			if frag.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			select {
			case ch <- Chunk{Err: fmt.Errorf("llmgw: read webhook response: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}
