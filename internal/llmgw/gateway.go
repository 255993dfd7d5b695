package llmgw

import (
	"context"
	"fmt"

	"github.com/voxbridge/voxbridge/internal/domain"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/resilience"
)

// Gateway routes a turn's context to the agent's configured LLM backend and
// falls back to the webhook backend, once, if the primary connection cannot
// be established (SPEC_FULL.md §4.4, Open Question decision in DESIGN.md:
// the webhook fallback resends the full context, not just the final user
// message).
type Gateway struct {
	webhook Provider // nil if LLM_WEBHOOK_URL is unset

	// groups holds one FallbackGroup per routable backend name ("cloud",
	// "local", "webhook"), each with its own dedicated circuit breaker so
	// one backend tripping open doesn't affect another. A group is only
	// present when its primary provider is configured.
	groups map[string]*resilience.FallbackGroup[Provider]

	metrics *observe.Metrics
}

// NewGateway constructs a Gateway. cloud and local may be nil if the
// corresponding backend was not configured; webhook may be nil if no
// fallback is configured. cbCfg configures the circuit breaker created for
// every backend entry.
func NewGateway(cloud, local, webhook Provider, cbCfg resilience.FallbackConfig, metrics *observe.Metrics) *Gateway {
	groups := make(map[string]*resilience.FallbackGroup[Provider])

	if cloud != nil {
		g := resilience.NewFallbackGroup(cloud, "cloud", cbCfg)
		if webhook != nil {
			g.AddFallback("webhook", webhook)
		}
		groups["cloud"] = g
	}
	if local != nil {
		g := resilience.NewFallbackGroup(local, "local", cbCfg)
		if webhook != nil {
			g.AddFallback("webhook", webhook)
		}
		groups["local"] = g
	}
	if webhook != nil {
		groups["webhook"] = resilience.NewFallbackGroup(webhook, "webhook", cbCfg)
	}

	return &Gateway{webhook: webhook, groups: groups, metrics: metrics}
}

// BuildContext assembles a [ChatRequest] from an agent's system prompt,
// recent turn history, and the latest user utterance.
func BuildContext(agent domain.Agent, history []domain.Turn, userText string) ChatRequest {
	messages := make([]Message, 0, len(history)+1)
	for _, t := range history {
		role := "user"
		if t.Role == domain.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, Message{Role: role, Content: t.Text})
	}
	messages = append(messages, Message{Role: "user", Content: userText})

	return ChatRequest{
		SystemPrompt: agent.SystemPrompt,
		Messages:     messages,
		Temperature:  agent.Temperature,
	}
}

// Stream starts a completion for req, routed through the FallbackGroup named
// by primaryFor: agent.UseWebhook forces webhook routing regardless of
// agent.LLMProvider (SPEC_FULL.md §3, §4.4); otherwise the group is chosen by
// agent.LLMProvider, falling back to the webhook backend once if the primary
// connection cannot be established.
func (g *Gateway) Stream(ctx context.Context, agent domain.Agent, req ChatRequest) (<-chan Chunk, error) {
	name, err := g.primaryFor(agent)
	if err != nil {
		return nil, err
	}

	group, ok := g.groups[name]
	if !ok {
		return nil, domain.NewError(domain.KindLLMUnavailable, "llmgw.Stream", fmt.Errorf("%s backend not configured", name))
	}

	ch, err := resilience.ExecuteWithResult(group, func(p Provider) (<-chan Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
	if err != nil {
		return nil, domain.NewError(domain.KindLLMUnavailable, "llmgw.Stream", err)
	}
	return ch, nil
}

// primaryFor returns the backend name to route to. An agent with
// use_webhook=true always routes to the webhook backend regardless of its
// llm_provider tag (SPEC_FULL.md §3 Data Model, §4.4).
func (g *Gateway) primaryFor(agent domain.Agent) (string, error) {
	if agent.UseWebhook {
		if g.webhook == nil {
			return "", domain.NewError(domain.KindLLMUnavailable, "llmgw.primaryFor", fmt.Errorf("use_webhook is set but webhook backend not configured"))
		}
		return "webhook", nil
	}

	switch agent.LLMProvider {
	case domain.LLMProviderCloud:
		return "cloud", nil
	case domain.LLMProviderLocal:
		return "local", nil
	case domain.LLMProviderWebhook:
		return "webhook", nil
	default:
		return "", domain.NewError(domain.KindLLMUnavailable, "llmgw.primaryFor", fmt.Errorf("unknown LLM provider tag %q", agent.LLMProvider))
	}
}
