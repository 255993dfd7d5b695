// Package domain holds the core VoxBridge data model: agents, sessions, turns,
// utterances, and the event envelope that flows across the session and
// observer channels.
package domain

import "time"

// ChannelType identifies the provenance of a session's transport.
type ChannelType string

const (
	ChannelWeb     ChannelType = "web"
	ChannelDiscord ChannelType = "discord"
	ChannelPlugin  ChannelType = "plugin"
)

// LLMProviderTag selects which LLM backend family a turn is routed to.
type LLMProviderTag string

const (
	LLMProviderCloud   LLMProviderTag = "cloud"
	LLMProviderLocal   LLMProviderTag = "local"
	LLMProviderWebhook LLMProviderTag = "webhook"
)

// Agent is the persistent configuration for a conversational persona. The
// yaml tags serve AGENT_SEED_FILE bootstrap loading; the store itself has no
// schema-specific notion of these field names.
type Agent struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	LLMProvider  LLMProviderTag `yaml:"llm_provider"`
	LLMModel     string         `yaml:"llm_model"`
	Temperature  float64        `yaml:"temperature"`
	SystemPrompt string         `yaml:"system_prompt"`
	UseWebhook   bool           `yaml:"use_webhook"`

	VoiceID string  `yaml:"voice_id"`
	Rate    float64 `yaml:"rate"`
	Pitch   float64 `yaml:"pitch"`

	// Plugins is opaque to the core. Values beginning with "__encrypted__:"
	// must never be logged.
	Plugins map[string]map[string]any `yaml:"plugins"`
}

// Session is a single active conversation with one agent.
type Session struct {
	ID      string
	UserID  string
	AgentID string

	ChannelType ChannelType
	CreatedAt   time.Time
	LastActive  time.Time
	Active      bool
}

// TurnRole identifies which side of the conversation produced a Turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

// Turn is one request/response leg belonging to a session.
type Turn struct {
	ID        int64
	SessionID string
	Role      TurnRole
	Text      string
	CreatedAt time.Time

	STTLatencyMS float64
	LLMLatencyMS float64
	TTSLatencyMS float64
}

// UtteranceEndReason explains why an in-progress utterance was closed.
type UtteranceEndReason string

const (
	ReasonSilence      UtteranceEndReason = "silence"
	ReasonMaxUtterance UtteranceEndReason = "max_utterance"
)

// Kind enumerates the VoxBridge error taxonomy from SPEC_FULL.md §7.
type Kind string

const (
	KindSessionNotFound   Kind = "SessionNotFound"
	KindOwnershipMismatch Kind = "OwnershipMismatch"
	KindAgentNotFound     Kind = "AgentNotFound"
	KindStoreUnavailable  Kind = "StoreUnavailable"
	KindAudioDecodeError  Kind = "AudioDecodeError"
	KindSTTUnavailable    Kind = "STTUnavailable"
	KindSTTReconnecting   Kind = "STTReconnecting"
	KindSTTTimeout        Kind = "STTTimeout"
	KindLLMTimeout        Kind = "LLMTimeout"
	KindLLMUnavailable    Kind = "LLMUnavailable"
	KindLLMAuthError      Kind = "LLMAuthError"
	KindLLMRateLimit      Kind = "LLMRateLimit"
	KindTTSFailure        Kind = "TTSFailure"
)

// Error wraps a lower-level error with a VoxBridge error Kind and the
// operation that produced it. Inspect with errors.As and compare Kind with
// ==, following the sentinel-wrapping idiom rather than one type per kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind) + ": " + e.Op
	}
	return string(e.Kind) + ": " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs an *Error. err may be nil.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Recoverable reports whether the error kind is fatal only for the current
// turn/utterance (true) rather than for the whole session/connection (false).
func (e *Error) Recoverable() bool {
	switch e.Kind {
	case KindSessionNotFound, KindOwnershipMismatch, KindAgentNotFound:
		return false
	default:
		return true
	}
}
