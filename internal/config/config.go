// Package config provides the configuration schema, loader, and provider
// registry for the VoxBridge voice conversation server.
package config

import "time"

// Config is the root, immutable process configuration, assembled once at
// startup from environment variables via [Load].
type Config struct {
	Server   ServerConfig
	Audio    AudioConfig
	Context  ContextConfig
	STT      STTConfig
	LLM      LLMConfig
	TTS      TTSConfig
	Sentence SentenceConfig
	Observer ObserverConfig
	Store    StoreConfig
	Metrics  MetricsConfig
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	ListenAddr      string
	LogLevel        string
	LogFormat       string
	AgentSeedFile   string
	ShutdownTimeout time.Duration
}

// AudioConfig tunes the ingestion buffer and utterance segmentation.
type AudioConfig struct {
	SilenceThreshold time.Duration
	MaxUtteranceTime time.Duration
	BufferMaxBytes   int
	MonitorInterval  time.Duration
}

// ContextConfig tunes the Session Manager's in-memory context cache.
type ContextConfig struct {
	CacheTTL             time.Duration
	MaxTurns             int
	CacheCleanupInterval time.Duration
}

// STTConfig configures the speech-to-text gateway.
type STTConfig struct {
	URL               string
	Model             string
	Language          string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

// LLMConfig configures the LLM gateway's three backend families.
type LLMConfig struct {
	Timeout          time.Duration
	StreamingEnabled bool
	FallbackEnabled  bool
	CloudBackend     string // "anyllm" or "openai-direct"
	CloudProvider    string // e.g. "openai", "anthropic"
	CloudModel       string
	CloudAPIKey      string
	LocalModel       string
	OllamaBaseURL    string
	WebhookURL       string
	WebhookTimeout   time.Duration
}

// TTSConfig configures the text-to-speech gateway.
type TTSConfig struct {
	URL           string
	DefaultVoice  string
	SampleRate    int
	RetryAttempts int
}

// SentenceConfig tunes LLM fragment splitting.
type SentenceConfig struct {
	MinSentenceLength  int
	UseClauseSplitting bool
}

// ObserverConfig tunes the observer event channel.
type ObserverConfig struct {
	BufferFrames int
	WriteTimeout time.Duration
}

// StoreConfig configures persistence.
type StoreConfig struct {
	PostgresDSN string
}

// MetricsConfig configures the Prometheus exporter and OTel resource.
type MetricsConfig struct {
	Addr        string
	ServiceName string
}
