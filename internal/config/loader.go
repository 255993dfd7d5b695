package config

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// validLogLevels and validLogFormats bound the recognized values for their
// respective settings, mirroring the teacher's IsValid enum convention.
var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Load assembles a [Config] from environment variables, substituting
// defaults for anything unset. getenv is injected so tests can supply a map
// instead of the real process environment; production callers pass
// os.Getenv.
func Load(getenv func(string) string) (*Config, error) {
	str := func(key, def string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return def
	}
	ms := func(key string, def time.Duration) time.Duration {
		v := getenv(key)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return time.Duration(n) * time.Millisecond
	}
	secs := func(key string, def time.Duration) time.Duration {
		v := getenv(key)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return time.Duration(n) * time.Second
	}
	mins := func(key string, def time.Duration) time.Duration {
		v := getenv(key)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return time.Duration(n) * time.Minute
	}
	intv := func(key string, def int) int {
		v := getenv(key)
		if v == "" {
			return def
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return def
		}
		return n
	}
	boolv := func(key string, def bool) bool {
		v := getenv(key)
		if v == "" {
			return def
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}

	cfg := &Config{
		Server: ServerConfig{
			ListenAddr:      str("LISTEN_ADDR", ":8080"),
			LogLevel:        str("LOG_LEVEL", "info"),
			LogFormat:       str("LOG_FORMAT", "json"),
			AgentSeedFile:   str("AGENT_SEED_FILE", ""),
			ShutdownTimeout: secs("SHUTDOWN_TIMEOUT_S", 10*time.Second),
		},
		Audio: AudioConfig{
			SilenceThreshold: ms("SILENCE_THRESHOLD_MS", 600*time.Millisecond),
			MaxUtteranceTime: ms("MAX_UTTERANCE_TIME_MS", 45*time.Second),
			BufferMaxBytes:   intv("AUDIO_BUFFER_MAX_BYTES", 524288),
			MonitorInterval:  ms("MONITOR_INTERVAL_MS", 100*time.Millisecond),
		},
		Context: ContextConfig{
			CacheTTL:             mins("CONTEXT_CACHE_TTL_MIN", 15*time.Minute),
			MaxTurns:             intv("CONTEXT_MAX_TURNS", 20),
			CacheCleanupInterval: secs("CACHE_CLEANUP_INTERVAL_S", 60*time.Second),
		},
		STT: STTConfig{
			URL:               str("STT_URL", ""),
			Model:             str("STT_MODEL", ""),
			Language:          str("STT_LANGUAGE", ""),
			ReconnectAttempts: intv("STT_RECONNECT_ATTEMPTS", 5),
			ReconnectDelay:    secs("STT_RECONNECT_DELAY_S", 2*time.Second),
		},
		LLM: LLMConfig{
			Timeout:          secs("LLM_TIMEOUT_S", 120*time.Second),
			StreamingEnabled: boolv("LLM_STREAMING_ENABLED", true),
			FallbackEnabled:  boolv("LLM_FALLBACK_ENABLED", true),
			CloudBackend:     str("LLM_CLOUD_BACKEND", "anyllm"),
			CloudProvider:    str("LLM_CLOUD_PROVIDER", "openai"),
			CloudModel:       str("LLM_CLOUD_MODEL", ""),
			CloudAPIKey:      str("LLM_CLOUD_API_KEY", ""),
			LocalModel:       str("LLM_LOCAL_MODEL", "llama3.1"),
			OllamaBaseURL:    str("OLLAMA_BASE_URL", "http://localhost:11434"),
			WebhookURL:       str("LLM_WEBHOOK_URL", ""),
			WebhookTimeout:   secs("LLM_WEBHOOK_TIMEOUT_S", 30*time.Second),
		},
		TTS: TTSConfig{
			URL:           str("TTS_URL", ""),
			DefaultVoice:  str("TTS_DEFAULT_VOICE", ""),
			SampleRate:    intv("TTS_SAMPLE_RATE", 24000),
			RetryAttempts: intv("TTS_RETRY_ATTEMPTS", 3),
		},
		Sentence: SentenceConfig{
			MinSentenceLength:  intv("MIN_SENTENCE_LENGTH", 2),
			UseClauseSplitting: boolv("USE_CLAUSE_SPLITTING", false),
		},
		Observer: ObserverConfig{
			BufferFrames: intv("OBSERVER_BUFFER_FRAMES", 256),
			WriteTimeout: ms("OBSERVER_WRITE_TIMEOUT_MS", 1000*time.Millisecond),
		},
		Store: StoreConfig{
			PostgresDSN: str("POSTGRES_DSN", ""),
		},
		Metrics: MetricsConfig{
			Addr:        str("METRICS_ADDR", ":9090"),
			ServiceName: str("OTEL_SERVICE_NAME", "voxbridge"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg for a coherent set of values. It returns a joined
// error listing all hard failures; soft issues (missing store DSN, missing
// LLM credentials) are not rejected here, since those configurations are
// usable for local development. Validate logs nothing itself; cmd/voxbridged
// warns about a missing store DSN when it falls back to the in-memory store.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !slices.Contains(validLogLevels, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server: log_level %q is invalid; valid values: %v", cfg.Server.LogLevel, validLogLevels))
	}
	if cfg.Server.LogFormat != "" && !slices.Contains(validLogFormats, cfg.Server.LogFormat) {
		errs = append(errs, fmt.Errorf("server: log_format %q is invalid; valid values: %v", cfg.Server.LogFormat, validLogFormats))
	}

	if cfg.Audio.BufferMaxBytes <= 0 {
		errs = append(errs, errors.New("audio: buffer_max_bytes must be positive"))
	}
	if cfg.Audio.MonitorInterval <= 0 {
		errs = append(errs, errors.New("audio: monitor_interval must be positive"))
	}

	switch cfg.LLM.CloudBackend {
	case "anyllm", "openai-direct":
	default:
		errs = append(errs, fmt.Errorf("llm: cloud_backend %q is invalid; valid values: anyllm, openai-direct", cfg.LLM.CloudBackend))
	}

	return errors.Join(errs...)
}
