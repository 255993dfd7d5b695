// Command voxbridged is the main entry point for the VoxBridge real-time
// voice conversation server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxbridge/voxbridge/internal/audio"
	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/controller"
	"github.com/voxbridge/voxbridge/internal/domain"
	"github.com/voxbridge/voxbridge/internal/health"
	"github.com/voxbridge/voxbridge/internal/llmgw"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/resilience"
	"github.com/voxbridge/voxbridge/internal/sessionmgr"
	"github.com/voxbridge/voxbridge/internal/store"
	"github.com/voxbridge/voxbridge/internal/sttgw"
	"github.com/voxbridge/voxbridge/internal/transport"
	"github.com/voxbridge/voxbridge/internal/ttsgw"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxbridged: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownMeter, err := observe.InitMeterProvider(observe.ProviderConfig{ServiceName: cfg.Metrics.ServiceName})
	if err != nil {
		slog.Error("failed to initialize meter provider", "error", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	st, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to build store", "error", err)
		return 1
	}
	defer closeStore()

	if cfg.Server.AgentSeedFile != "" {
		if mem, ok := st.(*store.MemStore); ok {
			if err := store.LoadSeedFile(ctx, cfg.Server.AgentSeedFile, mem.PutAgent); err != nil {
				slog.Error("failed to load agent seed file", "path", cfg.Server.AgentSeedFile, "error", err)
				return 1
			}
		} else {
			slog.Warn("AGENT_SEED_FILE set but a Postgres store is configured; seeding is a MemStore-only convenience, ignoring", "path", cfg.Server.AgentSeedFile)
		}
	}

	llm, err := buildLLMGateway(cfg.LLM, metrics)
	if err != nil {
		slog.Error("failed to build LLM gateway", "error", err)
		return 1
	}

	mgr := sessionmgr.New(ctx, st, sessionmgr.Config{
		CacheTTL:        cfg.Context.CacheTTL,
		MaxTurns:        cfg.Context.MaxTurns,
		CleanupInterval: cfg.Context.CacheCleanupInterval,
	})
	defer mgr.Stop()

	observerBus := controller.NewObserverBus(cfg.Observer.BufferFrames)

	ctrlCfg := controller.Config{
		SentenceMode:      sentenceMode(cfg.Sentence),
		MinSentenceLength: cfg.Sentence.MinSentenceLength,
		LLMTotalTimeout:   cfg.LLM.Timeout,
		MaxContextTurns:   cfg.Context.MaxTurns,
	}

	srv := transport.New(sessionFactory(cfg, mgr, llm, observerBus, metrics, ctrlCfg))

	mux := http.NewServeMux()
	srv.Register(mux)
	registerHealth(mux, st)

	httpSrv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: metricsMux,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.Info("voxbridge listening", "addr", cfg.Server.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("session server: %w", err)
		}
	}()
	go func() {
		slog.Info("metrics listening", "addr", cfg.Metrics.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-errCh:
		slog.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := shutdownMeter(); err != nil {
		slog.Warn("meter provider shutdown error", "error", err)
	}

	slog.Info("goodbye")
	return 0
}

// sessionFactory closes over the process-wide collaborators (session
// manager, LLM gateway, observer bus, metrics) and builds one session's
// complete pipeline — STT session, TTS gateway, and Controller — per
// incoming connection, wired together the way the Controller's two-phase
// AttachSTT/AttachTTS construction requires.
func sessionFactory(cfg *config.Config, mgr *sessionmgr.Manager, llm *llmgw.Gateway, observerBus *controller.ObserverBus, metrics *observe.Metrics, ctrlCfg controller.Config) transport.SessionFactory {
	return func(ctx context.Context, sessionID, userID, agentID, format string, sourceRate, sourceChannels int, emit controller.Emitter) (*controller.Controller, func(), error) {
		sess, err := mgr.GetOrCreate(ctx, sessionID, userID, agentID, domain.ChannelWeb)
		if err != nil {
			return nil, nil, err
		}

		dec, err := transport.DecoderForFormat(format, sourceRate, sourceChannels)
		if err != nil {
			return nil, nil, err
		}

		agent, err := mgr.GetAgent(ctx, sess.ID)
		if err != nil {
			return nil, nil, err
		}

		ctrl := controller.New(sess.ID, userID, dec, audio.Format{SampleRate: sourceRate, Channels: sourceChannels},
			audio.SegmenterConfig{
				MonitorInterval:  cfg.Audio.MonitorInterval,
				SilenceThreshold: cfg.Audio.SilenceThreshold,
				MaxUtterance:     cfg.Audio.MaxUtteranceTime,
			},
			ctrlCfg, mgr, llm, emit, observerBus, metrics)

		sttSession, err := sttgw.New(ctx, sess.ID, sttAudioFormat(format), sttgw.Config{
			URL:               cfg.STT.URL,
			Model:             cfg.STT.Model,
			Language:          cfg.STT.Language,
			ReconnectAttempts: cfg.STT.ReconnectAttempts,
			ReconnectDelay:    cfg.STT.ReconnectDelay,
		}, func(e *domain.Error) {
			slog.Warn("stt session unavailable", "session_id", sess.ID, "error", e)
		})
		if err != nil {
			return nil, nil, err
		}
		ctrl.AttachSTT(sttSession)

		ttsProvider := ttsgw.NewWSProvider(cfg.TTS.URL)
		ttsGateway := ttsgw.New(ctx, ttsProvider, ttsgw.Config{
			Voice:  agent.VoiceID,
			Rate:   orDefault(agent.Rate, 1.0),
			Pitch:  orDefault(agent.Pitch, 1.0),
			Format: "wav",
		}, ttsgw.Callbacks{
			OnStart:    ctrl.OnTTSStart,
			OnChunk:    ctrl.OnTTSChunk,
			OnComplete: ctrl.OnTTSComplete,
			OnFailed:   ctrl.OnTTSFailed,
		}, 16)
		ctrl.AttachTTS(ttsGateway)

		teardown := func() {
			ttsGateway.Close()
			sttSession.Close()
			mgr.Touch(sess.ID)
		}
		return ctrl, teardown, nil
	}
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func sttAudioFormat(format string) sttgw.AudioFormat {
	if format == "opus" {
		return sttgw.FormatOpus
	}
	return sttgw.FormatPCM
}

func sentenceMode(cfg config.SentenceConfig) llmgw.SplitMode {
	if cfg.UseClauseSplitting {
		return llmgw.SplitClause
	}
	return llmgw.SplitSentence
}

// buildStore selects a PostgreSQL-backed store when POSTGRES_DSN is set,
// falling back to an in-memory store for local development.
func buildStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("POSTGRES_DSN not set, using in-memory store (data does not survive a restart)")
		return store.NewMemStore(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store.NewPostgresStore(pool), pool.Close, nil
}

// buildLLMGateway wires the cloud/local/webhook backends named in cfg into
// one [llmgw.Gateway]. Backends with no usable configuration are left nil;
// [llmgw.Gateway] degrades per-agent when its configured backend is absent.
func buildLLMGateway(cfg config.LLMConfig, metrics *observe.Metrics) (*llmgw.Gateway, error) {
	var cloud, local, webhook llmgw.Provider

	if cfg.CloudModel != "" {
		if cfg.CloudAPIKey != "" {
			setProviderAPIKeyEnv(cfg.CloudProvider, cfg.CloudAPIKey)
		}
		var err error
		if cfg.CloudBackend == "openai-direct" {
			cloud, err = llmgw.NewOpenAIProvider(cfg.CloudAPIKey, cfg.CloudModel)
		} else {
			cloud, err = llmgw.NewCloudProvider(cfg.CloudProvider, cfg.CloudModel)
		}
		if err != nil {
			return nil, fmt.Errorf("build cloud llm provider: %w", err)
		}
	}

	if cfg.LocalModel != "" {
		if cfg.OllamaBaseURL != "" {
			os.Setenv("OLLAMA_HOST", cfg.OllamaBaseURL)
		}
		var err error
		local, err = llmgw.NewLocalProvider(cfg.LocalModel)
		if err != nil {
			return nil, fmt.Errorf("build local llm provider: %w", err)
		}
	}

	if cfg.WebhookURL != "" {
		webhook = llmgw.NewWebhookProvider(cfg.WebhookURL, cfg.WebhookTimeout)
	}

	cbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  5,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  3,
		},
	}

	return llmgw.NewGateway(cloud, local, webhook, cbCfg, metrics), nil
}

// setProviderAPIKeyEnv sets the environment variable the backing any-llm-go
// sub-provider reads its credential from. any-llm-go follows each cloud
// vendor's own SDK convention (OPENAI_API_KEY, ANTHROPIC_API_KEY) rather
// than exposing a functional option for it.
func setProviderAPIKeyEnv(provider, key string) {
	switch provider {
	case "anthropic":
		os.Setenv("ANTHROPIC_API_KEY", key)
	default:
		os.Setenv("OPENAI_API_KEY", key)
	}
}

func registerHealth(mux *http.ServeMux, st store.Store) {
	h := health.New(health.Checker{
		Name: "store",
		Check: func(ctx context.Context) error {
			_, err := st.GetAgent(ctx, "__healthcheck__")
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		},
	})
	h.Register(mux)
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
