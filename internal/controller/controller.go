package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxbridge/voxbridge/internal/audio"
	"github.com/voxbridge/voxbridge/internal/domain"
	"github.com/voxbridge/voxbridge/internal/llmgw"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/sessionmgr"
	"github.com/voxbridge/voxbridge/internal/sttgw"
	"github.com/voxbridge/voxbridge/internal/ttsgw"
)

// LLMStreamer is the subset of [*llmgw.Gateway] the controller depends on.
// Exists so tests can substitute a stub.
type LLMStreamer interface {
	Stream(ctx context.Context, agent domain.Agent, req llmgw.ChatRequest) (<-chan llmgw.Chunk, error)
}

// TTSSubmitter is the subset of [*ttsgw.Gateway] the controller depends on.
type TTSSubmitter interface {
	Submit(s ttsgw.Sentence) error
}

// STTSource is the subset of [*sttgw.Session] the controller depends on.
type STTSource interface {
	Events() <-chan sttgw.Event
	Send(chunk []byte) error
}

// Config tunes a Controller's sentence-splitting and timeout behaviour.
type Config struct {
	SentenceMode      llmgw.SplitMode
	MinSentenceLength int

	// LLMTotalTimeout bounds one turn's whole LLM exchange.
	LLMTotalTimeout time.Duration
	// LLMFragmentTimeout bounds the quiet period between fragments.
	LLMFragmentTimeout time.Duration

	MaxContextTurns int
}

func (c Config) withDefaults() Config {
	if c.LLMTotalTimeout <= 0 {
		c.LLMTotalTimeout = 120 * time.Second
	}
	if c.LLMFragmentTimeout <= 0 {
		c.LLMFragmentTimeout = 30 * time.Second
	}
	if c.MaxContextTurns <= 0 {
		c.MaxContextTurns = 20
	}
	return c
}

// Controller is the per-session state machine driving one conversation
// through ingestion, STT, LLM, and TTS. It is the spine described in
// SPEC_FULL.md §4.6: it owns the state transitions, persists turns through
// the session manager, and publishes events to both the session's own
// transport and the process-wide observer bus.
type Controller struct {
	sessionID string
	userID    string
	cfg       Config

	sessions *sessionmgr.Manager
	llm      LLMStreamer
	emit     Emitter
	observer *ObserverBus
	metrics  *observe.Metrics
	agg      *Aggregator

	Ingestor  *audio.Ingestor
	Segmenter *audio.Segmenter

	mu          sync.Mutex
	state       State
	turnSeq     int
	stt         STTSource
	tts         TTSSubmitter
	llmText     strings.Builder
	sentenceSeq int
	pending     int
	llmDone     bool
	turnCtx     context.Context
	cancelTurn  context.CancelFunc

	utteranceStartAt time.Time
	firstAudioSentAt time.Time

	eg *errgroup.Group
}

// New constructs a Controller in the idle state. Ingestor/Segmenter are
// exposed so the transport layer can feed raw audio chunks directly into
// c.Ingestor.Push; the Controller wires the segmenter's callbacks to its
// own state transitions.
func New(sessionID, userID string, format audio.Decoder, targetFormat audio.Format, sessionCfg audio.SegmenterConfig, cfg Config, sessions *sessionmgr.Manager, llm LLMStreamer, emit Emitter, observer *ObserverBus, metrics *observe.Metrics) *Controller {
	c := &Controller{
		sessionID: sessionID,
		userID:    userID,
		cfg:       cfg.withDefaults(),
		sessions:  sessions,
		llm:       llm,
		emit:      emit,
		observer:  observer,
		metrics:   metrics,
		agg:       NewAggregator(),
		state:     StateIdle,
	}

	c.Segmenter = audio.NewSegmenter(sessionCfg)
	c.Segmenter.OnUtteranceStart = c.onUtteranceStart
	c.Segmenter.OnUtteranceEnd = c.onUtteranceEnd

	c.Ingestor = audio.NewIngestor(format, targetFormat, c.onPCM)

	eg, _ := errgroup.WithContext(context.Background())
	c.eg = eg

	return c
}

// AttachSTT wires the live STT session. Must be called before PushAudio.
// The transcript consumer runs under the session's task group, supervised
// the way SPEC_FULL.md §5 describes per-session task groups.
func (c *Controller) AttachSTT(stt STTSource) {
	c.mu.Lock()
	c.stt = stt
	c.mu.Unlock()
	c.eg.Go(func() error {
		c.consumeSTT(stt)
		return nil
	})
}

// AttachTTS wires the live TTS gateway. Its Callbacks should reference
// c.OnTTSStart/OnTTSChunk/OnTTSComplete/OnTTSFailed.
func (c *Controller) AttachTTS(tts TTSSubmitter) {
	c.mu.Lock()
	c.tts = tts
	c.mu.Unlock()
}

// SessionID returns the id of the session this Controller drives. It never
// changes after New.
func (c *Controller) SessionID() string { return c.sessionID }

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PushAudio feeds one raw container chunk from the client into the
// ingestion pipeline. Every push advances the segmenter's last-audio
// timestamp, whether or not the chunk yields any PCM.
func (c *Controller) PushAudio(chunk []byte) {
	c.Segmenter.Touch(context.Background())
	c.Ingestor.Push(chunk)
}

func (c *Controller) onPCM(pcm []byte) {
	c.mu.Lock()
	stt := c.stt
	c.mu.Unlock()
	if stt == nil {
		return
	}
	if err := stt.Send(pcm); err != nil {
		slog.Warn("controller: failed to send audio upstream", "session_id", c.sessionID, "error", err)
	}
}

func (c *Controller) onUtteranceStart() {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateListening
	c.utteranceStartAt = time.Now()
	c.mu.Unlock()

	c.emitBoth(Event{Type: "utterance_start", Data: map[string]any{}})
}

func (c *Controller) onUtteranceEnd(reason domain.UtteranceEndReason, elapsed time.Duration) {
	c.mu.Lock()
	if c.state != StateListening {
		c.mu.Unlock()
		return
	}
	c.state = StateFinalizing
	c.mu.Unlock()

	data := map[string]any{"reason": string(reason)}
	if reason == domain.ReasonSilence {
		data["silence_ms"] = elapsed.Milliseconds()
	} else {
		data["elapsed_ms"] = elapsed.Milliseconds()
	}
	c.emitBoth(Event{Type: "stop_listening", Data: data})
}

func (c *Controller) consumeSTT(stt STTSource) {
	for ev := range stt.Events() {
		switch ev.Type {
		case sttgw.EventPartial:
			c.handlePartial(ev)
		case sttgw.EventFinal:
			c.handleFinal(ev)
		case sttgw.EventError:
			c.fail(domain.NewError(domain.KindSTTTimeout, "controller.consumeSTT", fmt.Errorf("%s", ev.Text)))
		case sttgw.EventSilence:
			// The segmenter owns silence detection; an upstream silence
			// notification needs no action here.
		}
	}
}

func (c *Controller) handlePartial(ev sttgw.Event) {
	c.mu.Lock()
	inWindow := c.state == StateListening || c.state == StateFinalizing
	c.mu.Unlock()
	if !inWindow {
		return
	}
	c.emitBoth(Event{Type: "partial_transcript", Data: map[string]any{"text": ev.Text}})
}

func (c *Controller) handleFinal(ev sttgw.Event) {
	c.mu.Lock()
	if c.state != StateFinalizing {
		c.mu.Unlock()
		return
	}
	c.state = StateThinking
	turnCtx, cancel := context.WithTimeout(context.Background(), c.cfg.LLMTotalTimeout)
	c.turnCtx = turnCtx
	c.cancelTurn = cancel
	c.llmDone = false
	c.pending = 0
	c.llmText.Reset()
	c.mu.Unlock()

	if !c.utteranceStartAt.IsZero() {
		c.agg.Observe("stt.transcription_duration_s", time.Since(c.utteranceStartAt).Seconds())
		if c.metrics != nil {
			c.metrics.TranscriptionDuration.Record(turnCtx, time.Since(c.utteranceStartAt).Seconds())
		}
	}

	c.emitBoth(Event{Type: "final_transcript", Data: map[string]any{"text": ev.Text}})

	ctx := context.Background()
	saved, err := c.sessions.AppendTurn(ctx, c.sessionID, domain.Turn{
		Role:      domain.RoleUser,
		Text:      ev.Text,
		CreatedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("controller: failed to persist user turn", "session_id", c.sessionID, "error", err)
	}
	c.emitObserverOnly(Event{Type: "message_saved", Data: map[string]any{"role": "user", "turn_id": saved.ID}})

	c.startLLMTurn(turnCtx, ev.Text)
}

func (c *Controller) startLLMTurn(ctx context.Context, userText string) {
	agent, err := c.sessions.GetAgent(ctx, c.sessionID)
	if err != nil {
		c.fail(domain.NewError(domain.KindLLMUnavailable, "controller.startLLMTurn", err))
		return
	}
	history, err := c.sessions.GetContext(ctx, c.sessionID, c.cfg.MaxContextTurns)
	if err != nil {
		slog.Warn("controller: failed to load context, proceeding with empty history", "session_id", c.sessionID, "error", err)
	}

	req := llmgw.BuildContext(*agent, history, userText)
	ch, err := c.llm.Stream(ctx, *agent, req)
	if err != nil {
		c.fail(domain.NewError(domain.KindLLMUnavailable, "controller.startLLMTurn", err))
		return
	}
	c.eg.Go(func() error {
		c.consumeLLM(ctx, ch)
		return nil
	})
}

func (c *Controller) consumeLLM(ctx context.Context, ch <-chan llmgw.Chunk) {
	splitter := llmgw.NewSplitter(c.cfg.SentenceMode, c.cfg.MinSentenceLength)
	first := true
	llmStart := time.Now()

	for {
		select {
		case <-ctx.Done():
			c.fail(domain.NewError(domain.KindLLMTimeout, "controller.consumeLLM", ctx.Err()))
			return
		case chunk, ok := <-ch:
			if !ok {
				c.finishLLM(ctx, splitter)
				return
			}
			if chunk.Err != nil {
				c.fail(domain.NewError(domain.KindLLMUnavailable, "controller.consumeLLM", chunk.Err))
				return
			}
			if first {
				first = false
				c.transitionToSpeaking()
				if c.metrics != nil {
					c.metrics.LLMFirstFragment.Record(ctx, time.Since(llmStart).Seconds())
				}
			}
			c.mu.Lock()
			c.llmText.WriteString(chunk.Text)
			c.mu.Unlock()

			c.emitBoth(Event{Type: "ai_response_chunk", Data: map[string]any{"text": chunk.Text}})
			for _, frag := range splitter.Feed(chunk.Text) {
				c.submitSentence(frag)
			}
			if chunk.FinishReason != "" {
				if c.metrics != nil {
					c.metrics.LLMTotalDuration.Record(ctx, time.Since(llmStart).Seconds())
				}
				c.finishLLM(ctx, splitter)
				return
			}
		}
	}
}

func (c *Controller) transitionToSpeaking() {
	c.mu.Lock()
	if c.state != StateThinking {
		c.mu.Unlock()
		return
	}
	c.state = StateSpeaking
	c.mu.Unlock()
	c.emitBoth(Event{Type: "ai_response_start", Data: map[string]any{}})
}

func (c *Controller) finishLLM(ctx context.Context, splitter *llmgw.Splitter) {
	if rest := splitter.Flush(); rest != "" {
		c.submitSentence(rest)
	}
	c.mu.Lock()
	c.llmDone = true
	done := c.pending == 0
	c.mu.Unlock()
	if done {
		c.completeTurn(ctx)
	}
}

func (c *Controller) submitSentence(text string) {
	c.mu.Lock()
	idx := c.sentenceSeq
	c.sentenceSeq++
	c.pending++
	tts := c.tts
	c.mu.Unlock()

	if tts == nil {
		slog.Warn("controller: no TTS gateway attached, dropping sentence", "session_id", c.sessionID, "index", idx)
		c.onSentenceDone()
		return
	}
	if err := tts.Submit(ttsgw.Sentence{Index: idx, Text: text}); err != nil {
		slog.Warn("controller: failed to submit sentence to TTS", "session_id", c.sessionID, "index", idx, "error", err)
		c.onSentenceDone()
	}
}

// OnTTSStart implements the ttsgw.Callbacks.OnStart hook.
func (c *Controller) OnTTSStart(index int, text string) {
	c.emitBoth(Event{Type: "tts_start", Data: map[string]any{"sentence_index": index, "text": text}})
}

// OnTTSChunk implements the ttsgw.Callbacks.OnChunk hook.
func (c *Controller) OnTTSChunk(index int, data []byte) {
	c.mu.Lock()
	if c.firstAudioSentAt.IsZero() {
		c.firstAudioSentAt = time.Now()
	}
	c.mu.Unlock()
	if err := c.emit.EmitBinary(data); err != nil {
		slog.Warn("controller: failed to deliver tts audio chunk", "session_id", c.sessionID, "index", index, "error", err)
	}
}

// OnTTSComplete implements the ttsgw.Callbacks.OnComplete hook.
func (c *Controller) OnTTSComplete(index int, meta ttsgw.Metadata) {
	c.emitBoth(Event{Type: "tts_complete", Data: map[string]any{"sentence_index": index}})
	c.onSentenceDone()
}

// OnTTSFailed implements the ttsgw.Callbacks.OnFailed hook.
func (c *Controller) OnTTSFailed(index int, err error) {
	c.agg.IncrError()
	c.emitSessionOnly(Event{Type: "service_error", Data: map[string]any{
		"source": "tts", "message": err.Error(), "recoverable": true, "sentence_index": index,
	}})
	c.onSentenceDone()
}

func (c *Controller) onSentenceDone() {
	c.mu.Lock()
	c.pending--
	done := c.llmDone && c.pending == 0
	c.mu.Unlock()
	if done {
		c.completeTurn(context.Background())
	}
}

func (c *Controller) completeTurn(ctx context.Context) {
	c.mu.Lock()
	if c.state != StateSpeaking {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	fullText := c.llmText.String()
	c.turnSeq++
	if !c.firstAudioSentAt.IsZero() && !c.utteranceStartAt.IsZero() {
		c.agg.Observe("e2e.time_to_first_audio_s", c.firstAudioSentAt.Sub(c.utteranceStartAt).Seconds())
	}
	c.utteranceStartAt = time.Time{}
	c.firstAudioSentAt = time.Time{}
	c.mu.Unlock()

	c.emitBoth(Event{Type: "ai_response_complete", Data: map[string]any{"text": fullText}})
	c.persistAssistantTurn(ctx, fullText)

	c.agg.IncrTurn()
	if c.metrics != nil {
		agent, err := c.sessions.GetAgent(ctx, c.sessionID)
		if err == nil {
			c.metrics.RecordTurn(ctx, agent.ID)
		}
	}
	c.emitObserverOnly(Event{Type: "metrics_updated", Data: c.agg.Snapshot()})
}

// Interrupt cancels the current assistant turn if one is in flight,
// transitioning speaking back to idle (SPEC_FULL.md §6 "interrupt").
func (c *Controller) Interrupt() {
	c.mu.Lock()
	if c.state != StateSpeaking && c.state != StateThinking {
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	cancel := c.cancelTurn
	c.pending = 0
	c.llmDone = true
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// fail handles a recoverable mid-pipeline error: it surfaces service_error
// and resets to idle so the session can start a fresh utterance. Any
// assistant text already streamed before the failure is still closed out
// with ai_response_complete and committed as the turn, since the client
// already rendered it; an empty partial commits nothing.
func (c *Controller) fail(err *domain.Error) {
	c.agg.IncrError()
	if c.metrics != nil {
		c.metrics.RecordError(context.Background(), string(err.Kind), err.Op)
	}
	c.mu.Lock()
	wasLLMTurn := c.state == StateThinking || c.state == StateSpeaking
	partial := c.llmText.String()
	c.state = StateIdle
	if c.cancelTurn != nil {
		c.cancelTurn()
	}
	c.mu.Unlock()

	source := err.Op
	if strings.HasPrefix(string(err.Kind), "LLM") {
		source = "llm"
	}
	c.emitSessionOnly(Event{Type: "service_error", Data: map[string]any{
		"source": source, "message": err.Error(), "recoverable": err.Recoverable(),
	}})

	if wasLLMTurn && partial != "" {
		c.emitBoth(Event{Type: "ai_response_complete", Data: map[string]any{"text": partial}})
		c.persistAssistantTurn(context.Background(), partial)
	}
}

func (c *Controller) persistAssistantTurn(ctx context.Context, text string) {
	saved, err := c.sessions.AppendTurn(ctx, c.sessionID, domain.Turn{
		Role:      domain.RoleAssistant,
		Text:      text,
		CreatedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("controller: failed to persist assistant turn", "session_id", c.sessionID, "error", err)
		return
	}
	c.emitObserverOnly(Event{Type: "message_saved", Data: map[string]any{"role": "assistant", "turn_id": saved.ID}})
}

// Close transitions to terminated and stops the segmenter's monitor loop.
// The owning transport is responsible for closing the STT/TTS connections
// it attached.
func (c *Controller) Close() {
	c.mu.Lock()
	c.state = StateTerminated
	if c.cancelTurn != nil {
		c.cancelTurn()
	}
	c.mu.Unlock()
	c.Segmenter.Stop()
}

func (c *Controller) emitBoth(ev Event) {
	c.fillEnvelope(&ev)
	c.emitSessionOnly(ev)
	if c.observer != nil {
		c.observer.Publish(ev)
	}
}

func (c *Controller) emitSessionOnly(ev Event) {
	c.fillEnvelope(&ev)
	if err := c.emit.EmitEvent(ev); err != nil {
		slog.Warn("controller: failed to deliver event to session", "session_id", c.sessionID, "event", ev.Type, "error", err)
	}
}

func (c *Controller) emitObserverOnly(ev Event) {
	c.fillEnvelope(&ev)
	if c.observer != nil {
		c.observer.Publish(ev)
	}
}

func (c *Controller) fillEnvelope(ev *Event) {
	ev.SessionID = c.sessionID
	ev.UserID = c.userID
	if ev.CorrelationID == "" {
		c.mu.Lock()
		ev.CorrelationID = fmt.Sprintf("%s-%d", c.sessionID, c.turnSeq)
		c.mu.Unlock()
	}
}
