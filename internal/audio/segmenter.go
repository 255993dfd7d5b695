package audio

import (
	"context"
	"sync"
	"time"

	"github.com/voxbridge/voxbridge/internal/domain"
)

const (
	// defaultMonitorInterval is how often the segmenter checks elapsed time
	// against the silence and max-utterance thresholds.
	defaultMonitorInterval = 100 * time.Millisecond
	// defaultSilenceThreshold is how long audio may go unheard before the
	// current utterance is considered finished.
	defaultSilenceThreshold = 600 * time.Millisecond
	// defaultMaxUtterance is the absolute ceiling on a single utterance,
	// regardless of whether silence ever arrives.
	defaultMaxUtterance = 45 * time.Second
)

// SegmenterConfig tunes a [Segmenter]'s timing. Zero values fall back to the
// defaults.
type SegmenterConfig struct {
	MonitorInterval  time.Duration
	SilenceThreshold time.Duration
	MaxUtterance     time.Duration
}

func (c SegmenterConfig) withDefaults() SegmenterConfig {
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = defaultMonitorInterval
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = defaultSilenceThreshold
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = defaultMaxUtterance
	}
	return c
}

// Segmenter decides when a user's current utterance has ended, either
// because of silence or because it ran past the maximum allowed duration.
// Touch must be called on every audio push regardless of whether any PCM
// was extracted, so the silence timer does not fire while data is merely
// buffering. Not safe for concurrent Touch/Start calls from multiple
// goroutines; the Session Controller serializes per-session audio events.
type Segmenter struct {
	cfg SegmenterConfig
	now func() time.Time

	OnUtteranceStart func()
	OnUtteranceEnd   func(reason domain.UtteranceEndReason, elapsed time.Duration)

	mu             sync.Mutex
	active         bool
	lastAudio      time.Time
	utteranceStart time.Time
	ended          bool
	stopMonitor    context.CancelFunc
}

// NewSegmenter returns a Segmenter using cfg (zero fields default) and the
// real wall clock.
func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	return &Segmenter{cfg: cfg.withDefaults(), now: time.Now}
}

// Touch records an audio push. If no utterance is in progress it starts one
// (invoking OnUtteranceStart and spawning the monitor loop); otherwise it
// just advances the last-audio timestamp.
func (s *Segmenter) Touch(ctx context.Context) {
	s.mu.Lock()
	now := s.now()
	s.lastAudio = now
	alreadyActive := s.active
	if !alreadyActive {
		s.active = true
		s.ended = false
		s.utteranceStart = now
	}
	s.mu.Unlock()

	if alreadyActive {
		return
	}
	if s.OnUtteranceStart != nil {
		s.OnUtteranceStart()
	}
	monitorCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.stopMonitor = cancel
	s.mu.Unlock()
	go s.monitor(monitorCtx)
}

// monitor polls elapsed silence and utterance duration, firing
// OnUtteranceEnd at most once before exiting.
func (s *Segmenter) monitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.checkAndFire() {
				return
			}
		}
	}
}

func (s *Segmenter) checkAndFire() bool {
	s.mu.Lock()
	if s.ended || !s.active {
		s.mu.Unlock()
		return true
	}
	now := s.now()
	silence := now.Sub(s.lastAudio)
	elapsedUtterance := now.Sub(s.utteranceStart)

	var reason domain.UtteranceEndReason
	var elapsed time.Duration
	switch {
	case elapsedUtterance >= s.cfg.MaxUtterance:
		reason = domain.ReasonMaxUtterance
		elapsed = elapsedUtterance
	case silence >= s.cfg.SilenceThreshold:
		reason = domain.ReasonSilence
		elapsed = silence
	default:
		s.mu.Unlock()
		return false
	}
	s.ended = true
	s.active = false
	s.mu.Unlock()

	if s.OnUtteranceEnd != nil {
		s.OnUtteranceEnd(reason, elapsed)
	}
	return true
}

// Stop cancels any running monitor loop without firing OnUtteranceEnd. Used
// when the session itself is ending.
func (s *Segmenter) Stop() {
	s.mu.Lock()
	stop := s.stopMonitor
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}
