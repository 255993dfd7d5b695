package resilience

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ReconnectorConfig holds tuning knobs for a [Reconnector].
type ReconnectorConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// InitialBackoff is the delay before the first reconnect attempt.
	// Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the doubling backoff delay. Default: 30s.
	MaxBackoff time.Duration
}

// Reconnector supervises a single long-lived connection of type C, reconnecting
// with doubling backoff whenever the connection is reported lost. C is
// typically a *websocket.Conn for an upstream STT or TTS leg.
//
// Reconnector is safe for concurrent use.
type Reconnector[C io.Closer] struct {
	name           string
	initialBackoff time.Duration
	maxBackoff     time.Duration

	connect func(ctx context.Context) (C, error)

	mu       sync.Mutex
	current  C
	hasConn  bool
	lostCh   chan struct{}
	stopped  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewReconnector creates a [Reconnector]. connect is called to establish (and
// later re-establish) the connection; it should itself apply a per-attempt
// timeout via ctx. Zero-value config fields are replaced with defaults.
func NewReconnector[C io.Closer](cfg ReconnectorConfig, connect func(ctx context.Context) (C, error)) *Reconnector[C] {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Reconnector[C]{
		name:           cfg.Name,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		connect:        connect,
		lostCh:         make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
}

// Connect performs the initial connection attempt (no backoff, no retry — the
// caller decides whether a failed first attempt is fatal).
func (r *Reconnector[C]) Connect(ctx context.Context) (C, error) {
	conn, err := r.connect(ctx)
	if err != nil {
		var zero C
		return zero, err
	}
	r.mu.Lock()
	r.current = conn
	r.hasConn = true
	r.mu.Unlock()
	return conn, nil
}

// Current returns the active connection, if any.
func (r *Reconnector[C]) Current() (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.hasConn
}

// NotifyLost signals that the current connection has failed and a reconnect
// attempt should begin. Safe to call multiple times; redundant signals are
// coalesced.
func (r *Reconnector[C]) NotifyLost() {
	select {
	case r.lostCh <- struct{}{}:
	default:
	}
}

// Monitor runs the reconnect loop until ctx is cancelled or Stop is called.
// On each loss it calls onReconnect with the freshly established connection.
// It should be run in its own goroutine.
func (r *Reconnector[C]) Monitor(ctx context.Context, onReconnect func(C)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-r.lostCh:
			r.mu.Lock()
			r.hasConn = false
			r.mu.Unlock()

			conn, ok := r.attemptReconnect(ctx)
			if !ok {
				return
			}
			r.mu.Lock()
			r.current = conn
			r.hasConn = true
			r.mu.Unlock()
			onReconnect(conn)
		}
	}
}

// attemptReconnect retries r.connect with doubling backoff until it succeeds
// or ctx/stop fires. The bool result is false only when the loop was aborted
// without a connection.
func (r *Reconnector[C]) attemptReconnect(ctx context.Context) (C, bool) {
	backoff := r.initialBackoff
	attempt := 0
	for {
		attempt++
		conn, err := r.connect(ctx)
		if err == nil {
			slog.Info("reconnect succeeded", "name", r.name, "attempt", attempt)
			return conn, true
		}
		slog.Warn("reconnect attempt failed", "name", r.name, "attempt", attempt, "backoff", backoff, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero C
			return zero, false
		case <-r.stopCh:
			timer.Stop()
			var zero C
			return zero, false
		case <-timer.C:
		}

		backoff *= 2
		if backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

// Stop terminates the monitor loop and releases the current connection.
func (r *Reconnector[C]) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasConn {
		_ = r.current.Close()
		r.hasConn = false
	}
	r.stopped = true
}
