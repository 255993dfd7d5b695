// Package sttgw maintains one persistent speech-to-text connection per
// session: it sends binary audio frames upstream and dispatches partial and
// final transcripts as they arrive, reconnecting with backoff on loss and
// probing the connection for silent failure.
package sttgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxbridge/voxbridge/internal/domain"
	"github.com/voxbridge/voxbridge/internal/resilience"
)

// AudioFormat identifies the wire shape of the audio a session sends
// upstream. It is fixed for the lifetime of a [Session].
type AudioFormat string

const (
	FormatOpus AudioFormat = "opus"
	FormatPCM  AudioFormat = "pcm"
)

// EventType classifies an upstream transcription message.
type EventType string

const (
	EventPartial EventType = "partial"
	EventFinal   EventType = "final"
	EventSilence EventType = "silence"
	EventError   EventType = "error"
)

// Event is a transcription result dispatched to the caller. Confidence and
// Language are only meaningful for Partial/Final events.
type Event struct {
	Type       EventType
	Text       string
	Confidence float64
	Language   string
}

// Config tunes a [Session]'s connection and reconnect behaviour.
type Config struct {
	URL      string
	Model    string
	Language string

	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// ProbeInterval is how often an idle connection is health-checked.
	// Default: 15s.
	ProbeInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = 5
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 15 * time.Second
	}
	return c
}

// controlMessage announces a session's identity and audio format; it is the
// first message sent on every connection, including after a reconnect.
type controlMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"session_id"`
	Format    AudioFormat `json:"format"`
	Model     string      `json:"model,omitempty"`
	Language  string      `json:"language,omitempty"`
}

// serverMessage is the JSON shape of an upstream transcription message.
type serverMessage struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
}

// Session is a per-conversation STT connection. Audio pushed via Send is
// buffered and re-delivered across a reconnect; Events carries dispatched
// transcripts in the order the upstream engine emitted them.
//
// Session is safe for concurrent use.
type Session struct {
	sessionID string
	format    AudioFormat
	cfg       Config

	recon  *resilience.Reconnector[*wsConn]
	probe  *resilience.CircuitBreaker
	events chan Event
	audio  chan []byte

	onUnavailable func(*domain.Error)

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// wsConn adapts *websocket.Conn to the io.Closer constraint required by
// [resilience.Reconnector].
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "session closed")
}

// New dials the configured STT endpoint and starts the session's read/write
// loops. onUnavailable is invoked (at most once per outage) when the health
// probe trips the circuit breaker; it typically converts the current
// utterance into a failed turn.
func New(ctx context.Context, sessionID string, format AudioFormat, cfg Config, onUnavailable func(*domain.Error)) (*Session, error) {
	cfg = cfg.withDefaults()

	s := &Session{
		sessionID:     sessionID,
		format:        format,
		cfg:           cfg,
		events:        make(chan Event, 64),
		audio:         make(chan []byte, 256),
		onUnavailable: onUnavailable,
		done:          make(chan struct{}),
	}

	s.recon = resilience.NewReconnector(resilience.ReconnectorConfig{
		Name:           "stt-" + sessionID,
		InitialBackoff: cfg.ReconnectDelay,
		MaxBackoff:     30 * time.Second,
	}, s.dial)

	s.probe = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "stt-probe-" + sessionID,
		MaxFailures: 2,
		HalfOpenMax: 1,
	})

	conn, err := s.recon.Connect(ctx)
	if err != nil {
		return nil, domain.NewError(domain.KindSTTUnavailable, "sttgw.New", err)
	}

	s.wg.Add(4)
	go s.readLoop(ctx, conn)
	go s.writeLoop(ctx)
	go s.reconnectLoop(ctx)
	go s.probeLoop(ctx)

	return s, nil
}

func (s *Session) dial(ctx context.Context) (*wsConn, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("sttgw: parse STT_URL: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("sttgw: dial: %w", err)
	}
	ctrl, err := json.Marshal(controlMessage{
		Type:      "start",
		SessionID: s.sessionID,
		Format:    s.format,
		Model:     s.cfg.Model,
		Language:  s.cfg.Language,
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "marshal control message")
		return nil, fmt.Errorf("sttgw: marshal control message: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, ctrl); err != nil {
		conn.Close(websocket.StatusInternalError, "send control message")
		return nil, fmt.Errorf("sttgw: send control message: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

// Send queues an audio chunk for delivery upstream. It never blocks on the
// network: while disconnected, chunks accumulate in the channel buffer and
// are replayed once the connection is restored.
func (s *Session) Send(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("sttgw: session closed")
	case s.audio <- chunk:
		return nil
	}
}

// Events returns the channel of dispatched transcription events. Closed
// when the session is closed.
func (s *Session) Events() <-chan Event { return s.events }

func (s *Session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case chunk := <-s.audio:
			conn, ok := s.recon.Current()
			if !ok {
				// Hold this chunk until the reconnect completes; later
				// chunks accumulate in s.audio meanwhile.
				if conn, ok = s.waitForReconnect(); !ok {
					return
				}
			}
			if err := conn.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				s.recon.NotifyLost()
			}
		}
	}
}

func (s *Session) readLoop(ctx context.Context, conn *wsConn) {
	defer s.wg.Done()
	current := conn
	for {
		_, msg, err := current.conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.recon.NotifyLost()
			next, ok := s.waitForReconnect()
			if !ok {
				return
			}
			current = next
			continue
		}
		s.probe.Reset()
		if ev, ok := parseServerMessage(msg); ok {
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

func (s *Session) waitForReconnect() (*wsConn, bool) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return nil, false
		case <-ticker.C:
			if conn, ok := s.recon.Current(); ok {
				return conn, true
			}
		}
	}
}

// reconnectLoop drives [resilience.Reconnector.Monitor] for this session's
// lifetime; readLoop notices the fresh connection via Current().
func (s *Session) reconnectLoop(ctx context.Context) {
	defer s.wg.Done()
	s.recon.Monitor(ctx, func(*wsConn) {
		slog.Info("stt session reconnected", "session_id", s.sessionID)
	})
}

// probeLoop periodically checks that the connection is still alive by
// issuing a WebSocket ping through the circuit breaker. Two consecutive
// failures surface STTUnavailable to onUnavailable, once per outage.
func (s *Session) probeLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ProbeInterval)
	defer ticker.Stop()
	notified := false
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn, ok := s.recon.Current()
			if !ok {
				continue
			}
			err := s.probe.Execute(func() error {
				pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				return conn.conn.Ping(pingCtx)
			})
			if err == nil {
				notified = false
				continue
			}
			if !notified && s.probe.State() == resilience.StateOpen && s.onUnavailable != nil {
				notified = true
				s.onUnavailable(domain.NewError(domain.KindSTTUnavailable, "sttgw.probeLoop", err))
			}
		}
	}
}

func parseServerMessage(data []byte) (Event, bool) {
	var m serverMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return Event{}, false
	}
	switch EventType(m.Type) {
	case EventPartial, EventFinal, EventSilence, EventError:
		return Event{
			Type:       EventType(m.Type),
			Text:       m.Text,
			Confidence: m.Confidence,
			Language:   m.Language,
		}, true
	default:
		return Event{}, false
	}
}

// Close terminates the session, releasing the upstream connection.
func (s *Session) Close() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.recon.Stop()
		s.wg.Wait()
		close(s.events)
	})
}
