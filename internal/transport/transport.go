// Package transport serves the client-facing WebSocket protocol: one
// connection per session, carrying binary audio both directions and JSON
// control events describing the voice pipeline's state.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/voxbridge/voxbridge/internal/audio"
	"github.com/voxbridge/voxbridge/internal/audio/oggopus"
	"github.com/voxbridge/voxbridge/internal/audio/rawpcm"
	"github.com/voxbridge/voxbridge/internal/controller"
	"github.com/voxbridge/voxbridge/internal/domain"
)

const (
	writeTimeout = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	outboxDepth  = 256
)

// wireEvent is the `{event, data}` control-frame shape exchanged with the
// client in both directions.
type wireEvent struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// clientControl is the subset of wireEvent fields a client may set.
type clientControl struct {
	Event string `json:"event"`
	Data  struct {
		Format string `json:"format"`
	} `json:"data"`
}

// SessionFactory builds the pipeline for one connection: it constructs the
// Controller, attaches its STT session and TTS gateway, and returns the
// Controller so the connection can feed it audio and interrupts. The
// factory owns the lifetime of any upstream gateway connections it creates
// and must close them when teardown is called.
//
// format/sourceRate/sourceChannels come from the connection's query
// parameters rather than a runtime `set_format` control frame: the audio
// format has to be known before the Controller's Ingestor/Decoder can be
// constructed, and resolving it up front keeps one connection's pipeline
// fully wired before any audio arrives instead of buffering raw bytes of
// unknown interpretation while a control frame is awaited.
type SessionFactory func(ctx context.Context, sessionID, userID, agentID, format string, sourceRate, sourceChannels int, emit controller.Emitter) (ctrl *controller.Controller, teardown func(), err error)

// Server upgrades and serves one WebSocket connection per session.
type Server struct {
	upgrader websocket.Upgrader
	newPipe  SessionFactory
}

// New returns a Server that builds each session's pipeline via newPipe.
func New(newPipe SessionFactory) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients on arbitrary origins are expected; VoxBridge
			// authenticates via the session_id/user_id query parameters
			// instead of Origin checks.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		newPipe: newPipe,
	}
}

// Register adds the session endpoint to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/session", s.handleSession)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	userID := r.URL.Query().Get("user_id")
	agentID := r.URL.Query().Get("agent_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if sessionID == "" && agentID == "" {
		http.Error(w, "agent_id is required to start a new session", http.StatusBadRequest)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "pcm"
	}
	// 48 kHz/stereo is the expected default capture format (SPEC_FULL.md
	// §4.2 step 4b); anything else is tolerated but logged as a mismatch
	// by the format converter rather than silently assumed.
	sourceRate := queryInt(r, "sample_rate", 48000)
	sourceChannels := queryInt(r, "channels", 2)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("transport: websocket upgrade failed", "error", err)
		return
	}

	c := newConnection(sessionID, userID, conn)
	ctrl, teardown, err := s.newPipe(r.Context(), sessionID, userID, agentID, format, sourceRate, sourceChannels, c)
	if err != nil {
		c.sendFatal(domain.NewError(domain.KindSessionNotFound, "transport.handleSession", err))
		conn.Close()
		return
	}
	c.sessionID = ctrl.SessionID()
	c.ctrl = ctrl
	defer teardown()
	defer ctrl.Close()

	c.run(r.Context())
}

// connection is one session's live WebSocket: a single writer goroutine
// drains outbox, guaranteeing binary TTS chunks and their framing control
// events never interleave out of order even though they originate from
// different goroutines in the controller.
type connection struct {
	sessionID string
	userID    string
	conn      *websocket.Conn
	ctrl      *controller.Controller

	outbox chan outboxEntry
	closed chan struct{}
}

type outboxEntry struct {
	binary []byte
	event  *wireEvent
}

func newConnection(sessionID, userID string, conn *websocket.Conn) *connection {
	return &connection{
		sessionID: sessionID,
		userID:    userID,
		conn:      conn,
		outbox:    make(chan outboxEntry, outboxDepth),
		closed:    make(chan struct{}),
	}
}

// EmitEvent implements controller.Emitter.
func (c *connection) EmitEvent(ev controller.Event) error {
	data := ev.Data
	if data == nil {
		data = map[string]any{}
	}
	data["session_id"] = ev.SessionID
	data["correlation_id"] = ev.CorrelationID
	return c.enqueue(outboxEntry{event: &wireEvent{Event: ev.Type, Data: data}})
}

// EmitBinary implements controller.Emitter.
func (c *connection) EmitBinary(data []byte) error {
	return c.enqueue(outboxEntry{binary: data})
}

func (c *connection) enqueue(e outboxEntry) error {
	select {
	case <-c.closed:
		return errors.New("transport: connection closed")
	case c.outbox <- e:
		return nil
	default:
		slog.Warn("transport: outbox full, dropping frame", "session_id", c.sessionID)
		return errors.New("transport: outbox full")
	}
}

func (c *connection) sendFatal(err *domain.Error) {
	payload, _ := json.Marshal(wireEvent{Event: "service_error", Data: map[string]any{
		"source": err.Op, "message": err.Error(), "recoverable": false,
	}})
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *connection) run(ctx context.Context) {
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error { return c.writeLoop(egCtx) })
	eg.Go(func() error { return c.readLoop(egCtx) })
	_ = eg.Wait()
	close(c.closed)
	c.conn.Close()
}

func (c *connection) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case e := <-c.outbox:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if e.event != nil {
				payload, err := json.Marshal(e.event)
				if err != nil {
					slog.Warn("transport: failed to marshal outgoing event", "event", e.event.Event, "error", err)
					continue
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return err
				}
				continue
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, e.binary); err != nil {
				return err
			}
		}
	}
}

func (c *connection) readLoop(ctx context.Context) error {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		switch msgType {
		case websocket.BinaryMessage:
			c.ctrl.PushAudio(data)
		case websocket.TextMessage:
			c.handleControl(data)
		}
	}
}

func (c *connection) handleControl(data []byte) {
	var msg clientControl
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("transport: malformed control frame, ignoring", "session_id", c.sessionID, "error", err)
		return
	}
	switch msg.Event {
	case "interrupt":
		c.ctrl.Interrupt()
	case "set_format":
		// Format is fixed for the lifetime of a session's Ingestor/STT
		// connection; a late set_format is logged and otherwise ignored.
		slog.Debug("transport: set_format received after session start, ignoring", "session_id", c.sessionID, "format", msg.Data.Format)
	default:
		slog.Debug("transport: unrecognized client control event", "session_id", c.sessionID, "event", msg.Event)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// DecoderForFormat maps a client-declared container format to a Decoder.
// Kept here (rather than in internal/audio) since the format name is a
// wire-protocol concern; sourceRate/sourceChannels only matter for the raw
// "pcm" format, which carries no self-describing header.
func DecoderForFormat(format string, sourceRate, sourceChannels int) (audio.Decoder, error) {
	switch format {
	case "opus":
		return oggopus.New()
	case "pcm":
		return rawpcm.New(sourceRate, sourceChannels), nil
	default:
		return nil, errors.New("transport: unsupported audio format " + format)
	}
}
