package domain

import "time"

// EventKind names a server→client (or observer) control event.
type EventKind string

const (
	EventUtteranceStart    EventKind = "utterance_start"
	EventPartialTranscript EventKind = "partial_transcript"
	EventStopListening     EventKind = "stop_listening"
	EventFinalTranscript   EventKind = "final_transcript"
	EventAIResponseStart   EventKind = "ai_response_start"
	EventAIResponseChunk   EventKind = "ai_response_chunk"
	EventAIResponseComp    EventKind = "ai_response_complete"
	EventTTSStart          EventKind = "tts_start"
	EventTTSComplete       EventKind = "tts_complete"
	EventMessageSaved      EventKind = "message_saved"
	EventMetricsUpdated    EventKind = "metrics_updated"
	EventServiceError      EventKind = "service_error"
)

// observerForwarded is the set of event kinds that also carry meaning for
// conversation history and must additionally be emitted on the observer
// channel (SPEC_FULL.md §4.6).
var observerForwarded = map[EventKind]bool{
	EventPartialTranscript: true,
	EventFinalTranscript:   true,
	EventAIResponseChunk:   true,
	EventAIResponseComp:    true,
	EventMessageSaved:      true,
	EventMetricsUpdated:    true,
}

// ObserverForwarded reports whether an event kind must be mirrored onto the
// observer channel.
func ObserverForwarded(k EventKind) bool { return observerForwarded[k] }

// Event is a structured notification emitted by the Session Controller.
type Event struct {
	Kind          EventKind
	SessionID     string
	UserID        string // mandatory on observer copies, optional on session channel
	CorrelationID string
	Timestamp     time.Time
	Payload       map[string]any
}

// WithUserID returns a copy of the event carrying UserID set, used when
// mirroring an event onto the observer channel.
func (e Event) WithUserID(userID string) Event {
	e.UserID = userID
	return e
}
