package controller

// State is one point in a session's voice-pipeline lifecycle
// (SPEC_FULL.md §4.6 "State machine").
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StateFinalizing State = "finalizing"
	StateThinking   State = "thinking"
	StateSpeaking   State = "speaking"
	StateTerminated State = "terminated"
)
