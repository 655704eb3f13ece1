package domain

import "time"

// Result is the latest recognizer output buffered for a session.
// Timestamp is Unix milliseconds.
type Result struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"isFinal"`
	Timestamp  int64  `json:"timestamp"`
}

type StreamRequest struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
	AudioData string `json:"audioData,omitempty"`
}

type StartResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId"`
}

type AudioResponse struct {
	Status string  `json:"status"`
	Result *Result `json:"result"`
}

type StopResponse struct {
	Status string `json:"status"`
}

type PollResponse struct {
	Result *Result `json:"result"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SessionInfo struct {
	SessionID    string    `json:"sessionId"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	Chunks       int64     `json:"chunks"`
	Bytes        int64     `json:"bytes"`
}

// Session lifecycle event kinds.
const (
	EventStarted   = "started"
	EventRestarted = "restarted"
	EventStopped   = "stopped"
	EventBroken    = "broken"
	EventEvicted   = "evicted"
	EventShutdown  = "shutdown"
)

// SessionEvent describes a lifecycle transition. It never carries transcript text.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Chunks    int64     `json:"chunks"`
	Bytes     int64     `json:"bytes"`
	At        time.Time `json:"at"`
}

// MQTT payloads

type StopCommand struct {
	Reason string `json:"reason,omitempty"`
}
