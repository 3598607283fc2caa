package model

// WebSocket message types
const (
	WSMessageTypeSnapshot = "snapshot"
	WSMessageTypeCreated  = "created"
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypeRemoved  = "removed"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSJobMessage carries the current state of one job
type WSJobMessage struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
	Job   *Job   `json:"job,omitempty"`
}

// WSSnapshotMessage is sent once when a surface subscribes
type WSSnapshotMessage struct {
	Type     string `json:"type"`
	Podcasts []Job  `json:"podcasts"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
