// Package events defines the command completion event and the publishers that
// fan it out to change-event subscribers and the audit journal.
package events

import "time"

// Completion statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// CommandCompleted is emitted once for every command the host executed,
// whether or not its response reached the client.
type CommandCompleted struct {
	RequestID    string  `json:"requestId"`
	SessionID    string  `json:"sessionId"`
	Command      string  `json:"command"`
	Subsystem    string  `json:"subsystem"`
	Mutates      bool    `json:"mutates"`
	Status       string  `json:"status"`
	ErrorKind    string  `json:"errorKind,omitempty"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	DurationMs   float64 `json:"durationMs"`
	Delivered    bool    `json:"delivered"`
	Timestamp    string  `json:"timestamp"`
}

// Changed reports whether the command modified host state.
func (e *CommandCompleted) Changed() bool {
	return e.Mutates && e.Status == StatusSuccess
}

// CompletedAt parses Timestamp, falling back to now.
func (e *CommandCompleted) CompletedAt() time.Time {
	ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Now().UTC()
	}
	return ts
}
