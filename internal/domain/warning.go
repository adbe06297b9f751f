package domain

import "time"

// WarningKind classifies a proctoring violation.
type WarningKind string

const (
	WarningTabSwitch WarningKind = "tab_switch"
)

// Warning is a recorded proctoring event. Warnings are append-only and
// grow monotonically while the session is in progress; scoring downstream
// consumes the list, the monitor itself enforces nothing.
type Warning struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Kind      WarningKind `json:"kind"`
	Message   string      `json:"message"`
	Timestamp time.Time   `json:"timestamp"`
}
