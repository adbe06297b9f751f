package domain

import "fmt"

// ValidationError reports locally recoverable input problems: missing
// candidate fields, empty answer text. Session state is never mutated by
// a validation failure.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// MediaAccessError means camera or microphone access was not granted.
// It is fatal to progressing past setup; there is no automatic retry.
type MediaAccessError struct {
	Cause error
}

func (e *MediaAccessError) Error() string {
	if e.Cause == nil {
		return "media access denied"
	}
	return fmt.Sprintf("media access denied: %v", e.Cause)
}

func (e *MediaAccessError) Unwrap() error {
	return e.Cause
}

// NetworkError wraps a failed upstream call. The triggering action stays
// available for resubmission; chunk delivery failures are swallowed by
// the caller because they are non-critical telemetry.
type NetworkError struct {
	Op    string
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Cause)
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}
