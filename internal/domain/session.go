package domain

import (
	"fmt"
	"time"
)

// SessionState represents the lifecycle stage of an interview session.
type SessionState string

const (
	StateSetup      SessionState = "setup"
	StateInProgress SessionState = "in_progress"
	StateCompleted  SessionState = "completed"
)

// CompletionReason records which trigger ended a session.
type CompletionReason string

const (
	ReasonLastAnswer   CompletionReason = "last_answer"
	ReasonTimerExpired CompletionReason = "timer_expired"
	ReasonUserAction   CompletionReason = "user_action"
	ReasonNoQuestions  CompletionReason = "no_questions"
)

// Candidate identifies the person taking the interview.
type Candidate struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// InterviewSession is one candidate's attempt at one job's interview,
// from setup through completion.
type InterviewSession struct {
	ID               string           `json:"id"`
	InterviewID      string           `json:"interview_id"`
	JobID            string           `json:"job_id"`
	Candidate        Candidate        `json:"candidate"`
	State            SessionState     `json:"state"`
	DurationSeconds  int32            `json:"duration_seconds"`
	CompletionReason CompletionReason `json:"completion_reason,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
}

// SessionContext carries the candidate identity handed out at session
// creation. It replaces ambient client-side storage: created when the
// session starts, cleared when it completes.
type SessionContext struct {
	SessionID   string    `json:"session_id"`
	InterviewID string    `json:"interview_id"`
	JobID       string    `json:"job_id"`
	Candidate   Candidate `json:"candidate"`
	IssuedAt    time.Time `json:"issued_at"`
}

// Transition moves the session to the target state, rejecting moves the
// lifecycle does not allow. Completed is terminal.
func (s *InterviewSession) Transition(to SessionState) error {
	allowed := map[SessionState]SessionState{
		StateSetup:      StateInProgress,
		StateInProgress: StateCompleted,
	}
	if next, ok := allowed[s.State]; !ok || next != to {
		return fmt.Errorf("invalid session transition: %s -> %s", s.State, to)
	}
	s.State = to
	return nil
}

// IsDone reports whether the session reached its terminal state.
func (s *InterviewSession) IsDone() bool {
	return s.State == StateCompleted
}
