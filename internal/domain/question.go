package domain

import "time"

// Question is one prompt in the ordered sequence fetched for a session.
// The sequence is fixed once fetched; QuestionIndex is presentation order.
type Question struct {
	ID            string `json:"id"`
	QuestionIndex int32  `json:"question_index"`
	Content       string `json:"question"`
	Description   string `json:"description,omitempty"`
}

// Answer is the candidate's submitted response for one question.
// Answers are append-only: there is no edit after submit.
type Answer struct {
	QuestionID    string    `json:"question_id"`
	QuestionIndex int32     `json:"question_index"`
	Text          string    `json:"answer_text"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Job is the upstream posting an interview is conducted for.
type Job struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	DurationMinutes int32  `json:"duration_minutes"`
}

// MediaChunk is a bounded slice of the continuously recorded stream,
// delivered upstream as best-effort telemetry.
type MediaChunk struct {
	SessionID  string    `json:"session_id"`
	ChunkIndex int32     `json:"chunk_index"`
	Data       []byte    `json:"-"`
	RecordedAt time.Time `json:"recorded_at"`
}
