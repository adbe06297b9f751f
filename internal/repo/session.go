package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shen/internal/domain"
)

type ISession interface {
	Create(ctx context.Context, session *domain.InterviewSession) error
	Update(ctx context.Context, session *domain.InterviewSession) error
	Get(ctx context.Context, id string) (*domain.InterviewSession, error)
	Exists(ctx context.Context, id string) (bool, error)
	SaveWarning(ctx context.Context, warning *domain.Warning) error
	ListWarnings(ctx context.Context, sessionID string) ([]domain.Warning, error)
}

type SQLSession struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) ISession {
	return &SQLSession{db: db}
}

// Create inserts a new session record.
func (r *SQLSession) Create(ctx context.Context, session *domain.InterviewSession) error {
	query := `
		INSERT INTO sessions (id, interview_id, job_id, candidate_name, candidate_email,
			candidate_phone, state, duration_seconds, completion_reason, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var completedAt sql.NullInt64
	if session.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: session.CompletedAt.Unix(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.InterviewID, session.JobID,
		session.Candidate.Name, session.Candidate.Email, session.Candidate.Phone,
		string(session.State), session.DurationSeconds, string(session.CompletionReason),
		session.CreatedAt.Unix(), completedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Update rewrites the mutable session fields.
func (r *SQLSession) Update(ctx context.Context, session *domain.InterviewSession) error {
	query := `
		UPDATE sessions
		SET state = ?, completion_reason = ?, completed_at = ?
		WHERE id = ?`

	var completedAt sql.NullInt64
	if session.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: session.CompletedAt.Unix(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		string(session.State), string(session.CompletionReason), completedAt, session.ID)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID. Returns nil when no row exists.
func (r *SQLSession) Get(ctx context.Context, id string) (*domain.InterviewSession, error) {
	query := `
		SELECT id, interview_id, job_id, candidate_name, candidate_email, candidate_phone,
		       state, duration_seconds, completion_reason, created_at, completed_at
		FROM sessions WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)

	var session domain.InterviewSession
	var state, reason string
	var phone sql.NullString
	var createdAt int64
	var completedAt sql.NullInt64

	err := row.Scan(
		&session.ID, &session.InterviewID, &session.JobID,
		&session.Candidate.Name, &session.Candidate.Email, &phone,
		&state, &session.DurationSeconds, &reason, &createdAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.Candidate.Phone = phone.String
	session.State = domain.SessionState(state)
	session.CompletionReason = domain.CompletionReason(reason)
	session.CreatedAt = time.Unix(createdAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		session.CompletedAt = &t
	}

	return &session, nil
}

// Exists checks whether a session record exists.
func (r *SQLSession) Exists(ctx context.Context, id string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sessions WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count sessions: %w", err)
	}
	return count > 0, nil
}

// SaveWarning appends a proctoring warning. Warnings are never removed.
func (r *SQLSession) SaveWarning(ctx context.Context, warning *domain.Warning) error {
	query := `
		INSERT INTO warnings (id, session_id, kind, message, created_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		warning.ID, warning.SessionID, string(warning.Kind), warning.Message, warning.Timestamp.Unix())
	if err != nil {
		return fmt.Errorf("insert warning: %w", err)
	}
	return nil
}

// ListWarnings returns all warnings for a session in recording order.
func (r *SQLSession) ListWarnings(ctx context.Context, sessionID string) ([]domain.Warning, error) {
	query := `
		SELECT id, session_id, kind, message, created_at
		FROM warnings WHERE session_id = ? ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query warnings: %w", err)
	}
	defer rows.Close()

	var warnings []domain.Warning
	for rows.Next() {
		var w domain.Warning
		var kind string
		var createdAt int64
		if err := rows.Scan(&w.ID, &w.SessionID, &kind, &w.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan warning row: %w", err)
		}
		w.Kind = domain.WarningKind(kind)
		w.Timestamp = time.Unix(createdAt, 0)
		warnings = append(warnings, w)
	}
	return warnings, rows.Err()
}
