package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"shen/internal/domain"
)

type IQuestion interface {
	CreateBatch(ctx context.Context, sessionID string, questions []domain.Question) error
	List(ctx context.Context, sessionID string) ([]domain.Question, error)
	SaveAnswer(ctx context.Context, sessionID string, answer *domain.Answer) error
	ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error)
	CountAnswers(ctx context.Context, sessionID string) (int32, error)
}

type SQLQuestion struct {
	db *sql.DB
}

func NewQuestionRepository(db *sql.DB) IQuestion {
	return &SQLQuestion{db: db}
}

// CreateBatch stores the question sequence fetched at session start. The
// sequence is immutable afterwards, so there is no update path.
func (r *SQLQuestion) CreateBatch(ctx context.Context, sessionID string, questions []domain.Question) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin questions tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO questions (session_id, question_id, question_index, content, description)
		VALUES (?, ?, ?, ?, ?)`
	for _, q := range questions {
		if _, err := tx.ExecContext(ctx, query, sessionID, q.ID, q.QuestionIndex, q.Content, q.Description); err != nil {
			return fmt.Errorf("insert question %d: %w", q.QuestionIndex, err)
		}
	}
	return tx.Commit()
}

// List returns the session's questions ordered by presentation index.
func (r *SQLQuestion) List(ctx context.Context, sessionID string) ([]domain.Question, error) {
	query := `
		SELECT question_id, question_index, content, description
		FROM questions WHERE session_id = ? ORDER BY question_index`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		var q domain.Question
		var description sql.NullString
		if err := rows.Scan(&q.ID, &q.QuestionIndex, &q.Content, &description); err != nil {
			return nil, fmt.Errorf("scan question row: %w", err)
		}
		q.Description = description.String
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// SaveAnswer stores a submitted answer. The primary key on
// (session_id, question_index) makes answers one-to-one with questions.
func (r *SQLQuestion) SaveAnswer(ctx context.Context, sessionID string, answer *domain.Answer) error {
	query := `
		INSERT INTO answers (session_id, question_id, question_index, answer_text, submitted_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		sessionID, answer.QuestionID, answer.QuestionIndex, answer.Text, answer.SubmittedAt.Unix())
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	return nil
}

// ListAnswers returns the answers recorded so far in question order.
func (r *SQLQuestion) ListAnswers(ctx context.Context, sessionID string) ([]domain.Answer, error) {
	query := `
		SELECT question_id, question_index, answer_text, submitted_at
		FROM answers WHERE session_id = ? ORDER BY question_index`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	defer rows.Close()

	var answers []domain.Answer
	for rows.Next() {
		var a domain.Answer
		var submittedAt int64
		if err := rows.Scan(&a.QuestionID, &a.QuestionIndex, &a.Text, &submittedAt); err != nil {
			return nil, fmt.Errorf("scan answer row: %w", err)
		}
		a.SubmittedAt = time.Unix(submittedAt, 0)
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// CountAnswers reports how many answers the session holds.
func (r *SQLQuestion) CountAnswers(ctx context.Context, sessionID string) (int32, error) {
	var count int32
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM answers WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count answers: %w", err)
	}
	return count, nil
}
