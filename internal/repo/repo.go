package repo

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Repository aggregates the per-entity repositories over one database.
type Repository struct {
	DB       *sql.DB
	Session  ISession
	Question IQuestion
}

// Open creates the SQLite-backed repository and initializes the schema.
func Open(dbPath string) (*Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better concurrency between the timer, chunk pump and
	// request handlers.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := initSchema(db); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Repository{
		DB:       db,
		Session:  NewSessionRepository(db),
		Question: NewQuestionRepository(db),
	}, nil
}

func initSchema(db *sql.DB) error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		interview_id TEXT NOT NULL,
		job_id TEXT NOT NULL,
		candidate_name TEXT NOT NULL,
		candidate_email TEXT NOT NULL,
		candidate_phone TEXT,
		state TEXT NOT NULL,
		duration_seconds INTEGER NOT NULL,
		completion_reason TEXT,
		created_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);

	CREATE TABLE IF NOT EXISTS questions (
		session_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		question_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		description TEXT,
		PRIMARY KEY (session_id, question_index)
	);

	CREATE TABLE IF NOT EXISTS answers (
		session_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		question_index INTEGER NOT NULL,
		answer_text TEXT NOT NULL,
		submitted_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, question_index)
	);

	CREATE TABLE IF NOT EXISTS warnings (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		message TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_warnings_session ON warnings(session_id);
	`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.DB.Close()
}
