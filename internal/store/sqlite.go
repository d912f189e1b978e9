package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/enroll-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single writer keeps read-modify-write patches serialized.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	current_step TEXT NOT NULL DEFAULT 'quote',
	email        TEXT NOT NULL DEFAULT '',
	data         TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS transitions (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	from_step  TEXT NOT NULL,
	to_step    TEXT NOT NULL,
	cause      TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_sessions_step ON sessions(current_step);
CREATE INDEX IF NOT EXISTS idx_sessions_email ON sessions(email);
CREATE INDEX IF NOT EXISTS idx_transitions_session_id ON transitions(session_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, zip, email string) (*model.Session, error) {
	now := time.Now().UTC()
	sess := &model.Session{
		ID:          uuid.New().String(),
		CurrentStep: model.StepQuote,
		Zip:         zip,
		Email:       email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal session")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, current_step, email, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, string(sess.CurrentStep), email, string(data), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert session")
	}
	return sess, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", id)
	}
	return sess, nil
}

func (s *SQLiteStore) PatchSession(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin patch")
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := scanSession(tx.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: patch session %s", id)
	}

	next, err := applyPatch(current, patch)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: patch session %s", id)
	}
	next.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(next)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal session")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET current_step = ?, email = ?, data = ?, updated_at = ? WHERE id = ?`,
		string(next.CurrentStep), next.Email, string(data), next.UpdatedAt, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update session %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit patch")
	}
	return next, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT data FROM sessions WHERE 1=1`
	var args []any

	if filter.Step != "" {
		query += ` AND current_step = ?`
		args = append(args, string(filter.Step))
	}
	if filter.Email != "" {
		query += ` AND email = ?`
		args = append(args, filter.Email)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		out = append(out, *sess)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sessions iterate")
}

func (s *SQLiteStore) RecordTransition(ctx context.Context, rec model.TransitionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions (id, session_id, from_step, to_step, cause, outcome, message, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, string(rec.From), string(rec.To), rec.Trigger, rec.Outcome, rec.Message, rec.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: record transition for session %s", rec.SessionID)
}

func (s *SQLiteStore) ListTransitions(ctx context.Context, sessionID string) ([]model.TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, from_step, to_step, cause, outcome, message, created_at FROM transitions WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list transitions %s", sessionID)
	}
	defer rows.Close()

	var out []model.TransitionRecord
	for rows.Next() {
		var rec model.TransitionRecord
		var from, to string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &from, &to, &rec.Trigger, &rec.Outcome, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transition")
		}
		rec.From, rec.To = model.Step(from), model.Step(to)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list transitions iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSession(row scannable) (*model.Session, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, eris.Wrap(err, "unmarshal session")
	}
	return &sess, nil
}
