package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/enroll-cli/internal/db"
	"github.com/sells-group/enroll-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	current_step TEXT NOT NULL DEFAULT 'quote',
	email        TEXT NOT NULL DEFAULT '',
	data         JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transitions (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	from_step  TEXT NOT NULL,
	to_step    TEXT NOT NULL,
	cause      TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	message    TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sessions_step ON sessions(current_step);
CREATE INDEX IF NOT EXISTS idx_sessions_email ON sessions(email);
CREATE INDEX IF NOT EXISTS idx_transitions_session_id ON transitions(session_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, zip, email string) (*model.Session, error) {
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
		return nil, eris.Wrap(err, "postgres: marshal session")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, current_step, email, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		sess.ID, string(sess.CurrentStep), email, data, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert session")
	}
	return sess, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	sess, err := scanPgSession(s.pool.QueryRow(ctx, `SELECT data FROM sessions WHERE id = $1`, id))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", id)
	}
	return sess, nil
}

// PatchSession locks the row, applies the patch and writes it back in one
// transaction so concurrent patches cannot interleave.
func (s *PostgresStore) PatchSession(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error) {
	var next *model.Session
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		current, err := scanPgSession(tx.QueryRow(ctx, `SELECT data FROM sessions WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		next, err = applyPatch(current, patch)
		if err != nil {
			return err
		}
		next.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(next)
		if err != nil {
			return eris.Wrap(err, "marshal session")
		}
		_, err = tx.Exec(ctx,
			`UPDATE sessions SET current_step = $1, email = $2, data = $3, updated_at = $4 WHERE id = $5`,
			string(next.CurrentStep), next.Email, data, next.UpdatedAt, id,
		)
		return err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: patch session %s", id)
	}
	return next, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.Session, error) {
	query := `SELECT data FROM sessions WHERE 1=1`
	var args []any
	n := 1

	if filter.Step != "" {
		query += ` AND current_step = ` + placeholder(n)
		args = append(args, string(filter.Step))
		n++
	}
	if filter.Email != "" {
		query += ` AND email = ` + placeholder(n)
		args = append(args, filter.Email)
		n++
	}
	query += ` ORDER BY created_at DESC LIMIT ` + placeholder(n)
	args = append(args, listLimit(filter.Limit))
	n++

	if filter.Offset > 0 {
		query += ` OFFSET ` + placeholder(n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	var out []model.Session
	for rows.Next() {
		sess, err := scanPgSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		out = append(out, *sess)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sessions iterate")
}

func (s *PostgresStore) RecordTransition(ctx context.Context, rec model.TransitionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transitions (id, session_id, from_step, to_step, cause, outcome, message, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.SessionID, string(rec.From), string(rec.To), rec.Trigger, rec.Outcome, rec.Message, rec.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: record transition for session %s", rec.SessionID)
}

func (s *PostgresStore) ListTransitions(ctx context.Context, sessionID string) ([]model.TransitionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, from_step, to_step, cause, outcome, message, created_at FROM transitions WHERE session_id = $1 ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list transitions %s", sessionID)
	}
	defer rows.Close()

	var out []model.TransitionRecord
	for rows.Next() {
		var rec model.TransitionRecord
		var from, to string
		if err := rows.Scan(&rec.ID, &rec.SessionID, &from, &to, &rec.Trigger, &rec.Outcome, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan transition")
		}
		rec.From, rec.To = model.Step(from), model.Step(to)
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list transitions iterate")
}

func scanPgSession(row pgx.Row) (*model.Session, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, eris.Wrap(err, "unmarshal session")
	}
	return &sess, nil
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
