package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/voxbridge/voxbridge/internal/domain"
)

// Schema is the DDL for the three tables PostgresStore expects. Callers are
// responsible for applying it (e.g. via a migration tool); PostgresStore does
// not create tables itself.
const Schema = `
CREATE TABLE IF NOT EXISTS agents (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	llm_provider  TEXT NOT NULL,
	llm_model     TEXT NOT NULL,
	temperature   DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	system_prompt TEXT NOT NULL DEFAULT '',
	use_webhook   BOOLEAN NOT NULL DEFAULT FALSE,
	voice_id      TEXT NOT NULL DEFAULT '',
	rate          DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	pitch         DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	plugins       JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	agent_id     TEXT NOT NULL REFERENCES agents(id),
	channel_type TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	last_active  TIMESTAMPTZ NOT NULL,
	active       BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS turns (
	session_id     TEXT NOT NULL REFERENCES sessions(id),
	turn_id        BIGINT NOT NULL,
	role           TEXT NOT NULL,
	text           TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	stt_latency_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	llm_latency_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	tts_latency_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, turn_id)
);
`

// DB is the subset of *pgxpool.Pool that PostgresStore needs, narrowed so
// tests can supply a fake implementation without a live database.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements [Store] against a PostgreSQL database via pgx.
type PostgresStore struct {
	db DB
}

// NewPostgresStore wraps db (typically a *pgxpool.Pool) as a [Store].
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, name, llm_provider, llm_model, temperature, system_prompt,
		       use_webhook, voice_id, rate, pitch, plugins
		FROM agents WHERE id = $1`, agentID)

	var a domain.Agent
	var pluginsRaw []byte
	if err := row.Scan(&a.ID, &a.Name, &a.LLMProvider, &a.LLMModel, &a.Temperature,
		&a.SystemPrompt, &a.UseWebhook, &a.VoiceID, &a.Rate, &a.Pitch, &pluginsRaw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get agent %q: %w", agentID, err)
	}
	if len(pluginsRaw) > 0 {
		if err := json.Unmarshal(pluginsRaw, &a.Plugins); err != nil {
			return nil, fmt.Errorf("store: unmarshal plugins for agent %q: %w", agentID, err)
		}
	}
	return &a, nil
}

func (p *PostgresStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id, user_id, agent_id, channel_type, created_at, last_active, active
		FROM sessions WHERE id = $1`, sessionID)

	var s domain.Session
	if err := row.Scan(&s.ID, &s.UserID, &s.AgentID, &s.ChannelType, &s.CreatedAt, &s.LastActive, &s.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get session %q: %w", sessionID, err)
	}
	return &s, nil
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *domain.Session) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, agent_id, channel_type, created_at, last_active, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, s.AgentID, s.ChannelType, s.CreatedAt, s.LastActive, s.Active)
	if err != nil {
		if isDuplicateKeyError(err) {
			// Idempotent create: a session with this id already exists.
			return nil
		}
		return fmt.Errorf("store: create session %q: %w", s.ID, err)
	}
	return nil
}

func (p *PostgresStore) MarkSessionInactive(ctx context.Context, sessionID string) error {
	tag, err := p.db.Exec(ctx, `UPDATE sessions SET active = FALSE WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("store: mark session %q inactive: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) AppendTurn(ctx context.Context, t *domain.Turn) error {
	row := p.db.QueryRow(ctx, `
		INSERT INTO turns (session_id, turn_id, role, text, created_at, stt_latency_ms, llm_latency_ms, tts_latency_ms)
		VALUES ($1, COALESCE((SELECT MAX(turn_id) FROM turns WHERE session_id = $1), 0) + 1, $2, $3, $4, $5, $6, $7)
		RETURNING turn_id`,
		t.SessionID, t.Role, t.Text, t.CreatedAt, t.STTLatencyMS, t.LLMLatencyMS, t.TTSLatencyMS)
	if err := row.Scan(&t.ID); err != nil {
		return fmt.Errorf("store: append turn for session %q: %w", t.SessionID, err)
	}
	return nil
}

func (p *PostgresStore) ListRecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	rows, err := p.db.Query(ctx, `
		SELECT turn_id, role, text, created_at, stt_latency_ms, llm_latency_ms, tts_latency_ms
		FROM turns WHERE session_id = $1 ORDER BY turn_id DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list turns for session %q: %w", sessionID, err)
	}
	defer rows.Close()

	var out []domain.Turn
	for rows.Next() {
		t := domain.Turn{SessionID: sessionID}
		if err := rows.Scan(&t.ID, &t.Role, &t.Text, &t.CreatedAt, &t.STTLatencyMS, &t.LLMLatencyMS, &t.TTSLatencyMS); err != nil {
			return nil, fmt.Errorf("store: scan turn for session %q: %w", sessionID, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to chronological order; the query runs DESC to apply LIMIT to
	// the most recent N rows.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// isDuplicateKeyError reports whether err is a Postgres unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
