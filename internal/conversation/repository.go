package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"voice-agent-platform/pkg/utils"
)

// PostgresRepository stores sessions in conversation_sessions and messages in
// conversation_messages. It assumes:
// - UNIQUE (external_call_id) on conversation_sessions
// - UNIQUE (session_id, seq) on conversation_messages
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, agent_id, tenant_id, external_call_id, caller_number, status, context, created_at, updated_at, ended_at`

func scanSession(row interface{ Scan(dest ...any) error }) (Session, error) {
	var (
		s       Session
		status  string
		rawCtx  []byte
		endedAt sql.NullTime
	)
	if err := row.Scan(
		&s.ID,
		&s.AgentID,
		&s.TenantID,
		&s.ExternalCallID,
		&s.CallerNumber,
		&status,
		&rawCtx,
		&s.CreatedAt,
		&s.UpdatedAt,
		&endedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	s.Status = Status(status)
	if len(rawCtx) > 0 {
		if err := json.Unmarshal(rawCtx, &s.Context); err != nil {
			return Session{}, err
		}
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return s, nil
}

func (r *PostgresRepository) CreateOrGet(ctx context.Context, s Session) (Session, bool, error) {
	rawCtx, err := json.Marshal(s.Context)
	if err != nil {
		return Session{}, false, err
	}
	q := `
INSERT INTO conversation_sessions (id, agent_id, tenant_id, external_call_id, caller_number, status, context, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT (external_call_id) DO NOTHING
RETURNING ` + sessionColumns
	created, err := scanSession(r.db.QueryRowContext(ctx, q,
		s.ID,
		s.AgentID,
		s.TenantID,
		s.ExternalCallID,
		s.CallerNumber,
		string(s.Status),
		rawCtx,
		s.CreatedAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, false, err
	}
	// Conflict: a concurrent or earlier delivery already created it.
	existing, err := r.GetByCallID(ctx, s.ExternalCallID)
	return existing, false, err
}

func (r *PostgresRepository) Get(ctx context.Context, sessionID string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM conversation_sessions WHERE id = $1`
	return scanSession(r.db.QueryRowContext(ctx, q, sessionID))
}

func (r *PostgresRepository) GetByCallID(ctx context.Context, externalCallID string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM conversation_sessions WHERE external_call_id = $1`
	return scanSession(r.db.QueryRowContext(ctx, q, externalCallID))
}

func (r *PostgresRepository) Append(ctx context.Context, sessionID string, msgs []Message) ([]Message, error) {
	out := make([]Message, 0, len(msgs))
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		// Row lock serializes appends per session and blocks a concurrent close.
		var status string
		err := tx.QueryRowContext(ctx, `SELECT status FROM conversation_sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if Status(status) != StatusActive {
			return ErrSessionClosed
		}

		var seq int64
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM conversation_messages WHERE session_id = $1`, sessionID).Scan(&seq); err != nil {
			return err
		}

		const ins = `
INSERT INTO conversation_messages (id, session_id, seq, role, content, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
		for _, m := range msgs {
			seq++
			m.Seq = seq
			if _, err := tx.ExecContext(ctx, ins, m.ID, sessionID, m.Seq, string(m.Role), m.Content, m.CreatedAt); err != nil {
				return err
			}
			out = append(out, m)
		}

		_, err = tx.ExecContext(ctx, `UPDATE conversation_sessions SET updated_at = $2 WHERE id = $1`, sessionID, msgs[len(msgs)-1].CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresRepository) History(ctx context.Context, sessionID string) ([]Message, error) {
	const q = `
SELECT id, session_id, seq, role, content, created_at
FROM conversation_messages
WHERE session_id = $1
ORDER BY seq ASC
`
	rows, err := r.db.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var role string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Close(ctx context.Context, sessionID string, status Status, now time.Time) (Session, error) {
	q := `
UPDATE conversation_sessions
SET status = $2, updated_at = $3, ended_at = $3
WHERE id = $1 AND status = 'active'
RETURNING ` + sessionColumns
	s, err := scanSession(r.db.QueryRowContext(ctx, q, sessionID, string(status), now))
	if !errors.Is(err, ErrNotFound) {
		return s, err
	}
	if _, getErr := r.Get(ctx, sessionID); getErr != nil {
		return Session{}, getErr
	}
	return Session{}, ErrSessionClosed
}
