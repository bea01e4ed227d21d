package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository persists call log rows.
//
// Upsert merges on provider_call_id: empty strings and zero durations in c
// never overwrite values already stored, and a terminal status is never
// replaced by a non-terminal one (callbacks can arrive out of order).
type Repository interface {
	Upsert(ctx context.Context, c Call) (Call, error)
	GetByProviderID(ctx context.Context, providerCallID string) (Call, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const callColumns = `id, provider_call_id, tenant_id, agent_id, session_id, from_number, to_number, status, duration_seconds, created_at, updated_at, ended_at`

func scanCall(row interface{ Scan(dest ...any) error }) (Call, error) {
	var (
		c                         Call
		tenantID, agentID, sessID sql.NullString
		endedAt                   sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.ProviderCallID,
		&tenantID,
		&agentID,
		&sessID,
		&c.From,
		&c.To,
		&c.Status,
		&c.DurationSeconds,
		&c.CreatedAt,
		&c.UpdatedAt,
		&endedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	c.TenantID = tenantID.String
	c.AgentID = agentID.String
	c.SessionID = sessID.String
	if endedAt.Valid {
		t := endedAt.Time
		c.EndedAt = &t
	}
	return c, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, c Call) (Call, error) {
	const q = `
INSERT INTO call_logs (` + callColumns + `)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $10, $11)
ON CONFLICT (provider_call_id) DO UPDATE SET
  tenant_id        = COALESCE(call_logs.tenant_id, EXCLUDED.tenant_id),
  agent_id         = COALESCE(call_logs.agent_id, EXCLUDED.agent_id),
  session_id       = COALESCE(call_logs.session_id, EXCLUDED.session_id),
  from_number      = CASE WHEN EXCLUDED.from_number <> '' THEN EXCLUDED.from_number ELSE call_logs.from_number END,
  to_number        = CASE WHEN EXCLUDED.to_number <> '' THEN EXCLUDED.to_number ELSE call_logs.to_number END,
  status           = CASE WHEN call_logs.status IN ('completed','failed','no_answer','busy','canceled')
                          THEN call_logs.status ELSE EXCLUDED.status END,
  duration_seconds = GREATEST(call_logs.duration_seconds, EXCLUDED.duration_seconds),
  ended_at         = COALESCE(call_logs.ended_at, EXCLUDED.ended_at),
  updated_at       = EXCLUDED.updated_at
RETURNING ` + callColumns

	var ended any
	if c.EndedAt != nil {
		ended = *c.EndedAt
	}
	row := r.db.QueryRowContext(ctx, q,
		c.ID,
		c.ProviderCallID,
		c.TenantID,
		c.AgentID,
		c.SessionID,
		c.From,
		c.To,
		string(c.Status),
		c.DurationSeconds,
		c.UpdatedAt,
		ended,
	)
	return scanCall(row)
}

func (r *PostgresRepository) GetByProviderID(ctx context.Context, providerCallID string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM call_logs WHERE provider_call_id = $1`
	return scanCall(r.db.QueryRowContext(ctx, q, providerCallID))
}

// merge applies the Upsert rules in memory.
func merge(existing, in Call) Call {
	out := existing
	if out.TenantID == "" {
		out.TenantID = in.TenantID
	}
	if out.AgentID == "" {
		out.AgentID = in.AgentID
	}
	if out.SessionID == "" {
		out.SessionID = in.SessionID
	}
	if in.From != "" {
		out.From = in.From
	}
	if in.To != "" {
		out.To = in.To
	}
	if !existing.Status.Terminal() {
		out.Status = in.Status
	}
	if in.DurationSeconds > out.DurationSeconds {
		out.DurationSeconds = in.DurationSeconds
	}
	if out.EndedAt == nil && in.EndedAt != nil {
		t := *in.EndedAt
		out.EndedAt = &t
	}
	out.UpdatedAt = in.UpdatedAt
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Now().UTC()
	}
	return out
}
