package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo writes to audit_events. The table has no UPDATE or DELETE path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, tenant_id, type, actor_user_id, actor_role, ip_address, external_ref, message, metadata, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, COALESCE(NULLIF($9, ''), '{}')::jsonb, $10)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.TenantID,
		string(e.Type),
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.ExternalRef,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
