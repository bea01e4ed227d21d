package quota

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// PostgresStore keeps counters in tenant_quotas and an append-only usage_events log.
//
// Concurrent calls for one tenant are serialized by the row lock taken by the
// conditional UPDATE; no application-side read-then-write happens.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `tenant_id, plan, quota_seconds, used_seconds, trial_started_at, trial_expires_at, updated_at`

func scanAccount(row interface{ Scan(dest ...any) error }) (Account, error) {
	var a Account
	var plan string
	if err := row.Scan(
		&a.TenantID,
		&plan,
		&a.QuotaSeconds,
		&a.UsedSeconds,
		&a.TrialStartedAt,
		&a.TrialExpiresAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, err
	}
	a.Plan = Plan(plan)
	return a, nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID string) (Account, error) {
	q := `SELECT ` + accountColumns + ` FROM tenant_quotas WHERE tenant_id = $1`
	return scanAccount(s.db.QueryRowContext(ctx, q, tenantID))
}

// AddUsage increments used_seconds only while the account is allowed and logs
// the increment in the same statement.
func (s *PostgresStore) AddUsage(ctx context.Context, tenantID, sessionID string, seconds int64, now time.Time) (Account, bool, error) {
	const q = `
WITH updated AS (
  UPDATE tenant_quotas
  SET used_seconds = used_seconds + $2, updated_at = $3
  WHERE tenant_id = $1
    AND used_seconds < quota_seconds
    AND plan <> 'none'
    AND (plan <> 'trial' OR trial_expires_at > $3)
  RETURNING tenant_id, plan, quota_seconds, used_seconds, trial_started_at, trial_expires_at, updated_at
), logged AS (
  INSERT INTO usage_events (id, tenant_id, session_id, seconds, created_at)
  SELECT $4, tenant_id, NULLIF($5, ''), $2, $3 FROM updated
)
SELECT tenant_id, plan, quota_seconds, used_seconds, trial_started_at, trial_expires_at, updated_at FROM updated
`
	a, err := scanAccount(s.db.QueryRowContext(ctx, q, tenantID, seconds, now, uuid.NewString(), sessionID))
	if errors.Is(err, ErrNotFound) {
		// Either no account or not allowed; distinguish for the caller.
		cur, getErr := s.Get(ctx, tenantID)
		if getErr != nil {
			return Account{}, false, getErr
		}
		return cur, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return a, true, nil
}

func (s *PostgresStore) ApplyPlan(ctx context.Context, tenantID string, plan Plan, quotaSeconds int64, now time.Time) (Account, error) {
	q := `
INSERT INTO tenant_quotas (tenant_id, plan, quota_seconds, used_seconds, trial_started_at, trial_expires_at, updated_at)
VALUES ($1, $2, $3, 0, $4, $4, $4)
ON CONFLICT (tenant_id) DO UPDATE
SET plan = EXCLUDED.plan, quota_seconds = EXCLUDED.quota_seconds, updated_at = EXCLUDED.updated_at
RETURNING ` + accountColumns
	return scanAccount(s.db.QueryRowContext(ctx, q, tenantID, string(plan), quotaSeconds, now))
}

func (s *PostgresStore) OpenTrial(ctx context.Context, tenantID string, now time.Time) (Account, error) {
	a := NewTrialAccount(tenantID, now)
	const q = `
INSERT INTO tenant_quotas (tenant_id, plan, quota_seconds, used_seconds, trial_started_at, trial_expires_at, updated_at)
VALUES ($1, $2, $3, 0, $4, $5, $4)
ON CONFLICT (tenant_id) DO NOTHING
`
	if _, err := s.db.ExecContext(ctx, q, a.TenantID, string(a.Plan), a.QuotaSeconds, a.TrialStartedAt, a.TrialExpiresAt); err != nil {
		return Account{}, err
	}
	return s.Get(ctx, tenantID)
}
