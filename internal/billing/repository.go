package billing

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// Store persists subscriptions.
type Store interface {
	GetByTxRef(ctx context.Context, txRef string) (Subscription, error)
	Activate(ctx context.Context, txRef, transactionID, customerID string, periodStart, periodEnd time.Time) (Subscription, error)
	MarkFailed(ctx context.Context, txRef, transactionID string, now time.Time) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const subscriptionColumns = `id, tenant_id, plan, status, tx_ref, COALESCE(transaction_id, ''), COALESCE(customer_id, ''), current_period_start, current_period_end, created_at, updated_at`

func scanSubscription(row interface{ Scan(dest ...any) error }) (Subscription, error) {
	var (
		s          Subscription
		start, end sql.NullTime
	)
	if err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.Plan,
		&s.Status,
		&s.TxRef,
		&s.TransactionID,
		&s.CustomerID,
		&start,
		&end,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Subscription{}, ErrNotFound
		}
		return Subscription{}, err
	}
	if start.Valid {
		t := start.Time
		s.CurrentPeriodStart = &t
	}
	if end.Valid {
		t := end.Time
		s.CurrentPeriodEnd = &t
	}
	return s, nil
}

func (p *PostgresStore) GetByTxRef(ctx context.Context, txRef string) (Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE tx_ref = $1`
	return scanSubscription(p.db.QueryRowContext(ctx, q, txRef))
}

func (p *PostgresStore) Activate(ctx context.Context, txRef, transactionID, customerID string, periodStart, periodEnd time.Time) (Subscription, error) {
	q := `
UPDATE subscriptions
SET status = 'active',
    transaction_id = NULLIF($2, ''),
    customer_id = NULLIF($3, ''),
    current_period_start = $4,
    current_period_end = $5,
    updated_at = $4
WHERE tx_ref = $1
RETURNING ` + subscriptionColumns
	return scanSubscription(p.db.QueryRowContext(ctx, q, txRef, transactionID, customerID, periodStart, periodEnd))
}

func (p *PostgresStore) MarkFailed(ctx context.Context, txRef, transactionID string, now time.Time) error {
	const q = `
UPDATE subscriptions
SET status = 'failed', transaction_id = COALESCE(NULLIF($2, ''), transaction_id), updated_at = $3
WHERE tx_ref = $1 AND status = 'pending'
`
	_, err := p.db.ExecContext(ctx, q, txRef, transactionID, now)
	return err
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu   sync.Mutex
	subs map[string]Subscription
}

func NewMemoryStore(subs ...Subscription) *MemoryStore {
	m := &MemoryStore{subs: map[string]Subscription{}}
	for _, s := range subs {
		m.subs[s.TxRef] = s
	}
	return m
}

func (m *MemoryStore) GetByTxRef(ctx context.Context, txRef string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[txRef]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) Activate(ctx context.Context, txRef, transactionID, customerID string, periodStart, periodEnd time.Time) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[txRef]
	if !ok {
		return Subscription{}, ErrNotFound
	}
	s.Status = SubscriptionActive
	s.TransactionID = transactionID
	s.CustomerID = customerID
	s.CurrentPeriodStart = &periodStart
	s.CurrentPeriodEnd = &periodEnd
	s.UpdatedAt = periodStart
	m.subs[txRef] = s
	return s, nil
}

func (m *MemoryStore) MarkFailed(ctx context.Context, txRef, transactionID string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[txRef]
	if !ok || s.Status != SubscriptionPending {
		return nil
	}
	s.Status = SubscriptionFailed
	if transactionID != "" {
		s.TransactionID = transactionID
	}
	s.UpdatedAt = now
	m.subs[txRef] = s
	return nil
}
