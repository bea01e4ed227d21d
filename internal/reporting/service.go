package reporting

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"voice-agent-platform/internal/calls"
)

// Repository lists call records. Implementations must filter by tenant.
type Repository interface {
	ListCalls(ctx context.Context, tenantID, agentID string, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

// CallsSummary aggregates the tenant's call log over the requested range.
func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.TenantID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > MaxRange {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.TenantID, req.AgentID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{TenantID: req.TenantID, AgentID: req.AgentID, Range: req.Range}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += int64(c.DurationSeconds)
		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusNoAnswer:
			out.NoAnswerCalls++
		case calls.CallStatusBusy:
			out.BusyCalls++
		case calls.CallStatusCanceled:
			out.CanceledCalls++
		case calls.CallStatusInProgress:
			out.InProgressCalls++
		case calls.CallStatusRinging, calls.CallStatusQueued:
			// not counted separately
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / int64(out.TotalCalls)
	}
	return out, nil
}

// PostgresRepo reads call_logs.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ListCalls(ctx context.Context, tenantID, agentID string, from, to time.Time) ([]calls.Call, error) {
	const q = `
SELECT id, provider_call_id, COALESCE(agent_id, ''), status, duration_seconds, created_at
FROM call_logs
WHERE tenant_id = $1
  AND ($2 = '' OR agent_id = $2)
  AND created_at >= $3 AND created_at < $4
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, tenantID, agentID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []calls.Call
	for rows.Next() {
		c := calls.Call{TenantID: tenantID}
		if err := rows.Scan(&c.ID, &c.ProviderCallID, &c.AgentID, &c.Status, &c.DurationSeconds, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MemoryRepo is an in-memory Repository for tests.
type MemoryRepo struct {
	mu    sync.Mutex
	Calls []calls.Call
}

func NewMemoryRepo(cs ...calls.Call) *MemoryRepo { return &MemoryRepo{Calls: cs} }

func (r *MemoryRepo) ListCalls(ctx context.Context, tenantID, agentID string, from, to time.Time) ([]calls.Call, error) {
	if tenantID == "" {
		return nil, errors.New("tenant_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.Call, 0)
	for _, c := range r.Calls {
		if c.TenantID != tenantID {
			continue
		}
		if agentID != "" && c.AgentID != agentID {
			continue
		}
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
