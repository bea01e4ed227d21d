package routing

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
)

// Route is where an inbound call to a dialed number is delivered.
type Route struct {
	PhoneNumber string `json:"phone_number" db:"phone_number"`
	TenantID    string `json:"tenant_id" db:"tenant_id"`
	AgentID     string `json:"agent_id" db:"agent_id"`
}

// ErrNoRoute means the dialed number is not assigned to an active agent.
var ErrNoRoute = errors.New("routing: no active route for number")

// Resolver maps a dialed number to its tenant and agent.
type Resolver interface {
	Resolve(ctx context.Context, dialed string) (Route, error)
}

// NormalizeNumber trims whitespace and keeps a single leading '+'.
// Twilio form encoding turns '+' into a space when senders forget to escape it.
func NormalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out != "" && out[0] != '+' {
		out = "+" + out
	}
	return out
}

// PostgresResolver reads phone_numbers joined with agents; both must be active.
type PostgresResolver struct {
	db *sql.DB
}

func NewPostgresResolver(db *sql.DB) *PostgresResolver {
	return &PostgresResolver{db: db}
}

func (r *PostgresResolver) Resolve(ctx context.Context, dialed string) (Route, error) {
	n := NormalizeNumber(dialed)
	if n == "" {
		return Route{}, ErrNoRoute
	}
	const q = `
SELECT p.phone_number, p.tenant_id, p.agent_id
FROM phone_numbers p
JOIN agents a ON a.id = p.agent_id
WHERE p.phone_number = $1 AND p.active AND a.active
LIMIT 1
`
	var rt Route
	if err := r.db.QueryRowContext(ctx, q, n).Scan(&rt.PhoneNumber, &rt.TenantID, &rt.AgentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Route{}, ErrNoRoute
		}
		return Route{}, err
	}
	return rt, nil
}

// MemoryResolver is a static table for tests and local runs.
type MemoryResolver struct {
	mu     sync.RWMutex
	routes map[string]Route
}

func NewMemoryResolver(routes ...Route) *MemoryResolver {
	m := &MemoryResolver{routes: map[string]Route{}}
	for _, rt := range routes {
		m.Add(rt)
	}
	return m
}

func (m *MemoryResolver) Add(rt Route) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rt.PhoneNumber = NormalizeNumber(rt.PhoneNumber)
	m.routes[rt.PhoneNumber] = rt
}

func (m *MemoryResolver) Resolve(ctx context.Context, dialed string) (Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.routes[NormalizeNumber(dialed)]
	if !ok {
		return Route{}, ErrNoRoute
	}
	return rt, nil
}
