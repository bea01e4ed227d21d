package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and local runs.
// The mutex makes AddUsage atomic the same way the conditional UPDATE does in Postgres.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]Account
	events   []UsageEvent
}

// UsageEvent is one recorded increment.
type UsageEvent struct {
	TenantID  string
	SessionID string
	Seconds   int64
	CreatedAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: map[string]Account{}}
}

// Put seeds or replaces an account.
func (s *MemoryStore) Put(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.TenantID] = a
}

func (s *MemoryStore) Get(ctx context.Context, tenantID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[tenantID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) AddUsage(ctx context.Context, tenantID, sessionID string, seconds int64, now time.Time) (Account, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[tenantID]
	if !ok {
		return Account{}, false, ErrNotFound
	}
	if !Evaluate(a, now).Allowed {
		return a, false, nil
	}
	a.UsedSeconds += seconds
	a.UpdatedAt = now
	s.accounts[tenantID] = a
	s.events = append(s.events, UsageEvent{TenantID: tenantID, SessionID: sessionID, Seconds: seconds, CreatedAt: now})
	return a, true, nil
}

func (s *MemoryStore) ApplyPlan(ctx context.Context, tenantID string, plan Plan, quotaSeconds int64, now time.Time) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[tenantID]
	if !ok {
		a = Account{TenantID: tenantID}
	}
	a.Plan = plan
	a.QuotaSeconds = quotaSeconds
	a.UpdatedAt = now
	s.accounts[tenantID] = a
	return a, nil
}

func (s *MemoryStore) OpenTrial(ctx context.Context, tenantID string, now time.Time) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.accounts[tenantID]; ok {
		return a, nil
	}
	a := NewTrialAccount(tenantID, now)
	s.accounts[tenantID] = a
	return a, nil
}

// Events returns a copy of recorded usage.
func (s *MemoryStore) Events() []UsageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UsageEvent, len(s.events))
	copy(out, s.events)
	return out
}
