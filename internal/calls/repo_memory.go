package calls

import (
	"context"
	"sync"
)

// MemoryRepository is an in-memory Repository for tests.
type MemoryRepository struct {
	mu    sync.Mutex
	calls map[string]Call
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{calls: map[string]Call{}}
}

func (r *MemoryRepository) Upsert(ctx context.Context, c Call) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.calls[c.ProviderCallID]
	if !ok {
		c.CreatedAt = c.UpdatedAt
		r.calls[c.ProviderCallID] = c
		return c, nil
	}
	out := merge(existing, c)
	r.calls[c.ProviderCallID] = out
	return out, nil
}

func (r *MemoryRepository) GetByProviderID(ctx context.Context, providerCallID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[providerCallID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}
