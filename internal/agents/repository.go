package agents

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// Repository loads agent configuration.
type Repository interface {
	Get(ctx context.Context, agentID string) (Agent, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, agentID string) (Agent, error) {
	const q = `
SELECT id, tenant_id, name, system_prompt, greeting, voice_id, tts_voice_id, model, temperature, max_tokens, active, created_at, updated_at
FROM agents
WHERE id = $1
`
	var (
		a           Agent
		temperature sql.NullFloat64
		maxTokens   sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, q, agentID).Scan(
		&a.ID,
		&a.TenantID,
		&a.Name,
		&a.SystemPrompt,
		&a.Greeting,
		&a.VoiceID,
		&a.TTSVoiceID,
		&a.Model,
		&temperature,
		&maxTokens,
		&a.Active,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Agent{}, ErrNotFound
		}
		return Agent{}, err
	}
	if temperature.Valid {
		v := temperature.Float64
		a.Temperature = &v
	}
	if maxTokens.Valid {
		v := int(maxTokens.Int64)
		a.MaxTokens = &v
	}
	return a, nil
}

// MemoryRepository is a map-backed Repository for tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

func NewMemoryRepository(agents ...Agent) *MemoryRepository {
	r := &MemoryRepository{agents: map[string]Agent{}}
	for _, a := range agents {
		r.agents[a.ID] = a
	}
	return r
}

func (r *MemoryRepository) Put(a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
}

func (r *MemoryRepository) Get(ctx context.Context, agentID string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}
