package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository for tests.
type MemoryRepository struct {
	mu       sync.Mutex
	sessions map[string]Session
	byCallID map[string]string
	messages map[string][]Message

	// FailAppend, when set, is returned by Append before anything is written.
	FailAppend error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: map[string]Session{},
		byCallID: map[string]string{},
		messages: map[string][]Message{},
	}
}

func (r *MemoryRepository) CreateOrGet(ctx context.Context, s Session) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byCallID[s.ExternalCallID]; ok {
		return r.sessions[id], false, nil
	}
	r.sessions[s.ID] = s
	r.byCallID[s.ExternalCallID] = s.ID
	return s, true, nil
}

func (r *MemoryRepository) Get(ctx context.Context, sessionID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepository) GetByCallID(ctx context.Context, externalCallID string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byCallID[externalCallID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return r.sessions[id], nil
}

func (r *MemoryRepository) Append(ctx context.Context, sessionID string, msgs []Message) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailAppend != nil {
		return nil, r.FailAppend
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != StatusActive {
		return nil, ErrSessionClosed
	}
	seq := int64(len(r.messages[sessionID]))
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		seq++
		m.Seq = seq
		out = append(out, m)
	}
	r.messages[sessionID] = append(r.messages[sessionID], out...)
	s.UpdatedAt = msgs[len(msgs)-1].CreatedAt
	r.sessions[sessionID] = s
	return out, nil
}

func (r *MemoryRepository) History(ctx context.Context, sessionID string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src := r.messages[sessionID]
	out := make([]Message, len(src))
	copy(out, src)
	return out, nil
}

func (r *MemoryRepository) Close(ctx context.Context, sessionID string, status Status, now time.Time) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.Status != StatusActive {
		return Session{}, ErrSessionClosed
	}
	s.Status = status
	s.UpdatedAt = now
	s.EndedAt = &now
	r.sessions[sessionID] = s
	return s, nil
}

// Count returns the number of stored sessions.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
