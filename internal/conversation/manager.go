package conversation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for sessions and messages.
//
// Append writes all msgs or none and fails with ErrSessionClosed when the
// session is no longer active.
type Repository interface {
	CreateOrGet(ctx context.Context, s Session) (Session, bool, error)
	Get(ctx context.Context, sessionID string) (Session, error)
	GetByCallID(ctx context.Context, externalCallID string) (Session, error)
	Append(ctx context.Context, sessionID string, msgs []Message) ([]Message, error)
	History(ctx context.Context, sessionID string) ([]Message, error)
	Close(ctx context.Context, sessionID string, status Status, now time.Time) (Session, error)
}

// Manager owns the lifecycle of call sessions. It keeps no state between
// calls; every read goes to the repository.
type Manager struct {
	repo  Repository
	clock func() time.Time
}

func NewManager(repo Repository) *Manager {
	return &Manager{repo: repo, clock: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

type CreateParams struct {
	AgentID        string
	TenantID       string
	ExternalCallID string
	CallerNumber   string
	Context        map[string]string
}

// Create starts a session for a call. A duplicate webhook for the same
// external call id gets the existing session back.
func (m *Manager) Create(ctx context.Context, p CreateParams) (Session, bool, error) {
	if strings.TrimSpace(p.AgentID) == "" || strings.TrimSpace(p.ExternalCallID) == "" || strings.TrimSpace(p.TenantID) == "" {
		return Session{}, false, ErrInvalidArgument
	}
	now := m.clock().UTC()
	s := Session{
		ID:             uuid.NewString(),
		AgentID:        p.AgentID,
		TenantID:       p.TenantID,
		ExternalCallID: p.ExternalCallID,
		CallerNumber:   p.CallerNumber,
		Status:         StatusActive,
		Context:        p.Context,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return m.repo.CreateOrGet(ctx, s)
}

func (m *Manager) Get(ctx context.Context, sessionID string) (Session, error) {
	if sessionID == "" {
		return Session{}, ErrInvalidArgument
	}
	return m.repo.Get(ctx, sessionID)
}

func (m *Manager) GetByCallID(ctx context.Context, externalCallID string) (Session, error) {
	if externalCallID == "" {
		return Session{}, ErrInvalidArgument
	}
	return m.repo.GetByCallID(ctx, externalCallID)
}

// AppendMessage adds one message to an active session.
func (m *Manager) AppendMessage(ctx context.Context, sessionID string, role Role, content string) (Message, error) {
	out, err := m.append(ctx, sessionID, []draft{{role, content}})
	if err != nil {
		return Message{}, err
	}
	return out[0], nil
}

// AppendTurn records the caller's utterance and the agent's reply together.
func (m *Manager) AppendTurn(ctx context.Context, sessionID, userText, agentText string) ([]Message, error) {
	return m.append(ctx, sessionID, []draft{{RoleUser, userText}, {RoleAgent, agentText}})
}

type draft struct {
	role    Role
	content string
}

func (m *Manager) append(ctx context.Context, sessionID string, drafts []draft) ([]Message, error) {
	if sessionID == "" {
		return nil, ErrInvalidArgument
	}
	now := m.clock().UTC()
	msgs := make([]Message, 0, len(drafts))
	for _, d := range drafts {
		if d.role != RoleUser && d.role != RoleAgent {
			return nil, ErrInvalidArgument
		}
		if strings.TrimSpace(d.content) == "" {
			return nil, ErrInvalidArgument
		}
		msgs = append(msgs, Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      d.role,
			Content:   d.content,
			CreatedAt: now,
		})
	}
	return m.repo.Append(ctx, sessionID, msgs)
}

// History returns every message of the session in insertion order.
func (m *Manager) History(ctx context.Context, sessionID string) ([]Message, error) {
	if sessionID == "" {
		return nil, ErrInvalidArgument
	}
	return m.repo.History(ctx, sessionID)
}

// Close moves an active session to a terminal status. Closing twice returns ErrSessionClosed.
func (m *Manager) Close(ctx context.Context, sessionID string, status Status) (Session, error) {
	if sessionID == "" || !status.Terminal() {
		return Session{}, ErrInvalidArgument
	}
	return m.repo.Close(ctx, sessionID, status, m.clock().UTC())
}
