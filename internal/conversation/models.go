package conversation

import (
	"errors"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Session is the conversational context of one phone call.
// ExternalCallID is unique: one session per provider call.
type Session struct {
	ID             string            `json:"id" db:"id"`
	AgentID        string            `json:"agent_id" db:"agent_id"`
	TenantID       string            `json:"tenant_id" db:"tenant_id"`
	ExternalCallID string            `json:"external_call_id" db:"external_call_id"`
	CallerNumber   string            `json:"caller_number" db:"caller_number"`
	Status         Status            `json:"status" db:"status"`
	Context        map[string]string `json:"context,omitempty" db:"context"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// Message is one append-only line of dialogue. Seq is assigned by the store
// and is the only ordering guarantee.
type Message struct {
	ID        string    `json:"id" db:"id"`
	SessionID string    `json:"session_id" db:"session_id"`
	Seq       int64     `json:"seq" db:"seq"`
	Role      Role      `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

var (
	ErrNotFound        = errors.New("conversation: session not found")
	ErrSessionClosed   = errors.New("conversation: session closed")
	ErrInvalidArgument = errors.New("conversation: invalid argument")
)
