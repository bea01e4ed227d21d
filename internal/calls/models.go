package calls

import (
	"errors"
	"strings"
	"time"
)

// Call is the log row for one provider call.
//
// ProviderCallID (Twilio CallSid) is unique; status callbacks upsert on it.
// TenantID and AgentID are empty when the dialed number never resolved.
type Call struct {
	ID             string `json:"id" db:"id"`
	ProviderCallID string `json:"provider_call_id" db:"provider_call_id"`
	TenantID       string `json:"tenant_id,omitempty" db:"tenant_id"`
	AgentID        string `json:"agent_id,omitempty" db:"agent_id"`
	SessionID      string `json:"session_id,omitempty" db:"session_id"`

	From string `json:"from" db:"from_number"`
	To   string `json:"to" db:"to_number"`

	Status CallStatus `json:"status" db:"status"`

	// DurationSeconds is reported by the provider once the call ends.
	DurationSeconds int `json:"duration" db:"duration_seconds"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusBusy       CallStatus = "busy"
	CallStatusCanceled   CallStatus = "canceled"
)

// Terminal reports whether the provider is done with the call.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusFailed, CallStatusNoAnswer, CallStatusBusy, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// ParseTwilioStatus maps Twilio's CallStatus values ("in-progress", "no-answer").
func ParseTwilioStatus(s string) (CallStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "initiated":
		return CallStatusQueued, true
	case "ringing":
		return CallStatusRinging, true
	case "in-progress", "answered":
		return CallStatusInProgress, true
	case "completed":
		return CallStatusCompleted, true
	case "failed":
		return CallStatusFailed, true
	case "no-answer":
		return CallStatusNoAnswer, true
	case "busy":
		return CallStatusBusy, true
	case "canceled":
		return CallStatusCanceled, true
	default:
		return "", false
	}
}

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)
