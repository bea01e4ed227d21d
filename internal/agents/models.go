package agents

import (
	"errors"
	"strings"
	"time"
)

// Agent is a tenant-owned persona that answers calls.
// Optional fields are nil when the tenant left them unset; Settings resolves them.
// Edits take effect on the next load, so a call in progress keeps the values it read.
type Agent struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Name     string `json:"name" db:"name"`

	SystemPrompt string `json:"system_prompt,omitempty" db:"system_prompt"`
	Greeting     string `json:"greeting,omitempty" db:"greeting"`

	// TTSVoiceID takes precedence over VoiceID.
	VoiceID    string `json:"voice_id,omitempty" db:"voice_id"`
	TTSVoiceID string `json:"tts_voice_id,omitempty" db:"tts_voice_id"`

	Model       string   `json:"model,omitempty" db:"model"`
	Temperature *float64 `json:"temperature,omitempty" db:"temperature"`
	MaxTokens   *int     `json:"max_tokens,omitempty" db:"max_tokens"`

	Active bool `json:"active" db:"active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

const (
	DefaultSystemPrompt = "You are a professional AI receptionist. Be concise and helpful. Capture caller details when relevant."
	DefaultGreeting     = "Hello! Thank you for calling. How can I help you today?"
	DefaultModel        = "llama-3.1-70b-versatile"
	DefaultVoiceID      = "marcus"
	DefaultTemperature  = 0.6
	DefaultMaxTokens    = 400
)

// Settings is the fully resolved turn configuration for an agent.
type Settings struct {
	SystemPrompt string
	Greeting     string
	VoiceID      string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Settings resolves every optional field against its default once.
func (a Agent) Settings() Settings {
	s := Settings{
		SystemPrompt: DefaultSystemPrompt,
		Greeting:     DefaultGreeting,
		VoiceID:      DefaultVoiceID,
		Model:        DefaultModel,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
	}
	if v := strings.TrimSpace(a.SystemPrompt); v != "" {
		s.SystemPrompt = v
	}
	if v := strings.TrimSpace(a.Greeting); v != "" {
		s.Greeting = v
	}
	if v := strings.TrimSpace(a.TTSVoiceID); v != "" {
		s.VoiceID = v
	} else if v := strings.TrimSpace(a.VoiceID); v != "" {
		s.VoiceID = v
	}
	if v := strings.TrimSpace(a.Model); v != "" {
		s.Model = v
	}
	if a.Temperature != nil && *a.Temperature >= 0 && *a.Temperature <= 2 {
		s.Temperature = *a.Temperature
	}
	if a.MaxTokens != nil && *a.MaxTokens > 0 {
		s.MaxTokens = *a.MaxTokens
	}
	return s
}

var (
	ErrNotFound = errors.New("agents: not found")
	ErrInactive = errors.New("agents: inactive")
)
