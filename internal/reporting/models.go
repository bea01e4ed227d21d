package reporting

import (
	"errors"
	"time"
)

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest asks for aggregated call metrics of one tenant.
// The range is half-open: [From, To).
type CallsSummaryRequest struct {
	TenantID string    `json:"tenant_id"`
	AgentID  string    `json:"agent_id,omitempty"`
	Range    TimeRange `json:"range"`
}

type CallsSummary struct {
	TenantID string    `json:"tenant_id"`
	AgentID  string    `json:"agent_id,omitempty"`
	Range    TimeRange `json:"range"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int64 `json:"total_duration_seconds"`
	AverageDurationSeconds int64 `json:"average_duration_seconds"`
}

// MaxRange bounds one report query.
const MaxRange = 92 * 24 * time.Hour

var ErrInvalidRequest = errors.New("reporting: invalid request")
