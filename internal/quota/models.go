package quota

import (
	"errors"
	"time"
)

// Plan is the subscription tier of a tenant.
type Plan string

const (
	PlanNone       Plan = "none"
	PlanTrial      Plan = "trial"
	PlanBasic      Plan = "basic"
	PlanPro        Plan = "pro"
	PlanEnterprise Plan = "enterprise"
)

// Reason explains why a tenant may not proceed.
type Reason string

const (
	ReasonTrialExpired   Reason = "trial_expired"
	ReasonTrialExhausted Reason = "trial_exhausted"
	ReasonPlanExhausted  Reason = "plan_exhausted"
	ReasonNoSubscription Reason = "no_subscription"
)

// Account is the per-tenant usage counter.
//
// Invariants:
// - UsedSeconds never decreases.
// - UsedSeconds only grows through an atomic conditional increment in the store.
type Account struct {
	TenantID     string `json:"tenant_id" db:"tenant_id"`
	Plan         Plan   `json:"plan" db:"plan"`
	QuotaSeconds int64  `json:"quota_seconds" db:"quota_seconds"`
	UsedSeconds  int64  `json:"used_seconds" db:"used_seconds"`

	TrialStartedAt time.Time `json:"trial_started_at" db:"trial_started_at"`
	TrialExpiresAt time.Time `json:"trial_expires_at" db:"trial_expires_at"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (a Account) IsTrial() bool { return a.Plan == PlanTrial }

// RemainingSeconds is never negative even when the last turn overran the quota.
func (a Account) RemainingSeconds() int64 {
	if a.UsedSeconds >= a.QuotaSeconds {
		return 0
	}
	return a.QuotaSeconds - a.UsedSeconds
}

// Decision is the outcome of a gate check.
type Decision struct {
	Allowed          bool   `json:"allowed"`
	Reason           Reason `json:"reason,omitempty"`
	RemainingSeconds int64  `json:"remaining_seconds"`
}

// Summary is the read model served by the quota status endpoint.
type Summary struct {
	TenantID string `json:"tenant_id"`
	Plan     Plan   `json:"plan"`

	TotalSeconds     int64 `json:"total_seconds"`
	UsedSeconds      int64 `json:"used_seconds"`
	RemainingSeconds int64 `json:"remaining_seconds"`

	TotalMinutes     float64 `json:"total_minutes"`
	UsedMinutes      float64 `json:"used_minutes"`
	RemainingMinutes float64 `json:"remaining_minutes"`

	TrialExpiresAt *time.Time `json:"trial_expires_at,omitempty"`
	DaysRemaining  int        `json:"days_remaining"`

	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

var (
	ErrNotFound        = errors.New("quota: account not found")
	ErrInvalidArgument = errors.New("quota: invalid argument")
	ErrUnknownPlan     = errors.New("quota: unknown plan")
)
