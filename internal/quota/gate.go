package quota

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// Store is the persistence contract for usage counters.
//
// AddUsage must be a single atomic read-modify-write: it increments only if
// the account is allowed at write time and reports whether it did.
type Store interface {
	Get(ctx context.Context, tenantID string) (Account, error)
	AddUsage(ctx context.Context, tenantID, sessionID string, seconds int64, now time.Time) (Account, bool, error)
	ApplyPlan(ctx context.Context, tenantID string, plan Plan, quotaSeconds int64, now time.Time) (Account, error)
	OpenTrial(ctx context.Context, tenantID string, now time.Time) (Account, error)
}

// Gate decides whether a tenant may consume more pipeline time.
type Gate struct {
	store Store
	clock func() time.Time
}

func NewGate(store Store) *Gate {
	return &Gate{store: store, clock: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (g *Gate) WithClock(clock func() time.Time) *Gate {
	g.clock = clock
	return g
}

// Evaluate applies the quota rules to a snapshot of an account.
// Trial accounts need both minutes left and an unexpired trial window; paid
// accounts only need minutes left.
func Evaluate(a Account, now time.Time) Decision {
	switch {
	case a.Plan == PlanTrial:
		if !now.Before(a.TrialExpiresAt) {
			return Decision{Allowed: false, Reason: ReasonTrialExpired, RemainingSeconds: 0}
		}
		if a.UsedSeconds >= a.QuotaSeconds {
			return Decision{Allowed: false, Reason: ReasonTrialExhausted, RemainingSeconds: 0}
		}
		return Decision{Allowed: true, RemainingSeconds: a.RemainingSeconds()}
	case IsPaid(a.Plan):
		if a.UsedSeconds >= a.QuotaSeconds {
			return Decision{Allowed: false, Reason: ReasonPlanExhausted, RemainingSeconds: 0}
		}
		return Decision{Allowed: true, RemainingSeconds: a.RemainingSeconds()}
	default:
		return Decision{Allowed: false, Reason: ReasonNoSubscription, RemainingSeconds: 0}
	}
}

// CanProceed reports whether tenantID may start another call or turn.
// A tenant with no account has no subscription.
func (g *Gate) CanProceed(ctx context.Context, tenantID string) (Decision, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Decision{}, ErrInvalidArgument
	}
	a, err := g.store.Get(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return Decision{Allowed: false, Reason: ReasonNoSubscription}, nil
	}
	if err != nil {
		return Decision{}, err
	}
	return Evaluate(a, g.clock().UTC()), nil
}

// RecordUsage adds consumed seconds to the tenant's counter.
// It returns false without writing when the tenant is no longer allowed.
// An allowed write is applied in full even if it overruns the remaining quota.
func (g *Gate) RecordUsage(ctx context.Context, tenantID, sessionID string, seconds int64) (bool, error) {
	if strings.TrimSpace(tenantID) == "" || seconds <= 0 {
		return false, ErrInvalidArgument
	}
	_, applied, err := g.store.AddUsage(ctx, tenantID, sessionID, seconds, g.clock().UTC())
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return applied, nil
}

// RecordDuration is RecordUsage for a measured duration, rounded up to whole seconds.
func (g *Gate) RecordDuration(ctx context.Context, tenantID, sessionID string, d time.Duration) (bool, error) {
	return g.RecordUsage(ctx, tenantID, sessionID, billableSeconds(d))
}

// ApplyPlan moves a tenant onto a paid tier from the catalog.
// Used seconds carry over; only the plan and quota change.
func (g *Gate) ApplyPlan(ctx context.Context, tenantID string, plan Plan) (Account, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Account{}, ErrInvalidArgument
	}
	def, ok := LookupPlan(plan)
	if !ok || !IsPaid(plan) {
		return Account{}, ErrUnknownPlan
	}
	return g.store.ApplyPlan(ctx, tenantID, plan, def.QuotaSeconds(), g.clock().UTC())
}

// OpenTrial starts the free trial for a new tenant. Existing accounts are returned unchanged.
func (g *Gate) OpenTrial(ctx context.Context, tenantID string) (Account, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Account{}, ErrInvalidArgument
	}
	return g.store.OpenTrial(ctx, tenantID, g.clock().UTC())
}

// Status builds the quota summary for tenantID.
func (g *Gate) Status(ctx context.Context, tenantID string) (Summary, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Summary{}, ErrInvalidArgument
	}
	now := g.clock().UTC()

	a, err := g.store.Get(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return Summary{
			TenantID: tenantID,
			Plan:     PlanNone,
			Allowed:  false,
			Reason:   ReasonNoSubscription,
			Message:  ReasonMessage(ReasonNoSubscription),
		}, nil
	}
	if err != nil {
		return Summary{}, err
	}

	d := Evaluate(a, now)
	s := Summary{
		TenantID:         tenantID,
		Plan:             a.Plan,
		TotalSeconds:     a.QuotaSeconds,
		UsedSeconds:      a.UsedSeconds,
		RemainingSeconds: d.RemainingSeconds,
		TotalMinutes:     minutes(a.QuotaSeconds),
		UsedMinutes:      minutes(a.UsedSeconds),
		RemainingMinutes: minutes(d.RemainingSeconds),
		Allowed:          d.Allowed,
		Reason:           d.Reason,
		Message:          ReasonMessage(d.Reason),
	}
	if a.IsTrial() {
		exp := a.TrialExpiresAt
		s.TrialExpiresAt = &exp
		if left := exp.Sub(now); left > 0 {
			s.DaysRemaining = int(math.Ceil(left.Hours() / 24))
		}
	}
	return s, nil
}

// ReasonMessage is the tenant-facing explanation for a denial.
func ReasonMessage(r Reason) string {
	switch r {
	case ReasonTrialExpired:
		return "Free trial has expired. Please upgrade to continue."
	case ReasonTrialExhausted:
		return "Free trial minutes exhausted. Please upgrade to continue."
	case ReasonNoSubscription:
		return "No active subscription. Please upgrade to continue."
	case ReasonPlanExhausted:
		return "No minutes remaining in your plan. Please upgrade to continue."
	default:
		return ""
	}
}

func minutes(seconds int64) float64 {
	return math.Round(float64(seconds)/60*100) / 100
}
