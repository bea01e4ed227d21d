package quota

import "time"

const (
	TrialMinutes      = 5
	TrialDurationDays = 30
)

// PlanSpec describes a purchasable tier. Amounts are in major currency units
// as charged by the payment provider.
type PlanSpec struct {
	Plan     Plan
	Name     string
	Minutes  int64
	Amount   int64
	Currency string
}

func (p PlanSpec) QuotaSeconds() int64 { return p.Minutes * 60 }

var catalog = map[Plan]PlanSpec{
	PlanTrial:      {Plan: PlanTrial, Name: "Free Trial", Minutes: TrialMinutes, Amount: 0, Currency: "NGN"},
	PlanBasic:      {Plan: PlanBasic, Name: "Basic", Minutes: 500, Amount: 2900, Currency: "NGN"},
	PlanPro:        {Plan: PlanPro, Name: "Pro", Minutes: 5000, Amount: 7900, Currency: "NGN"},
	PlanEnterprise: {Plan: PlanEnterprise, Name: "Enterprise", Minutes: 50000, Amount: 19900, Currency: "NGN"},
}

// LookupPlan returns the catalog entry for p.
func LookupPlan(p Plan) (PlanSpec, bool) {
	s, ok := catalog[p]
	return s, ok
}

// IsPaid reports whether p is a purchasable paid tier.
func IsPaid(p Plan) bool {
	switch p {
	case PlanBasic, PlanPro, PlanEnterprise:
		return true
	default:
		return false
	}
}

// NewTrialAccount returns the counter a tenant starts with.
func NewTrialAccount(tenantID string, now time.Time) Account {
	now = now.UTC()
	return Account{
		TenantID:       tenantID,
		Plan:           PlanTrial,
		QuotaSeconds:   TrialMinutes * 60,
		TrialStartedAt: now,
		TrialExpiresAt: now.Add(TrialDurationDays * 24 * time.Hour),
		UpdatedAt:      now,
	}
}

// billableSeconds rounds a measured duration up to whole seconds, minimum one.
func billableSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	s := int64(d / time.Second)
	if d%time.Second != 0 {
		s++
	}
	return s
}
