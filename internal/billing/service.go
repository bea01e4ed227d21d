package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"voice-agent-platform/internal/audit"
	"voice-agent-platform/internal/quota"
	"voice-agent-platform/internal/routing"
	"voice-agent-platform/pkg/logger"
)

// PlanApplier moves a tenant onto a paid plan.
type PlanApplier interface {
	ApplyPlan(ctx context.Context, tenantID string, plan quota.Plan) (quota.Account, error)
}

// Service turns verified payment events into plan changes.
//
// Invariants:
// - A delivery key is processed at most once within the dedupe TTL.
// - The plan is only applied when amount and currency match the catalog.
// - A failed attempt releases its dedupe claim so the provider's retry is processed.
type Service struct {
	subs  Store
	plans PlanApplier
	dedup Deduper
	audit *audit.Service
	clock func() time.Time
}

func NewService(subs Store, plans PlanApplier, dedup Deduper, auditSvc *audit.Service) *Service {
	return &Service{subs: subs, plans: plans, dedup: dedup, audit: auditSvc, clock: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Handle processes one verified event. The error is non-nil only for
// internal failures the provider should retry.
func (s *Service) Handle(ctx context.Context, ev Event) (Outcome, error) {
	log := logger.From(ctx).With("event", ev.Kind(), "tx_ref", ev.Data.TxRef)

	if ev.Kind() != EventChargeCompleted {
		log.Info("payment event ignored")
		return OutcomeIgnored, nil
	}

	key := ev.Key()
	first, err := s.dedup.Claim(ctx, key)
	if err != nil {
		return "", fmt.Errorf("claim event: %w", err)
	}
	if !first {
		log.Info("duplicate payment event", "key", key)
		return OutcomeDuplicate, nil
	}

	out, err := s.handleCharge(ctx, ev)
	if err != nil {
		if rerr := s.dedup.Release(ctx, key); rerr != nil {
			log.Error("release event claim failed", "key", key, "err", rerr)
		}
		return "", err
	}
	log.Info("payment event processed", "outcome", out)
	return out, nil
}

func (s *Service) handleCharge(ctx context.Context, ev Event) (Outcome, error) {
	now := s.clock().UTC()
	ip := routing.ClientIPFromContext(ctx)
	txID := ev.Data.ID.String()
	meta := chargeMetadata(ev)

	sub, err := s.subs.GetByTxRef(ctx, ev.Data.TxRef)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("load subscription: %w", err)
	}
	found := err == nil

	if !strings.EqualFold(ev.Data.Status, ChargeSuccessful) {
		if found {
			if err := s.subs.MarkFailed(ctx, sub.TxRef, txID, now); err != nil {
				return "", fmt.Errorf("mark subscription failed: %w", err)
			}
		}
		s.record(ctx, sub.TenantID, audit.EventTypePaymentFailed, ip, ev.Data.TxRef, "charge "+ev.Data.Status, meta)
		return OutcomePaymentFailed, nil
	}
	if !found {
		s.record(ctx, "", audit.EventTypePaymentFailed, ip, ev.Data.TxRef, string(OutcomeSubscriptionNotFound), meta)
		return OutcomeSubscriptionNotFound, nil
	}

	def, ok := quota.LookupPlan(sub.Plan)
	if !ok || !quota.IsPaid(sub.Plan) || !amountMatches(ev.Data.Amount, def.Amount) || !strings.EqualFold(ev.Data.Currency, def.Currency) {
		s.record(ctx, sub.TenantID, audit.EventTypePaymentMismatch, ip, sub.TxRef,
			fmt.Sprintf("expected %d %s for %s, got %.2f %s", def.Amount, def.Currency, sub.Plan, ev.Data.Amount, ev.Data.Currency), meta)
		return OutcomeAmountMismatch, nil
	}

	if _, err := s.plans.ApplyPlan(ctx, sub.TenantID, sub.Plan); err != nil {
		return "", fmt.Errorf("apply plan: %w", err)
	}
	if _, err := s.subs.Activate(ctx, sub.TxRef, txID, ev.Data.Customer.ID.String(), now, now.Add(BillingPeriod)); err != nil {
		return "", fmt.Errorf("activate subscription: %w", err)
	}
	s.record(ctx, sub.TenantID, audit.EventTypePaymentSucceeded, ip, sub.TxRef, "plan "+string(sub.Plan)+" activated", meta)
	return OutcomeSuccess, nil
}

// record is best-effort: audit failures are logged, never returned.
func (s *Service) record(ctx context.Context, tenantID string, typ audit.EventType, ip, txRef, message, meta string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogPayment(ctx, tenantID, typ, ip, txRef, message, meta); err != nil {
		logger.From(ctx).Warn("audit append failed", "type", typ, "err", err)
	}
}

func amountMatches(got float64, want int64) bool {
	return math.Abs(got-float64(want)) < 0.005
}

func chargeMetadata(ev Event) string {
	b, err := json.Marshal(map[string]any{
		"transaction_id": ev.Data.ID.String(),
		"amount":         ev.Data.Amount,
		"currency":       ev.Data.Currency,
		"status":         ev.Data.Status,
	})
	if err != nil {
		return ""
	}
	return string(b)
}
