package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository stores audit events. There is deliberately no update path.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service appends audit events. Callers log and continue on failure; an
// audit outage never blocks a payment or a call.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

var ErrInvalidEvent = errors.New("audit: invalid event")

// Append stamps id and time when missing. TenantID and Type are required.
func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantID == "" || e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogTokenIssued records a dev token minted for a tenant member.
func (s *Service) LogTokenIssued(ctx context.Context, tenantID, userID, role, ip string) error {
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        EventTypeTokenIssued,
		ActorUserID: userID,
		ActorRole:   role,
		IPAddress:   ip,
	})
}

// LogPayment records the outcome of a payment webhook. tenantID may be empty
// when the payment could not be matched; the event is then filed under SystemTenant.
func (s *Service) LogPayment(ctx context.Context, tenantID string, typ EventType, ip, txRef, message, metadata string) error {
	if tenantID == "" {
		tenantID = SystemTenant
	}
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        typ,
		IPAddress:   ip,
		ExternalRef: txRef,
		Message:     message,
		Metadata:    metadata,
	})
}
