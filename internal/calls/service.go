package calls

import (
	"context"
	"errors"
	"strings"
	"time"

	"voice-agent-platform/internal/conversation"
	"voice-agent-platform/pkg/logger"

	"github.com/google/uuid"
)

// SessionCloser is the part of the session manager the call log needs.
type SessionCloser interface {
	GetByCallID(ctx context.Context, externalCallID string) (conversation.Session, error)
	Close(ctx context.Context, sessionID string, status conversation.Status) (conversation.Session, error)
}

// Service keeps the call log in step with provider callbacks and ends the
// conversation when the provider reports the call is over.
type Service struct {
	repo     Repository
	sessions SessionCloser
	clock    func() time.Time
}

func NewService(repo Repository, sessions SessionCloser) *Service {
	return &Service{repo: repo, sessions: sessions, clock: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// RecordInbound logs a call that reached the voice webhook.
func (s *Service) RecordInbound(ctx context.Context, c Call) (Call, error) {
	if strings.TrimSpace(c.ProviderCallID) == "" {
		return Call{}, ErrInvalidArgument
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = CallStatusInProgress
	}
	c.UpdatedAt = s.clock().UTC()
	return s.repo.Upsert(ctx, c)
}

// StatusUpdate is a provider status callback.
type StatusUpdate struct {
	ProviderCallID  string
	Status          string
	DurationSeconds int
	From            string
	To              string
}

// RecordStatus upserts the call log and, for terminal statuses, closes the
// conversation session: failed calls close as failed, everything else as completed.
func (s *Service) RecordStatus(ctx context.Context, u StatusUpdate) (Call, error) {
	if strings.TrimSpace(u.ProviderCallID) == "" {
		return Call{}, ErrInvalidArgument
	}
	st, ok := ParseTwilioStatus(u.Status)
	if !ok {
		return Call{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	c := Call{
		ID:              uuid.NewString(),
		ProviderCallID:  u.ProviderCallID,
		From:            u.From,
		To:              u.To,
		Status:          st,
		DurationSeconds: u.DurationSeconds,
		UpdatedAt:       now,
	}
	if st.Terminal() {
		c.EndedAt = &now
	}

	saved, err := s.repo.Upsert(ctx, c)
	if err != nil {
		return Call{}, err
	}
	if !st.Terminal() || s.sessions == nil {
		return saved, nil
	}

	sess, err := s.sessions.GetByCallID(ctx, u.ProviderCallID)
	if errors.Is(err, conversation.ErrNotFound) {
		return saved, nil
	}
	if err != nil {
		return saved, err
	}
	final := conversation.StatusCompleted
	if st == CallStatusFailed {
		final = conversation.StatusFailed
	}
	if _, err := s.sessions.Close(ctx, sess.ID, final); err != nil && !errors.Is(err, conversation.ErrSessionClosed) {
		return saved, err
	}
	logger.From(ctx).Info("call ended", "call_sid", u.ProviderCallID, "session_id", sess.ID, "status", st, "duration_seconds", saved.DurationSeconds)
	return saved, nil
}
