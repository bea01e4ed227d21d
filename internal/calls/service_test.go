package calls

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-agent-platform/internal/conversation"
)

var t0 = time.Unix(1700000000, 0).UTC()

func newService(t *testing.T) (*Service, *MemoryRepository, *conversation.Manager) {
	t.Helper()
	repo := NewMemoryRepository()
	mgr := conversation.NewManager(conversation.NewMemoryRepository()).WithClock(func() time.Time { return t0 })
	return NewService(repo, mgr).WithClock(func() time.Time { return t0 }), repo, mgr
}

func TestRecordStatus_CompletedClosesSession(t *testing.T) {
	svc, repo, mgr := newService(t)
	ctx := context.Background()

	sess, _, err := mgr.Create(ctx, conversation.CreateParams{AgentID: "a1", TenantID: "t1", ExternalCallID: "CA1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.RecordInbound(ctx, Call{ProviderCallID: "CA1", TenantID: "t1", AgentID: "a1", SessionID: sess.ID, From: "+1555", To: "+1666"}); err != nil {
		t.Fatalf("inbound: %v", err)
	}

	c, err := svc.RecordStatus(ctx, StatusUpdate{ProviderCallID: "CA1", Status: "completed", DurationSeconds: 42})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if c.Status != CallStatusCompleted || c.DurationSeconds != 42 || c.TenantID != "t1" || c.From != "+1555" {
		t.Fatalf("unexpected merged call %+v", c)
	}
	if c.EndedAt == nil {
		t.Fatalf("expected ended_at on terminal status")
	}

	got, _ := mgr.Get(ctx, sess.ID)
	if got.Status != conversation.StatusCompleted {
		t.Fatalf("expected session completed, got %s", got.Status)
	}
	stored, _ := repo.GetByProviderID(ctx, "CA1")
	if stored.SessionID != sess.ID {
		t.Fatalf("expected session id kept, got %q", stored.SessionID)
	}
}

func TestRecordStatus_FailedClosesAsFailed(t *testing.T) {
	svc, _, mgr := newService(t)
	ctx := context.Background()
	sess, _, _ := mgr.Create(ctx, conversation.CreateParams{AgentID: "a1", TenantID: "t1", ExternalCallID: "CA2"})

	if _, err := svc.RecordStatus(ctx, StatusUpdate{ProviderCallID: "CA2", Status: "failed"}); err != nil {
		t.Fatalf("status: %v", err)
	}
	got, _ := mgr.Get(ctx, sess.ID)
	if got.Status != conversation.StatusFailed {
		t.Fatalf("expected session failed, got %s", got.Status)
	}
}

func TestRecordStatus_AlreadyClosedSessionIsFine(t *testing.T) {
	svc, _, mgr := newService(t)
	ctx := context.Background()
	sess, _, _ := mgr.Create(ctx, conversation.CreateParams{AgentID: "a1", TenantID: "t1", ExternalCallID: "CA3"})
	if _, err := mgr.Close(ctx, sess.ID, conversation.StatusFailed); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := svc.RecordStatus(ctx, StatusUpdate{ProviderCallID: "CA3", Status: "completed"}); err != nil {
		t.Fatalf("expected no error for closed session, got %v", err)
	}
	got, _ := mgr.Get(ctx, sess.ID)
	if got.Status != conversation.StatusFailed {
		t.Fatalf("expected first terminal status kept, got %s", got.Status)
	}
}

func TestRecordStatus_NoSessionStillLogs(t *testing.T) {
	svc, repo, _ := newService(t)
	if _, err := svc.RecordStatus(context.Background(), StatusUpdate{ProviderCallID: "CA4", Status: "no-answer"}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if c, err := repo.GetByProviderID(context.Background(), "CA4"); err != nil || c.Status != CallStatusNoAnswer {
		t.Fatalf("expected logged call, got %+v err=%v", c, err)
	}
}

func TestRecordStatus_TerminalNotOverwrittenByLateRinging(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()
	_, _ = svc.RecordStatus(ctx, StatusUpdate{ProviderCallID: "CA5", Status: "completed", DurationSeconds: 9})
	_, _ = svc.RecordStatus(ctx, StatusUpdate{ProviderCallID: "CA5", Status: "ringing"})

	c, _ := repo.GetByProviderID(ctx, "CA5")
	if c.Status != CallStatusCompleted || c.DurationSeconds != 9 {
		t.Fatalf("expected terminal status kept, got %+v", c)
	}
}

func TestRecordStatus_Validation(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.RecordStatus(context.Background(), StatusUpdate{Status: "completed"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for missing sid, got %v", err)
	}
	if _, err := svc.RecordStatus(context.Background(), StatusUpdate{ProviderCallID: "CA", Status: "weird"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for bad status, got %v", err)
	}
}
