package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

func newTestManager() (*Manager, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewManager(repo).WithClock(func() time.Time { return fixedNow }), repo
}

func createSession(t *testing.T, m *Manager, callID string) Session {
	t.Helper()
	s, _, err := m.Create(context.Background(), CreateParams{
		AgentID:        "a1",
		TenantID:       "t1",
		ExternalCallID: callID,
		CallerNumber:   "+15551234567",
		Context:        map[string]string{"to": "+15557654321", "call_status": "ringing"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func TestCreate_IdempotentPerCallID(t *testing.T) {
	m, repo := newTestManager()

	first := createSession(t, m, "CA1")
	second, created, err := m.Create(context.Background(), CreateParams{AgentID: "a1", TenantID: "t1", ExternalCallID: "CA1"})
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	if created {
		t.Fatalf("expected existing session on duplicate delivery")
	}
	if first.ID != second.ID {
		t.Fatalf("expected same session, got %s and %s", first.ID, second.ID)
	}
	if repo.Count() != 1 {
		t.Fatalf("expected one stored session, got %d", repo.Count())
	}
	if first.Status != StatusActive || first.Context["to"] != "+15557654321" {
		t.Fatalf("unexpected session %+v", first)
	}
}

func TestAppendMessage_PreservesInsertionOrder(t *testing.T) {
	m, _ := newTestManager()
	s := createSession(t, m, "CA1")
	ctx := context.Background()

	const n = 25
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAgent
		}
		if _, err := m.AppendMessage(ctx, s.ID, role, fmt.Sprintf("line %d", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	h, err := m.History(ctx, s.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(h) != n {
		t.Fatalf("expected %d messages, got %d", n, len(h))
	}
	for i, msg := range h {
		if msg.Content != fmt.Sprintf("line %d", i) || msg.Seq != int64(i+1) {
			t.Fatalf("message %d out of order: %+v", i, msg)
		}
	}
}

func TestAppendTurn_WritesPair(t *testing.T) {
	m, _ := newTestManager()
	s := createSession(t, m, "CA1")

	msgs, err := m.AppendTurn(context.Background(), s.ID, "I need a booking", "Sure, for what day?")
	if err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != RoleUser || msgs[1].Role != RoleAgent {
		t.Fatalf("unexpected turn %+v", msgs)
	}
}

func TestAppendTurn_RejectsBlankReplyWithoutWriting(t *testing.T) {
	m, _ := newTestManager()
	s := createSession(t, m, "CA1")

	if _, err := m.AppendTurn(context.Background(), s.ID, "hello", "  "); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	h, _ := m.History(context.Background(), s.ID)
	if len(h) != 0 {
		t.Fatalf("expected nothing written, got %d", len(h))
	}
}

func TestClose_IsTerminal(t *testing.T) {
	m, _ := newTestManager()
	s := createSession(t, m, "CA1")
	ctx := context.Background()

	closed, err := m.Close(ctx, s.ID, StatusCompleted)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != StatusCompleted || closed.EndedAt == nil {
		t.Fatalf("unexpected closed session %+v", closed)
	}

	if _, err := m.AppendMessage(ctx, s.ID, RoleUser, "late retry"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := m.Close(ctx, s.ID, StatusFailed); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected second close to fail, got %v", err)
	}
	if _, err := m.Close(ctx, s.ID, StatusActive); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected non-terminal close to be invalid, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	m, _ := newTestManager()
	if _, err := m.GetByCallID(context.Background(), "CA-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := m.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreate_RequiresIdentifiers(t *testing.T) {
	m, _ := newTestManager()
	if _, _, err := m.Create(context.Background(), CreateParams{AgentID: "a1", TenantID: "t1"}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
