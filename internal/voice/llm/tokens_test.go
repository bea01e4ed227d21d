package llm

import (
	"strings"
	"testing"
)

type wordCounter struct{}

func (wordCounter) Count(s string) int { return len(strings.Fields(s)) }

func TestTrimHistory_KeepsNewestWithinBudget(t *testing.T) {
	h := []Message{
		{Role: RoleUser, Content: "one two three"},
		{Role: RoleAgent, Content: "four five"},
		{Role: RoleUser, Content: "six"},
	}
	// system(1)+4, "six"(1)+4, "four five"(2)+4 = 16; adding "one two three" needs 7 more
	got := TrimHistory(wordCounter{}, "sys", h, 16)
	if len(got) != 2 || got[0].Content != "four five" {
		t.Fatalf("unexpected trim %+v", got)
	}
}

func TestTrimHistory_AlwaysKeepsLatest(t *testing.T) {
	h := []Message{{Role: RoleUser, Content: strings.Repeat("x ", 100)}}
	got := TrimHistory(wordCounter{}, "sys", h, 5)
	if len(got) != 1 {
		t.Fatalf("expected the latest message kept, got %d", len(got))
	}
}

func TestTrimHistory_FitsEverything(t *testing.T) {
	h := []Message{{Content: "a"}, {Content: "b"}}
	if got := TrimHistory(wordCounter{}, "", h, 100); len(got) != 2 {
		t.Fatalf("expected all messages, got %d", len(got))
	}
}
