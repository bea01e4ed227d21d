package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

type fakeModel struct {
	got   []llms.MessageContent
	opts  llms.CallOptions
	reply string
	err   error
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.got = messages
	for _, o := range options {
		o(&f.opts)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestRespond_MapsRolesAndOptions(t *testing.T) {
	m := &fakeModel{reply: "  Sure, what time?  "}
	r := NewResponder(m)

	out, err := r.Respond(context.Background(), []Message{
		{Role: RoleUser, Content: "Hi"},
		{Role: RoleAgent, Content: "Hello! How can I help?"},
		{Role: RoleUser, Content: "Book a table"},
	}, Params{SystemPrompt: "You are a host.", Model: "llama-3.1-8b-instant", Temperature: 0.7, MaxTokens: 150})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if out != "Sure, what time?" {
		t.Fatalf("unexpected reply %q", out)
	}
	if len(m.got) != 4 {
		t.Fatalf("expected system + 3 messages, got %d", len(m.got))
	}
	wantRoles := []schema.ChatMessageType{schema.ChatMessageTypeSystem, schema.ChatMessageTypeHuman, schema.ChatMessageTypeAI, schema.ChatMessageTypeHuman}
	for i, w := range wantRoles {
		if m.got[i].Role != w {
			t.Fatalf("message %d role %q, want %q", i, m.got[i].Role, w)
		}
	}
	if m.opts.Temperature != 0.7 || m.opts.MaxTokens != 150 || m.opts.Model != "llama-3.1-8b-instant" {
		t.Fatalf("unexpected options %+v", m.opts)
	}
}

func TestRespond_EmptyReplyIsError(t *testing.T) {
	r := NewResponder(&fakeModel{reply: "   "})
	_, err := r.Respond(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{})
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
}

func TestRespond_PropagatesModelError(t *testing.T) {
	boom := errors.New("upstream 503")
	r := NewResponder(&fakeModel{err: boom})
	_, err := r.Respond(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, Params{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped upstream error, got %v", err)
	}
}

func TestRespond_TrimsHistoryToBudget(t *testing.T) {
	m := &fakeModel{reply: "ok"}
	r := NewResponder(m).WithHistoryBudget(wordCounter{}, 20)

	history := []Message{
		{Role: RoleUser, Content: strings.Repeat("old ", 10)},
		{Role: RoleAgent, Content: "a b"},
		{Role: RoleUser, Content: "c d"},
	}
	if _, err := r.Respond(context.Background(), history, Params{SystemPrompt: "sys"}); err != nil {
		t.Fatalf("respond: %v", err)
	}
	// system + the two newest messages fit; the long oldest one is dropped
	if len(m.got) != 3 {
		t.Fatalf("expected 3 messages after trimming, got %d", len(m.got))
	}
}

func TestOpenAICompatible_AgainstChatCompletions(t *testing.T) {
	var path, auth, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"llama","choices":[{"index":0,"message":{"role":"assistant","content":"We open at nine."},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":4,"total_tokens":9}}`))
	}))
	defer srv.Close()

	r, err := NewOpenAICompatible(srv.URL, "gsk-test", "llama")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := r.Respond(context.Background(), []Message{{Role: RoleUser, Content: "When do you open?"}}, Params{SystemPrompt: "Be brief.", Temperature: 0.2})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if out != "We open at nine." {
		t.Fatalf("unexpected reply %q", out)
	}
	if path != "/chat/completions" || auth != "Bearer gsk-test" {
		t.Fatalf("unexpected request path=%q auth=%q", path, auth)
	}
	if !strings.Contains(body, "When do you open?") || !strings.Contains(body, "Be brief.") {
		t.Fatalf("request body missing messages: %s", body)
	}
}
