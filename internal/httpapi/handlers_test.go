package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voice-agent-platform/internal/agents"
	"voice-agent-platform/internal/audit"
	"voice-agent-platform/internal/auth"
	"voice-agent-platform/internal/calls"
	"voice-agent-platform/internal/config"
	"voice-agent-platform/internal/conversation"
	"voice-agent-platform/internal/orchestrator"
	"voice-agent-platform/internal/quota"
	"voice-agent-platform/internal/rbac"
	"voice-agent-platform/internal/reporting"
	"voice-agent-platform/internal/voice/llm"
	"voice-agent-platform/internal/voice/stt"
	"voice-agent-platform/internal/voice/tts"

	"github.com/gin-gonic/gin"
)

var t0 = time.Unix(1700000000, 0).UTC()

type echoResponder struct{}

func (echoResponder) Respond(ctx context.Context, history []llm.Message, p llm.Params) (string, error) {
	return "You said " + history[len(history)-1].Content, nil
}

type urlSynth struct{}

func (urlSynth) Synthesize(ctx context.Context, text, voiceID string) (tts.Audio, error) {
	return tts.Audio{URL: "https://cdn.example.com/" + voiceID + ".mp3"}, nil
}

// audioTranscriber reports the audio bytes and encoding back as text.
type audioTranscriber struct{}

func (audioTranscriber) Transcribe(ctx context.Context, audio []byte, encoding string) (stt.Transcript, error) {
	return stt.Transcript{Text: string(audio) + " (" + encoding + ")"}, nil
}

type apiEnv struct {
	r      *gin.Engine
	m      *auth.Manager
	quotas *quota.MemoryStore
	mgr    *conversation.Manager
	audits *audit.MemoryRepo
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Hour, RefreshTokenTTL: 24 * time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	m.WithClock(func() time.Time { return t0 })

	e := &apiEnv{
		m:      m,
		quotas: quota.NewMemoryStore(),
		mgr:    conversation.NewManager(conversation.NewMemoryRepository()).WithClock(func() time.Time { return t0 }),
		audits: audit.NewMemoryRepo(),
	}
	e.quotas.Put(quota.NewTrialAccount("tenant-1", t0))
	gate := quota.NewGate(e.quotas).WithClock(func() time.Time { return t0 })

	agentRepo := agents.NewMemoryRepository(
		agents.Agent{ID: "agent-1", TenantID: "tenant-1", Active: true},
		agents.Agent{ID: "agent-2", TenantID: "tenant-1", Active: true},
		agents.Agent{ID: "agent-off", TenantID: "tenant-1", Active: false},
		agents.Agent{ID: "agent-other", TenantID: "tenant-2", Active: true},
	)
	orch := orchestrator.New(orchestrator.Deps{
		Quota:       gate,
		Sessions:    e.mgr,
		Agents:      agentRepo,
		Transcriber: audioTranscriber{},
		Responder:   echoResponder{},
		Synthesizer: urlSynth{},
	}, orchestrator.Config{}).WithClock(func() time.Time { return t0 })

	h := Handlers{
		Auth:            m,
		Quota:           gate,
		Agents:          agentRepo,
		Sessions:        e.mgr,
		Turns:           orch,
		Audit:           audit.NewService(e.audits),
		Reports: reporting.NewService(reporting.NewMemoryRepo(
			calls.Call{ID: "c1", TenantID: "tenant-1", AgentID: "agent-1", Status: calls.CallStatusCompleted, DurationSeconds: 40, CreatedAt: t0.Add(-time.Hour)},
			calls.Call{ID: "c2", TenantID: "tenant-1", AgentID: "agent-1", Status: calls.CallStatusBusy, CreatedAt: t0.Add(-2 * time.Hour)},
			calls.Call{ID: "c3", TenantID: "tenant-2", AgentID: "agent-other", Status: calls.CallStatusCompleted, DurationSeconds: 50, CreatedAt: t0.Add(-time.Hour)},
		)),
		AllowTokenIssue: true,
		Now:             func() time.Time { return t0 },
	}

	r := gin.New()
	r.POST("/v1/auth/token", h.IssueToken)
	r.POST("/v1/auth/refresh", h.RefreshToken)
	v1 := r.Group("/v1", auth.RequireAccessToken(m))
	v1.GET("/me", h.Me)
	tenant := v1.Group("", rbac.TenantMember()...)
	tenant.GET("/quota", h.GetQuota)
	tenant.POST("/agents/:agent_id/conversations/:conversation_id/turns", h.CreateTurn)
	tenant.GET("/reports/calls", h.GetCallsSummary)
	v1.POST("/trial", rbac.RequireTenant(), rbac.RequireAnyRole(rbac.RoleOwner), h.StartTrial)
	e.r = r
	return e
}

func (e *apiEnv) token(t *testing.T, tenantID, role string) string {
	t.Helper()
	p, err := e.m.IssuePair(t0, "user-1", tenantID, role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return p.AccessToken
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestMe(t *testing.T) {
	e := newAPIEnv(t)
	w, out := e.do(t, http.MethodGet, "/v1/me", e.token(t, "tenant-1", rbac.RoleOwner), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if out["tenant_id"] != "tenant-1" || out["role"] != rbac.RoleOwner {
		t.Fatalf("unexpected identity %v", out)
	}
	if w, _ := e.do(t, http.MethodGet, "/v1/me", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
}

func TestGetQuota(t *testing.T) {
	e := newAPIEnv(t)
	w, out := e.do(t, http.MethodGet, "/v1/quota", e.token(t, "tenant-1", rbac.RoleMember), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if out["plan"] != string(quota.PlanTrial) || out["total_seconds"] != float64(300) || out["allowed"] != true {
		t.Fatalf("unexpected summary %v", out)
	}

	w, out = e.do(t, http.MethodGet, "/v1/quota", e.token(t, "tenant-9", rbac.RoleOwner), nil)
	if w.Code != http.StatusOK || out["reason"] != string(quota.ReasonNoSubscription) {
		t.Fatalf("expected no_subscription for unknown tenant, got %d %v", w.Code, out)
	}
}

func TestCreateTurn_TextThenAudio(t *testing.T) {
	e := newAPIEnv(t)
	tok := e.token(t, "tenant-1", rbac.RoleOwner)
	path := "/v1/agents/agent-1/conversations/conv-1/turns"

	w, out := e.do(t, http.MethodPost, path, tok, gin.H{"text": "hello"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if out["state"] != string(orchestrator.StateAwaitingSpeech) || out["reply_text"] != "You said hello" {
		t.Fatalf("unexpected turn %v", out)
	}
	if out["audio_url"] != "https://cdn.example.com/marcus.mp3" {
		t.Fatalf("unexpected audio url %v", out["audio_url"])
	}
	sessionID := out["session_id"]

	audio := base64.StdEncoding.EncodeToString([]byte("book a table"))
	w, out = e.do(t, http.MethodPost, path, tok, gin.H{"audio_base64": audio, "encoding": "wav"})
	if w.Code != http.StatusOK || out["session_id"] != sessionID {
		t.Fatalf("expected same session, got %d %v", w.Code, out)
	}
	if out["reply_text"] != "You said book a table (wav)" {
		t.Fatalf("expected transcribed audio, got %v", out["reply_text"])
	}

	s, err := e.mgr.GetByCallID(context.Background(), "api:tenant-1:conv-1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	msgs, _ := e.mgr.History(context.Background(), s.ID)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
}

func TestCreateTurn_Validation(t *testing.T) {
	e := newAPIEnv(t)
	tok := e.token(t, "tenant-1", rbac.RoleOwner)

	cases := []struct {
		name string
		path string
		body any
		code int
	}{
		{"empty body", "/v1/agents/agent-1/conversations/c/turns", gin.H{}, http.StatusBadRequest},
		{"bad base64", "/v1/agents/agent-1/conversations/c/turns", gin.H{"audio_base64": "!!!"}, http.StatusBadRequest},
		{"unknown agent", "/v1/agents/nope/conversations/c/turns", gin.H{"text": "hi"}, http.StatusNotFound},
		{"other tenant agent", "/v1/agents/agent-other/conversations/c/turns", gin.H{"text": "hi"}, http.StatusNotFound},
		{"inactive agent", "/v1/agents/agent-off/conversations/c/turns", gin.H{"text": "hi"}, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if w, _ := e.do(t, http.MethodPost, tc.path, tok, tc.body); w.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, w.Code)
			}
		})
	}
}

func TestCreateTurn_ConversationBoundToAgent(t *testing.T) {
	e := newAPIEnv(t)
	tok := e.token(t, "tenant-1", rbac.RoleOwner)
	if w, _ := e.do(t, http.MethodPost, "/v1/agents/agent-1/conversations/c1/turns", tok, gin.H{"text": "hi"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w, _ := e.do(t, http.MethodPost, "/v1/agents/agent-2/conversations/c1/turns", tok, gin.H{"text": "hi"}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reused conversation id, got %d", w.Code)
	}
}

func TestCreateTurn_EndedConversation(t *testing.T) {
	e := newAPIEnv(t)
	tok := e.token(t, "tenant-1", rbac.RoleOwner)
	path := "/v1/agents/agent-1/conversations/c2/turns"
	if w, _ := e.do(t, http.MethodPost, path, tok, gin.H{"text": "hi"}); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	s, _ := e.mgr.GetByCallID(context.Background(), "api:tenant-1:c2")
	if _, err := e.mgr.Close(context.Background(), s.ID, conversation.StatusCompleted); err != nil {
		t.Fatalf("close: %v", err)
	}
	if w, _ := e.do(t, http.MethodPost, path, tok, gin.H{"text": "again"}); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 after close, got %d", w.Code)
	}
}

func TestCreateTurn_QuotaExhausted(t *testing.T) {
	e := newAPIEnv(t)
	a := quota.NewTrialAccount("tenant-1", t0)
	a.UsedSeconds = a.QuotaSeconds
	e.quotas.Put(a)

	w, out := e.do(t, http.MethodPost, "/v1/agents/agent-1/conversations/c3/turns", e.token(t, "tenant-1", rbac.RoleOwner), gin.H{"text": "hi"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if out["state"] != string(orchestrator.StateCompleted) || out["quota_reason"] != string(quota.ReasonTrialExhausted) {
		t.Fatalf("expected completed on quota, got %v", out)
	}
}

func TestCreateTurn_RequiresTenantRole(t *testing.T) {
	e := newAPIEnv(t)
	w, _ := e.do(t, http.MethodPost, "/v1/agents/agent-1/conversations/c/turns", e.token(t, "tenant-1", "guest"), gin.H{"text": "hi"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestIssueToken(t *testing.T) {
	e := newAPIEnv(t)
	w, out := e.do(t, http.MethodPost, "/v1/auth/token", "", gin.H{"user_id": "u1", "tenant_id": "tenant-1", "role": "owner"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	tok, _ := out["access_token"].(string)
	if w, _ := e.do(t, http.MethodGet, "/v1/me", tok, nil); w.Code != http.StatusOK {
		t.Fatalf("expected issued token to authenticate, got %d", w.Code)
	}
	if evs := e.audits.Events(); len(evs) != 1 || evs[0].Type != audit.EventTypeTokenIssued {
		t.Fatalf("expected token audit event, got %+v", evs)
	}
	if w, _ := e.do(t, http.MethodPost, "/v1/auth/token", "", gin.H{"user_id": "u1", "tenant_id": "t", "role": "root"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", w.Code)
	}
}

func TestIssueToken_DisabledOutsideDev(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/auth/token", Handlers{}.IssueToken)
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/token", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetCallsSummary(t *testing.T) {
	e := newAPIEnv(t)
	tok := e.token(t, "tenant-1", rbac.RoleOwner)

	w, out := e.do(t, http.MethodGet, "/v1/reports/calls", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if out["total_calls"] != float64(2) || out["busy_calls"] != float64(1) || out["total_duration_seconds"] != float64(40) {
		t.Fatalf("unexpected summary %v", out)
	}

	if w, _ := e.do(t, http.MethodGet, "/v1/reports/calls?from=yesterday", tok, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", w.Code)
	}
	if w, _ := e.do(t, http.MethodGet, "/v1/reports/calls?from=2023-11-15T00:00:00Z&to=2023-11-01T00:00:00Z", tok, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", w.Code)
	}
}

func TestRefreshToken(t *testing.T) {
	e := newAPIEnv(t)
	p, err := e.m.IssuePair(t0, "user-1", "tenant-1", rbac.RoleMember)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	w, out := e.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": p.RefreshToken})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	access, _ := out["access_token"].(string)
	if access == "" || out["refresh_token"] == "" {
		t.Fatalf("expected a new pair, got %v", out)
	}
	if w, _ := e.do(t, http.MethodGet, "/v1/me", access, nil); w.Code != http.StatusOK {
		t.Fatalf("expected refreshed access token to authenticate, got %d", w.Code)
	}

	if w, _ := e.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": p.AccessToken}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for access token, got %d", w.Code)
	}
	if w, _ := e.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without token, got %d", w.Code)
	}
}

func TestStartTrial(t *testing.T) {
	e := newAPIEnv(t)

	if w, _ := e.do(t, http.MethodPost, "/v1/trial", e.token(t, "tenant-9", rbac.RoleMember), nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for member, got %d", w.Code)
	}

	w, out := e.do(t, http.MethodPost, "/v1/trial", e.token(t, "tenant-9", rbac.RoleOwner), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if out["plan"] != string(quota.PlanTrial) || out["allowed"] != true || out["total_seconds"] != float64(300) {
		t.Fatalf("expected an open trial, got %v", out)
	}

	// The quota gate now admits the new tenant.
	w, out = e.do(t, http.MethodGet, "/v1/quota", e.token(t, "tenant-9", rbac.RoleMember), nil)
	if w.Code != http.StatusOK || out["allowed"] != true {
		t.Fatalf("expected trial visible on quota, got %d %v", w.Code, out)
	}
}

func TestStartTrial_ExistingAccountUnchanged(t *testing.T) {
	e := newAPIEnv(t)
	if _, err := e.quotas.ApplyPlan(context.Background(), "tenant-1", quota.PlanBasic, 6000, t0); err != nil {
		t.Fatalf("apply plan: %v", err)
	}
	w, out := e.do(t, http.MethodPost, "/v1/trial", e.token(t, "tenant-1", rbac.RoleOwner), nil)
	if w.Code != http.StatusOK || out["plan"] != string(quota.PlanBasic) {
		t.Fatalf("expected basic plan kept, got %d %v", w.Code, out)
	}
}
