package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"voice-agent-platform/internal/agents"
	"voice-agent-platform/internal/audit"
	"voice-agent-platform/internal/auth"
	"voice-agent-platform/internal/conversation"
	"voice-agent-platform/internal/orchestrator"
	"voice-agent-platform/internal/quota"
	"voice-agent-platform/internal/rbac"
	"voice-agent-platform/internal/reporting"
	"voice-agent-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// QuotaStatus serves the tenant quota summary and opens trials.
type QuotaStatus interface {
	Status(ctx context.Context, tenantID string) (quota.Summary, error)
	OpenTrial(ctx context.Context, tenantID string) (quota.Account, error)
}

// Turns runs one conversational turn.
type Turns interface {
	Turn(ctx context.Context, in orchestrator.TurnInput) (orchestrator.Outcome, error)
}

// Reports aggregates the tenant call log.
type Reports interface {
	CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error)
}

// Handlers groups the tenant JSON API.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Quota    QuotaStatus
	Agents   agents.Repository
	Sessions *conversation.Manager
	Turns    Turns
	Audit    *audit.Service
	Reports  Reports

	// AllowTokenIssue enables the dev token endpoint. Never set in production.
	AllowTokenIssue bool

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h Handlers) Me(c *gin.Context) {
	id, err := auth.IdentityFrom(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	c.JSON(http.StatusOK, id)
}

type tokenRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// IssueToken mints a token pair without credentials. Development only.
func (h Handlers) IssueToken(c *gin.Context) {
	if !h.AllowTokenIssue {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	if !rbac.IsKnownRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	if h.Audit != nil {
		if err := h.Audit.LogTokenIssued(c.Request.Context(), req.TenantID, req.UserID, req.Role, c.ClientIP()); err != nil {
			logger.FromGin(c).Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshToken trades a refresh token for a new token pair.
func (h Handlers) RefreshToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(strings.TrimSpace(req.RefreshToken), h.now())
	if err != nil {
		logger.FromGin(c).Warn("refresh token rejected", "err", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Quota ---

func (h Handlers) GetQuota(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	s, err := h.Quota.Status(c.Request.Context(), tenantID)
	if err != nil {
		logger.FromGin(c).Error("quota status failed", "tenant_id", tenantID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "quota lookup failed"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// StartTrial opens the free trial for the caller's tenant. A tenant that
// already has an account keeps it; the response is the current summary.
func (h Handlers) StartTrial(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID, err := auth.TenantID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	if _, err := h.Quota.OpenTrial(ctx, tenantID); err != nil {
		logger.FromGin(c).Error("open trial failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "trial unavailable"})
		return
	}
	s, err := h.Quota.Status(ctx, tenantID)
	if err != nil {
		logger.FromGin(c).Error("quota status failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "quota lookup failed"})
		return
	}
	c.JSON(http.StatusOK, s)
}

// --- Agent turns ---

type turnRequest struct {
	Text        string `json:"text"`
	AudioBase64 string `json:"audio_base64"`
	Encoding    string `json:"encoding"`
}

type turnResponse struct {
	SessionID   string             `json:"session_id"`
	State       orchestrator.State `json:"state"`
	ReplyText   string             `json:"reply_text"`
	AudioURL    string             `json:"audio_url,omitempty"`
	Reprompt    bool               `json:"reprompt,omitempty"`
	Farewell    string             `json:"farewell,omitempty"`
	QuotaReason quota.Reason       `json:"quota_reason,omitempty"`
}

// apiCallID scopes an API conversation id to its tenant so ids chosen by
// different tenants never share a session.
func apiCallID(tenantID, conversationID string) string {
	return "api:" + tenantID + ":" + conversationID
}

// CreateTurn runs one turn of an API (non-telephony) conversation.
// The session is created on the first turn for a conversation id.
func (h Handlers) CreateTurn(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID, err := auth.TenantID(ctx)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	agentID := strings.TrimSpace(c.Param("agent_id"))
	conversationID := strings.TrimSpace(c.Param("conversation_id"))
	if agentID == "" || conversationID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent_id and conversation_id required"})
		return
	}

	var req turnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	in := orchestrator.TurnInput{Text: strings.TrimSpace(req.Text), Encoding: req.Encoding}
	if req.AudioBase64 != "" {
		audio, err := base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "audio_base64 is not valid base64"})
			return
		}
		in.Audio = audio
	}
	if in.Text == "" && len(in.Audio) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "text or audio_base64 required"})
		return
	}

	agent, err := h.Agents.Get(ctx, agentID)
	if errors.Is(err, agents.ErrNotFound) || (err == nil && agent.TenantID != tenantID) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("agent lookup failed", "agent_id", agentID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent lookup failed"})
		return
	}
	if !agent.Active {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "agent inactive"})
		return
	}

	sess, _, err := h.Sessions.Create(ctx, conversation.CreateParams{
		AgentID:        agentID,
		TenantID:       tenantID,
		ExternalCallID: apiCallID(tenantID, conversationID),
		Context:        map[string]string{"channel": "api", "conversation_id": conversationID},
	})
	if err != nil {
		logger.FromGin(c).Error("session create failed", "agent_id", agentID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return
	}
	if sess.AgentID != agentID {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "conversation belongs to another agent"})
		return
	}
	if sess.Status.Terminal() {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "conversation ended", "session_id": sess.ID})
		return
	}

	ctx, _ = logger.WithCall(ctx, "", sess.ID, "")
	in.SessionID = sess.ID
	out, err := h.Turns.Turn(ctx, in)
	switch {
	case errors.Is(err, conversation.ErrSessionClosed):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "conversation ended", "session_id": sess.ID})
		return
	case errors.Is(err, conversation.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	case err != nil:
		logger.From(ctx).Error("turn failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "turn failed"})
		return
	}

	c.JSON(http.StatusOK, turnResponse{
		SessionID:   sess.ID,
		State:       out.State,
		ReplyText:   out.ResponseText,
		AudioURL:    out.Audio.URL,
		Reprompt:    out.Reprompt,
		Farewell:    out.Farewell,
		QuotaReason: out.QuotaReason,
	})
}

// --- Reports ---

// defaultReportWindow applies when the caller omits "from".
const defaultReportWindow = 30 * 24 * time.Hour

// GetCallsSummary serves call counts and durations for ?from=&to= (RFC 3339).
func (h Handlers) GetCallsSummary(c *gin.Context) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return
	}
	to := h.now().UTC()
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
	}
	from := to.Add(-defaultReportWindow)
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		TenantID: tenantID,
		AgentID:  c.Query("agent_id"),
		Range:    reporting.TimeRange{From: from, To: to},
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("calls summary failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}
