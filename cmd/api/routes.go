package main

import (
	"context"
	"net/http"

	"voice-agent-platform/internal/auth"
	"voice-agent-platform/internal/billing"
	"voice-agent-platform/internal/config"
	"voice-agent-platform/internal/httpapi"
	"voice-agent-platform/internal/rbac"
	"voice-agent-platform/internal/telephony"
	"voice-agent-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const speechPath = "/webhooks/twilio/speech"

// app carries the wired handlers. Built once in main.
type app struct {
	cfg  config.Config
	auth *auth.Manager

	voice    telephony.Controller
	api      httpapi.Handlers
	payments billing.WebhookHandler

	webhookLimiter httpapi.Limiter
	ready          func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a app) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if a.ready != nil {
			if err := a.ready(c.Request.Context()); err != nil {
				logger.FromGin(c).Warn("readiness check failed", "err", err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Twilio voice webhooks. Responses are always TwiML.
	twilio := r.Group("/webhooks/twilio")
	if a.cfg.Twilio.ValidateSignature {
		twilio.Use(telephony.RequireTwilioSignature(a.cfg.Twilio.AuthToken, a.cfg.App.PublicBaseURL))
	}
	{
		twilio.POST("/voice", a.voice.Inbound)
		twilio.POST("/speech", a.voice.Speech)
		twilio.POST("/status", a.voice.Status)
	}

	// Payment provider webhooks (public, signed).
	payments := r.Group("/webhooks/payments")
	if a.webhookLimiter != nil {
		payments.Use(httpapi.RateLimit(a.webhookLimiter, "payments"))
	}
	{
		payments.POST("/flutterwave", a.payments.Flutterwave)
	}

	v1 := r.Group("/v1")
	v1.POST("/auth/refresh", a.api.RefreshToken)
	if !a.cfg.IsProduction() {
		v1.POST("/auth/token", a.api.IssueToken)
	}

	protected := v1.Group("")
	protected.Use(auth.RequireAccessToken(a.auth))
	{
		protected.GET("/me", a.api.Me)

		tenant := protected.Group("")
		tenant.Use(rbac.TenantMember()...)
		{
			tenant.GET("/quota", a.api.GetQuota)
			tenant.POST("/agents/:agent_id/conversations/:conversation_id/turns", a.api.CreateTurn)
			tenant.GET("/reports/calls", a.api.GetCallsSummary)
		}

		owner := protected.Group("")
		owner.Use(rbac.RequireTenant(), rbac.RequireAnyRole(rbac.RoleOwner))
		{
			owner.POST("/trial", a.api.StartTrial)
		}
	}
}
