package billing

import (
	"io"
	"net/http"

	"voice-agent-platform/internal/audit"
	"voice-agent-platform/internal/routing"
	"voice-agent-platform/internal/webhooksig"
	"voice-agent-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const (
	signatureHeader = "verif-hash"
	maxBodyBytes    = 1 << 20
)

// WebhookHandler authenticates payment webhooks and hands them to Service.
//
// The signature is checked over the raw body exactly as received, before
// any JSON decoding result is trusted.
type WebhookHandler struct {
	Service  *Service
	Verifier *webhooksig.Verifier
	Audit    *audit.Service
}

func (h WebhookHandler) Flutterwave(c *gin.Context) {
	log := logger.FromGin(c)
	ctx := routing.WithClientIP(c.Request.Context(), c.ClientIP())

	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	ev, parseErr := ParseEvent(raw)
	var ts *int64
	if parseErr == nil {
		ts = ev.Timestamp
	}

	if err := h.Verifier.Verify(raw, c.GetHeader(signatureHeader), ts); err != nil {
		reason := webhooksig.ReasonOf(err)
		log.Warn("payment webhook rejected", "reason", reason, "ip", c.ClientIP())
		if h.Audit != nil {
			if aerr := h.Audit.LogPayment(ctx, "", audit.EventTypeWebhookRejected, c.ClientIP(), "", string(reason), ""); aerr != nil {
				log.Warn("audit append failed", "err", aerr)
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": string(reason)})
		return
	}
	if parseErr != nil {
		log.Warn("payment webhook malformed", "err", parseErr)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	out, err := h.Service.Handle(ctx, ev)
	if err != nil {
		log.Error("payment webhook failed", "event", ev.Kind(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": out})
}
