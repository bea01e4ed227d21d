package telephony

import (
	"context"
	"errors"
	"net/http"
	"time"

	"voice-agent-platform/internal/calls"
	"voice-agent-platform/internal/conversation"
	"voice-agent-platform/internal/orchestrator"
	"voice-agent-platform/internal/quota"
	"voice-agent-platform/internal/routing"
	"voice-agent-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Caller-facing texts rendered by the controller itself.
const (
	NumberUnavailableText = "We're sorry, the number you have dialed is not available. Goodbye."
	SessionMissingText    = "I'm sorry, but I'm having trouble processing your request. Please try again later."
	SpeakClearlyPrompt    = "Please speak clearly."
	FollowUpPrompt        = "Is there anything else I can help you with?"
)

type Turns interface {
	Greet(ctx context.Context, agentID string) (orchestrator.Greeting, error)
	Turn(ctx context.Context, in orchestrator.TurnInput) (orchestrator.Outcome, error)
}

type QuotaChecker interface {
	CanProceed(ctx context.Context, tenantID string) (quota.Decision, error)
}

type Sessions interface {
	Create(ctx context.Context, p conversation.CreateParams) (conversation.Session, bool, error)
	GetByCallID(ctx context.Context, externalCallID string) (conversation.Session, error)
	Close(ctx context.Context, sessionID string, status conversation.Status) (conversation.Session, error)
}

type CallLog interface {
	RecordInbound(ctx context.Context, c calls.Call) (calls.Call, error)
	RecordStatus(ctx context.Context, u calls.StatusUpdate) (calls.Call, error)
}

// Controller serves Twilio voice webhooks. Every response is HTTP 200 with a
// complete TwiML document; failures are spoken, never surfaced as HTTP errors.
//
// No call state is held here. Each delivery re-reads the session by CallSid.
type Controller struct {
	Routes   routing.Resolver
	Quota    QuotaChecker
	Sessions Sessions
	Turns    Turns
	// Calls is optional; when nil the call log is not written.
	Calls CallLog

	// SpeechAction is the Gather callback URL, absolute when a public base URL is configured.
	SpeechAction string

	Now func() time.Time
}

func (h Controller) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

// Inbound answers a new call: resolve the number, check quota, open the
// session and greet.
func (h Controller) Inbound(c *gin.Context) {
	form, err := ParseInbound(c.Request)
	if err != nil || form.CallSid == "" {
		logger.FromGin(c).Warn("twilio inbound parse failed", "err", err)
		writeTwiML(c, NewResponse().Say(orchestrator.ApologyText).Hangup())
		return
	}
	ctx, log := logger.WithCall(c.Request.Context(), form.CallSid, "", "")
	log.Info("inbound call", "from", form.From, "to", form.To, "call_status", form.CallStatus)

	route, err := h.Routes.Resolve(ctx, form.To)
	if err != nil {
		if errors.Is(err, routing.ErrNoRoute) {
			log.Info("dialed number not routed", "to", form.To, "error_class", orchestrator.ClassResolution)
			h.logCall(ctx, form, routing.Route{}, "")
			writeTwiML(c, NewResponse().Say(NumberUnavailableText).Hangup())
			return
		}
		log.Error("route lookup failed", "error_class", orchestrator.ClassPersistence, "err", err)
		writeTwiML(c, NewResponse().Say(orchestrator.ApologyText).Hangup())
		return
	}
	ctx, log = logger.WithCall(ctx, "", "", route.TenantID)

	decision, err := h.Quota.CanProceed(ctx, route.TenantID)
	if err != nil {
		log.Error("quota check failed", "error_class", orchestrator.ClassPersistence, "err", err)
		writeTwiML(c, NewResponse().Say(orchestrator.ApologyText).Hangup())
		return
	}
	if !decision.Allowed {
		log.Info("call rejected by quota", "error_class", orchestrator.ClassQuota, "reason", decision.Reason)
		h.logCall(ctx, form, route, "")
		writeTwiML(c, NewResponse().Say(orchestrator.CallerQuotaText(decision.Reason)).Hangup())
		return
	}

	sess, created, err := h.Sessions.Create(ctx, conversation.CreateParams{
		AgentID:        route.AgentID,
		TenantID:       route.TenantID,
		ExternalCallID: form.CallSid,
		CallerNumber:   form.From,
		Context: map[string]string{
			"dialed_number": form.To,
			"call_status":   form.CallStatus,
			"timestamp":     h.now().Format(time.RFC3339),
		},
	})
	if err != nil {
		log.Error("create session failed", "error_class", orchestrator.ClassPersistence, "err", err)
		writeTwiML(c, NewResponse().Say(orchestrator.ApologyText).Hangup())
		return
	}
	ctx, log = logger.WithCall(ctx, "", sess.ID, "")
	if !created {
		log.Info("duplicate inbound delivery, reusing session")
	}
	h.logCall(ctx, form, route, sess.ID)

	greeting, err := h.Turns.Greet(ctx, route.AgentID)
	if err != nil {
		log.Error("greeting failed", "error_class", orchestrator.ClassResolution, "err", err)
		if _, cerr := h.Sessions.Close(ctx, sess.ID, conversation.StatusFailed); cerr != nil {
			log.Error("close session failed", "error_class", orchestrator.ClassPersistence, "err", cerr)
		}
		writeTwiML(c, NewResponse().Say(orchestrator.ApologyText).Hangup())
		return
	}

	r := NewResponse()
	speak(r, greeting.Text, greeting.Audio.URL)
	r.Gather(h.SpeechAction, "").
		Say(orchestrator.RepromptText).
		Gather(h.SpeechAction, SpeakClearlyPrompt).
		Say(orchestrator.GoodbyeText).
		Hangup()
	writeTwiML(c, r)
}

// Speech handles a Gather result: one orchestrator turn per delivery.
func (h Controller) Speech(c *gin.Context) {
	form, err := ParseSpeech(c.Request)
	if err != nil || form.CallSid == "" {
		logger.FromGin(c).Warn("twilio speech parse failed", "err", err)
		writeTwiML(c, NewResponse().Say(orchestrator.ApologyText).Hangup())
		return
	}
	ctx, log := logger.WithCall(c.Request.Context(), form.CallSid, "", "")

	if form.SpeechResult == "" {
		log.Info("empty speech result, re-prompting")
		writeTwiML(c, repromptResponse(h.SpeechAction, orchestrator.RepromptText))
		return
	}

	sess, err := h.Sessions.GetByCallID(ctx, form.CallSid)
	if err != nil || sess.Status.Terminal() {
		if err != nil && !errors.Is(err, conversation.ErrNotFound) {
			log.Error("session lookup failed", "error_class", orchestrator.ClassPersistence, "err", err)
		} else {
			log.Warn("no active session for call")
		}
		writeTwiML(c, NewResponse().Say(SessionMissingText).Hangup())
		return
	}
	ctx, log = logger.WithCall(ctx, "", sess.ID, sess.TenantID)
	log.Debug("speech received", "confidence", form.Confidence)

	out, err := h.Turns.Turn(ctx, orchestrator.TurnInput{SessionID: sess.ID, Text: form.SpeechResult})
	if err != nil {
		log.Warn("turn rejected", "err", err)
		writeTwiML(c, NewResponse().Say(SessionMissingText).Hangup())
		return
	}
	writeTwiML(c, outcomeResponse(h.SpeechAction, out))
}

// Status records a call status callback. Twilio ignores the body.
func (h Controller) Status(c *gin.Context) {
	form, err := ParseStatus(c.Request)
	if err != nil || form.CallSid == "" {
		logger.FromGin(c).Warn("twilio status parse failed", "err", err)
		writeTwiML(c, NewResponse())
		return
	}
	ctx, log := logger.WithCall(c.Request.Context(), form.CallSid, "", "")
	if h.Calls != nil {
		if _, err := h.Calls.RecordStatus(ctx, calls.StatusUpdate{
			ProviderCallID:  form.CallSid,
			Status:          form.CallStatus,
			DurationSeconds: form.CallDuration,
			From:            form.From,
			To:              form.To,
		}); err != nil {
			log.Error("record call status failed", "call_status", form.CallStatus, "error_class", orchestrator.ClassPersistence, "err", err)
		}
	}
	writeTwiML(c, NewResponse())
}

func (h Controller) logCall(ctx context.Context, form InboundForm, route routing.Route, sessionID string) {
	if h.Calls == nil {
		return
	}
	st, ok := calls.ParseTwilioStatus(form.CallStatus)
	if !ok {
		st = calls.CallStatusInProgress
	}
	if _, err := h.Calls.RecordInbound(ctx, calls.Call{
		ProviderCallID: form.CallSid,
		TenantID:       route.TenantID,
		AgentID:        route.AgentID,
		SessionID:      sessionID,
		From:           form.From,
		To:             form.To,
		Status:         st,
	}); err != nil {
		logger.From(ctx).Error("record inbound call failed", "error_class", orchestrator.ClassPersistence, "err", err)
	}
}

func outcomeResponse(action string, out orchestrator.Outcome) *Response {
	r := NewResponse()
	switch {
	case out.State == orchestrator.StateFailed:
		return r.Say(out.ResponseText).Hangup()
	case out.State == orchestrator.StateCompleted:
		speak(r, out.ResponseText, out.Audio.URL)
		if out.Farewell != "" {
			r.Say(out.Farewell)
		}
		return r.Hangup()
	case out.Reprompt:
		return repromptResponse(action, out.ResponseText)
	default:
		speak(r, out.ResponseText, out.Audio.URL)
		return r.Gather(action, FollowUpPrompt).
			Say(orchestrator.GoodbyeText).
			Hangup()
	}
}

func repromptResponse(action, text string) *Response {
	return NewResponse().
		Say(text).
		Gather(action, SpeakClearlyPrompt).
		Say(orchestrator.GoodbyeText).
		Hangup()
}

// speak plays hosted audio when there is some and falls back to provider speech.
func speak(r *Response, text, audioURL string) {
	switch {
	case audioURL != "":
		r.Play(audioURL)
	case text != "":
		r.Say(text)
	}
}

func writeTwiML(c *gin.Context, r *Response) {
	body, err := r.Render()
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		body = fallbackTwiML
	}
	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(body))
}
