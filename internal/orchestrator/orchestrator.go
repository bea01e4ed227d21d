// Package orchestrator runs one conversational turn of a phone call:
// quota check, speech-to-text, reply generation, speech synthesis and
// persistence, in that order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voice-agent-platform/internal/agents"
	"voice-agent-platform/internal/conversation"
	"voice-agent-platform/internal/quota"
	"voice-agent-platform/internal/voice/llm"
	"voice-agent-platform/internal/voice/stt"
	"voice-agent-platform/internal/voice/tts"
	"voice-agent-platform/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Caller-facing texts.
const (
	RepromptText = "I didn't catch that. Could you please repeat what you said?"
	BusyText     = "One moment please, I'm still working on your last request."
	ApologyText  = "We're sorry, but we're experiencing technical difficulties. Please try again later."
	GoodbyeText  = "Thank you for calling. Have a great day!"
)

// Error classes attached to failure logs.
const (
	ClassAdapter     = "adapter"
	ClassPersistence = "persistence"
	ClassResolution  = "resolution"
	ClassQuota       = "quota"
	ClassInternal    = "internal"
)

// Quota is the subset of the quota gate a turn needs.
type Quota interface {
	CanProceed(ctx context.Context, tenantID string) (quota.Decision, error)
	RecordDuration(ctx context.Context, tenantID, sessionID string, d time.Duration) (bool, error)
}

type Deps struct {
	Quota       Quota
	Sessions    *conversation.Manager
	Agents      agents.Repository
	Transcriber stt.Transcriber
	Responder   llm.Responder
	Synthesizer tts.Synthesizer
	Locker      TurnLocker
}

type Config struct {
	// AdapterTimeout bounds each STT, LLM and TTS call separately.
	AdapterTimeout time.Duration
	// MaxTurns ends the call after this many answered turns. Zero disables the limit.
	MaxTurns int
}

type Orchestrator struct {
	d     Deps
	cfg   Config
	clock func() time.Time
}

func New(d Deps, cfg Config) *Orchestrator {
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = 30 * time.Second
	}
	if d.Locker == nil {
		d.Locker = NewLocalTurnLocker()
	}
	return &Orchestrator{d: d, cfg: cfg, clock: time.Now}
}

// WithClock replaces the time source used for usage metering. Intended for tests.
func (o *Orchestrator) WithClock(clock func() time.Time) *Orchestrator {
	o.clock = clock
	return o
}

// TurnInput is one caller utterance. Audio wins over Text when both are set;
// Text carries speech already transcribed by the telephony provider.
type TurnInput struct {
	SessionID string
	Audio     []byte
	Encoding  string
	Text      string
}

// Outcome is what the caller hears next and where the call goes.
type Outcome struct {
	State        State
	ResponseText string
	Audio        tts.Audio
	// Reprompt is set when nothing was said and history is unchanged.
	Reprompt bool
	// Farewell is spoken after the reply when the call ends on this turn.
	Farewell string
	// QuotaReason is set when the call ended on quota.
	QuotaReason quota.Reason
	// Cause is the error that failed the turn, if any.
	Cause error
}

// Greeting is the opening line for a new call.
type Greeting struct {
	Text  string
	Audio tts.Audio
}

// Greet renders the agent's greeting. A synthesis failure is logged and the
// text is returned alone so the caller can fall back to provider speech.
func (o *Orchestrator) Greet(ctx context.Context, agentID string) (Greeting, error) {
	a, err := o.d.Agents.Get(ctx, agentID)
	if err != nil {
		return Greeting{}, err
	}
	s := a.Settings()
	g := Greeting{Text: s.Greeting}

	tctx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	defer cancel()
	audio, err := o.d.Synthesizer.Synthesize(tctx, s.Greeting, s.VoiceID)
	if err != nil {
		logger.From(ctx).Warn("greeting synthesis failed", "agent_id", agentID, "error_class", ClassAdapter, "err", err)
		return g, nil
	}
	g.Audio = audio
	return g, nil
}

// Turn runs one turn for an existing session. The returned error is non-nil
// only when the session cannot be found or the input is invalid; pipeline
// failures come back as an Outcome in StateFailed with the session closed.
func (o *Orchestrator) Turn(ctx context.Context, in TurnInput) (Outcome, error) {
	started := o.clock()

	sess, err := o.d.Sessions.Get(ctx, in.SessionID)
	if err != nil {
		return Outcome{}, err
	}
	ctx, log := logger.WithCall(ctx, sess.ExternalCallID, sess.ID, sess.TenantID)
	if sess.Status.Terminal() {
		return Outcome{}, conversation.ErrSessionClosed
	}

	release, ok, err := o.d.Locker.Acquire(ctx, sess.ID)
	if err != nil {
		return o.fail(ctx, log, sess, ClassPersistence, fmt.Errorf("acquire turn lock: %w", err)), nil
	}
	if !ok {
		log.Info("turn already in progress")
		return Outcome{State: StateAwaitingSpeech, ResponseText: BusyText, Reprompt: true}, nil
	}
	defer release()

	m := machine{state: StateAwaitingSpeech}
	if err := m.move(StateProcessing); err != nil {
		return o.fail(ctx, log, sess, ClassInternal, err), nil
	}

	decision, err := o.d.Quota.CanProceed(ctx, sess.TenantID)
	if err != nil {
		return o.fail(ctx, log, sess, ClassPersistence, fmt.Errorf("quota check: %w", err)), nil
	}
	if !decision.Allowed {
		return o.endOnQuota(ctx, log, sess, decision.Reason), nil
	}

	userText, err := o.transcribe(ctx, in)
	if err != nil {
		return o.fail(ctx, log, sess, ClassAdapter, err), nil
	}
	if userText == "" {
		if err := m.move(StateAwaitingSpeech); err != nil {
			return o.fail(ctx, log, sess, ClassInternal, err), nil
		}
		return Outcome{State: m.state, ResponseText: RepromptText, Reprompt: true}, nil
	}

	agent, history, err := o.load(ctx, sess)
	if err != nil {
		class := ClassPersistence
		if errors.Is(err, agents.ErrNotFound) || errors.Is(err, agents.ErrInactive) {
			class = ClassResolution
		}
		return o.fail(ctx, log, sess, class, err), nil
	}
	settings := agent.Settings()

	reply, err := o.respond(ctx, history, userText, settings)
	if err != nil {
		return o.fail(ctx, log, sess, ClassAdapter, err), nil
	}

	audio, err := o.synthesize(ctx, reply, settings.VoiceID)
	if err != nil {
		return o.fail(ctx, log, sess, ClassAdapter, err), nil
	}
	if err := m.move(StateRespondingAudio); err != nil {
		return o.fail(ctx, log, sess, ClassInternal, err), nil
	}

	if _, err := o.d.Sessions.AppendTurn(ctx, sess.ID, userText, reply); err != nil {
		return o.fail(ctx, log, sess, ClassPersistence, fmt.Errorf("append turn: %w", err)), nil
	}

	// From here the turn is committed; the caller always hears the reply.
	out := Outcome{ResponseText: reply, Audio: audio}

	applied, err := o.d.Quota.RecordDuration(ctx, sess.TenantID, sess.ID, o.clock().Sub(started))
	switch {
	case err != nil:
		log.Error("record usage failed", "error_class", ClassPersistence, "err", err)
	case !applied:
		log.Warn("usage not recorded, tenant no longer allowed")
	}

	turns := countUserTurns(history) + 1
	if o.cfg.MaxTurns > 0 && turns >= o.cfg.MaxTurns {
		log.Info("max turns reached", "turns", turns)
		return o.complete(ctx, log, sess, &m, out, GoodbyeText, "")
	}

	after, err := o.d.Quota.CanProceed(ctx, sess.TenantID)
	if err != nil {
		// The next turn re-checks quota before any pipeline work.
		log.Error("post-turn quota check failed", "error_class", ClassPersistence, "err", err)
		after = quota.Decision{Allowed: true}
	}
	if !after.Allowed {
		log.Info("quota exhausted after turn", "reason", after.Reason)
		return o.complete(ctx, log, sess, &m, out, CallerQuotaText(after.Reason), after.Reason)
	}

	if err := m.move(StateAwaitingSpeech); err != nil {
		log.Error("illegal state transition", "error_class", ClassInternal, "err", err)
	}
	out.State = m.state
	log.Info("turn completed", "turns", turns, "remaining_seconds", after.RemainingSeconds)
	return out, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, in TurnInput) (string, error) {
	if len(in.Audio) == 0 {
		return strings.TrimSpace(in.Text), nil
	}
	tctx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	defer cancel()
	t, err := o.d.Transcriber.Transcribe(tctx, in.Audio, in.Encoding)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(t.Text), nil
}

// load reads the agent and the full history concurrently. Neither is cached
// between turns.
func (o *Orchestrator) load(ctx context.Context, sess conversation.Session) (agents.Agent, []conversation.Message, error) {
	var (
		agent   agents.Agent
		history []conversation.Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := o.d.Agents.Get(gctx, sess.AgentID)
		if err != nil {
			return fmt.Errorf("load agent: %w", err)
		}
		if !a.Active {
			return fmt.Errorf("load agent: %w", agents.ErrInactive)
		}
		agent = a
		return nil
	})
	g.Go(func() error {
		h, err := o.d.Sessions.History(gctx, sess.ID)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		history = h
		return nil
	})
	if err := g.Wait(); err != nil {
		return agents.Agent{}, nil, err
	}
	return agent, history, nil
}

func (o *Orchestrator) respond(ctx context.Context, history []conversation.Message, userText string, s agents.Settings) (string, error) {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == conversation.RoleAgent {
			role = llm.RoleAgent
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})

	tctx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	defer cancel()
	reply, err := o.d.Responder.Respond(tctx, msgs, llm.Params{
		SystemPrompt: s.SystemPrompt,
		Model:        s.Model,
		Temperature:  s.Temperature,
		MaxTokens:    s.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return reply, nil
}

func (o *Orchestrator) synthesize(ctx context.Context, text, voiceID string) (tts.Audio, error) {
	tctx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
	defer cancel()
	a, err := o.d.Synthesizer.Synthesize(tctx, text, voiceID)
	if err != nil {
		return tts.Audio{}, fmt.Errorf("synthesize: %w", err)
	}
	return a, nil
}

// complete ends the call after a committed reply.
func (o *Orchestrator) complete(ctx context.Context, log *slog.Logger, sess conversation.Session, m *machine, out Outcome, farewell string, reason quota.Reason) (Outcome, error) {
	if err := m.move(StateCompleted); err != nil {
		log.Error("illegal state transition", "error_class", ClassInternal, "err", err)
	}
	o.close(ctx, log, sess, conversation.StatusCompleted)
	out.State = StateCompleted
	out.Farewell = farewell
	out.QuotaReason = reason
	return out, nil
}

func (o *Orchestrator) endOnQuota(ctx context.Context, log *slog.Logger, sess conversation.Session, reason quota.Reason) Outcome {
	log.Info("quota denied turn", "error_class", ClassQuota, "reason", reason)
	o.close(ctx, log, sess, conversation.StatusCompleted)
	return Outcome{State: StateCompleted, ResponseText: CallerQuotaText(reason), QuotaReason: reason}
}

func (o *Orchestrator) fail(ctx context.Context, log *slog.Logger, sess conversation.Session, class string, err error) Outcome {
	log.Error("turn failed", "error_class", class, "err", err)
	o.close(ctx, log, sess, conversation.StatusFailed)
	return Outcome{State: StateFailed, ResponseText: ApologyText, Cause: err}
}

// close ends the session. A session already closed elsewhere (status
// callback, concurrent failure) is left as is.
func (o *Orchestrator) close(ctx context.Context, log *slog.Logger, sess conversation.Session, status conversation.Status) {
	if _, err := o.d.Sessions.Close(ctx, sess.ID, status); err != nil && !errors.Is(err, conversation.ErrSessionClosed) {
		log.Error("close session failed", "error_class", ClassPersistence, "status", status, "err", err)
	}
}

func countUserTurns(history []conversation.Message) int {
	n := 0
	for _, m := range history {
		if m.Role == conversation.RoleUser {
			n++
		}
	}
	return n
}

// CallerQuotaText is what a caller hears when the tenant's quota stops a call.
func CallerQuotaText(r quota.Reason) string {
	switch r {
	case quota.ReasonTrialExpired:
		return "This service's free trial has ended. Please contact the business directly. Goodbye."
	case quota.ReasonTrialExhausted:
		return "This service has used all of its free trial minutes. Please contact the business directly. Goodbye."
	case quota.ReasonPlanExhausted:
		return "This service has no call minutes remaining. Please contact the business directly. Goodbye."
	default:
		return "This number is not currently accepting calls. Please contact the business directly. Goodbye."
	}
}
