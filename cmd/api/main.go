package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voice-agent-platform/internal/agents"
	"voice-agent-platform/internal/audit"
	"voice-agent-platform/internal/auth"
	"voice-agent-platform/internal/billing"
	"voice-agent-platform/internal/calls"
	"voice-agent-platform/internal/config"
	"voice-agent-platform/internal/conversation"
	"voice-agent-platform/internal/httpapi"
	"voice-agent-platform/internal/orchestrator"
	"voice-agent-platform/internal/quota"
	"voice-agent-platform/internal/reporting"
	"voice-agent-platform/internal/routing"
	"voice-agent-platform/internal/telephony"
	"voice-agent-platform/internal/voice/llm"
	"voice-agent-platform/internal/voice/stt"
	"voice-agent-platform/internal/voice/tts"
	"voice-agent-platform/internal/webhooksig"
	"voice-agent-platform/pkg/logger"
	"voice-agent-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Voice adapters
	adapterClient := &http.Client{Timeout: cfg.Voice.AdapterTimeout}
	responder, err := llm.NewOpenAICompatible(cfg.Voice.LLMBaseURL, cfg.Voice.LLMAPIKey, agents.DefaultModel)
	if err != nil {
		log.Error("llm init failed", "err", err)
		os.Exit(1)
	}
	counter, err := llm.NewTiktokenCounter(agents.DefaultModel)
	if err != nil {
		log.Error("token counter init failed", "err", err)
		os.Exit(1)
	}
	responder.WithHistoryBudget(counter, cfg.Voice.HistoryTokenBudget)

	// Domain services
	gate := quota.NewGate(quota.NewPostgresStore(db))
	agentRepo := agents.NewPostgresRepository(db)
	sessions := conversation.NewManager(conversation.NewPostgresRepository(db))
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	orch := orchestrator.New(orchestrator.Deps{
		Quota:       gate,
		Sessions:    sessions,
		Agents:      agentRepo,
		Transcriber: stt.NewDeepgram(cfg.Voice.STTAPIKey, cfg.Voice.STTBaseURL, adapterClient),
		Responder:   responder,
		Synthesizer: tts.NewHTTP(cfg.Voice.TTSBaseURL, cfg.Voice.TTSAPIKey, adapterClient),
		Locker:      orchestrator.NewRedisTurnLocker(rdb, cfg.Voice.TurnLockTTL),
	}, orchestrator.Config{
		AdapterTimeout: cfg.Voice.AdapterTimeout,
		MaxTurns:       cfg.Voice.MaxTurns,
	})

	billingSvc := billing.NewService(
		billing.NewPostgresStore(db),
		gate,
		billing.NewRedisDeduper(rdb, "flw:event:", cfg.Payments.IdempotencyTTL),
		auditSvc,
	)

	a := app{
		cfg:  cfg,
		auth: authManager,
		voice: telephony.Controller{
			Routes:       routing.NewPostgresResolver(db),
			Quota:        gate,
			Sessions:     sessions,
			Turns:        orch,
			Calls:        calls.NewService(calls.NewPostgresRepository(db), sessions),
			SpeechAction: cfg.App.PublicBaseURL + speechPath,
		},
		api: httpapi.Handlers{
			Auth:            authManager,
			Quota:           gate,
			Agents:          agentRepo,
			Sessions:        sessions,
			Turns:           orch,
			Audit:           auditSvc,
			Reports:         reporting.NewService(reporting.NewPostgresRepo(db)),
			AllowTokenIssue: !cfg.IsProduction(),
		},
		payments: billing.WebhookHandler{
			Service:  billingSvc,
			Verifier: webhooksig.NewVerifier([]byte(cfg.Payments.WebhookSecret), cfg.Payments.FreshnessWindow, cfg.Payments.FutureTolerance),
			Audit:    auditSvc,
		},
		webhookLimiter: httpapi.NewRedisLimiter(rdb, "ratelimit:", cfg.Payments.RateLimitPerMinute, time.Minute),
		ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(routing.ClientIP())
	registerRoutes(r, a)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// A turn runs STT, LLM and TTS back to back.
		WriteTimeout: 3*cfg.Voice.AdapterTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "twilio_signature", cfg.Twilio.ValidateSignature)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	log.Info("shutdown complete")
}
