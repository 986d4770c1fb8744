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

	"callbridge/internal/audit"
	"callbridge/internal/auth"
	"callbridge/internal/config"
	"callbridge/internal/directory"
	"callbridge/internal/events"
	"callbridge/internal/httpapi"
	"callbridge/internal/observability"
	"callbridge/internal/orchestrator"
	"callbridge/internal/payment"
	"callbridge/internal/pricing"
	"callbridge/internal/reporting"
	"callbridge/internal/scheduler"
	"callbridge/internal/session"
	"callbridge/internal/telephony"
	"callbridge/pkg/logger"
	"callbridge/pkg/utils"

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

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
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

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Storage
	store := session.NewPostgresStore(db)
	guard := events.NewPostgresGuard(db)
	tasks := scheduler.NewPostgresStore(db)
	auditRepo := audit.NewPostgresRepo(db)
	feeRepo := pricing.NewPostgresRepo(db)

	for name, init := range map[string]func(context.Context) error{
		"sessions":  store.InitSchema,
		"events":    guard.InitSchema,
		"scheduler": tasks.InitSchema,
		"audit":     auditRepo.InitSchema,
		"pricing":   feeRepo.InitSchema,
	} {
		if err := init(rootCtx); err != nil {
			log.Error("schema init failed", "schema", name, "err", err)
			os.Exit(1)
		}
	}

	// External gateways
	twilio, err := telephony.NewTwilioGateway(telephony.TwilioConfig{
		AccountSID: cfg.Telephony.AccountSID,
		AuthToken:  cfg.Telephony.AuthToken,
		BaseURL:    cfg.Telephony.BaseURL,
	})
	if err != nil {
		log.Error("telephony init failed", "err", err)
		os.Exit(1)
	}

	stripe, err := payment.NewStripeGateway(payment.StripeConfig{
		APIKey:  cfg.Payment.APIKey,
		BaseURL: cfg.Payment.BaseURL,
	})
	if err != nil {
		log.Error("payment init failed", "err", err)
		os.Exit(1)
	}

	auditor := audit.NewService(auditRepo)

	engine, err := orchestrator.New(orchestrator.Deps{
		Store:    store,
		Guard:    guard,
		Gateway:  twilio,
		Payments: stripe,
		Fees:     pricing.NewService(feeRepo),
		Dir:      directory.New(rdb),
		Auditor:  auditor,
		Tasks:    tasks,
		Metrics:  observability.NewMetrics("callbridge"),
		Redis:    rdb,
		Log:      log,
	}, orchestrator.Config{
		PublicBaseURL:             cfg.App.PublicBaseURL,
		CallerID:                  cfg.Telephony.CallerID,
		HoldMusicURL:              cfg.Telephony.HoldMusicURL,
		MaxRetries:                cfg.Sessions.MaxRetries,
		RingTimeoutSeconds:        cfg.Sessions.RingTimeoutSeconds,
		MinBillableSeconds:        cfg.Sessions.MinBillableSeconds,
		MaxConcurrentSessions:     cfg.Sessions.MaxConcurrent,
		DefaultMaxDurationSeconds: cfg.Sessions.MaxDurationSeconds,
		ForceEndGrace:             cfg.Sessions.ForceEndGrace,
		ProviderCooldown:          cfg.Sessions.ProviderCooldown,
	})
	if err != nil {
		log.Error("orchestrator init failed", "err", err)
		os.Exit(1)
	}

	// Background worker for retry and force-end tasks.
	worker := scheduler.NewWorker(tasks, engine.HandleTask, log, scheduler.WorkerConfig{
		PollInterval: time.Second,
		BatchSize:    20,
	})
	go worker.Run(rootCtx)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{
		Auth:    authManager,
		Engine:  engine,
		Audit:   auditor,
		Reports: reporting.NewService(reporting.NewPostgresRepo(db)),
	}, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
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

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
