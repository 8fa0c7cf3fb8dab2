package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cuckoopost/backend/internal/auth"
	jwtpkg "cuckoopost/backend/internal/auth/jwt"
	"cuckoopost/backend/internal/config"
	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/health"
	"cuckoopost/backend/internal/logger"
	"cuckoopost/backend/internal/mailer"
	"cuckoopost/backend/internal/monitoring"
	"cuckoopost/backend/internal/pool"
	"cuckoopost/backend/internal/service"
	"cuckoopost/backend/internal/storage/factory"
	httptransport "cuckoopost/backend/internal/transport/http"
)

const (
	notifyWorkers   = 2
	notifyQueueSize = 64
	shutdownTimeout = 15 * time.Second
)

// main 启动发信中继 HTTP 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if cfg.Log.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync() //nolint:errcheck

	log.Info("starting cuckoopost",
		zap.String("log_level", cfg.Log.Level),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("smtp_relay", cfg.SMTP.Enabled()),
		zap.Bool("admin_api", cfg.Admin.Enabled()),
	)

	// 基础配置不完整时照常启动，每次请求都会报告
	if err := cfg.Validate(); err != nil {
		log.Warn("configuration incomplete, sends will be rejected", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := factory.Open(ctx, cfg, log.Named("storage"))
	if err != nil {
		log.Fatal("failed to open storage", zap.Error(err))
	}
	defer store.Close()

	metrics := monitoring.NewMetrics()

	// 运维通知走后台协程池，队列满时丢弃
	workers := pool.NewWorkerPool(notifyWorkers, notifyQueueSize, log.Named("pool"))
	workers.Start(context.Background())

	notifier := service.NewOperatorNotifier(
		mailer.NewSendmail(cfg.Sendmail.Path, log),
		func() (string, bool) { return cfg.Base.From, cfg.OperatorAddressValid() },
		workers.TrySubmit,
		log,
	)
	notifier.OnSent(metrics.ObserveNotification)

	transport := mailer.New(cfg, log)
	setup := service.NewSetupValidator(cfg, store)

	gate := service.NewSendGate(store, store, transport, notifier, service.GateConfig{
		From:     cfg.Base.From,
		FromName: cfg.Base.FromName,
		MailLog:  cfg.Base.MailLog,
		Limits: domain.AttachmentLimits{
			MaxCount: cfg.Base.MaxAttachments,
			MaxBytes: cfg.Base.MaxAttachmentBytes(),
		},
	}, log, service.WithSetupChecker(setup), service.WithGateMetrics(metrics))

	deps := httptransport.RouterDependencies{
		Config:  cfg,
		Gate:    gate,
		Tokens:  service.NewTokenService(store, store, log),
		Status:  setup,
		Health:  health.NewHealthChecker(store, setup, log),
		Metrics: metrics,
		Logger:  log,
	}
	if cfg.Admin.Enabled() {
		deps.JWTManager = jwtpkg.NewManager(cfg.Admin.JWTSecret, cfg.Admin.JWTIssuer, cfg.Admin.TokenExpiry)
		deps.AuthService = auth.NewService(cfg.Admin, deps.JWTManager)
		log.Info("admin API enabled",
			zap.String("username", cfg.Admin.Username),
			zap.Duration("token_expiry", cfg.Admin.TokenExpiry),
		)
	}

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	// 写超时需覆盖一次完整的 SMTP 投递
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           httptransport.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr), zap.String("transport", transport.Name()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// 先停止接收请求，进行中的发信会执行完
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		// 再等待排队中的运维通知发完
		workers.Stop()

		log.Info("server stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server error", zap.Error(err))
	}
	log.Info("server exited cleanly")
}
