package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

// checkTimeout 单项就绪检查的超时
const checkTimeout = 5 * time.Second

// StoreChecker 存储健康检查
type StoreChecker interface {
	Health() error
}

// SetupChecker 部署配置检查
type SetupChecker interface {
	Check(ctx context.Context) error
}

// HealthChecker 健康检查器。
// 存活检查只确认进程可响应；就绪检查确认存储可访问且发信配置完整。
type HealthChecker struct {
	health healthcheck.Handler
	store  StoreChecker
	setup  SetupChecker
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器，setup 可为 nil
func NewHealthChecker(store StoreChecker, setup SetupChecker, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		setup:  setup,
		logger: logger,
	}

	hc.addChecks()

	return hc
}

func (hc *HealthChecker) addChecks() {
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))

	hc.health.AddReadinessCheck("storage", healthcheck.Timeout(hc.checkStore, checkTimeout))

	if hc.setup != nil {
		hc.health.AddReadinessCheck("setup", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
			defer cancel()
			return hc.setup.Check(ctx)
		})
	}
}

func (hc *HealthChecker) checkStore() error {
	if err := hc.store.Health(); err != nil {
		hc.logger.Warn("storage health check failed", zap.Error(err))
		return err
	}
	return nil
}

// Handler 完整检查（存活 + 就绪）
func (hc *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(hc.health.ReadyEndpoint)
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler() http.Handler {
	return http.HandlerFunc(hc.health.LiveEndpoint)
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler() http.Handler {
	return http.HandlerFunc(hc.health.ReadyEndpoint)
}
