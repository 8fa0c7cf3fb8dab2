package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cuckoopost/backend/internal/auth"
	jwtpkg "cuckoopost/backend/internal/auth/jwt"
	"cuckoopost/backend/internal/config"
	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/health"
	"cuckoopost/backend/internal/middleware"
	"cuckoopost/backend/internal/monitoring"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config      *config.Config
	Gate        Gate
	Tokens      TokenAdmin
	Status      StatusReporter
	AuthService *auth.Service // 为 nil 或管理接口未启用时不注册 /admin
	JWTManager  *jwtpkg.Manager
	Health      *health.HealthChecker
	Metrics     *monitoring.Metrics
	Logger      *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := deps.Config

	router := gin.New()
	router.Use(middleware.Recovery(log, deps.Metrics))
	router.Use(middleware.RequestLogger(log.Named("http")))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.HTTPMetrics(deps.Metrics))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: cfg.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Authorization",
			"X-Forwarded-Authorization",
		},
		ExposeHeaders:    []string{"Content-Length", "X-Max-Body-Size"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	limits := domain.AttachmentLimits{
		MaxCount: cfg.Base.MaxAttachments,
		MaxBytes: cfg.Base.MaxAttachmentBytes(),
	}
	sendHandler := NewSendHandler(deps.Gate, limits, deps.Metrics, log)
	sendLimit := middleware.MaxBodyReader(middleware.SendBodyLimit(limits.MaxBytes))

	// ========== Send Routes ==========
	// 非 POST 方法由处理器返回 403
	router.Any("/", sendLimit, sendHandler.Send)
	router.Any("/send", sendLimit, sendHandler.Send)

	// ========== Health & Metrics ==========
	if deps.Health != nil {
		router.GET("/health", gin.WrapH(deps.Health.Handler()))
		router.GET("/health/live", gin.WrapH(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapH(deps.Health.ReadyHandler()))
	} else {
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// ========== Admin Routes ==========
	if deps.AuthService != nil && cfg.Admin.Enabled() {
		authHandler := NewAuthHandler(deps.AuthService, deps.Metrics, log)
		adminHandler := NewAdminHandler(deps.Tokens, deps.Status, deps.Metrics, log)
		jwtAuth := middleware.NewJWTAuth(deps.JWTManager, log.Named("jwt"))
		loginLimiter := middleware.NewIPRateLimiter(cfg.Admin.LoginRate)

		admin := router.Group("/admin")
		admin.Use(middleware.BodySizeLimit(middleware.SmallBodyLimit))
		admin.Use(middleware.ValidateContentType("application/json"))
		{
			admin.POST("/login", middleware.RateLimit(loginLimiter, "admin_login", deps.Metrics), authHandler.Login)

			protected := admin.Group("")
			protected.Use(jwtAuth.RequireAdmin())
			{
				protected.GET("/tokens", adminHandler.ListTokens)
				protected.POST("/tokens", adminHandler.CreateToken)
				protected.GET("/tokens/:id", adminHandler.GetToken)
				protected.DELETE("/tokens/:id", adminHandler.DeleteToken)
				protected.GET("/tokens/:id/logs", adminHandler.TokenLogs)
				protected.GET("/status", adminHandler.Status)
			}
		}
	}

	return router
}
