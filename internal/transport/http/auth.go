package httptransport

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cuckoopost/backend/internal/auth"
	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/monitoring"
)

// AuthHandler 处理管理员登录
type AuthHandler struct {
	authService *auth.Service
	metrics     *monitoring.Metrics
	log         *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *auth.Service, metrics *monitoring.Metrics, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		metrics:     metrics,
		log:         log.Named("auth"),
	}
}

// Login 处理 POST /admin/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req domain.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.authService.Login(req.Username, req.Password)
	h.metrics.RecordAdminLogin(err == nil)
	if err != nil {
		h.log.Warn("admin login failed",
			zap.String("username", req.Username),
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		status, msg := mapError(err)
		Error(c, status, msg)
		return
	}

	h.log.Info("admin logged in", zap.String("username", req.Username), zap.String("ip", c.ClientIP()))
	Success(c, resp)
}
