package httptransport

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/middleware"
	"cuckoopost/backend/internal/monitoring"
	"cuckoopost/backend/internal/service"
)

// TokenAdmin 管理端令牌操作
type TokenAdmin interface {
	Create(ctx context.Context, req domain.CreateTokenRequest) (*domain.Token, error)
	List(ctx context.Context) ([]service.TokenView, error)
	Get(ctx context.Context, id string) (*domain.Token, error)
	Delete(ctx context.Context, id string) error
	Logs(ctx context.Context, id string) ([]domain.MailLog, error)
}

// StatusReporter 部署状态
type StatusReporter interface {
	Status(ctx context.Context) service.Status
}

// AdminHandler 管理 API 处理器
type AdminHandler struct {
	tokens  TokenAdmin
	status  StatusReporter
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewAdminHandler 创建管理处理器
func NewAdminHandler(tokens TokenAdmin, status StatusReporter, metrics *monitoring.Metrics, log *zap.Logger) *AdminHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AdminHandler{
		tokens:  tokens,
		status:  status,
		metrics: metrics,
		log:     log.Named("admin"),
	}
}

// ListTokens 令牌列表，附带过期与用尽标记
func (h *AdminHandler) ListTokens(c *gin.Context) {
	views, err := h.tokens.List(c.Request.Context())
	if err != nil {
		h.log.Error("failed to list tokens", zap.Error(err))
		InternalError(c, MsgTokenListFailed)
		return
	}
	Success(c, gin.H{"tokens": views, "total": len(views)})
}

// CreateToken 创建令牌
func (h *AdminHandler) CreateToken(c *gin.Context) {
	var req domain.CreateTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	token, err := h.tokens.Create(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "create token", err)
		return
	}
	h.metrics.RecordTokenCreated()
	Created(c, token)
}

// GetToken 令牌详情
func (h *AdminHandler) GetToken(c *gin.Context) {
	token, err := h.tokens.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "get token", err)
		return
	}
	Success(c, token)
}

// DeleteToken 删除令牌，发信日志保留
func (h *AdminHandler) DeleteToken(c *gin.Context) {
	id := c.Param("id")
	if err := h.tokens.Delete(c.Request.Context(), id); err != nil {
		h.fail(c, "delete token", err)
		return
	}
	h.metrics.RecordTokenDeleted()
	h.log.Info("token deleted by admin",
		zap.String("token_id", id),
		zap.String("admin", c.GetString(middleware.ContextAdminKey)),
	)
	Deleted(c)
}

// TokenLogs 令牌的发信日志
func (h *AdminHandler) TokenLogs(c *gin.Context) {
	logs, err := h.tokens.Logs(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.log.Error("failed to list mail logs", zap.String("token_id", c.Param("id")), zap.Error(err))
		InternalError(c, MsgLogListFailed)
		return
	}
	Success(c, gin.H{"logs": logs, "total": len(logs)})
}

// Status 部署状态：SMTP 是否配置、基础配置是否完整
func (h *AdminHandler) Status(c *gin.Context) {
	Success(c, h.status.Status(c.Request.Context()))
}

func (h *AdminHandler) fail(c *gin.Context, op string, err error) {
	status, msg := mapError(err)
	if status >= 500 {
		h.log.Error(op+" failed", zap.Error(err))
	}
	Error(c, status, msg)
}
