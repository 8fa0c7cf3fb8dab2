package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cuckoopost/backend/internal/auth/jwt"
)

// ContextAdminKey 上下文中保存管理员用户名的键
const ContextAdminKey = "admin"

// JWTAuth 管理接口的 JWT 认证中间件
type JWTAuth struct {
	manager *jwt.Manager
	log     *zap.Logger
}

// NewJWTAuth 创建 JWT 认证中间件
func NewJWTAuth(manager *jwt.Manager, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{manager: manager, log: log}
}

// RequireAdmin 要求有效的管理员令牌
func (ja *JWTAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		claims, err := ja.manager.Validate(token)
		if err != nil {
			ja.log.Warn("invalid admin token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			c.Abort()
			return
		}

		c.Set(ContextAdminKey, claims.Username)
		c.Next()
	}
}

// BearerToken 从 "Bearer <token>" 中取出令牌，格式不符时返回空串
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
