package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cuckoopost/backend/internal/auth/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"  Bearer   abc  ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BearerToken(tt.header), "header %q", tt.header)
	}
}

func TestIPRateLimiter(t *testing.T) {
	l := NewIPRateLimiter(2)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	// 不同 IP 互不影响
	assert.True(t, l.Allow("10.0.0.2"))

	// 30 秒后补充一个令牌
	now = now.Add(30 * time.Second)
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"))

	// 闲置后被清理
	now = now.Add(visitorTTL + time.Second)
	l.Allow("10.0.0.3")
	assert.NotContains(t, l.visitors, "10.0.0.1")
}

func TestRateLimitMiddleware(t *testing.T) {
	r := gin.New()
	r.POST("/login", RateLimit(NewIPRateLimiter(1), "login", nil), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	first := httptest.NewRecorder()
	r.ServeHTTP(first, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	r.ServeHTTP(second, httptest.NewRequest(http.MethodPost, "/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/", BodySizeLimit(8), func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123")))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "8", rec.Header().Get("X-Max-Body-Size"))
}

func TestMaxBodyReader(t *testing.T) {
	r := gin.New()
	r.POST("/", MaxBodyReader(8), func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.String(http.StatusBadRequest, "limit %d", tooLarge.Limit)
			return
		}
		c.String(http.StatusOK, "ok")
	})

	t.Run("声明长度超限交给处理器", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "limit 8", rec.Body.String())
	})

	t.Run("分块请求超限", func(t *testing.T) {
		body := io.MultiReader(strings.NewReader("01234"), strings.NewReader("56789"))
		req := httptest.NewRequest(http.MethodPost, "/", body)
		require.Equal(t, int64(-1), req.ContentLength)

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("未超限", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123")))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "8", rec.Header().Get("X-Max-Body-Size"))
	})
}

func TestRequireAdmin(t *testing.T) {
	manager := jwt.NewManager(strings.Repeat("k", 32), "cuckoopost", time.Hour)
	auth := NewJWTAuth(manager, nil)

	r := gin.New()
	r.GET("/admin/tokens", auth.RequireAdmin(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextAdminKey))
	})

	t.Run("缺少令牌", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/tokens", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("令牌无效", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/admin/tokens", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("令牌有效", func(t *testing.T) {
		token, _, err := manager.Generate("admin")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/admin/tokens", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "admin", rec.Body.String())
	})
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(nil, nil))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", rec.Body.String())
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
