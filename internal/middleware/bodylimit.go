package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	// SmallBodyLimit 管理接口的 JSON 请求
	SmallBodyLimit = 1 * 1024 * 1024 // 1MB

	// multipartOverhead 表单字段和分隔符预留的空间
	multipartOverhead = 1 * 1024 * 1024
)

// SendBodyLimit 发信接口的请求体上限：附件总大小加上表单开销
func SendBodyLimit(maxAttachmentBytes int64) int64 {
	return maxAttachmentBytes + multipartOverhead
}

// BodySizeLimit 限制请求体大小的中间件。
// Content-Length 超出时直接返回 413，否则在读取时截断。
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.String(http.StatusRequestEntityTooLarge, "Request body too large")
			c.Abort()
			return
		}

		limitBody(c, maxBytes)
		c.Next()
	}
}

// MaxBodyReader 只在读取时截断请求体，超限错误（*http.MaxBytesError）交给处理器。
func MaxBodyReader(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limitBody(c, maxBytes)
		c.Next()
	}
}

func limitBody(c *gin.Context, maxBytes int64) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	c.Header("X-Max-Body-Size", strconv.FormatInt(maxBytes, 10))
}
