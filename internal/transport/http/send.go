package httptransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/middleware"
	"cuckoopost/backend/internal/monitoring"
	"cuckoopost/backend/internal/security"
	"cuckoopost/backend/internal/service"
)

// multipartMemory 解析 multipart 时保存在内存中的上限，超出部分写入临时文件
const multipartMemory = 8 << 20

// MsgMissingToken 未提供令牌时的提示
const MsgMissingToken = "Invalid or missing Authorization token.\n" +
	"Please provide the token via one of:\n" +
	"  - Authorization header: \"Bearer <token>\"\n" +
	"  - POST parameter \"token\"\n" +
	"  - GET parameter \"token\"\n" +
	"  - X-Authorization header: \"Bearer <token>\"\n" +
	"  - X-Forwarded-Authorization header: \"Bearer <token>\"\n"

// Gate 发信网关
type Gate interface {
	Submit(ctx context.Context, req domain.SendRequest) (*service.Outcome, error)
	Reject(err *domain.SendError, req domain.SendRequest) error
}

// SendHandler 处理发信请求，响应均为纯文本
type SendHandler struct {
	gate    Gate
	limits  domain.AttachmentLimits
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewSendHandler 创建发信处理器
func NewSendHandler(gate Gate, limits domain.AttachmentLimits, metrics *monitoring.Metrics, log *zap.Logger) *SendHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SendHandler{gate: gate, limits: limits, metrics: metrics, log: log.Named("send")}
}

// Send 处理 POST / 和 POST /send，其他方法一律 403
func (h *SendHandler) Send(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.String(http.StatusForbidden, domain.MsgInvalidRequest)
		return
	}

	if err := parseForm(c.Request); err != nil {
		h.respondError(c, h.gate.Reject(h.formError(err), domain.SendRequest{}))
		return
	}

	req := domain.SendRequest{
		TokenID:   extractToken(c),
		Recipient: c.PostForm("mailto"),
		Subject:   c.PostForm("subject"),
		Message:   c.PostForm("message"),
	}

	if req.TokenID == "" {
		_ = h.gate.Reject(domain.NewBadRequest(domain.ErrMissingToken), req)
		c.String(http.StatusBadRequest, MsgMissingToken)
		return
	}

	attachments, err := h.collectAttachments(c.Request.MultipartForm)
	if err != nil {
		var upload *uploadError
		public := domain.MsgInvalidAttachment
		if errors.As(err, &upload) {
			public = "Error uploading file: " + upload.filename
		}
		h.respondError(c, h.gate.Reject(&domain.SendError{
			Kind:   domain.KindBadRequest,
			Public: public,
			Err:    err,
		}, req))
		return
	}
	req.Attachments = attachments
	h.metrics.RecordAttachmentSize(req.TotalAttachmentSize())

	if _, err := h.gate.Submit(c.Request.Context(), req); err != nil {
		h.respondError(c, err)
		return
	}
	c.String(http.StatusOK, domain.MsgSent)
}

func (h *SendHandler) respondError(c *gin.Context, err error) {
	var se *domain.SendError
	if !errors.As(err, &se) {
		h.log.Error("unexpected send error", zap.Error(err))
		c.String(http.StatusInternalServerError, domain.MsgSendFailed)
		return
	}
	if se.Kind == domain.KindConfiguration {
		h.metrics.RecordConfigurationFailure()
	}
	c.String(se.StatusCode(), se.Public)
}

// formError 请求体超出上限时按附件大小报告，其他解析错误视为附件非法
func (h *SendHandler) formError(err error) *domain.SendError {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &domain.SendError{
			Kind:   domain.KindBadRequest,
			Public: fmt.Sprintf("Total attachment size exceeds limit of %dMB", h.limits.MaxBytes/(1024*1024)),
			Err:    fmt.Errorf("%w: %v", domain.ErrAttachmentsTooLarge, err),
		}
	}
	return &domain.SendError{
		Kind:   domain.KindBadRequest,
		Public: domain.MsgInvalidAttachment,
		Err:    err,
	}
}

// parseForm 解析 urlencoded 或 multipart 表单
func parseForm(r *http.Request) error {
	err := r.ParseMultipartForm(multipartMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		return r.ParseForm()
	}
	return err
}

// extractToken 按顺序查找令牌，第一个非空值生效：
// Authorization 头、表单 token、查询参数 token、X-Authorization 头、X-Forwarded-Authorization 头
func extractToken(c *gin.Context) string {
	if t := middleware.BearerToken(c.GetHeader("Authorization")); t != "" {
		return t
	}
	if t := c.Request.PostForm.Get("token"); t != "" {
		return t
	}
	if t := c.Query("token"); t != "" {
		return t
	}
	if t := middleware.BearerToken(c.GetHeader("X-Authorization")); t != "" {
		return t
	}
	return middleware.BearerToken(c.GetHeader("X-Forwarded-Authorization"))
}

type uploadError struct {
	filename string
	err      error
}

func (e *uploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.filename, e.err)
}

func (e *uploadError) Unwrap() error {
	return e.err
}

// collectAttachments 收集所有文件字段，按字段名排序以保证顺序稳定。
// 文件名去掉路径部分，类型按声明或内容识别。
func (h *SendHandler) collectAttachments(form *multipart.Form) ([]domain.Attachment, error) {
	if form == nil || len(form.File) == 0 {
		return nil, nil
	}

	fields := make([]string, 0, len(form.File))
	for field := range form.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var out []domain.Attachment
	for _, field := range fields {
		for _, fh := range form.File[field] {
			head, err := readHead(fh)
			if err != nil {
				return nil, &uploadError{filename: fh.Filename, err: err}
			}

			inspected := security.Inspect(fh.Filename, fh.Header.Get("Content-Type"), head)
			if inspected.Executable {
				h.log.Warn("executable attachment",
					zap.String("filename", inspected.Filename),
					zap.String("content_type", inspected.ContentType),
				)
			}

			out = append(out, domain.Attachment{
				Filename:    inspected.Filename,
				ContentType: inspected.ContentType,
				Size:        fh.Size,
				Open: func() (io.ReadCloser, error) {
					return fh.Open()
				},
			})
		}
	}
	return out, nil
}

// readHead 读取文件开头用于类型识别，同时确认上传文件可读
func readHead(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	head := make([]byte, security.SniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return head[:n], nil
}
