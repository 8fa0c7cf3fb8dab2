package domain

import (
	"io"
	"strings"
)

// Attachment 随邮件上传的附件。
// Open 在发送时才被调用，内容一次性读入传输层。
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// SendRequest 一次发信请求
type SendRequest struct {
	TokenID     string
	Recipient   string
	Subject     string
	Message     string
	Attachments []Attachment
}

// AttachmentNames 附件名以 ", " 连接，用于日志
func (r *SendRequest) AttachmentNames() string {
	if len(r.Attachments) == 0 {
		return ""
	}
	names := make([]string, 0, len(r.Attachments))
	for _, a := range r.Attachments {
		names = append(names, a.Filename)
	}
	return strings.Join(names, ", ")
}

// TotalAttachmentSize 附件总大小（字节）
func (r *SendRequest) TotalAttachmentSize() int64 {
	var total int64
	for _, a := range r.Attachments {
		total += a.Size
	}
	return total
}

// AttachmentLimits 附件数量与总大小上限，零值表示不允许附件
type AttachmentLimits struct {
	MaxCount int
	MaxBytes int64
}

// Validate 检查请求字段是否完整合法
func (r *SendRequest) Validate(limits AttachmentLimits) error {
	switch {
	case strings.TrimSpace(r.TokenID) == "":
		return ErrMissingToken
	case r.Recipient == "" || r.Subject == "" || r.Message == "":
		return ErrMissingField
	case !ValidateEmail(r.Recipient):
		return ErrInvalidEmail
	}
	if len(r.Attachments) > limits.MaxCount {
		return ErrTooManyAttachments
	}
	if r.TotalAttachmentSize() > limits.MaxBytes {
		return ErrAttachmentsTooLarge
	}
	return nil
}
