package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// 请求校验错误
var (
	ErrMissingToken        = errors.New("missing token")
	ErrMissingField        = errors.New("missing required field")
	ErrTooManyAttachments  = errors.New("too many attachments")
	ErrAttachmentsTooLarge = errors.New("attachments too large")
	ErrTokenIDExhausted    = errors.New("could not generate a unique token id")
)

// ErrorKind 失败类别，决定 HTTP 状态码
type ErrorKind int

const (
	KindBadRequest ErrorKind = iota + 1
	KindUnauthorized
	KindForbidden
	KindTransport
	KindStorage
	KindConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindTransport:
		return "transport_failure"
	case KindStorage:
		return "storage_failure"
	case KindConfiguration:
		return "configuration_failure"
	default:
		return "unknown"
	}
}

// HTTPStatus 类别对应的状态码
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// DenyReason 策略拒绝原因，仅用于日志和诊断
type DenyReason string

const (
	ReasonNone                DenyReason = ""
	ReasonTokenNotFound       DenyReason = "token_not_found"
	ReasonExpired             DenyReason = "expired"
	ReasonLimitReached        DenyReason = "limit_reached"
	ReasonRecipientNotAllowed DenyReason = "recipient_not_allowed"
)

// 返回给调用方的固定文案
const (
	MsgSent              = "Email sent successfully."
	MsgInvalidInput      = "Invalid input."
	MsgInvalidToken      = "Invalid token or token expired."
	MsgRecipientDenied   = "Recipient not allowed."
	MsgSendFailed        = "Failed to send email."
	MsgStorageFailure    = "Database error."
	MsgNotSetUp          = "CuckooPost was not properly set up."
	MsgInvalidRequest    = "Invalid request"
	MsgInvalidAttachment = "Invalid attachments."
)

// SendError 发信流程中的终止性错误
type SendError struct {
	Kind   ErrorKind
	Reason DenyReason
	Public string
	Err    error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Reason != ReasonNone {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return e.Kind.String()
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// StatusCode 对应的 HTTP 状态码
func (e *SendError) StatusCode() int {
	return e.Kind.HTTPStatus()
}

// NewBadRequest 输入非法
func NewBadRequest(err error) *SendError {
	public := MsgInvalidInput
	if errors.Is(err, ErrTooManyAttachments) || errors.Is(err, ErrAttachmentsTooLarge) {
		public = MsgInvalidAttachment
	}
	return &SendError{Kind: KindBadRequest, Public: public, Err: err}
}

// NewDenied 根据拒绝原因构造错误
func NewDenied(reason DenyReason) *SendError {
	if reason == ReasonRecipientNotAllowed {
		return &SendError{Kind: KindForbidden, Reason: reason, Public: MsgRecipientDenied}
	}
	return &SendError{Kind: KindUnauthorized, Reason: reason, Public: MsgInvalidToken}
}

// NewTransportFailure 邮件发送失败
func NewTransportFailure(err error) *SendError {
	return &SendError{Kind: KindTransport, Public: MsgSendFailed, Err: err}
}

// NewStorageFailure 存储访问失败
func NewStorageFailure(err error) *SendError {
	return &SendError{Kind: KindStorage, Public: MsgStorageFailure, Err: err}
}

// NewConfigurationFailure 部署配置不完整
func NewConfigurationFailure(err error) *SendError {
	return &SendError{Kind: KindConfiguration, Public: MsgNotSetUp, Err: err}
}

// KindOf 提取错误类别，非 SendError 视为存储错误
func KindOf(err error) ErrorKind {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindStorage
}
