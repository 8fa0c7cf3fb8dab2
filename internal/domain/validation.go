package domain

import (
	"errors"
	"net/mail"
	"strings"
	"time"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail          = errors.New("invalid email format")
	ErrEmailTooLong          = errors.New("email address too long")
	ErrInvalidExpiration     = errors.New("invalid expiration date (want YYYY-MM-DD)")
	ErrNegativeLimit         = errors.New("limit must not be negative")
	ErrDescriptionTooLong    = errors.New("description too long (max 255 chars)")
	ErrInvalidWhitelistEntry = errors.New("invalid whitelist entry")
)

// 验证常量
const (
	// RFC 5322 邮箱地址长度限制
	MaxEmailLength       = 254
	MaxDescriptionLength = 255
)

// ValidateEmail 校验收件人地址。
// 必须是不带显示名的单个地址，本地部分按 net/mail 的规则解析。
func ValidateEmail(email string) bool {
	if email == "" || len(email) > MaxEmailLength {
		return false
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}

	if parts[0] == "" || parts[1] == "" {
		return false
	}

	if !ValidateDomain(parts[1]) {
		return false
	}

	addr, err := mail.ParseAddress(email)
	if err != nil {
		return false
	}
	return addr.Address == email
}

// ValidateDomain 校验域名
func ValidateDomain(domain string) bool {
	if domain == "" {
		return false
	}

	// 必须包含点
	if !strings.Contains(domain, ".") {
		return false
	}

	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}

	labels := strings.Split(domain, ".")
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		// 只允许字母、数字和破折号
		for _, r := range label {
			if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-') {
				return false
			}
		}
	}

	return true
}

// ValidateExpirationDate 校验 YYYY-MM-DD 格式
func ValidateExpirationDate(date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return ErrInvalidExpiration
	}
	return nil
}

// ParseWhitelist 解析管理端提交的白名单：逐项校验、去重并保持顺序。
// 接受逗号或换行分隔。
func ParseWhitelist(raw string) (Whitelist, error) {
	raw = strings.ReplaceAll(raw, "\r\n", ",")
	raw = strings.ReplaceAll(raw, "\n", ",")

	seen := make(map[string]struct{})
	var out Whitelist
	for _, entry := range SplitWhitelist(raw) {
		if !ValidateEmail(entry) {
			return nil, errors.Join(ErrInvalidWhitelistEntry, errors.New(entry))
		}
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	return out, nil
}

// CreateTokenRequest 管理端创建令牌请求
type CreateTokenRequest struct {
	Description        string `json:"description"`
	SenderName         string `json:"senderName"`
	ExpirationDate     string `json:"expirationDate"`
	Limit              int    `json:"limit"`
	RecipientWhitelist string `json:"recipientWhitelist"`
}

// Validate 校验创建请求
func (r *CreateTokenRequest) Validate() error {
	if len(r.Description) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	if err := ValidateExpirationDate(r.ExpirationDate); err != nil {
		return err
	}
	if r.Limit < 0 {
		return ErrNegativeLimit
	}
	_, err := ParseWhitelist(r.RecipientWhitelist)
	return err
}

// LoginRequest 管理员登录
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
