package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"cuckoopost/backend/internal/auth/jwt"
	"cuckoopost/backend/internal/config"
)

var (
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAdminDisabled 未配置管理员密码
	ErrAdminDisabled = errors.New("admin interface disabled")
	// ErrPasswordTooShort 密码过短
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	// ErrPasswordTooLong bcrypt 只使用前 72 字节
	ErrPasswordTooLong = errors.New("password must be at most 72 characters")
)

// dummyHash 用户名不匹配时仍执行一次 bcrypt 比较，避免通过耗时区分用户名
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3/ClD6bYn1rgXyo1J2dLJ1a")

// LoginResponse 登录响应
type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int64  `json:"expiresIn"` // 秒
}

// Service 管理员认证服务，凭证来自配置
type Service struct {
	cfg     config.AdminConfig
	manager *jwt.Manager
}

// NewService 创建认证服务
func NewService(cfg config.AdminConfig, manager *jwt.Manager) *Service {
	return &Service{cfg: cfg, manager: manager}
}

// Login 校验用户名和密码并签发访问令牌
func (s *Service) Login(username, password string) (*LoginResponse, error) {
	if !s.cfg.Enabled() {
		return nil, ErrAdminDisabled
	}

	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) == 1
	hash := []byte(s.cfg.PasswordHash)
	if !userOK {
		hash = dummyHash
	}
	passOK := bcrypt.CompareHashAndPassword(hash, []byte(password)) == nil
	if !userOK || !passOK {
		return nil, ErrInvalidCredentials
	}

	token, _, err := s.manager.Generate(s.cfg.Username)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.manager.Expiry().Seconds()),
	}, nil
}

// ValidatePassword 验证密码强度
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	if len(password) > 72 {
		return ErrPasswordTooLong
	}
	return nil
}

// HashPassword 生成 admin.password_hash 使用的 bcrypt 哈希
func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword 检查密码是否匹配
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
