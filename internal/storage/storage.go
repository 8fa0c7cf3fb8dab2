package storage

import (
	"context"
	"errors"

	"cuckoopost/backend/internal/domain"
)

var (
	// ErrTokenNotFound 令牌不存在
	ErrTokenNotFound = errors.New("token not found")
	// ErrTokenExists 令牌 ID 冲突
	ErrTokenExists = errors.New("token already exists")
)

// TokenRepository 定义令牌数据存取操作。
type TokenRepository interface {
	GetToken(ctx context.Context, id string) (*domain.Token, error)
	// IncrementCounter 原子地将计数器加一，令牌不存在时返回 ErrTokenNotFound。
	IncrementCounter(ctx context.Context, id string) error
	CreateToken(ctx context.Context, token *domain.Token) error
	DeleteToken(ctx context.Context, id string) error
	ListTokens(ctx context.Context) ([]domain.Token, error)
	TokenExists(ctx context.Context, id string) (bool, error)
}

// MailLogRepository 定义发信日志存取操作，只追加。
type MailLogRepository interface {
	AppendMailLog(ctx context.Context, entry *domain.MailLog) error
	ListMailLogsByToken(ctx context.Context, tokenID string) ([]domain.MailLog, error)
}

// Store 定义完整的存储接口。
type Store interface {
	TokenRepository
	MailLogRepository

	// 工具方法
	Close() error
	Health() error
}
