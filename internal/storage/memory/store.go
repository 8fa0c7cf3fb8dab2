package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/storage"
)

// Store 使用内存保存令牌与发信日志，主要用于开发验证和测试。
type Store struct {
	mu     sync.RWMutex
	tokens map[string]*domain.Token
	logs   map[string][]domain.MailLog // tokenID -> 按插入顺序的日志
	nextID uint64
	now    func() time.Time
}

// NewStore 创建内存存储
func NewStore() *Store {
	return &Store{
		tokens: make(map[string]*domain.Token),
		logs:   make(map[string][]domain.MailLog),
		now:    time.Now,
	}
}

var _ storage.Store = (*Store)(nil)

func cloneToken(t *domain.Token) *domain.Token {
	out := *t
	if t.RecipientWhitelist != nil {
		out.RecipientWhitelist = append(domain.Whitelist(nil), t.RecipientWhitelist...)
	}
	return &out
}

// GetToken 返回令牌副本
func (s *Store) GetToken(_ context.Context, id string) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[id]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	return cloneToken(token), nil
}

// IncrementCounter 计数器加一
func (s *Store) IncrementCounter(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return storage.ErrTokenNotFound
	}
	token.Counter++
	return nil
}

// CreateToken 保存新令牌
func (s *Store) CreateToken(_ context.Context, token *domain.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.ID]; exists {
		return storage.ErrTokenExists
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = s.now().UTC()
	}
	s.tokens[token.ID] = cloneToken(token)
	return nil
}

// DeleteToken 硬删除令牌，日志保留
func (s *Store) DeleteToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[id]; !ok {
		return storage.ErrTokenNotFound
	}
	delete(s.tokens, id)
	return nil
}

// ListTokens 按创建时间倒序
func (s *Store) ListTokens(_ context.Context) ([]domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, *cloneToken(t))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// TokenExists 检查 ID 是否已被占用
func (s *Store) TokenExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tokens[id]
	return ok, nil
}

// AppendMailLog 追加日志
func (s *Store) AppendMailLog(_ context.Context, entry *domain.MailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	entry.ID = s.nextID
	if entry.SentAt.IsZero() {
		entry.SentAt = s.now().UTC()
	}
	s.logs[entry.TokenID] = append(s.logs[entry.TokenID], *entry)
	return nil
}

// ListMailLogsByToken 按插入顺序返回日志
func (s *Store) ListMailLogsByToken(_ context.Context, tokenID string) ([]domain.MailLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := s.logs[tokenID]
	out := make([]domain.MailLog, len(logs))
	copy(out, logs)
	return out, nil
}

// Close 关闭存储
func (s *Store) Close() error {
	// 内存存储不需要关闭连接
	return nil
}

// Health 健康检查
func (s *Store) Health() error {
	// 内存存储总是健康的
	return nil
}
