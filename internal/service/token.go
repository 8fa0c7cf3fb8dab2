package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/storage"
)

// maxTokenIDAttempts 生成不冲突 ID 的最大尝试次数
const maxTokenIDAttempts = 5

// TokenView 管理端展示的令牌，附带状态标记
type TokenView struct {
	domain.Token
	Expired   bool `json:"expired"`
	Exhausted bool `json:"exhausted"`
}

// TokenService 管理端令牌操作
type TokenService struct {
	tokens storage.TokenRepository
	logs   storage.MailLogRepository
	log    *zap.Logger
	newID  func() string
	now    func() time.Time
}

// NewTokenService 创建令牌管理服务
func NewTokenService(tokens storage.TokenRepository, logs storage.MailLogRepository, log *zap.Logger) *TokenService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TokenService{
		tokens: tokens,
		logs:   logs,
		log:    log.Named("tokens"),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// Create 校验请求并以新生成的 UUID 保存令牌
func (s *TokenService) Create(ctx context.Context, req domain.CreateTokenRequest) (*domain.Token, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	whitelist, err := domain.ParseWhitelist(req.RecipientWhitelist)
	if err != nil {
		return nil, err
	}

	token := &domain.Token{
		Description:        req.Description,
		SenderName:         req.SenderName,
		ExpirationDate:     req.ExpirationDate,
		Limit:              req.Limit,
		RecipientWhitelist: whitelist,
		CreatedAt:          s.now().UTC(),
	}

	for attempt := 0; attempt < maxTokenIDAttempts; attempt++ {
		token.ID = s.newID()

		exists, err := s.tokens.TokenExists(ctx, token.ID)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}

		err = s.tokens.CreateToken(ctx, token)
		if errors.Is(err, storage.ErrTokenExists) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.log.Info("token created",
			zap.String("token_id", token.ID),
			zap.String("description", token.Description),
			zap.String("expiration_date", token.ExpirationDate),
			zap.Int("limit", token.Limit),
		)
		return token, nil
	}
	return nil, fmt.Errorf("%w after %d attempts", domain.ErrTokenIDExhausted, maxTokenIDAttempts)
}

// List 返回所有令牌及其状态
func (s *TokenService) List(ctx context.Context) ([]TokenView, error) {
	tokens, err := s.tokens.ListTokens(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]TokenView, 0, len(tokens))
	for _, t := range tokens {
		views = append(views, TokenView{
			Token:     t,
			Expired:   t.Expired(now),
			Exhausted: t.Exhausted(),
		})
	}
	return views, nil
}

// Get 读取单个令牌
func (s *TokenService) Get(ctx context.Context, id string) (*domain.Token, error) {
	return s.tokens.GetToken(ctx, id)
}

// Delete 删除令牌，已有日志保留
func (s *TokenService) Delete(ctx context.Context, id string) error {
	if err := s.tokens.DeleteToken(ctx, id); err != nil {
		return err
	}
	s.log.Info("token deleted", zap.String("token_id", id))
	return nil
}

// Logs 令牌的发信日志，令牌已删除时仍可查询
func (s *TokenService) Logs(ctx context.Context, id string) ([]domain.MailLog, error) {
	return s.logs.ListMailLogsByToken(ctx, id)
}
