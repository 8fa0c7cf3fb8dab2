package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/mailer"
	"cuckoopost/backend/internal/storage"
)

// GateConfig 发信网关的运行参数
type GateConfig struct {
	From     string
	FromName string
	MailLog  bool
	Limits   domain.AttachmentLimits
}

// GateMetrics 网关指标
type GateMetrics interface {
	ObserveSend(transport string, elapsed time.Duration, err error)
	ObserveDenied(reason domain.DenyReason)
	ObserveBookkeepingFailure(step string)
}

type noopGateMetrics struct{}

func (noopGateMetrics) ObserveSend(string, time.Duration, error) {}
func (noopGateMetrics) ObserveDenied(domain.DenyReason)          {}
func (noopGateMetrics) ObserveBookkeepingFailure(string)         {}

// SetupChecker 在处理请求前确认部署是否完整
type SetupChecker interface {
	Check(ctx context.Context) error
}

// Outcome 成功发信后的记账结果。
// BookkeepingErr 不为 nil 时邮件已发出，但计数或日志写入失败。
type Outcome struct {
	TokenID        string
	Counted        bool
	Logged         bool
	BookkeepingErr error
}

// SendGate 发信网关：校验 -> 读取令牌 -> 策略判定 -> 发送 -> 计数 -> 记录日志
type SendGate struct {
	tokens    storage.TokenRepository
	logs      storage.MailLogRepository
	transport mailer.Transport
	notifier  Notifier
	setup     SetupChecker
	cfg       GateConfig
	metrics   GateMetrics
	log       *zap.Logger
	now       func() time.Time
}

// GateOption 可选配置
type GateOption func(*SendGate)

// WithSetupChecker 每次请求前检查部署配置
func WithSetupChecker(c SetupChecker) GateOption {
	return func(g *SendGate) { g.setup = c }
}

// WithGateMetrics 记录指标
func WithGateMetrics(m GateMetrics) GateOption {
	return func(g *SendGate) {
		if m != nil {
			g.metrics = m
		}
	}
}

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) GateOption {
	return func(g *SendGate) { g.now = now }
}

// NewSendGate 创建发信网关
func NewSendGate(
	tokens storage.TokenRepository,
	logs storage.MailLogRepository,
	transport mailer.Transport,
	notifier Notifier,
	cfg GateConfig,
	log *zap.Logger,
	opts ...GateOption,
) *SendGate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &SendGate{
		tokens:    tokens,
		logs:      logs,
		transport: transport,
		notifier:  notifier,
		cfg:       cfg,
		metrics:   noopGateMetrics{},
		log:       log.Named("gate"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Submit 处理一次发信请求。
//
// 请求一旦开始就会执行完，调用方取消 ctx 不会中断发送和记账。
// 返回的错误均为 *domain.SendError；发送成功后的记账失败不作为错误返回，
// 而是记录在 Outcome.BookkeepingErr 中并通知运维。
func (g *SendGate) Submit(ctx context.Context, req domain.SendRequest) (*Outcome, error) {
	ctx = context.WithoutCancel(ctx)

	if g.setup != nil {
		if err := g.setup.Check(ctx); err != nil {
			g.log.Error("setup incomplete", zap.Error(err))
			return nil, g.fail(domain.NewConfigurationFailure(err), Report{
				Error:  domain.MsgNotSetUp,
				Detail: err.Error(),
			})
		}
	}

	req.Message = UnescapeNewlines(req.Message)
	if err := req.Validate(g.cfg.Limits); err != nil {
		return nil, g.fail(g.badRequest(err), Report{
			Error:   domain.MsgInvalidInput,
			Detail:  err.Error(),
			Token:   req.TokenID,
			Email:   req.Recipient,
			Subject: req.Subject,
			Message: req.Message,
		})
	}
	req.Message = StripTags(req.Message)

	token, err := g.tokens.GetToken(ctx, req.TokenID)
	if errors.Is(err, storage.ErrTokenNotFound) {
		token, err = nil, nil
	}
	if err != nil {
		g.log.Error("token lookup failed", zap.String("token_id", req.TokenID), zap.Error(err))
		return nil, g.fail(domain.NewStorageFailure(err), Report{
			Error: "Database error: " + err.Error(),
			Token: req.TokenID,
			Email: req.Recipient,
		})
	}

	if decision := Evaluate(token, req.Recipient, g.now()); !decision.Allowed {
		g.metrics.ObserveDenied(decision.Reason)
		g.log.Info("send denied",
			zap.String("token_id", req.TokenID),
			zap.String("recipient", req.Recipient),
			zap.String("reason", string(decision.Reason)),
		)
		denied := domain.NewDenied(decision.Reason)
		return nil, g.fail(denied, Report{
			Error:     fmt.Sprintf("%s (%s)", denied.Public, decision.Reason),
			Token:     req.TokenID,
			TokenData: tokenData(token),
			Email:     req.Recipient,
			Subject:   req.Subject,
			Message:   req.Message,
		})
	}

	env := &mailer.Envelope{
		From:        g.cfg.From,
		FromName:    g.cfg.FromName,
		To:          req.Recipient,
		Subject:     req.Subject,
		Body:        req.Message,
		Attachments: req.Attachments,
	}
	if token.SenderName != "" {
		env.FromName = token.SenderName
	}

	start := g.now()
	err = g.transport.Send(ctx, env)
	g.metrics.ObserveSend(g.transport.Name(), g.now().Sub(start), err)
	if err != nil {
		g.log.Error("transport failed",
			zap.String("token_id", token.ID),
			zap.String("recipient", req.Recipient),
			zap.String("transport", g.transport.Name()),
			zap.Error(err),
		)
		return nil, g.fail(domain.NewTransportFailure(err), Report{
			Error:   domain.MsgSendFailed,
			Detail:  err.Error(),
			Token:   token.ID,
			Email:   req.Recipient,
			Subject: req.Subject,
			Message: req.Message,
		})
	}

	g.log.Info("email sent",
		zap.String("token_id", token.ID),
		zap.String("recipient", req.Recipient),
		zap.String("transport", g.transport.Name()),
	)
	return g.recordSuccess(ctx, token, &req), nil
}

// recordSuccess 计数与写日志是两个独立步骤，任一失败不影响另一步，
// 失败汇总成一条运维通知。
func (g *SendGate) recordSuccess(ctx context.Context, token *domain.Token, req *domain.SendRequest) *Outcome {
	outcome := &Outcome{TokenID: token.ID}
	var failures []error

	if err := g.tokens.IncrementCounter(ctx, token.ID); err != nil {
		g.metrics.ObserveBookkeepingFailure("counter")
		g.log.Error("counter increment failed after send", zap.String("token_id", token.ID), zap.Error(err))
		failures = append(failures, fmt.Errorf("increment counter: %w", err))
	} else {
		outcome.Counted = true
	}

	if g.cfg.MailLog {
		entry := &domain.MailLog{
			TokenID:          token.ID,
			TokenDescription: token.Description,
			Recipient:        req.Recipient,
			Subject:          req.Subject,
			Message:          req.Message,
			Attachments:      req.AttachmentNames(),
			SentAt:           g.now().UTC(),
		}
		if err := g.logs.AppendMailLog(ctx, entry); err != nil {
			g.metrics.ObserveBookkeepingFailure("mail_log")
			g.log.Error("mail log append failed after send", zap.String("token_id", token.ID), zap.Error(err))
			failures = append(failures, fmt.Errorf("append mail log: %w", err))
		} else {
			outcome.Logged = true
		}
	}

	if len(failures) > 0 {
		outcome.BookkeepingErr = errors.Join(failures...)
		g.notify(Report{
			Error:   "Database error after message was sent successfully",
			Detail:  outcome.BookkeepingErr.Error(),
			Token:   token.ID,
			Email:   req.Recipient,
			Subject: req.Subject,
			Message: req.Message,
		})
	}
	return outcome
}

// Reject 报告在进入网关之前就失败的请求，例如缺少令牌或附件上传出错
func (g *SendGate) Reject(err *domain.SendError, req domain.SendRequest) error {
	return g.fail(err, Report{
		Error:   err.Public,
		Detail:  errDetail(err),
		Token:   req.TokenID,
		Email:   req.Recipient,
		Subject: req.Subject,
		Message: req.Message,
	})
}

func (g *SendGate) badRequest(err error) *domain.SendError {
	switch {
	case errors.Is(err, domain.ErrTooManyAttachments):
		return &domain.SendError{
			Kind:   domain.KindBadRequest,
			Public: fmt.Sprintf("Too many attachments. Max allowed: %d", g.cfg.Limits.MaxCount),
			Err:    err,
		}
	case errors.Is(err, domain.ErrAttachmentsTooLarge):
		return &domain.SendError{
			Kind:   domain.KindBadRequest,
			Public: fmt.Sprintf("Total attachment size exceeds limit of %dMB", g.cfg.Limits.MaxBytes/(1024*1024)),
			Err:    err,
		}
	default:
		return domain.NewBadRequest(err)
	}
}

func (g *SendGate) fail(err *domain.SendError, report Report) error {
	g.notify(report)
	return err
}

func (g *SendGate) notify(report Report) {
	if g.notifier != nil {
		g.notifier.Notify(report)
	}
}

func errDetail(err *domain.SendError) string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return ""
}

func tokenData(token *domain.Token) string {
	if token == nil {
		return ""
	}
	data, err := json.Marshal(token)
	if err != nil {
		return token.ID
	}
	return string(data)
}
