// Package mailer 外发邮件的传输层：SMTP 中继或本地 sendmail。
package mailer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"cuckoopost/backend/internal/config"
)

// ErrNoRecipient 收件人为空
var ErrNoRecipient = errors.New("mailer: no recipient")

// Transport 投递一封邮件，失败时返回带诊断信息的错误
type Transport interface {
	Send(ctx context.Context, env *Envelope) error
	Name() string
}

// New 根据配置选择传输方式：配置了 smtp.host 时使用 SMTP 中继，否则使用 sendmail
func New(cfg *config.Config, log *zap.Logger) Transport {
	if cfg.SMTP.Enabled() {
		return NewSMTPTransport(cfg.SMTP, log)
	}
	return NewSendmail(cfg.Sendmail.Path, log)
}

// clock 便于测试替换
var clock = time.Now
