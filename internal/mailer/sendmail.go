package mailer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Sendmail 通过本地 sendmail 程序投递
type Sendmail struct {
	path string
	log  *zap.Logger
}

// NewSendmail 创建 sendmail 传输
func NewSendmail(path string, log *zap.Logger) *Sendmail {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sendmail{path: path, log: log.Named("sendmail")}
}

// Name 传输名称
func (s *Sendmail) Name() string {
	return "sendmail"
}

// Send 将完整邮件写入 sendmail 标准输入
func (s *Sendmail) Send(ctx context.Context, env *Envelope) error {
	if env.To == "" {
		return ErrNoRecipient
	}
	msg, err := BuildMessage(env, clock())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	return s.pipe(ctx, env.From, msg)
}

// SendPlain 发送纯文本邮件，运维通知使用
func (s *Sendmail) SendPlain(ctx context.Context, from, to, subject, body string) error {
	return s.Send(ctx, &Envelope{From: from, To: to, Subject: subject, Body: body})
}

func (s *Sendmail) pipe(ctx context.Context, from string, msg []byte) error {
	args := []string{"-t", "-i"}
	if from != "" {
		args = append(args, "-f", from)
	}
	cmd := exec.CommandContext(ctx, s.path, args...)
	cmd.Stdin = bytes.NewReader(msg)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return fmt.Errorf("sendmail: %w: %s", err, detail)
		}
		return fmt.Errorf("sendmail: %w", err)
	}
	return nil
}
