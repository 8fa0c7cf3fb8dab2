package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"cuckoopost/backend/internal/config"
)

// SMTPTransport 通过外部 SMTP 服务器中继发送
type SMTPTransport struct {
	cfg  config.SMTPConfig
	log  *zap.Logger
	tls  *tls.Config
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewSMTPTransport 创建 SMTP 中继传输
func NewSMTPTransport(cfg config.SMTPConfig, log *zap.Logger) *SMTPTransport {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	return &SMTPTransport{
		cfg:  cfg,
		log:  log.Named("smtp"),
		tls:  &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12},
		dial: dialer.DialContext,
	}
}

// Name 传输名称
func (t *SMTPTransport) Name() string {
	return "smtp"
}

func (t *SMTPTransport) connect(ctx context.Context) (*smtp.Client, error) {
	addr := t.cfg.Addr()
	conn, err := t.dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if t.cfg.Encryption == "tls" {
		tlsConn := tls.Client(conn, t.tls)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
		}
		conn = tlsConn
	}

	client := smtp.NewClient(conn)
	client.CommandTimeout = t.cfg.Timeout
	client.SubmissionTimeout = t.cfg.Timeout

	if err := client.Hello(t.cfg.Helo); err != nil {
		client.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	if t.cfg.Encryption == "starttls" {
		if err := client.StartTLS(t.tls); err != nil {
			client.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
	}
	return client, nil
}

// Send 单次投递，不重试
func (t *SMTPTransport) Send(ctx context.Context, env *Envelope) error {
	if env.To == "" {
		return ErrNoRecipient
	}
	msg, err := BuildMessage(env, clock())
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	client, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if t.cfg.Username != "" {
		auth, err := newSASLClient(t.cfg.AuthType, t.cfg.Username, t.cfg.Password)
		if err != nil {
			return err
		}
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth %s: %w", t.cfg.AuthType, err)
		}
	}

	if err := client.SendMail(env.From, []string{env.To}, bytes.NewReader(msg)); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	if err := client.Quit(); err != nil {
		t.log.Debug("quit failed after successful send", zap.Error(err))
	}
	return nil
}
