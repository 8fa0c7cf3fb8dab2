// Package mailertest 提供进程内的 SMTP 接收端，用于测试外发逻辑。
package mailertest

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

// Message 接收到的一封邮件
type Message struct {
	From string
	To   []string
	Raw  []byte
}

// Parse 解析邮件内容
func (m Message) Parse() (*Parsed, error) {
	return Parse(m.Raw)
}

// Server 只接收不投递的 SMTP 服务器。
// 设置 Username 后要求 PLAIN 认证；Reject 中的收件人返回 550。
type Server struct {
	Username string
	Password string
	Reject   map[string]bool

	addr string
	srv  *gosmtp.Server

	mu       sync.Mutex
	messages []Message
}

// Start 在随机端口上启动服务器，测试结束时自动关闭
func Start(t testing.TB, configure ...func(*Server)) *Server {
	t.Helper()

	s := &Server{Reject: map[string]bool{}}
	for _, fn := range configure {
		fn(s)
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("mailertest: listen: %v", err)
	}
	s.addr = l.Addr().String()

	s.srv = gosmtp.NewServer(s)
	s.srv.Domain = "localhost"
	s.srv.AllowInsecureAuth = true
	s.srv.ReadTimeout = 5 * time.Second
	s.srv.WriteTimeout = 5 * time.Second
	s.srv.MaxMessageBytes = 20 << 20

	go s.srv.Serve(l)
	t.Cleanup(func() { s.srv.Close() })
	return s
}

// Addr 监听地址
func (s *Server) Addr() string {
	return s.addr
}

// HostPort 拆分后的主机与端口
func (s *Server) HostPort() (string, int) {
	host, port, _ := net.SplitHostPort(s.addr)
	p, _ := strconv.Atoi(port)
	return host, p
}

// Messages 已接收邮件的副本
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// NewSession 实现 gosmtp.Backend
func (s *Server) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{server: s}, nil
}

type session struct {
	server *Server
	authed bool
	from   string
	to     []string
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != s.server.Username || password != s.server.Password {
			return errors.New("invalid credentials")
		}
		s.authed = true
		return nil
	}), nil
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.server.Username != "" && !s.authed {
		return gosmtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if s.server.Reject[to] {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "recipient rejected",
		}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.server.mu.Lock()
	s.server.messages = append(s.server.messages, Message{From: s.from, To: s.to, Raw: raw})
	s.server.mu.Unlock()
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}
