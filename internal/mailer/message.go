package mailer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"cuckoopost/backend/internal/domain"
)

// Envelope 一封待发送的邮件
type Envelope struct {
	From        string
	FromName    string
	To          string
	Subject     string
	Body        string
	Attachments []domain.Attachment
}

// FromHeader 带显示名的发件人
func (e *Envelope) FromHeader() string {
	if e.FromName == "" {
		return e.From
	}
	return (&mail.Address{Name: e.FromName, Address: e.From}).String()
}

// BuildMessage 生成 RFC 5322 邮件。
// 无附件时为纯文本，有附件时为 multipart/mixed。
func BuildMessage(env *Envelope, now time.Time) ([]byte, error) {
	var buf bytes.Buffer

	header := textproto.MIMEHeader{}
	header.Set("From", env.FromHeader())
	header.Set("To", env.To)
	header.Set("Subject", mime.QEncoding.Encode("utf-8", env.Subject))
	header.Set("Date", now.Format(time.RFC1123Z))
	header.Set("Message-ID", messageID(env.From))
	header.Set("MIME-Version", "1.0")

	if len(env.Attachments) == 0 {
		header.Set("Content-Type", "text/plain; charset=utf-8")
		header.Set("Content-Transfer-Encoding", "quoted-printable")
		writeHeader(&buf, header)
		if err := writeQuotedPrintable(&buf, env.Body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	header.Set("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", mw.Boundary()))
	writeHeader(&buf, header)

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeQuotedPrintable(text, env.Body); err != nil {
		return nil, err
	}

	for _, att := range env.Attachments {
		if err := writeAttachment(mw, att); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// header 顺序固定，便于阅读原始邮件
var headerOrder = []string{"From", "To", "Subject", "Date", "Message-Id", "Mime-Version", "Content-Type", "Content-Transfer-Encoding"}

func writeHeader(w *bytes.Buffer, h textproto.MIMEHeader) {
	for _, key := range headerOrder {
		if v := h.Get(key); v != "" {
			fmt.Fprintf(w, "%s: %s\r\n", key, v)
		}
	}
	w.WriteString("\r\n")
}

func writeQuotedPrintable(w io.Writer, body string) error {
	qp := quotedprintable.NewWriter(w)
	body = strings.ReplaceAll(body, "\r\n", "\n")
	if _, err := qp.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n"))); err != nil {
		return err
	}
	return qp.Close()
}

func writeAttachment(mw *multipart.Writer, att domain.Attachment) error {
	if att.Open == nil {
		return fmt.Errorf("attachment %s: no content", att.Filename)
	}
	rc, err := att.Open()
	if err != nil {
		return fmt.Errorf("attachment %s: %w", att.Filename, err)
	}
	defer rc.Close()

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	name := mime.QEncoding.Encode("utf-8", att.Filename)

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf("%s; name=%q", contentType, name)},
		"Content-Disposition":       {fmt.Sprintf("attachment; filename=%q", name)},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return err
	}

	enc := base64.NewEncoder(base64.StdEncoding, &lineWrapper{w: part, max: 76})
	if _, err := io.Copy(enc, rc); err != nil {
		return fmt.Errorf("attachment %s: %w", att.Filename, err)
	}
	return enc.Close()
}

func messageID(from string) string {
	domainPart := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domainPart = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domainPart)
}

// lineWrapper 每 max 个字符插入 CRLF
type lineWrapper struct {
	w   io.Writer
	max int
	n   int
}

func (l *lineWrapper) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		room := l.max - l.n
		chunk := p
		if len(chunk) > room {
			chunk = chunk[:room]
		}
		n, err := l.w.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
		l.n += n
		p = p[n:]
		if l.n == l.max {
			if _, err := l.w.Write([]byte("\r\n")); err != nil {
				return written, err
			}
			l.n = 0
		}
	}
	return written, nil
}
