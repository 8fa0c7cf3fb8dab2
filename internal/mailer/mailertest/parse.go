package mailertest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// Part 解析出的附件
type Part struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Parsed 解析后的邮件内容
type Parsed struct {
	Subject     string
	From        string
	To          string
	Text        string
	Attachments []Part
}

// Parse 解析原始邮件，提取主题、正文和附件
func Parse(raw []byte) (*Parsed, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}

	parsed := &Parsed{
		Subject: decodeHeader(msg.Header.Get("Subject")),
		From:    msg.Header.Get("From"),
		To:      msg.Header.Get("To"),
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		body, _ := io.ReadAll(msg.Body)
		parsed.Text = string(body)
		return parsed, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if params["boundary"] == "" {
			return nil, fmt.Errorf("multipart message without boundary")
		}
		if err := parseMultipart(multipart.NewReader(msg.Body, params["boundary"]), parsed); err != nil {
			return nil, fmt.Errorf("parse multipart: %w", err)
		}
		return parsed, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"), params["charset"])
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	parsed.Text = body
	return parsed, nil
}

func parseMultipart(mr *multipart.Reader, parsed *Parsed) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		mediaType, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			mediaType = "text/plain"
		}

		if disposition := part.Header.Get("Content-Disposition"); disposition != "" {
			dispType, dispParams, _ := mime.ParseMediaType(disposition)
			if dispType == "attachment" || dispType == "inline" {
				filename := dispParams["filename"]
				if filename == "" {
					filename = params["name"]
				}

				// multipart.Part 不会自动解码 base64
				content, err := io.ReadAll(part)
				if err != nil {
					return err
				}
				if strings.EqualFold(part.Header.Get("Content-Transfer-Encoding"), "base64") {
					if decoded, err := base64.StdEncoding.DecodeString(string(content)); err == nil {
						content = decoded
					}
				}

				parsed.Attachments = append(parsed.Attachments, Part{
					Filename:    decodeHeader(filename),
					ContentType: mediaType,
					Content:     content,
				})
				continue
			}
		}

		if strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
			if err := parseMultipart(multipart.NewReader(part, params["boundary"]), parsed); err != nil {
				return err
			}
			continue
		}

		if strings.HasPrefix(mediaType, "text/plain") && parsed.Text == "" {
			// multipart.Part 会透明解码 quoted-printable 并删除该头
			body, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"), params["charset"])
			if err != nil {
				return err
			}
			parsed.Text = body
		}
	}
}

// decodeBody 根据编码方式解码邮件体
func decodeBody(reader io.Reader, transferEncoding string, charset string) (string, error) {
	var decoded io.Reader = reader
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		decoded = base64.NewDecoder(base64.StdEncoding, reader)
	case "quoted-printable":
		decoded = quotedprintable.NewReader(reader)
	}

	body, err := io.ReadAll(decoded)
	if err != nil {
		return "", err
	}

	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "us-ascii" {
		if enc := charsetEncoding(charset); enc != nil {
			if converted, _, err := transform.Bytes(enc.NewDecoder(), body); err == nil {
				body = converted
			}
		}
	}
	return string(body), nil
}

func charsetEncoding(charset string) encoding.Encoding {
	switch charset {
	case "gb2312", "gbk", "gb18030":
		return simplifiedchinese.GBK
	case "big5":
		return traditionalchinese.Big5
	case "shift_jis", "euc-jp":
		return japanese.ShiftJIS
	case "euc-kr", "ks_c_5601-1987":
		return korean.EUCKR
	default:
		return nil
	}
}

func decodeHeader(value string) string {
	if value == "" {
		return value
	}
	decoded, err := new(mime.WordDecoder).DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
