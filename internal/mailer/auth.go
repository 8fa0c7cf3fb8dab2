package mailer

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/emersion/go-sasl"
)

// newSASLClient 根据认证方式创建 SASL 客户端
func newSASLClient(mechanism, username, password string) (sasl.Client, error) {
	switch mechanism {
	case "", sasl.Plain:
		return sasl.NewPlainClient("", username, password), nil
	case sasl.Login:
		return sasl.NewLoginClient(username, password), nil
	case "CRAM-MD5":
		return &cramMD5Client{username: username, secret: password}, nil
	case "XOAUTH2":
		return &xoauth2Client{username: username, token: password}, nil
	default:
		return nil, fmt.Errorf("mailer: unsupported auth type %q", mechanism)
	}
}

// cramMD5Client RFC 2195
type cramMD5Client struct {
	username string
	secret   string
}

func (c *cramMD5Client) Start() (string, []byte, error) {
	return "CRAM-MD5", nil, nil
}

func (c *cramMD5Client) Next(challenge []byte) ([]byte, error) {
	mac := hmac.New(md5.New, []byte(c.secret))
	mac.Write(challenge)
	return []byte(c.username + " " + hex.EncodeToString(mac.Sum(nil))), nil
}

// xoauth2Client 密码字段作为 OAuth2 access token 使用
type xoauth2Client struct {
	username string
	token    string
}

func (c *xoauth2Client) Start() (string, []byte, error) {
	ir := "user=" + c.username + "\x01auth=Bearer " + c.token + "\x01\x01"
	return "XOAUTH2", []byte(ir), nil
}

// Next 服务器在失败时会发送 JSON 错误详情，回复空响应以结束交换
func (c *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}
