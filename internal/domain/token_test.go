package domain

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenExpired(t *testing.T) {
	token := &Token{ExpirationDate: "2024-02-13"}

	at, ok := token.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 2, 13, 0, 0, 1, 0, time.UTC), at)

	assert.False(t, token.Expired(time.Date(2024, 2, 13, 0, 0, 0, 0, time.UTC)))
	assert.True(t, token.Expired(time.Date(2024, 2, 13, 0, 0, 1, 0, time.UTC)))
	assert.True(t, token.Expired(time.Date(2024, 2, 13, 12, 0, 0, 0, time.UTC)))

	// 非 UTC 时间按 UTC 比较
	cet := time.FixedZone("CET", 3600)
	assert.False(t, token.Expired(time.Date(2024, 2, 13, 1, 0, 0, 0, cet)))
}

func TestTokenExpiredWithUnparsableDate(t *testing.T) {
	token := &Token{ExpirationDate: "never"}
	assert.True(t, token.Expired(time.Now()))
}

func TestTokenExhausted(t *testing.T) {
	assert.False(t, (&Token{Limit: 0, Counter: 1000}).Exhausted())
	assert.False(t, (&Token{Limit: 3, Counter: 2}).Exhausted())
	assert.True(t, (&Token{Limit: 3, Counter: 3}).Exhausted())
	assert.True(t, (&Token{Limit: 3, Counter: 4}).Exhausted())
}

func TestWhitelistScan(t *testing.T) {
	var w Whitelist
	require.NoError(t, w.Scan([]byte("a@x.com, b@x.com,,")))
	assert.Equal(t, Whitelist{"a@x.com", "b@x.com"}, w)

	v, err := w.Value()
	require.NoError(t, err)
	assert.Equal(t, "a@x.com,b@x.com", v)

	require.NoError(t, w.Scan(nil))
	assert.True(t, w.Empty())

	assert.Error(t, w.Scan(42))
}

func TestSendRequestValidate(t *testing.T) {
	limits := AttachmentLimits{MaxCount: 2, MaxBytes: 100}
	base := SendRequest{TokenID: "t", Recipient: "a@x.com", Subject: "s", Message: "m"}

	t.Run("合法请求", func(t *testing.T) {
		req := base
		assert.NoError(t, req.Validate(limits))
	})

	t.Run("缺少字段", func(t *testing.T) {
		req := base
		req.Subject = ""
		assert.ErrorIs(t, req.Validate(limits), ErrMissingField)
	})

	t.Run("收件人非法", func(t *testing.T) {
		req := base
		req.Recipient = "nope"
		assert.ErrorIs(t, req.Validate(limits), ErrInvalidEmail)
	})

	t.Run("附件过多", func(t *testing.T) {
		req := base
		req.Attachments = []Attachment{{Filename: "a"}, {Filename: "b"}, {Filename: "c"}}
		assert.ErrorIs(t, req.Validate(limits), ErrTooManyAttachments)
	})

	t.Run("附件过大", func(t *testing.T) {
		req := base
		req.Attachments = []Attachment{{Filename: "a", Size: 60}, {Filename: "b", Size: 41}}
		assert.ErrorIs(t, req.Validate(limits), ErrAttachmentsTooLarge)
		assert.Equal(t, "a, b", req.AttachmentNames())
	})

	t.Run("零上限不允许附件", func(t *testing.T) {
		req := base
		req.Attachments = []Attachment{{Filename: "a", Size: 1}}
		assert.ErrorIs(t, req.Validate(AttachmentLimits{}), ErrTooManyAttachments)
		assert.ErrorIs(t, req.Validate(AttachmentLimits{MaxCount: 1}), ErrAttachmentsTooLarge)
		assert.NoError(t, base.Validate(AttachmentLimits{}))
	})
}

func TestSendErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    *SendError
		status int
		public string
	}{
		{"not found", NewDenied(ReasonTokenNotFound), http.StatusUnauthorized, MsgInvalidToken},
		{"expired", NewDenied(ReasonExpired), http.StatusUnauthorized, MsgInvalidToken},
		{"limit", NewDenied(ReasonLimitReached), http.StatusUnauthorized, MsgInvalidToken},
		{"whitelist", NewDenied(ReasonRecipientNotAllowed), http.StatusForbidden, MsgRecipientDenied},
		{"bad input", NewBadRequest(ErrMissingField), http.StatusBadRequest, MsgInvalidInput},
		{"bad attachments", NewBadRequest(ErrTooManyAttachments), http.StatusBadRequest, MsgInvalidAttachment},
		{"transport", NewTransportFailure(errors.New("dial")), http.StatusInternalServerError, MsgSendFailed},
		{"storage", NewStorageFailure(errors.New("db")), http.StatusInternalServerError, MsgStorageFailure},
		{"config", NewConfigurationFailure(errors.New("from")), http.StatusInternalServerError, MsgNotSetUp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode())
			assert.Equal(t, tt.public, tt.err.Public)
		})
	}

	wrapped := NewTransportFailure(errors.New("535 auth failed"))
	assert.Equal(t, KindTransport, KindOf(wrapped))
	assert.Contains(t, wrapped.Error(), "535 auth failed")
}
