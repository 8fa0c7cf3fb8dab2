// Package storagetest 提供各存储后端共用的行为测试。
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run 对 newStore 返回的存储执行完整的行为测试。
// 每个子测试都会拿到一个新的空存储。
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("TokenLifecycle", func(t *testing.T) { testTokenLifecycle(t, newStore(t)) })
	t.Run("IncrementCounter", func(t *testing.T) { testIncrementCounter(t, newStore(t)) })
	t.Run("ConcurrentIncrement", func(t *testing.T) { testConcurrentIncrement(t, newStore(t)) })
	t.Run("MailLogs", func(t *testing.T) { testMailLogs(t, newStore(t)) })
	t.Run("Health", func(t *testing.T) { assert.NoError(t, newStore(t).Health()) })
}

func sampleToken(id string) *domain.Token {
	return &domain.Token{
		ID:                 id,
		Description:        "ci pipeline",
		SenderName:         "Builder",
		ExpirationDate:     "2030-12-31",
		Limit:              5,
		RecipientWhitelist: domain.Whitelist{"a@x.com", "b@x.com"},
		CreatedAt:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testTokenLifecycle(t *testing.T, store storage.Store) {
	ctx := context.Background()
	token := sampleToken("0b5e7c1a-6d7f-4a51-9a44-1d2f3c4b5a60")

	exists, err := store.TokenExists(ctx, token.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.CreateToken(ctx, token))
	assert.ErrorIs(t, store.CreateToken(ctx, token), storage.ErrTokenExists)

	exists, err = store.TokenExists(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := store.GetToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, token.Description, got.Description)
	assert.Equal(t, token.SenderName, got.SenderName)
	assert.Equal(t, token.ExpirationDate, got.ExpirationDate)
	assert.Equal(t, token.Limit, got.Limit)
	assert.Equal(t, 0, got.Counter)
	assert.Equal(t, token.RecipientWhitelist, got.RecipientWhitelist)

	list, err := store.ListTokens(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, token.ID, list[0].ID)

	require.NoError(t, store.DeleteToken(ctx, token.ID))
	_, err = store.GetToken(ctx, token.ID)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	assert.ErrorIs(t, store.DeleteToken(ctx, token.ID), storage.ErrTokenNotFound)
}

func testIncrementCounter(t *testing.T, store storage.Store) {
	ctx := context.Background()
	token := sampleToken("5f1c2a7e-3b4d-4c8e-8f90-a1b2c3d4e5f6")
	require.NoError(t, store.CreateToken(ctx, token))

	require.NoError(t, store.IncrementCounter(ctx, token.ID))
	require.NoError(t, store.IncrementCounter(ctx, token.ID))

	got, err := store.GetToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Counter)

	assert.ErrorIs(t, store.IncrementCounter(ctx, "missing"), storage.ErrTokenNotFound)
}

func testConcurrentIncrement(t *testing.T, store storage.Store) {
	ctx := context.Background()
	token := sampleToken("9d8c7b6a-5f4e-4d3c-9b2a-1f0e9d8c7b6a")
	token.Limit = 0
	require.NoError(t, store.CreateToken(ctx, token))

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.IncrementCounter(ctx, token.ID))
		}()
	}
	wg.Wait()

	got, err := store.GetToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.Counter)
}

func testMailLogs(t *testing.T, store storage.Store) {
	ctx := context.Background()
	token := sampleToken("c0ffee00-1234-4abc-8def-0123456789ab")
	require.NoError(t, store.CreateToken(ctx, token))

	for _, subject := range []string{"first", "second", "third"} {
		require.NoError(t, store.AppendMailLog(ctx, &domain.MailLog{
			TokenID:          token.ID,
			TokenDescription: token.Description,
			Recipient:        "a@x.com",
			Subject:          subject,
			Message:          "body",
			Attachments:      "a.txt, b.pdf",
			SentAt:           time.Now().UTC(),
		}))
	}
	require.NoError(t, store.AppendMailLog(ctx, &domain.MailLog{TokenID: "other", Subject: "x"}))

	logs, err := store.ListMailLogsByToken(ctx, token.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "first", logs[0].Subject)
	assert.Equal(t, "third", logs[2].Subject)
	assert.Equal(t, "a.txt, b.pdf", logs[0].Attachments)
	assert.Equal(t, token.Description, logs[0].TokenDescription)

	// 删除令牌后日志仍然保留
	require.NoError(t, store.DeleteToken(ctx, token.ID))
	logs, err = store.ListMailLogsByToken(ctx, token.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 3)

	empty, err := store.ListMailLogsByToken(ctx, "never-used")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
