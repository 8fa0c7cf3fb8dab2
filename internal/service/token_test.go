package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/storage"
	"cuckoopost/backend/internal/storage/memory"
)

func newTestTokenService(t *testing.T) (*TokenService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := NewTokenService(store, store, nil)
	svc.now = func() time.Time { return gateNow }
	return svc, store
}

func TestTokenService_Create(t *testing.T) {
	svc, store := newTestTokenService(t)

	token, err := svc.Create(context.Background(), domain.CreateTokenRequest{
		Description:        "CI alerts",
		SenderName:         "Build Bot",
		ExpirationDate:     "2099-12-31",
		Limit:              100,
		RecipientWhitelist: "ops@corp.com, dev@corp.com\nops@corp.com",
	})
	require.NoError(t, err)

	assert.Len(t, token.ID, 36)
	assert.Equal(t, 0, token.Counter)
	assert.Equal(t, domain.Whitelist{"ops@corp.com", "dev@corp.com"}, token.RecipientWhitelist)
	assert.Equal(t, gateNow, token.CreatedAt)

	stored, err := store.GetToken(context.Background(), token.ID)
	require.NoError(t, err)
	assert.Equal(t, "CI alerts", stored.Description)
	assert.Equal(t, "Build Bot", stored.SenderName)
}

func TestTokenService_CreateValidation(t *testing.T) {
	svc, store := newTestTokenService(t)

	tests := []struct {
		name string
		req  domain.CreateTokenRequest
		err  error
	}{
		{"过期日期格式错误", domain.CreateTokenRequest{ExpirationDate: "31/12/2099"}, domain.ErrInvalidExpiration},
		{"负数上限", domain.CreateTokenRequest{ExpirationDate: "2099-12-31", Limit: -1}, domain.ErrNegativeLimit},
		{"白名单非法", domain.CreateTokenRequest{ExpirationDate: "2099-12-31", RecipientWhitelist: "not-an-email"}, domain.ErrInvalidWhitelistEntry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	tokens, err := store.ListTokens(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestTokenService_CreateRetriesOnCollision(t *testing.T) {
	svc, store := newTestTokenService(t)
	require.NoError(t, store.CreateToken(context.Background(), &domain.Token{ID: "taken", ExpirationDate: "2099-01-01"}))

	ids := []string{"taken", "taken", "fresh"}
	svc.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	token, err := svc.Create(context.Background(), domain.CreateTokenRequest{ExpirationDate: "2099-12-31"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", token.ID)
}

func TestTokenService_CreateGivesUpAfterBoundedAttempts(t *testing.T) {
	svc, store := newTestTokenService(t)
	require.NoError(t, store.CreateToken(context.Background(), &domain.Token{ID: "taken", ExpirationDate: "2099-01-01"}))

	calls := 0
	svc.newID = func() string {
		calls++
		return "taken"
	}

	_, err := svc.Create(context.Background(), domain.CreateTokenRequest{ExpirationDate: "2099-12-31"})
	assert.ErrorIs(t, err, domain.ErrTokenIDExhausted)
	assert.Equal(t, maxTokenIDAttempts, calls)
}

func TestTokenService_ListFlagsState(t *testing.T) {
	svc, store := newTestTokenService(t)
	ctx := context.Background()
	require.NoError(t, store.CreateToken(ctx, &domain.Token{ID: "old", ExpirationDate: "2020-01-01"}))
	require.NoError(t, store.CreateToken(ctx, &domain.Token{ID: "full", ExpirationDate: "2099-01-01", Limit: 2, Counter: 2}))
	require.NoError(t, store.CreateToken(ctx, &domain.Token{ID: "ok", ExpirationDate: "2099-01-01"}))

	views, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 3)

	state := map[string][2]bool{}
	for _, v := range views {
		state[v.ID] = [2]bool{v.Expired, v.Exhausted}
	}
	assert.Equal(t, [2]bool{true, false}, state["old"])
	assert.Equal(t, [2]bool{false, true}, state["full"])
	assert.Equal(t, [2]bool{false, false}, state["ok"])
}

func TestTokenService_DeleteKeepsLogs(t *testing.T) {
	svc, store := newTestTokenService(t)
	ctx := context.Background()
	require.NoError(t, store.CreateToken(ctx, &domain.Token{ID: "tok", ExpirationDate: "2099-01-01"}))
	require.NoError(t, store.AppendMailLog(ctx, &domain.MailLog{TokenID: "tok", Recipient: "a@b.com"}))

	require.NoError(t, svc.Delete(ctx, "tok"))

	_, err := svc.Get(ctx, "tok")
	assert.True(t, errors.Is(err, storage.ErrTokenNotFound))

	logs, err := svc.Logs(ctx, "tok")
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	assert.ErrorIs(t, svc.Delete(ctx, "tok"), storage.ErrTokenNotFound)
}
