package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/storage"
)

const keyPrefix = "cuckoopost:"

func tokenKey(id string) string { return keyPrefix + "token:" + id }
func logsKey(id string) string  { return keyPrefix + "logs:" + id }
func tokenIndexKey() string     { return keyPrefix + "tokens" }
func logSequenceKey() string    { return keyPrefix + "seq:logs" }

// 令牌哈希字段
const (
	fieldDescription = "description"
	fieldSenderName  = "sender_name"
	fieldExpiration  = "expiration_date"
	fieldLimit       = "limit"
	fieldCounter     = "counter"
	fieldWhitelist   = "whitelist"
	fieldCreatedAt   = "created_at"
)

// 键存在时才自增，避免为已删除的令牌重新创建哈希
var incrementScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
end
return -1
`)

// Store 令牌存为哈希，ID 集合用于列举，日志为 JSON 列表。
type Store struct {
	rdb *goredis.Client
}

var _ storage.Store = (*Store)(nil)

// NewStore 连接 Redis
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	rdb, err := newClient(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Store{rdb: rdb}, nil
}

// NewStoreWithClient 使用已有客户端
func NewStoreWithClient(rdb *goredis.Client) *Store {
	return &Store{rdb: rdb}
}

func tokenFields(t *domain.Token) map[string]any {
	return map[string]any{
		fieldDescription: t.Description,
		fieldSenderName:  t.SenderName,
		fieldExpiration:  t.ExpirationDate,
		fieldLimit:       t.Limit,
		fieldCounter:     t.Counter,
		fieldWhitelist:   t.RecipientWhitelist.String(),
		fieldCreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func tokenFromFields(id string, fields map[string]string) (*domain.Token, error) {
	limit, err := strconv.Atoi(fields[fieldLimit])
	if err != nil {
		return nil, fmt.Errorf("redis: token %s: bad limit: %w", id, err)
	}
	counter, err := strconv.Atoi(fields[fieldCounter])
	if err != nil {
		return nil, fmt.Errorf("redis: token %s: bad counter: %w", id, err)
	}
	created, _ := time.Parse(time.RFC3339Nano, fields[fieldCreatedAt])

	return &domain.Token{
		ID:                 id,
		Description:        fields[fieldDescription],
		SenderName:         fields[fieldSenderName],
		ExpirationDate:     fields[fieldExpiration],
		Limit:              limit,
		Counter:            counter,
		RecipientWhitelist: domain.SplitWhitelist(fields[fieldWhitelist]),
		CreatedAt:          created,
	}, nil
}

// GetToken 读取令牌
func (s *Store) GetToken(ctx context.Context, id string) (*domain.Token, error) {
	fields, err := s.rdb.HGetAll(ctx, tokenKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: get token: %w", err)
	}
	if len(fields) == 0 {
		return nil, storage.ErrTokenNotFound
	}
	return tokenFromFields(id, fields)
}

// IncrementCounter HINCRBY，令牌不存在时返回 ErrTokenNotFound
func (s *Store) IncrementCounter(ctx context.Context, id string) error {
	n, err := incrementScript.Run(ctx, s.rdb, []string{tokenKey(id)}, fieldCounter).Int64()
	if err != nil {
		return fmt.Errorf("redis: increment counter: %w", err)
	}
	if n < 0 {
		return storage.ErrTokenNotFound
	}
	return nil
}

// CreateToken 先占用索引集合中的 ID，再写入哈希
func (s *Store) CreateToken(ctx context.Context, token *domain.Token) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	added, err := s.rdb.SAdd(ctx, tokenIndexKey(), token.ID).Result()
	if err != nil {
		return fmt.Errorf("redis: create token: %w", err)
	}
	if added == 0 {
		return storage.ErrTokenExists
	}
	if err := s.rdb.HSet(ctx, tokenKey(token.ID), tokenFields(token)).Err(); err != nil {
		s.rdb.SRem(ctx, tokenIndexKey(), token.ID)
		return fmt.Errorf("redis: create token: %w", err)
	}
	return nil
}

// DeleteToken 删除哈希与索引，日志列表保留
func (s *Store) DeleteToken(ctx context.Context, id string) error {
	var removed *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		removed = pipe.SRem(ctx, tokenIndexKey(), id)
		pipe.Del(ctx, tokenKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: delete token: %w", err)
	}
	if removed.Val() == 0 {
		return storage.ErrTokenNotFound
	}
	return nil
}

// ListTokens 按创建时间倒序
func (s *Store) ListTokens(ctx context.Context) ([]domain.Token, error) {
	ids, err := s.rdb.SMembers(ctx, tokenIndexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list tokens: %w", err)
	}

	tokens := make([]domain.Token, 0, len(ids))
	for _, id := range ids {
		token, err := s.GetToken(ctx, id)
		if errors.Is(err, storage.ErrTokenNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, *token)
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})
	return tokens, nil
}

// TokenExists 检查 ID 是否已被占用
func (s *Store) TokenExists(ctx context.Context, id string) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, tokenIndexKey(), id).Result()
	if err != nil {
		return false, fmt.Errorf("redis: token exists: %w", err)
	}
	return ok, nil
}

// AppendMailLog RPUSH 一条 JSON 记录
func (s *Store) AppendMailLog(ctx context.Context, entry *domain.MailLog) error {
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}
	seq, err := s.rdb.Incr(ctx, logSequenceKey()).Result()
	if err != nil {
		return fmt.Errorf("redis: append mail log: %w", err)
	}
	entry.ID = uint64(seq)

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.rdb.RPush(ctx, logsKey(entry.TokenID), data).Err(); err != nil {
		return fmt.Errorf("redis: append mail log: %w", err)
	}
	return nil
}

// ListMailLogsByToken 按插入顺序返回
func (s *Store) ListMailLogsByToken(ctx context.Context, tokenID string) ([]domain.MailLog, error) {
	items, err := s.rdb.LRange(ctx, logsKey(tokenID), 0, -1).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("redis: list mail logs: %w", err)
	}

	logs := make([]domain.MailLog, 0, len(items))
	for _, item := range items {
		var entry domain.MailLog
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("redis: decode mail log: %w", err)
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

// Close 关闭 Redis 连接
func (s *Store) Close() error {
	return s.rdb.Close()
}

// Health 测试 Redis 连接
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
