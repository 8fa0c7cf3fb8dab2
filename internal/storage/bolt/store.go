// Package bolt 基于 bbolt 的单文件嵌入式存储，是默认的存储后端。
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/storage"
)

var (
	bucketTokens   = []byte("tokens")
	bucketMailLogs = []byte("mail_logs")
)

// Store 令牌保存在 tokens 桶中（id -> JSON），
// 日志按令牌分子桶，键为递增序号。
type Store struct {
	db   *bbolt.DB
	path string
	now  func() time.Time
}

var _ storage.Store = (*Store)(nil)

// Open 打开或创建数据库文件
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("boltstore: create dir %s: %w", dir, err)
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketTokens, bucketMailLogs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: init: %w", err)
	}

	return &Store{db: db, path: path, now: time.Now}, nil
}

// Path 数据文件路径
func (s *Store) Path() string {
	return s.path
}

func getToken(b *bbolt.Bucket, id string) (*domain.Token, error) {
	raw := b.Get([]byte(id))
	if raw == nil {
		return nil, storage.ErrTokenNotFound
	}
	var token domain.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("boltstore: decode token %s: %w", id, err)
	}
	return &token, nil
}

func putToken(b *bbolt.Bucket, token *domain.Token) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("boltstore: encode token %s: %w", token.ID, err)
	}
	return b.Put([]byte(token.ID), raw)
}

// GetToken 读取令牌
func (s *Store) GetToken(_ context.Context, id string) (*domain.Token, error) {
	var token *domain.Token
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		token, err = getToken(tx.Bucket(bucketTokens), id)
		return err
	})
	return token, err
}

// IncrementCounter 在写事务中读改写，bbolt 同一时刻只有一个写事务
func (s *Store) IncrementCounter(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		token, err := getToken(b, id)
		if err != nil {
			return err
		}
		token.Counter++
		return putToken(b, token)
	})
}

// CreateToken 保存新令牌
func (s *Store) CreateToken(_ context.Context, token *domain.Token) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = s.now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		if b.Get([]byte(token.ID)) != nil {
			return storage.ErrTokenExists
		}
		return putToken(b, token)
	})
}

// DeleteToken 删除令牌，日志子桶保留
func (s *Store) DeleteToken(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		if b.Get([]byte(id)) == nil {
			return storage.ErrTokenNotFound
		}
		return b.Delete([]byte(id))
	})
}

// ListTokens 按创建时间倒序
func (s *Store) ListTokens(_ context.Context) ([]domain.Token, error) {
	var tokens []domain.Token
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).ForEach(func(k, v []byte) error {
			var token domain.Token
			if err := json.Unmarshal(v, &token); err != nil {
				return fmt.Errorf("boltstore: decode token %s: %w", k, err)
			}
			tokens = append(tokens, token)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.After(tokens[j].CreatedAt)
	})
	return tokens, nil
}

// TokenExists 检查 ID 是否已被占用
func (s *Store) TokenExists(_ context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		exists = tx.Bucket(bucketTokens).Get([]byte(id)) != nil
		return nil
	})
	return exists, err
}

// AppendMailLog 追加日志
func (s *Store) AppendMailLog(_ context.Context, entry *domain.MailLog) error {
	if entry.SentAt.IsZero() {
		entry.SentAt = s.now().UTC()
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketMailLogs).CreateBucketIfNotExists([]byte(entry.TokenID))
		if err != nil {
			return fmt.Errorf("boltstore: log bucket %s: %w", entry.TokenID, err)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.ID = seq
		raw, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("boltstore: encode log: %w", err)
		}
		return b.Put(seqKey(seq), raw)
	})
}

// ListMailLogsByToken 按插入顺序返回
func (s *Store) ListMailLogsByToken(_ context.Context, tokenID string) ([]domain.MailLog, error) {
	logs := []domain.MailLog{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMailLogs).Bucket([]byte(tokenID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var entry domain.MailLog
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("boltstore: decode log: %w", err)
			}
			logs = append(logs, entry)
			return nil
		})
	})
	return logs, err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// Health 确认数据库可读
func (s *Store) Health() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketTokens) == nil {
			return fmt.Errorf("boltstore: bucket %s missing", bucketTokens)
		}
		return nil
	})
}
