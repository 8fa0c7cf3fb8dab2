package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）
type Store struct {
	db         *sql.DB
	gormDB     *gorm.DB
	driverName string // "mysql" or "postgres"
}

var _ storage.Store = (*Store)(nil)

// Options 连接池参数
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore 创建SQL数据库存储
func NewStore(driverName, dsn string, opts Options) (*Store, error) {
	dialect, err := dialector(driverName)
	if err != nil {
		return nil, err
	}

	// 打开数据库连接
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	gormDB, err := gorm.Open(dialect(db), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize GORM: %w", err)
	}

	return &Store{db: db, gormDB: gormDB, driverName: driverName}, nil
}

func dialector(driverName string) (func(*sql.DB) gorm.Dialector, error) {
	switch driverName {
	case "mysql":
		return func(db *sql.DB) gorm.Dialector {
			return mysql.New(mysql.Config{Conn: db})
		}, nil
	case "postgres":
		return func(db *sql.DB) gorm.Dialector {
			return postgres.New(postgres.Config{Conn: db})
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}
}

// Migrate 创建或更新 tokens 与 mail_logs 表
func (s *Store) Migrate() error {
	return s.gormDB.AutoMigrate(&domain.Token{}, &domain.MailLog{})
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Health 检查数据库健康状态
func (s *Store) Health() error {
	if s.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return s.db.Ping()
}

// placeholder 根据数据库类型返回占位符
func (s *Store) placeholder(n int) string {
	if s.driverName == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// GetToken 读取令牌
func (s *Store) GetToken(ctx context.Context, id string) (*domain.Token, error) {
	var token domain.Token
	err := s.gormDB.WithContext(ctx).Where("uuid = ?", id).Take(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &token, nil
}

// IncrementCounter 单条 UPDATE 语句完成自增，由数据库保证原子性
func (s *Store) IncrementCounter(ctx context.Context, id string) error {
	query := "UPDATE tokens SET message_counter = message_counter + 1 WHERE uuid = " + s.placeholder(1)
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	if n == 0 {
		return storage.ErrTokenNotFound
	}
	return nil
}

// CreateToken 保存新令牌
func (s *Store) CreateToken(ctx context.Context, token *domain.Token) error {
	exists, err := s.TokenExists(ctx, token.ID)
	if err != nil {
		return err
	}
	if exists {
		return storage.ErrTokenExists
	}
	if err := s.gormDB.WithContext(ctx).Create(token).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return storage.ErrTokenExists
		}
		return fmt.Errorf("create token: %w", err)
	}
	return nil
}

// DeleteToken 硬删除，日志不级联
func (s *Store) DeleteToken(ctx context.Context, id string) error {
	res := s.gormDB.WithContext(ctx).Where("uuid = ?", id).Delete(&domain.Token{})
	if res.Error != nil {
		return fmt.Errorf("delete token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrTokenNotFound
	}
	return nil
}

// ListTokens 按创建时间倒序
func (s *Store) ListTokens(ctx context.Context) ([]domain.Token, error) {
	var tokens []domain.Token
	if err := s.gormDB.WithContext(ctx).Order("created_at DESC").Find(&tokens).Error; err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

// TokenExists 检查 ID 是否已被占用
func (s *Store) TokenExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.gormDB.WithContext(ctx).Model(&domain.Token{}).Where("uuid = ?", id).Count(&count).Error; err != nil {
		return false, fmt.Errorf("token exists: %w", err)
	}
	return count > 0, nil
}

// AppendMailLog 追加日志
func (s *Store) AppendMailLog(ctx context.Context, entry *domain.MailLog) error {
	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}
	if err := s.gormDB.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("append mail log: %w", err)
	}
	return nil
}

// ListMailLogsByToken 按插入顺序返回
func (s *Store) ListMailLogsByToken(ctx context.Context, tokenID string) ([]domain.MailLog, error) {
	logs := []domain.MailLog{}
	err := s.gormDB.WithContext(ctx).Where("token_uuid = ?", tokenID).Order("id ASC").Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("list mail logs: %w", err)
	}
	return logs, nil
}
