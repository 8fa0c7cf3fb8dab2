package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// DateLayout 令牌过期日期的存储格式
const DateLayout = "2006-01-02"

// Token 表示一个发信令牌。
type Token struct {
	ID                 string    `json:"id" gorm:"column:uuid;primaryKey;type:varchar(36)"`
	Description        string    `json:"description" gorm:"type:varchar(255)"`
	SenderName         string    `json:"senderName,omitempty" gorm:"column:sender_name;type:varchar(255)"`
	ExpirationDate     string    `json:"expirationDate" gorm:"column:expiration_date;type:varchar(10)"`
	Limit              int       `json:"limit" gorm:"column:message_limit;not null;default:0"`
	Counter            int       `json:"counter" gorm:"column:message_counter;not null;default:0"`
	RecipientWhitelist Whitelist `json:"recipientWhitelist" gorm:"column:recipient_whitelist;type:text"`
	CreatedAt          time.Time `json:"createdAt"`
}

// TableName 与原有数据表保持一致
func (Token) TableName() string {
	return "tokens"
}

// Unlimited 是否不限制发信数量
func (t *Token) Unlimited() bool {
	return t.Limit == 0
}

// Exhausted 计数器已达到上限
func (t *Token) Exhausted() bool {
	return !t.Unlimited() && t.Counter >= t.Limit
}

// ExpiresAt 返回令牌失效的时刻：过期日期当天 00:00:01 UTC。
// 无法解析的日期返回 false。
func (t *Token) ExpiresAt() (time.Time, bool) {
	day, err := time.ParseInLocation(DateLayout, t.ExpirationDate, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return day.Add(time.Second), true
}

// Expired 判断令牌在 now 时刻是否已过期
func (t *Token) Expired(now time.Time) bool {
	at, ok := t.ExpiresAt()
	if !ok {
		return true
	}
	return !now.UTC().Before(at)
}

// Whitelist 收件人白名单，保留插入顺序。
// 数据库中以逗号分隔的文本存储。
type Whitelist []string

// Empty 空白名单表示不限制收件人
func (w Whitelist) Empty() bool {
	return len(w) == 0
}

// Contains 精确（区分大小写）匹配
func (w Whitelist) Contains(address string) bool {
	for _, entry := range w {
		if entry == address {
			return true
		}
	}
	return false
}

// String 逗号连接
func (w Whitelist) String() string {
	return strings.Join(w, ",")
}

// Value 实现 driver.Valuer
func (w Whitelist) Value() (driver.Value, error) {
	return w.String(), nil
}

// Scan 实现 sql.Scanner
func (w *Whitelist) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*w = nil
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("whitelist: unsupported scan type %T", src)
	}
	*w = SplitWhitelist(raw)
	return nil
}

// SplitWhitelist 拆分逗号分隔的白名单文本，忽略空项
func SplitWhitelist(raw string) Whitelist {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make(Whitelist, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
