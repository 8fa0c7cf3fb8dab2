package domain

import "time"

// MailLog 一次成功发信的审计记录，写入后不再修改。
type MailLog struct {
	ID               uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	TokenID          string    `json:"tokenId" gorm:"column:token_uuid;type:varchar(36);index"`
	TokenDescription string    `json:"tokenDescription" gorm:"column:token_description;type:varchar(255)"`
	Recipient        string    `json:"recipient" gorm:"type:varchar(255)"`
	Subject          string    `json:"subject" gorm:"type:text"`
	Message          string    `json:"message" gorm:"type:text"`
	Attachments      string    `json:"attachments" gorm:"type:text"`
	SentAt           time.Time `json:"sentAt" gorm:"column:created_at;index"`
}

// TableName 日志表名
func (MailLog) TableName() string {
	return "mail_logs"
}
