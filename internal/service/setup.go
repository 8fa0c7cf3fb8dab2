package service

import (
	"context"
	"errors"
	"fmt"

	"cuckoopost/backend/internal/config"
)

// HealthChecker 存储健康检查
type HealthChecker interface {
	Health() error
}

// SetupValidator 检查部署是否可用：基础配置完整且存储可访问
type SetupValidator struct {
	cfg   *config.Config
	store HealthChecker
}

// NewSetupValidator 创建部署检查
func NewSetupValidator(cfg *config.Config, store HealthChecker) *SetupValidator {
	return &SetupValidator{cfg: cfg, store: store}
}

// Check 返回所有问题的汇总，无问题时返回 nil
func (v *SetupValidator) Check(_ context.Context) error {
	var problems []error
	if err := v.cfg.Validate(); err != nil {
		problems = append(problems, err)
	}
	if v.store == nil {
		problems = append(problems, errors.New("storage not configured"))
	} else if err := v.store.Health(); err != nil {
		problems = append(problems, fmt.Errorf("storage unavailable: %w", err))
	}
	return errors.Join(problems...)
}

// Status 管理端展示的部署状态
type Status struct {
	SMTPConfigured bool     `json:"smtpConfigured"`
	Transport      string   `json:"transport"`
	StorageDriver  string   `json:"storageDriver"`
	MailLog        bool     `json:"mailLog"`
	Ready          bool     `json:"ready"`
	Problems       []string `json:"problems,omitempty"`
}

// Status 汇总当前部署状态
func (v *SetupValidator) Status(ctx context.Context) Status {
	st := Status{
		SMTPConfigured: v.cfg.SMTP.Enabled(),
		Transport:      "sendmail",
		StorageDriver:  v.cfg.Storage.Driver,
		MailLog:        v.cfg.Base.MailLog,
	}
	if st.SMTPConfigured {
		st.Transport = "smtp"
	}

	var verr *config.ValidationError
	if err := v.cfg.Validate(); errors.As(err, &verr) {
		st.Problems = append(st.Problems, verr.Problems...)
	}
	if v.store != nil {
		if err := v.store.Health(); err != nil {
			st.Problems = append(st.Problems, "storage unavailable: "+err.Error())
		}
	} else {
		st.Problems = append(st.Problems, "storage not configured")
	}
	st.Ready = len(st.Problems) == 0
	return st
}
