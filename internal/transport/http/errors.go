package httptransport

import (
	"errors"
	"net/http"

	"cuckoopost/backend/internal/auth"
	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/storage"
)

type errorMapping struct {
	err    error
	status int
	msg    string
}

// 管理接口的错误映射（业务错误 -> 状态码与提示），按顺序匹配
var errorMappings = []errorMapping{
	{storage.ErrTokenNotFound, http.StatusNotFound, "令牌不存在"},
	{domain.ErrInvalidExpiration, http.StatusBadRequest, "过期日期格式无效，应为 YYYY-MM-DD"},
	{domain.ErrNegativeLimit, http.StatusBadRequest, "发信上限不能为负数"},
	{domain.ErrDescriptionTooLong, http.StatusBadRequest, "描述过长"},
	{domain.ErrInvalidWhitelistEntry, http.StatusBadRequest, "白名单中包含无效的邮箱地址"},
	{domain.ErrTokenIDExhausted, http.StatusInternalServerError, "生成令牌 ID 失败，请重试"},
	{auth.ErrInvalidCredentials, http.StatusUnauthorized, "用户名或密码错误"},
	{auth.ErrAdminDisabled, http.StatusNotFound, "管理接口未启用"},
}

// mapError 返回错误对应的状态码和提示，未知错误返回 500
func mapError(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.msg
		}
	}
	return http.StatusInternalServerError, MsgInternalError
}

// 通用错误消息
const (
	MsgInvalidRequest  = "请求参数格式错误"
	MsgTokenListFailed = "获取令牌列表失败"
	MsgLogListFailed   = "获取发信日志失败"
	MsgInternalError   = "服务器内部错误，请稍后重试"
)
