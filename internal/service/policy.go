package service

import (
	"strings"
	"time"

	"cuckoopost/backend/internal/domain"
)

// Decision 策略判定结果
type Decision struct {
	Allowed bool
	Reason  domain.DenyReason
}

// Allow 放行
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny 拒绝并记录原因
func Deny(reason domain.DenyReason) Decision {
	return Decision{Reason: reason}
}

// Evaluate 对令牌、收件人和当前时间做纯判定，不产生副作用。
//
// 按顺序检查，第一个失败的检查决定结果：
//  1. 令牌存在
//  2. 当前时间早于过期日期当天 00:00:01 UTC
//  3. Limit 不为 0 时 Counter < Limit
//  4. 收件人在白名单中（白名单为空时不限制）
func Evaluate(token *domain.Token, recipient string, now time.Time) Decision {
	if token == nil {
		return Deny(domain.ReasonTokenNotFound)
	}
	if token.Expired(now) {
		return Deny(domain.ReasonExpired)
	}
	if token.Exhausted() {
		return Deny(domain.ReasonLimitReached)
	}
	if !RecipientAllowed(token.RecipientWhitelist, recipient) {
		return Deny(domain.ReasonRecipientNotAllowed)
	}
	return Allow()
}

// RecipientAllowed 白名单匹配。
// 精确匹配失败时，若本地部分含 "+"，去掉第一个 "+" 及其后内容再精确匹配一次。
func RecipientAllowed(whitelist domain.Whitelist, recipient string) bool {
	if whitelist.Empty() {
		return true
	}
	if whitelist.Contains(recipient) {
		return true
	}
	if base, ok := baseAddress(recipient); ok {
		return whitelist.Contains(base)
	}
	return false
}

// baseAddress user+tag@host -> user@host
func baseAddress(address string) (string, bool) {
	at := strings.LastIndex(address, "@")
	if at < 0 {
		return "", false
	}
	local, host := address[:at], address[at+1:]
	plus := strings.Index(local, "+")
	if plus < 0 {
		return "", false
	}
	return local[:plus] + "@" + host, true
}
