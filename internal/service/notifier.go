package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

// NotificationSubject 运维通知邮件主题
const NotificationSubject = "CuckooPost ERROR"

// notifyTimeout 单次通知的投递上限
const notifyTimeout = 30 * time.Second

// PlainSender 最基础的发信方式，绕过常规传输层
type PlainSender interface {
	SendPlain(ctx context.Context, from, to, subject, body string) error
}

// Dispatcher 将任务放入后台执行，无法接收时返回 false
type Dispatcher func(task func()) bool

// Report 运维通知内容，字段按固定顺序输出
type Report struct {
	Error     string
	Detail    string
	Token     string
	TokenData string
	Email     string
	Subject   string
	Message   string
}

// Body 每个非空字段输出一行 "Key:\tValue\r\n"
func (r Report) Body() string {
	fields := []struct{ key, value string }{
		{"Error", r.Error},
		{"Detail", r.Detail},
		{"Token", r.Token},
		{"Token data", r.TokenData},
		{"Email", r.Email},
		{"Subject", r.Subject},
		{"Message", r.Message},
	}

	var b strings.Builder
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		b.WriteString(f.key)
		b.WriteString(":\t")
		b.WriteString(f.value)
		b.WriteString("\r\n")
	}
	return b.String()
}

// Notifier 接收失败报告
type Notifier interface {
	Notify(report Report)
}

// OperatorNotifier 把失败报告发送到运维地址（base.from）。
// 发送在后台进行，失败只记录日志，不影响请求结果。
type OperatorNotifier struct {
	sender   PlainSender
	address  func() (string, bool)
	dispatch Dispatcher
	log      *zap.Logger
	onSent   func(ok bool)
}

// NewOperatorNotifier 创建运维通知器。
// address 返回运维地址及其是否有效；dispatch 为 nil 时同步发送。
func NewOperatorNotifier(sender PlainSender, address func() (string, bool), dispatch Dispatcher, log *zap.Logger) *OperatorNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &OperatorNotifier{
		sender:   sender,
		address:  address,
		dispatch: dispatch,
		log:      log.Named("notifier"),
	}
}

// OnSent 注册发送结果回调，用于指标统计
func (n *OperatorNotifier) OnSent(fn func(ok bool)) {
	n.onSent = fn
}

// Notify 投递报告，不会阻塞调用方也不会返回错误
func (n *OperatorNotifier) Notify(report Report) {
	to, ok := n.address()
	if !ok {
		n.log.Warn("operator address invalid, notification skipped", zap.String("error", report.Error))
		return
	}

	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		err := n.sender.SendPlain(ctx, to, to, NotificationSubject, report.Body())
		if err != nil {
			n.log.Error("operator notification failed", zap.Error(err), zap.String("error_report", report.Error))
		}
		if n.onSent != nil {
			n.onSent(err == nil)
		}
	}

	if n.dispatch == nil {
		task()
		return
	}
	if !n.dispatch(task) {
		n.log.Warn("notification queue full, notification dropped", zap.String("error", report.Error))
		if n.onSent != nil {
			n.onSent(false)
		}
	}
}
