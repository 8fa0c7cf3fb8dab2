package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cuckoopost/backend/internal/domain"
)

// Metrics 监控指标
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 发信指标
	SendsTotal            *prometheus.CounterVec
	SendDuration          *prometheus.HistogramVec
	DeniedTotal           *prometheus.CounterVec
	BookkeepingFailures   *prometheus.CounterVec
	NotificationsTotal    *prometheus.CounterVec
	AttachmentBytes       prometheus.Histogram
	AdminLoginsTotal      *prometheus.CounterVec
	RateLimitBlocks       *prometheus.CounterVec
	PanicsTotal           prometheus.Counter
	TokensCreated         prometheus.Counter
	TokensDeleted         prometheus.Counter
	ConfigurationFailures prometheus.Counter
}

// NewMetrics 创建监控指标，使用独立的注册表，附带 Go 运行时与进程指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cuckoopost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cuckoopost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		SendsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cuckoopost_sends_total",
				Help: "Messages handed to the mail transport, by result",
			},
			[]string{"transport", "result"},
		),

		SendDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cuckoopost_send_duration_seconds",
				Help:    "Mail transport send duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"transport"},
		),

		DeniedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cuckoopost_denied_total",
				Help: "Send requests denied by token policy",
			},
			[]string{"reason"},
		),

		BookkeepingFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cuckoopost_bookkeeping_failures_total",
				Help: "Counter or mail log writes that failed after a successful send",
			},
			[]string{"step"},
		),

		NotificationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cuckoopost_operator_notifications_total",
				Help: "Operator error notifications, by result",
			},
			[]string{"result"},
		),

		AttachmentBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cuckoopost_attachment_size_bytes",
				Help:    "Total attachment size per request in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),

		AdminLoginsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cuckoopost_admin_logins_total",
				Help: "Admin login attempts, by result",
			},
			[]string{"result"},
		),

		RateLimitBlocks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cuckoopost_rate_limit_blocks_total",
				Help: "Requests rejected by a rate limiter",
			},
			[]string{"type"},
		),

		PanicsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "cuckoopost_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		TokensCreated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "cuckoopost_tokens_created_total",
				Help: "Tokens created through the admin API",
			},
		),

		TokensDeleted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "cuckoopost_tokens_deleted_total",
				Help: "Tokens deleted through the admin API",
			},
		),

		ConfigurationFailures: f.NewCounter(
			prometheus.CounterOpts{
				Name: "cuckoopost_configuration_failures_total",
				Help: "Requests rejected because the deployment is not set up",
			},
		),
	}
}

// Registry 指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// ObserveSend 记录一次传输层发送
func (m *Metrics) ObserveSend(transport string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.SendsTotal.WithLabelValues(transport, result).Inc()
	m.SendDuration.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// ObserveDenied 记录策略拒绝
func (m *Metrics) ObserveDenied(reason domain.DenyReason) {
	if m == nil {
		return
	}
	m.DeniedTotal.WithLabelValues(string(reason)).Inc()
}

// ObserveBookkeepingFailure 记录发送后的记账失败
func (m *Metrics) ObserveBookkeepingFailure(step string) {
	if m == nil {
		return
	}
	m.BookkeepingFailures.WithLabelValues(step).Inc()
}

// ObserveNotification 记录运维通知结果
func (m *Metrics) ObserveNotification(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.NotificationsTotal.WithLabelValues("sent").Inc()
		return
	}
	m.NotificationsTotal.WithLabelValues("failed").Inc()
}

// RecordAttachmentSize 记录单次请求的附件总大小
func (m *Metrics) RecordAttachmentSize(size int64) {
	if m == nil || size <= 0 {
		return
	}
	m.AttachmentBytes.Observe(float64(size))
}

// RecordAdminLogin 记录管理员登录
func (m *Metrics) RecordAdminLogin(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.AdminLoginsTotal.WithLabelValues("success").Inc()
		return
	}
	m.AdminLoginsTotal.WithLabelValues("failure").Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordTokenCreated 记录令牌创建
func (m *Metrics) RecordTokenCreated() {
	if m == nil {
		return
	}
	m.TokensCreated.Inc()
}

// RecordTokenDeleted 记录令牌删除
func (m *Metrics) RecordTokenDeleted() {
	if m == nil {
		return
	}
	m.TokensDeleted.Inc()
}

// RecordConfigurationFailure 记录部署配置不完整导致的拒绝
func (m *Metrics) RecordConfigurationFailure() {
	if m == nil {
		return
	}
	m.ConfigurationFailures.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
