package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cuckoopost/backend/internal/domain"
)

func TestMetrics_SendOutcomes(t *testing.T) {
	m := NewMetrics()

	m.ObserveSend("smtp", 120*time.Millisecond, nil)
	m.ObserveSend("smtp", time.Second, errors.New("timeout"))
	m.ObserveDenied(domain.ReasonExpired)
	m.ObserveDenied(domain.ReasonExpired)
	m.ObserveBookkeepingFailure("counter")
	m.ObserveNotification(true)

	body := scrape(t, m)
	assert.Contains(t, body, `cuckoopost_sends_total{result="success",transport="smtp"} 1`)
	assert.Contains(t, body, `cuckoopost_sends_total{result="failure",transport="smtp"} 1`)
	assert.Contains(t, body, `cuckoopost_denied_total{reason="expired"} 2`)
	assert.Contains(t, body, `cuckoopost_bookkeeping_failures_total{step="counter"} 1`)
	assert.Contains(t, body, `cuckoopost_operator_notifications_total{result="sent"} 1`)
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	// 每个实例使用独立注册表，重复创建不会 panic
	assert.NotPanics(t, func() {
		NewMetrics()
		NewMetrics()
	})
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSend("sendmail", time.Second, nil)
		m.ObserveDenied(domain.ReasonLimitReached)
		m.RecordPanic()
		m.RecordAdminLogin(false)
	})
}

func TestMetrics_HTTPHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordTokenCreated()

	body := scrape(t, m)
	assert.Contains(t, body, "cuckoopost_tokens_created_total 1")
	assert.Contains(t, body, "go_goroutines")
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}
