package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cuckoopost/backend/internal/domain"
	"cuckoopost/backend/internal/mailer"
	"cuckoopost/backend/internal/storage/memory"
)

// MockTransport 模拟邮件传输
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Send(ctx context.Context, env *mailer.Envelope) error {
	args := m.Called(ctx, env)
	return args.Error(0)
}

func (m *MockTransport) Name() string {
	return "mock"
}

// recordingNotifier 记录收到的报告
type recordingNotifier struct {
	mu      sync.Mutex
	reports []Report
}

func (n *recordingNotifier) Notify(r Report) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, r)
}

func (n *recordingNotifier) Reports() []Report {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Report(nil), n.reports...)
}

// faultyStore 在内存存储基础上注入故障
type faultyStore struct {
	*memory.Store
	getErr       error
	incrementErr error
	appendErr    error
}

func (s *faultyStore) GetToken(ctx context.Context, id string) (*domain.Token, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.Store.GetToken(ctx, id)
}

func (s *faultyStore) IncrementCounter(ctx context.Context, id string) error {
	if s.incrementErr != nil {
		return s.incrementErr
	}
	return s.Store.IncrementCounter(ctx, id)
}

func (s *faultyStore) AppendMailLog(ctx context.Context, entry *domain.MailLog) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	return s.Store.AppendMailLog(ctx, entry)
}

type setupFunc func(ctx context.Context) error

func (f setupFunc) Check(ctx context.Context) error { return f(ctx) }

var gateNow = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

type gateFixture struct {
	store     *faultyStore
	transport *MockTransport
	notifier  *recordingNotifier
	gate      *SendGate
}

func newGateFixture(t *testing.T, cfg GateConfig, opts ...GateOption) *gateFixture {
	t.Helper()
	f := &gateFixture{
		store:     &faultyStore{Store: memory.NewStore()},
		transport: &MockTransport{},
		notifier:  &recordingNotifier{},
	}
	if cfg.From == "" {
		cfg.From = "relay@example.com"
		cfg.FromName = "Relay"
		cfg.MailLog = true
		cfg.Limits = domain.AttachmentLimits{MaxCount: 3, MaxBytes: 10 << 20}
	}
	opts = append([]GateOption{WithClock(func() time.Time { return gateNow })}, opts...)
	f.gate = NewSendGate(f.store, f.store, f.transport, f.notifier, cfg, nil, opts...)
	return f
}

func (f *gateFixture) addToken(t *testing.T, token domain.Token) {
	t.Helper()
	require.NoError(t, f.store.CreateToken(context.Background(), &token))
}

func (f *gateFixture) counter(t *testing.T, id string) int {
	t.Helper()
	token, err := f.store.Store.GetToken(context.Background(), id)
	require.NoError(t, err)
	return token.Counter
}

func (f *gateFixture) logs(t *testing.T, id string) []domain.MailLog {
	t.Helper()
	logs, err := f.store.ListMailLogsByToken(context.Background(), id)
	require.NoError(t, err)
	return logs
}

func sendRequest(token, to string) domain.SendRequest {
	return domain.SendRequest{TokenID: token, Recipient: to, Subject: "Hi", Message: "Hello"}
}

func requireKind(t *testing.T, err error, kind domain.ErrorKind) *domain.SendError {
	t.Helper()
	var se *domain.SendError
	require.True(t, errors.As(err, &se), "expected *domain.SendError, got %v", err)
	assert.Equal(t, kind, se.Kind)
	return se
}

func TestSubmit_SuccessCountsAndLogsOnce(t *testing.T) {
	f := newGateFixture(t, GateConfig{})
	f.addToken(t, domain.Token{ID: "tok", Description: "ci", ExpirationDate: "2099-01-01"})
	f.transport.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	outcome, err := f.gate.Submit(context.Background(), sendRequest("tok", "a@b.com"))
	require.NoError(t, err)

	assert.True(t, outcome.Counted)
	assert.True(t, outcome.Logged)
	assert.NoError(t, outcome.BookkeepingErr)
	assert.Equal(t, 1, f.counter(t, "tok"))

	logs := f.logs(t, "tok")
	require.Len(t, logs, 1)
	assert.Equal(t, "tok", logs[0].TokenID)
	assert.Equal(t, "ci", logs[0].TokenDescription)
	assert.Equal(t, "a@b.com", logs[0].Recipient)
	assert.Equal(t, "Hi", logs[0].Subject)
	assert.Equal(t, "Hello", logs[0].Message)
	assert.Equal(t, gateNow, logs[0].SentAt)

	assert.Empty(t, f.notifier.Reports())
	f.transport.AssertNumberOfCalls(t, "Send", 1)
}

func TestSubmit_EnvelopeContents(t *testing.T) {
	f := newGateFixture(t, GateConfig{})
	f.addToken(t, domain.Token{ID: "tok", SenderName: "Nightly Build", ExpirationDate: "2099-01-01"})

	var got *mailer.Envelope
	f.transport.On("Send", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).(*mailer.Envelope) }).
		Return(nil)

	req := sendRequest("tok", "a@b.com")
	req.Message = `<p>Line one</p>\nLine <b>two</b> & more`
	_, err := f.gate.Submit(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, "relay@example.com", got.From)
	assert.Equal(t, "Nightly Build", got.FromName)
	assert.Equal(t, "a@b.com", got.To)
	assert.Equal(t, "Line one\nLine two & more", got.Body)
	assert.Equal(t, "Line one\nLine two & more", f.logs(t, "tok")[0].Message)
}

func TestSubmit_DefaultSenderName(t *testing.T) {
	f := newGateFixture(t, GateConfig{})
	f.addToken(t, domain.Token{ID: "tok", ExpirationDate: "2099-01-01"})
	f.transport.On("Send", mock.Anything, mock.MatchedBy(func(env *mailer.Envelope) bool {
		return env.FromName == "Relay"
	})).Return(nil)

	_, err := f.gate.Submit(context.Background(), sendRequest("tok", "a@b.com"))
	require.NoError(t, err)
	f.transport.AssertExpectations(t)
}

func TestSubmit_LimitReachedNeverSends(t *testing.T) {
	f := newGateFixture(t, GateConfig{})
	f.addToken(t, domain.Token{ID: "tok", ExpirationDate: "2099-01-01", Limit: 1, Counter: 1})

	_, err := f.gate.Submit(context.Background(), sendRequest("tok", "a@b.com"))
	se := requireKind(t, err, domain.KindUnauthorized)
	assert.Equal(t, domain.ReasonLimitReached, se.Reason)
	assert.Equal(t, 401, se.StatusCode())

	f.transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	assert.Equal(t, 1, f.counter(t, "tok"))
	assert.Empty(t, f.logs(t, "tok"))

	reports := f.notifier.Reports()
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Error, "limit_reached")
	assert.Contains(t, reports[0].TokenData, `"id":"tok"`)
}

func TestSubmit_ExpiryBoundary(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		ok   bool
	}{
		{"过期后一秒", time.Date(2024, 2, 13, 0, 0, 2, 0, time.UTC), false},
		{"过期前一秒", time.Date(2024, 2, 12, 23, 59, 59, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGateFixture(t, GateConfig{}, WithClock(func() time.Time { return tt.now }))
			f.addToken(t, domain.Token{ID: "tok", ExpirationDate: "2024-02-13"})
			f.transport.On("Send", mock.Anything, mock.Anything).Return(nil).Maybe()

			_, err := f.gate.Submit(context.Background(), sendRequest("tok", "a@b.com"))
			if tt.ok {
				require.NoError(t, err)
				return
			}
			se := requireKind(t, err, domain.KindUnauthorized)
			assert.Equal(t, domain.ReasonExpired, se.Reason)
			f.transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		})
	}
}

func TestSubmit_Whitelist(t *testing.T) {
	f := newGateFixture(t, GateConfig{})
	f.addToken(t, domain.Token{ID: "tok", ExpirationDate: "2099-01-01", RecipientWhitelist: domain.Whitelist{"ops@corp.com"}})
	f.transport.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	_, err := f.gate.Submit(context.Background(), sendRequest("tok", "ops+alerts@corp.com"))
	require.NoError(t, err)

	_, err = f.gate.Submit(context.Background(), sendRequest("tok", "ops@other.com"))
	se := requireKind(t, err, domain.KindForbidden)
	assert.Equal(t, domain.MsgRecipientDenied, se.Public)
	assert.Equal(t, 403, se.StatusCode())

	f.transport.AssertNumberOfCalls(t, "Send", 1)
	assert.Equal(t, 1, f.counter(t, "tok"))
}

func TestSubmit_TransportFailure(t *testing.T) {
	f := newGateFixture(t, GateConfig{})
	f.addToken(t, domain.Token{ID: "tok", ExpirationDate: "2099-01-01"})
	f.transport.On("Send", mock.Anything, mock.Anything).Return(errors.New("535 authentication failed")).Once()

	outcome, err := f.gate.Submit(context.Background(), sendRequest("tok", "a@b.com"))
	assert.Nil(t, outcome)
	se := requireKind(t, err, domain.KindTransport)
	assert.Equal(t, 500, se.StatusCode())
	assert.Equal(t, domain.MsgSendFailed, se.Public)

	assert.Equal(t, 0, f.counter(t, "tok"))
	assert.Empty(t, f.logs(t, "tok"))
	f.transport.AssertNumberOfCalls(t, "Send", 1)

	reports := f.notifier.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, domain.MsgSendFailed, reports[0].Error)
	assert.Equal(t, "535 authentication failed", reports[0].Detail)
}

func TestSubmit_UnknownToken(t *testing.T) {
	f := newGateFixture(t, GateConfig{})

	_, err := f.gate.Submit(context.Background(), sendRequest("missing", "a@b.com"))
	se := requireKind(t, err, domain.KindUnauthorized)
	assert.Equal(t, domain.ReasonTokenNotFound, se.Reason)
	assert.Equal(t, domain.MsgInvalidToken, se.Public)
	assert.Len(t, f.notifier.Reports(), 1)
}

func TestSubmit_DenialIsIdempotent(t *testing.T) {
	f := newGateFixture(t, GateConfig{})
	f.addToken(t, domain.Token{ID: "expired", ExpirationDate: "2020-01-01"})
	f.addToken(t, domain.Token{ID: "exhausted", ExpirationDate: "2099-01-01", Limit: 3, Counter: 3})

	for i := 0; i < 5; i++ {
		_, err := f.gate.Submit(context.Background(), sendRequest("expired", "a@b.com"))
		assert.Equal(t, domain.ReasonExpired, requireKind(t, err, domain.KindUnauthorized).Reason)

		_, err = f.gate.Submit(context.Background(), sendRequest("exhausted", "a@b.com"))
		assert.Equal(t, domain.ReasonLimitReached, requireKind(t, err, domain.KindUnauthorized).Reason)
	}

	assert.Equal(t, 0, f.counter(t, "expired"))
	assert.Equal(t, 3, f.counter(t, "exhausted"))
	f.transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSubmit_BadRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.SendRequest)
		public string
	}{
		{"缺少主题", func(r *domain.SendRequest) { r.Subject = "" }, domain.MsgInvalidInput},
		{"缺少正文", func(r *domain.SendRequest) { r.Message = "" }, domain.MsgInvalidInput},
		{"收件人非法", func(r *domain.SendRequest) { r.Recipient = "not-an-address" }, domain.MsgInvalidInput},
		{"附件过多", func(r *domain.SendRequest) {
			r.Attachments = make([]domain.Attachment, 4)
		}, "Too many attachments. Max allowed: 3"},
		{"附件过大", func(r *domain.SendRequest) {
			r.Attachments = []domain.Attachment{{Filename: "a", Size: 11 << 20}}
		}, "Total attachment size exceeds limit of 10MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGateFixture(t, GateConfig{})
			f.store.getErr = errors.New("must not be called")

			req := sendRequest("tok", "a@b.com")
			tt.mutate(&req)

			_, err := f.gate.Submit(context.Background(), req)
			se := requireKind(t, err, domain.KindBadRequest)
			assert.Equal(t, tt.public, se.Public)
			assert.Len(t, f.notifier.Reports(), 1)
			f.transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		})
	}
}

func TestSubmit_StorageFailureBeforeSend(t *testing.T) {
	f := newGateFixture(t, GateConfig{})
	f.store.getErr = errors.New("connection refused")

	_, err := f.gate.Submit(context.Background(), sendRequest("tok", "a@b.com"))
	se := requireKind(t, err, domain.KindStorage)
	assert.Equal(t, 500, se.StatusCode())
	f.transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	assert.Len(t, f.notifier.Reports(), 1)
}

func TestSubmit_CounterFailureAfterSendStillSucceeds(t *testing.T) {
	f := newGateFixture(t, GateConfig{})
	f.addToken(t, domain.Token{ID: "tok", ExpirationDate: "2099-01-01"})
	f.store.incrementErr = errors.New("disk full")
	f.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	outcome, err := f.gate.Submit(context.Background(), sendRequest("tok", "a@b.com"))
	require.NoError(t, err)
	assert.False(t, outcome.Counted)
	assert.True(t, outcome.Logged)
	assert.ErrorContains(t, outcome.BookkeepingErr, "disk full")

	// 日志写入不受计数失败影响
	assert.Len(t, f.logs(t, "tok"), 1)

	reports := f.notifier.Reports()
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Detail, "increment counter")
}

func TestSubmit_BothBookkeepingStepsFailSingleNotification(t *testing.T) {
	f := newGateFixture(t, GateConfig{})
	f.addToken(t, domain.Token{ID: "tok", ExpirationDate: "2099-01-01"})
	f.store.incrementErr = errors.New("counter down")
	f.store.appendErr = errors.New("log down")
	f.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	outcome, err := f.gate.Submit(context.Background(), sendRequest("tok", "a@b.com"))
	require.NoError(t, err)
	assert.False(t, outcome.Counted)
	assert.False(t, outcome.Logged)

	reports := f.notifier.Reports()
	require.Len(t, reports, 1)
	assert.Contains(t, reports[0].Detail, "counter down")
	assert.Contains(t, reports[0].Detail, "log down")
}

func TestSubmit_MailLogDisabled(t *testing.T) {
	f := newGateFixture(t, GateConfig{
		From:    "relay@example.com",
		MailLog: false,
		Limits:  domain.AttachmentLimits{MaxCount: 3, MaxBytes: 10 << 20},
	})
	f.addToken(t, domain.Token{ID: "tok", ExpirationDate: "2099-01-01"})
	f.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	outcome, err := f.gate.Submit(context.Background(), sendRequest("tok", "a@b.com"))
	require.NoError(t, err)
	assert.True(t, outcome.Counted)
	assert.False(t, outcome.Logged)
	assert.Equal(t, 1, f.counter(t, "tok"))
	assert.Empty(t, f.logs(t, "tok"))
}

func TestSubmit_ConfigurationFailure(t *testing.T) {
	f := newGateFixture(t, GateConfig{}, WithSetupChecker(setupFunc(func(context.Context) error {
		return errors.New("base.from is required")
	})))

	_, err := f.gate.Submit(context.Background(), sendRequest("tok", "a@b.com"))
	se := requireKind(t, err, domain.KindConfiguration)
	assert.Equal(t, domain.MsgNotSetUp, se.Public)
	assert.Equal(t, 500, se.StatusCode())

	reports := f.notifier.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "base.from is required", reports[0].Detail)
}

func TestSubmit_CancelledContextStillCompletes(t *testing.T) {
	f := newGateFixture(t, GateConfig{})
	f.addToken(t, domain.Token{ID: "tok", ExpirationDate: "2099-01-01"})
	f.transport.On("Send", mock.MatchedBy(func(ctx context.Context) bool {
		return ctx.Err() == nil
	}), mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := f.gate.Submit(ctx, sendRequest("tok", "a@b.com"))
	require.NoError(t, err)
	assert.True(t, outcome.Counted)
	f.transport.AssertExpectations(t)
}

func TestSubmit_ConcurrentSendsCountEachSuccess(t *testing.T) {
	f := newGateFixture(t, GateConfig{})
	f.addToken(t, domain.Token{ID: "tok", ExpirationDate: "2099-01-01"})
	f.transport.On("Send", mock.Anything, mock.Anything).Return(nil)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.gate.Submit(context.Background(), sendRequest("tok", "a@b.com"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, f.counter(t, "tok"))
	assert.Len(t, f.logs(t, "tok"), n)
}

func TestReject(t *testing.T) {
	f := newGateFixture(t, GateConfig{})
	err := f.gate.Reject(domain.NewBadRequest(domain.ErrMissingToken), domain.SendRequest{Recipient: "a@b.com"})

	requireKind(t, err, domain.KindBadRequest)
	reports := f.notifier.Reports()
	require.Len(t, reports, 1)
	assert.Equal(t, "a@b.com", reports[0].Email)
	assert.Equal(t, "missing token", reports[0].Detail)
}
