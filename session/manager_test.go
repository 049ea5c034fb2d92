package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/GoCodeAlone/azaccount/account"
	"github.com/GoCodeAlone/azaccount/account/accounttest"
	"github.com/GoCodeAlone/azaccount/config"
)

// fakeSource returns subscriptions keyed by the credential's name.
type fakeSource struct {
	mu    sync.Mutex
	subs  map[string][]account.Subscription
	errs  map[string]error
	block chan struct{}
	// gates, when set, holds the n-th call until gates[n] is closed.
	gates []chan struct{}
	calls atomic.Int32
}

func (f *fakeSource) ListSubscriptions(ctx context.Context, cred azcore.TokenCredential) ([]account.Subscription, error) {
	n := int(f.calls.Add(1)) - 1
	wait := f.block
	if n < len(f.gates) {
		wait = f.gates[n]
	}
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	name := cred.(*accounttest.Credential).Name
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[name], f.errs[name]
}

func fakeCredentials(_ config.TenantConfig, _ azcore.ClientOptions) (azcore.TokenCredential, error) {
	return nil, nil
}

func testConfig(filters ...string) *config.Config {
	cfg := config.Default()
	cfg.Tenants = []config.TenantConfig{{TenantID: "T1", UserID: "a@contoso.com"}, {TenantID: "T2"}}
	cfg.Filters = filters
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config, src *fakeSource) *Manager {
	t.Helper()
	m, err := NewManager(cfg,
		WithSubscriptionSource(src),
		WithCredentialFactory(func(tc config.TenantConfig, _ azcore.ClientOptions) (azcore.TokenCredential, error) {
			return &accounttest.Credential{Name: tc.TenantID}, nil
		}),
	)
	require.NoError(t, err)
	return m
}

func twoTenantSource() *fakeSource {
	return &fakeSource{subs: map[string][]account.Subscription{
		"T1": {{SubscriptionID: "s1", DisplayName: "one"}, {SubscriptionID: "s2", DisplayName: "two"}},
		"T2": {{SubscriptionID: "s3", DisplayName: "three"}},
	}}
}

func subscriptionIDs(entries []account.SubscriptionFilter) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Subscription.SubscriptionID)
	}
	return ids
}

func TestManager_LoginPopulatesState(t *testing.T) {
	m := newTestManager(t, testConfig(), twoTenantSource())
	assert.Equal(t, account.StatusInitializing, m.Status())

	var sessionsFired, filtersFired int
	m.OnSessionsChanged(func(account.Notification) { sessionsFired++ }, nil)
	m.OnFiltersChanged(func(account.Notification) { filtersFired++ }, nil)

	require.NoError(t, m.Login(context.Background()))
	assert.Equal(t, account.StatusLoggedIn, m.Status())
	assert.Equal(t, 1, sessionsFired)
	assert.Equal(t, 1, filtersFired)

	sessions := m.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "T1", sessions[0].TenantID)
	assert.Equal(t, "a@contoso.com", sessions[0].UserID)
	assert.Equal(t, config.EnvironmentAzureCloud, sessions[0].Environment)

	subs, err := m.Subscriptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2", "s3"}, subscriptionIDs(subs))
	assert.Same(t, sessions[1], subs[2].Session)

	// No filter configured: every subscription is selected.
	assert.Equal(t, []string{"s1", "s2", "s3"}, subscriptionIDs(m.Filters()))
}

func TestManager_FilterSelection(t *testing.T) {
	m := newTestManager(t, testConfig("S3", "s1"), twoTenantSource())
	require.NoError(t, m.Login(context.Background()))
	assert.Equal(t, []string{"s1", "s3"}, subscriptionIDs(m.Filters()))

	fired := 0
	m.OnFiltersChanged(func(account.Notification) { fired++ }, nil)
	m.SetFilters([]string{"s2"})
	assert.Equal(t, 1, fired)
	assert.Equal(t, []string{"s2"}, subscriptionIDs(m.Filters()))

	m.SetFilters(nil)
	assert.Len(t, m.Filters(), 3)
}

func TestManager_LoginFailure(t *testing.T) {
	src := twoTenantSource()
	src.errs = map[string]error{"T2": errors.New("forbidden")}
	m := newTestManager(t, testConfig(), src)

	err := m.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant T2")
	assert.Equal(t, account.StatusLoggedOut, m.Status())
	assert.Empty(t, m.Sessions())

	subs, err := m.Subscriptions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestManager_CredentialFailure(t *testing.T) {
	m, err := NewManager(testConfig(),
		WithSubscriptionSource(twoTenantSource()),
		WithCredentialFactory(func(tc config.TenantConfig, _ azcore.ClientOptions) (azcore.TokenCredential, error) {
			return nil, fmt.Errorf("no secret for %s", tc.TenantID)
		}),
	)
	require.NoError(t, err)

	err = m.Login(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tenant T1: resolve credential")
	assert.Equal(t, account.StatusLoggedOut, m.Status())
}

func TestManager_SubscriptionsWaitsForLogin(t *testing.T) {
	src := twoTenantSource()
	src.block = make(chan struct{})
	m := newTestManager(t, testConfig(), src)

	loginDone := make(chan error, 1)
	go func() { loginDone <- m.Login(context.Background()) }()

	require.Eventually(t, func() bool { return m.Status() == account.StatusLoggingIn }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, m.Login(context.Background()), ErrLoginInProgress)

	got := make(chan []account.SubscriptionFilter, 1)
	go func() {
		subs, _ := m.Subscriptions(context.Background())
		got <- subs
	}()

	select {
	case <-got:
		t.Fatal("Subscriptions returned before login settled")
	case <-time.After(50 * time.Millisecond):
	}

	close(src.block)
	require.NoError(t, <-loginDone)
	select {
	case subs := <-got:
		assert.Len(t, subs, 3)
	case <-time.After(time.Second):
		t.Fatal("Subscriptions did not return after login")
	}
}

func TestManager_SubscriptionsHonorsContext(t *testing.T) {
	m := newTestManager(t, testConfig(), twoTenantSource())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Never logged in: still Initializing.
	_, err := m.Subscriptions(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_Logout(t *testing.T) {
	m := newTestManager(t, testConfig(), twoTenantSource())
	require.NoError(t, m.Login(context.Background()))

	fired := 0
	m.OnSessionsChanged(func(account.Notification) { fired++ }, nil)
	m.Logout()

	assert.Equal(t, 1, fired)
	assert.Equal(t, account.StatusLoggedOut, m.Status())
	assert.Empty(t, m.Sessions())
	assert.Empty(t, m.Filters())
}

func TestManager_ApplyFilterOnlyChange(t *testing.T) {
	src := twoTenantSource()
	m := newTestManager(t, testConfig(), src)
	require.NoError(t, m.Login(context.Background()))
	calls := src.calls.Load()

	next := testConfig("s2")
	require.NoError(t, m.Apply(context.Background(), next))
	assert.Equal(t, calls, src.calls.Load(), "filter change must not sign in again")
	assert.Equal(t, []string{"s2"}, subscriptionIDs(m.Filters()))
}

func TestManager_ApplyTenantChange(t *testing.T) {
	src := twoTenantSource()
	m := newTestManager(t, testConfig(), src)
	require.NoError(t, m.Login(context.Background()))

	next := config.Default()
	next.Tenants = []config.TenantConfig{{TenantID: "T2"}}
	require.NoError(t, m.Apply(context.Background(), next))

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "T2", sessions[0].TenantID)
	assert.Equal(t, []string{"s3"}, subscriptionIDs(m.Filters()))
}

func TestManager_ApplyDuringLogin(t *testing.T) {
	src := twoTenantSource()
	src.block = make(chan struct{})
	m := newTestManager(t, testConfig(), src)

	loginDone := make(chan error, 1)
	go func() { loginDone <- m.Login(context.Background()) }()
	require.Eventually(t, func() bool { return m.Status() == account.StatusLoggingIn }, time.Second, 5*time.Millisecond)

	next := config.Default()
	next.Tenants = []config.TenantConfig{{TenantID: "T2"}}
	require.NoError(t, m.Apply(context.Background(), next))

	close(src.block)
	require.NoError(t, <-loginDone)

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "T2", sessions[0].TenantID)
	assert.Equal(t, []string{"s3"}, subscriptionIDs(m.Filters()))

	// Re-applying the same configuration is a no-op.
	calls := src.calls.Load()
	require.NoError(t, m.Apply(context.Background(), next))
	assert.Equal(t, calls, src.calls.Load())
	assert.Len(t, m.Sessions(), 1)
}

func TestManager_LogoutDuringLogin(t *testing.T) {
	src := twoTenantSource()
	src.block = make(chan struct{})
	m := newTestManager(t, testConfig(), src)

	loginDone := make(chan error, 1)
	go func() { loginDone <- m.Login(context.Background()) }()
	require.Eventually(t, func() bool { return m.Status() == account.StatusLoggingIn }, time.Second, 5*time.Millisecond)

	m.Logout()
	fired := 0
	m.OnSessionsChanged(func(account.Notification) { fired++ }, nil)

	close(src.block)
	assert.ErrorIs(t, <-loginDone, ErrLoginSuperseded)
	assert.Equal(t, account.StatusLoggedOut, m.Status())
	assert.Empty(t, m.Sessions())
	assert.Empty(t, m.Filters())
	assert.Zero(t, fired, "discarded login must not notify")
}

func TestManager_StaleLoginDoesNotSettleNewer(t *testing.T) {
	first, second := make(chan struct{}), make(chan struct{})
	src := twoTenantSource()
	src.gates = []chan struct{}{first, second}
	cfg := config.Default()
	cfg.Tenants = []config.TenantConfig{{TenantID: "T1"}}
	m := newTestManager(t, cfg, src)

	firstDone := make(chan error, 1)
	go func() { firstDone <- m.Login(context.Background()) }()
	require.Eventually(t, func() bool { return src.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	m.Logout()

	secondDone := make(chan error, 1)
	go func() { secondDone <- m.Login(context.Background()) }()
	require.Eventually(t, func() bool { return src.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	got := make(chan []account.SubscriptionFilter, 1)
	go func() {
		subs, _ := m.Subscriptions(context.Background())
		got <- subs
	}()

	close(first)
	assert.ErrorIs(t, <-firstDone, ErrLoginSuperseded)
	select {
	case <-got:
		t.Fatal("Subscriptions returned before the current login settled")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, account.StatusLoggingIn, m.Status())

	close(second)
	require.NoError(t, <-secondDone)
	select {
	case subs := <-got:
		assert.Equal(t, []string{"s1", "s2"}, subscriptionIDs(subs))
	case <-time.After(time.Second):
		t.Fatal("Subscriptions did not return after login")
	}
	assert.Equal(t, account.StatusLoggedIn, m.Status())
}

func TestManager_WrapperIntegration(t *testing.T) {
	m := newTestManager(t, testConfig("s3"), twoTenantSource())
	lc := account.NewLifecycle()
	w := account.NewWrapper(lc, m)

	_, err := w.Sessions()
	require.True(t, account.IsNotSignedIn(err))

	changed := 0
	w.RegisterFiltersChangedListener(func() { changed++ })
	require.NoError(t, m.Login(context.Background()))
	assert.Equal(t, 1, changed)

	filtered := w.FilteredSubscriptions()
	require.Len(t, filtered, 1)
	assert.Equal(t, "T2", filtered[0].TenantID)

	cred, err := w.CredentialByTenantID("t1")
	require.NoError(t, err)
	assert.Equal(t, "T1", cred.(*accounttest.Credential).Name)

	all, err := w.AllSubscriptions(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)

	lc.Dispose()
	m.SetFilters(nil)
	assert.Equal(t, 1, changed)
}

func TestManager_LoginSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	src := twoTenantSource()
	src.errs = map[string]error{"T1": errors.New("forbidden")}
	m := newTestManager(t, testConfig(), src)
	require.Error(t, m.Login(context.Background()))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "session.Login", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestNewManager_UnknownEnvironment(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = "Mars"
	_, err := NewManager(cfg, WithCredentialFactory(fakeCredentials))
	assert.Error(t, err)
}
