// Package accounttest provides in-memory account.Host and credential fakes
// for tests.
package accounttest

import (
	"context"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/GoCodeAlone/azaccount/account"
)

// Credential is a static azcore.TokenCredential.
type Credential struct {
	Name  string
	Token string
	Err   error
}

// GetToken returns the configured token, valid for one hour.
func (c *Credential) GetToken(_ context.Context, _ policy.TokenRequestOptions) (azcore.AccessToken, error) {
	if c.Err != nil {
		return azcore.AccessToken{}, c.Err
	}
	tok := c.Token
	if tok == "" {
		tok = "token-" + c.Name
	}
	return azcore.AccessToken{Token: tok, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

// Host is a mutable in-memory account.Host. Fields may be changed between
// calls under the embedded lock via the setters.
type Host struct {
	mu                 sync.RWMutex
	status             account.LoginStatus
	sessions           []*account.Session
	filters            []account.SubscriptionFilter
	subscriptions      []account.SubscriptionFilter
	subscriptionsErr   error
	subscriptionsCalls int

	sessionsChanged account.Emitter[account.Notification]
	filtersChanged  account.Emitter[account.Notification]
}

// NewHost returns a Host with the given status and no data.
func NewHost(status account.LoginStatus) *Host {
	return &Host{status: status}
}

func (h *Host) Status() account.LoginStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *Host) Sessions() []*account.Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions
}

func (h *Host) Filters() []account.SubscriptionFilter {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.filters
}

func (h *Host) Subscriptions(ctx context.Context) ([]account.SubscriptionFilter, error) {
	h.mu.Lock()
	h.subscriptionsCalls++
	subs, err := h.subscriptions, h.subscriptionsErr
	h.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return subs, err
}

func (h *Host) OnSessionsChanged(l account.Listener[account.Notification], scope *account.Lifecycle) account.Disposable {
	return h.sessionsChanged.Subscribe(l, scope)
}

func (h *Host) OnFiltersChanged(l account.Listener[account.Notification], scope *account.Lifecycle) account.Disposable {
	return h.filtersChanged.Subscribe(l, scope)
}

// SetStatus replaces the status.
func (h *Host) SetStatus(s account.LoginStatus) {
	h.mu.Lock()
	h.status = s
	h.mu.Unlock()
}

// SetSessions replaces the sessions and fires sessions-changed.
func (h *Host) SetSessions(sessions ...*account.Session) {
	h.mu.Lock()
	h.sessions = sessions
	h.mu.Unlock()
	h.sessionsChanged.Fire(account.Notification{})
}

// SetFilters replaces the filters and fires filters-changed.
func (h *Host) SetFilters(filters ...account.SubscriptionFilter) {
	h.mu.Lock()
	h.filters = filters
	h.mu.Unlock()
	h.filtersChanged.Fire(account.Notification{})
}

// SetSubscriptions replaces the full subscription list and the error
// Subscriptions returns.
func (h *Host) SetSubscriptions(err error, subs ...account.SubscriptionFilter) {
	h.mu.Lock()
	h.subscriptions = subs
	h.subscriptionsErr = err
	h.mu.Unlock()
}

// ListenerCounts returns the number of sessions and filters listeners.
func (h *Host) ListenerCounts() (sessions, filters int) {
	return h.sessionsChanged.Len(), h.filtersChanged.Len()
}

// SubscriptionsCalls returns how many times Subscriptions was called.
func (h *Host) SubscriptionsCalls() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.subscriptionsCalls
}
