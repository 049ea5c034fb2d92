// Package account adapts a host account manager's session, subscription and
// filter state into a small query API for consuming components.
//
// The wrapper never mutates the host and never caches what it reads. Session
// dependent calls fail with *NotSignedInError or *CredentialError; every other
// failure is returned exactly as the host or the Azure SDK produced it.
package account

import (
	"context"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
)

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithLocationClientFactory replaces the ARM-backed location client.
func WithLocationClientFactory(f LocationClientFactory) Option {
	return func(w *Wrapper) { w.newLocationClient = f }
}

// WithClientOptions sets the ARM client options used by the default location
// client (cloud selection, transport, retry).
func WithClientOptions(o *arm.ClientOptions) Option {
	return func(w *Wrapper) { w.clientOptions = o }
}

// Wrapper exposes read and query operations over a Host.
type Wrapper struct {
	host              Host
	lifecycle         *Lifecycle
	clientOptions     *arm.ClientOptions
	newLocationClient LocationClientFactory
}

// NewWrapper creates a Wrapper over host. Listener registrations made through
// the wrapper are scoped to lifecycle; a nil lifecycle gets a private one.
func NewWrapper(lifecycle *Lifecycle, host Host, opts ...Option) *Wrapper {
	if lifecycle == nil {
		lifecycle = NewLifecycle()
	}
	w := &Wrapper{host: host, lifecycle: lifecycle}
	for _, opt := range opts {
		opt(w)
	}
	if w.newLocationClient == nil {
		w.newLocationClient = func(cred azcore.TokenCredential) (LocationLister, error) {
			return NewARMLocationClient(cred, w.clientOptions)
		}
	}
	return w
}

// Host returns the wrapped host account.
func (w *Wrapper) Host() Host { return w.host }

// SignInStatus returns the host's current status.
func (w *Wrapper) SignInStatus() LoginStatus {
	return w.host.Status()
}

// Sessions returns the host's signed-in sessions unmodified.
func (w *Wrapper) Sessions() ([]*Session, error) {
	status := w.SignInStatus()
	if status != StatusLoggedIn {
		return nil, &NotSignedInError{Status: status}
	}
	return w.host.Sessions(), nil
}

// CredentialByTenantID returns the credential of the first session whose
// tenant id matches tenantID, ignoring case.
func (w *Wrapper) CredentialByTenantID(tenantID string) (azcore.TokenCredential, error) {
	sessions, err := w.Sessions()
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s != nil && strings.EqualFold(s.TenantID, tenantID) {
			return s.Credentials, nil
		}
	}
	return nil, &CredentialError{TenantID: tenantID}
}

// CredentialForSubscription resolves the credential for sub's tenant.
func (w *Wrapper) CredentialForSubscription(sub Subscription) (azcore.TokenCredential, error) {
	if sub.TenantID == "" {
		return nil, ErrMissingTenantID
	}
	return w.CredentialByTenantID(sub.TenantID)
}

// FilteredSubscriptions maps the host's filter list, in order, to the
// normalized view. The tenant id always comes from the filter's session.
func (w *Wrapper) FilteredSubscriptions() []Subscription {
	filters := w.host.Filters()
	out := make([]Subscription, 0, len(filters))
	for _, f := range filters {
		out = append(out, Subscription{
			ID:                   f.Subscription.ID,
			SubscriptionID:       f.Subscription.SubscriptionID,
			TenantID:             sessionTenant(f.Session),
			DisplayName:          f.Subscription.DisplayName,
			State:                f.Subscription.State,
			SubscriptionPolicies: f.Subscription.SubscriptionPolicies,
			AuthorizationSource:  f.Subscription.AuthorizationSource,
		})
	}
	return out
}

// AllSubscriptions waits for the host's full subscription list and maps it
// to the normalized view. The session's tenant id is used unless the
// subscription already carries one.
func (w *Wrapper) AllSubscriptions(ctx context.Context) ([]Subscription, error) {
	entries, err := w.host.Subscriptions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Subscription, 0, len(entries))
	for _, e := range entries {
		sub := e.Subscription
		if sub.TenantID == "" {
			sub.TenantID = sessionTenant(e.Session)
		}
		out = append(out, sub)
	}
	return out, nil
}

// LocationsBySubscription lists the regions available to sub using the
// credential of sub's tenant.
func (w *Wrapper) LocationsBySubscription(ctx context.Context, sub Subscription) ([]Location, error) {
	cred, err := w.CredentialForSubscription(sub)
	if err != nil {
		return nil, err
	}
	if sub.SubscriptionID == "" {
		return nil, ErrMissingSubscriptionID
	}
	client, err := w.newLocationClient(cred)
	if err != nil {
		return nil, err
	}
	return client.ListLocations(ctx, sub.SubscriptionID)
}

// RegisterSessionsChangedListener calls fn whenever the host's sessions
// change, until the returned handle or the wrapper's lifecycle is disposed.
func (w *Wrapper) RegisterSessionsChangedListener(fn func()) Disposable {
	return w.host.OnSessionsChanged(func(Notification) { fn() }, w.lifecycle)
}

// RegisterFiltersChangedListener calls fn whenever the host's subscription
// filters change, until the returned handle or the wrapper's lifecycle is
// disposed.
func (w *Wrapper) RegisterFiltersChangedListener(fn func()) Disposable {
	return w.host.OnFiltersChanged(func(Notification) { fn() }, w.lifecycle)
}

func sessionTenant(s *Session) string {
	if s == nil {
		return ""
	}
	return s.TenantID
}
