// Package session is a config-driven account manager. It signs in to the
// configured tenants with Azure SDK credentials, enumerates their
// subscriptions and maintains the subscription filter, exposing the result
// as an account.Host.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/GoCodeAlone/azaccount/account"
	"github.com/GoCodeAlone/azaccount/config"
)

var (
	// ErrLoginInProgress is returned by Login while another login is running.
	ErrLoginInProgress = errors.New("login already in progress")
	// ErrLoginSuperseded is returned by a Login whose result was discarded
	// because Logout ran before it finished.
	ErrLoginSuperseded = errors.New("login superseded by logout")
)

var tracer = otel.Tracer("github.com/GoCodeAlone/azaccount/session")

// maxConcurrentTenants bounds parallel subscription enumeration.
const maxConcurrentTenants = 4

// CredentialFactory builds the credential for a configured tenant.
type CredentialFactory func(tenant config.TenantConfig, opts azcore.ClientOptions) (azcore.TokenCredential, error)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithSubscriptionSource replaces the ARM subscription source.
func WithSubscriptionSource(s SubscriptionSource) Option {
	return func(m *Manager) { m.source = s }
}

// WithCredentialFactory replaces the resolver registry.
func WithCredentialFactory(f CredentialFactory) Option {
	return func(m *Manager) { m.newCredential = f }
}

// Manager owns sign-in state for a set of tenants and implements account.Host.
type Manager struct {
	logger        *slog.Logger
	source        SubscriptionSource
	newCredential CredentialFactory
	armSource     bool

	mu            sync.RWMutex
	cfg           *config.Config
	clientOptions azcore.ClientOptions
	status        account.LoginStatus
	sessions      []*account.Session
	subscriptions []account.SubscriptionFilter
	filters       []account.SubscriptionFilter
	filterIDs     []string
	settled       chan struct{}
	isSettled     bool
	generation    uint64

	sessionsChanged account.Emitter[account.Notification]
	filtersChanged  account.Emitter[account.Notification]
}

var _ account.Host = (*Manager)(nil)

// NewManager creates a Manager in the Initializing state. Nothing is signed
// in until Login is called.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cloudCfg, err := cfg.Cloud()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		logger:        slog.Default(),
		newCredential: ResolveCredential,
		cfg:           cfg,
		clientOptions: azcore.ClientOptions{Cloud: cloudCfg},
		status:        account.StatusInitializing,
		filterIDs:     slices.Clone(cfg.Filters),
		settled:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.source == nil {
		m.source = NewARMSubscriptionSource(&arm.ClientOptions{ClientOptions: m.clientOptions})
		m.armSource = true
	}
	return m, nil
}

// Status returns the current sign-in status.
func (m *Manager) Status() account.LoginStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Sessions returns the signed-in sessions. The slice is replaced, never
// modified, on change.
func (m *Manager) Sessions() []*account.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions
}

// Filters returns the selected subscriptions.
func (m *Manager) Filters() []account.SubscriptionFilter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filters
}

// Subscriptions waits until no login is in flight, then returns every
// subscription of every session.
func (m *Manager) Subscriptions(ctx context.Context) ([]account.SubscriptionFilter, error) {
	for {
		m.mu.RLock()
		ch, settled, subs := m.settled, m.isSettled, m.subscriptions
		m.mu.RUnlock()
		if settled {
			return subs, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) OnSessionsChanged(l account.Listener[account.Notification], scope *account.Lifecycle) account.Disposable {
	return m.sessionsChanged.Subscribe(l, scope)
}

func (m *Manager) OnFiltersChanged(l account.Listener[account.Notification], scope *account.Lifecycle) account.Disposable {
	return m.filtersChanged.Subscribe(l, scope)
}

// Login signs in to every configured tenant and enumerates subscriptions.
// Any failure leaves the manager LoggedOut. A tenant or environment change
// applied while the login runs restarts the sign-in with the new
// configuration. A Logout during the login discards its result and Login
// returns ErrLoginSuperseded.
func (m *Manager) Login(ctx context.Context) error {
	m.mu.Lock()
	if m.status == account.StatusLoggingIn {
		m.mu.Unlock()
		return ErrLoginInProgress
	}
	m.generation++
	gen := m.generation
	m.status = account.StatusLoggingIn
	if m.isSettled {
		m.settled = make(chan struct{})
		m.isSettled = false
	}
	cfg, opts, source := m.cfg, m.clientOptions, m.source
	m.mu.Unlock()

	ctx, span := tracer.Start(ctx, "session.Login")
	defer span.End()

	var (
		sessions []*account.Session
		subs     []account.SubscriptionFilter
		err      error
	)
	for {
		m.logger.Info("signing in", "tenants", cfg.TenantIDs(), "environment", cfg.Environment)
		span.SetAttributes(attribute.Int("azaccount.tenants", len(cfg.Tenants)), attribute.String("azaccount.environment", cfg.Environment))

		sessions, subs, err = m.signIn(ctx, cfg, opts, source)

		m.mu.Lock()
		if m.generation != gen {
			m.mu.Unlock()
			m.logger.Info("sign in superseded, discarding result")
			span.SetStatus(codes.Error, ErrLoginSuperseded.Error())
			return ErrLoginSuperseded
		}
		if tenantsChanged(cfg, m.cfg) {
			cfg, opts, source = m.cfg, m.clientOptions, m.source
			m.mu.Unlock()
			m.logger.Info("tenant configuration changed during sign in, restarting")
			continue
		}
		break
	}

	if err != nil {
		m.status = account.StatusLoggedOut
		m.sessions, m.subscriptions, m.filters = nil, nil, nil
	} else {
		m.status = account.StatusLoggedIn
		m.sessions, m.subscriptions = sessions, subs
		m.filters = selectFilters(subs, m.filterIDs)
	}
	m.settleLocked()
	nFilters := len(m.filters)
	m.mu.Unlock()

	m.sessionsChanged.Fire(account.Notification{})
	m.filtersChanged.Fire(account.Notification{})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sign in failed")
		m.logger.Error("sign in failed", "err", err)
		return err
	}
	span.SetAttributes(attribute.Int("azaccount.subscriptions", len(subs)))
	m.logger.Info("signed in", "sessions", len(sessions), "subscriptions", len(subs), "filtered", nFilters)
	return nil
}

// Logout drops every session and subscription. A login in flight is
// abandoned.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.generation++
	m.status = account.StatusLoggedOut
	m.sessions, m.subscriptions, m.filters = nil, nil, nil
	m.settleLocked()
	m.mu.Unlock()

	m.logger.Info("signed out")
	m.sessionsChanged.Fire(account.Notification{})
	m.filtersChanged.Fire(account.Notification{})
}

// SetFilters replaces the selected subscription ids. An empty list selects
// every subscription.
func (m *Manager) SetFilters(subscriptionIDs []string) {
	m.mu.Lock()
	m.filterIDs = slices.Clone(subscriptionIDs)
	m.filters = selectFilters(m.subscriptions, m.filterIDs)
	n := len(m.filters)
	m.mu.Unlock()

	m.logger.Debug("subscription filters changed", "filtered", n)
	m.filtersChanged.Fire(account.Notification{})
}

// Apply adopts a reloaded configuration. Tenant or environment changes
// trigger a fresh Login, or restart the one in flight; a filter-only change
// just reselects.
func (m *Manager) Apply(ctx context.Context, cfg *config.Config) error {
	cloudCfg, err := cfg.Cloud()
	if err != nil {
		return err
	}
	newHash, err := config.Hash(cfg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	old := m.cfg
	if oldHash, err := config.Hash(old); err == nil && oldHash == newHash {
		m.mu.Unlock()
		return nil
	}
	m.cfg = cfg
	m.clientOptions.Cloud = cloudCfg
	if m.armSource {
		m.source = NewARMSubscriptionSource(&arm.ClientOptions{ClientOptions: m.clientOptions})
	}
	relogin := tenantsChanged(old, cfg)
	filtersChanged := !slices.Equal(old.Filters, cfg.Filters)
	if relogin {
		m.filterIDs = slices.Clone(cfg.Filters)
	}
	m.mu.Unlock()

	m.logger.Debug("applying configuration", "config_hash", newHash[:8], "relogin", relogin)
	switch {
	case relogin:
		m.logger.Info("tenant configuration changed, signing in again")
		err := m.Login(ctx)
		if errors.Is(err, ErrLoginInProgress) {
			// The running login picks up the new tenants when it finishes.
			return nil
		}
		return err
	case filtersChanged:
		m.SetFilters(cfg.Filters)
	}
	return nil
}

func (m *Manager) settleLocked() {
	if !m.isSettled {
		close(m.settled)
		m.isSettled = true
	}
}

func tenantsChanged(old, cur *config.Config) bool {
	return old.Environment != cur.Environment || !slices.Equal(old.Tenants, cur.Tenants)
}

func (m *Manager) signIn(ctx context.Context, cfg *config.Config, opts azcore.ClientOptions, source SubscriptionSource) ([]*account.Session, []account.SubscriptionFilter, error) {
	sessions := make([]*account.Session, 0, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		cred, err := m.newCredential(t, opts)
		if err != nil {
			return nil, nil, fmt.Errorf("tenant %s: resolve credential: %w", t.TenantID, err)
		}
		sessions = append(sessions, &account.Session{
			Environment: cfg.Environment,
			UserID:      t.UserID,
			TenantID:    t.TenantID,
			Credentials: cred,
		})
	}

	perSession := make([][]account.Subscription, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTenants)
	for i, s := range sessions {
		g.Go(func() error {
			subs, err := source.ListSubscriptions(gctx, s.Credentials)
			if err != nil {
				return fmt.Errorf("tenant %s: %w", s.TenantID, err)
			}
			m.logger.Debug("listed subscriptions", "tenant", s.TenantID, "count", len(subs))
			perSession[i] = subs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var all []account.SubscriptionFilter
	for i, s := range sessions {
		for _, sub := range perSession[i] {
			all = append(all, account.SubscriptionFilter{Session: s, Subscription: sub})
		}
	}
	return sessions, all, nil
}

func selectFilters(subs []account.SubscriptionFilter, ids []string) []account.SubscriptionFilter {
	if len(ids) == 0 {
		return slices.Clone(subs)
	}
	var out []account.SubscriptionFilter
	for _, s := range subs {
		if slices.ContainsFunc(ids, func(id string) bool {
			return strings.EqualFold(id, s.Subscription.SubscriptionID)
		}) {
			out = append(out, s)
		}
	}
	return out
}
