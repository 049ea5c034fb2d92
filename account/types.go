package account

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
)

// LoginStatus is the sign-in state reported by the host account manager.
type LoginStatus string

const (
	StatusInitializing LoginStatus = "Initializing"
	StatusLoggingIn    LoginStatus = "LoggingIn"
	StatusLoggedIn     LoginStatus = "LoggedIn"
	StatusLoggedOut    LoginStatus = "LoggedOut"
)

// Session is an authenticated tenant context established by the host.
type Session struct {
	Environment string
	UserID      string
	TenantID    string
	Credentials azcore.TokenCredential
}

// SubscriptionPolicies mirrors the ARM subscription policy block.
type SubscriptionPolicies struct {
	LocationPlacementID string `json:"locationPlacementId,omitempty"`
	QuotaID             string `json:"quotaId,omitempty"`
	SpendingLimit       string `json:"spendingLimit,omitempty"`
}

// Subscription is the normalized subscription view handed to callers.
type Subscription struct {
	ID                   string                `json:"id,omitempty"`
	SubscriptionID       string                `json:"subscriptionId,omitempty"`
	TenantID             string                `json:"tenantId,omitempty"`
	DisplayName          string                `json:"displayName,omitempty"`
	State                string                `json:"state,omitempty"`
	SubscriptionPolicies *SubscriptionPolicies `json:"subscriptionPolicies,omitempty"`
	AuthorizationSource  string                `json:"authorizationSource,omitempty"`
}

// SubscriptionFilter pairs a host session with one of its subscriptions.
// The host uses the same shape for its full subscription list.
type SubscriptionFilter struct {
	Session      *Session
	Subscription Subscription
}

// Location is an Azure region available to a subscription.
type Location struct {
	ID                  string `json:"id,omitempty"`
	SubscriptionID      string `json:"subscriptionId,omitempty"`
	Name                string `json:"name"`
	DisplayName         string `json:"displayName,omitempty"`
	RegionalDisplayName string `json:"regionalDisplayName,omitempty"`
	RegionType          string `json:"regionType,omitempty"`
	Latitude            string `json:"latitude,omitempty"`
	Longitude           string `json:"longitude,omitempty"`
}

// Host is the account capability owned by the host account manager.
// The wrapper only reads from it.
type Host interface {
	Status() LoginStatus
	Sessions() []*Session
	Filters() []SubscriptionFilter
	// Subscriptions blocks until the host has a settled subscription list.
	Subscriptions(ctx context.Context) ([]SubscriptionFilter, error)
	OnSessionsChanged(listener Listener[Notification], scope *Lifecycle) Disposable
	OnFiltersChanged(listener Listener[Notification], scope *Lifecycle) Disposable
}
