package account

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTenantID is returned when a subscription carries no tenant id.
	ErrMissingTenantID = errors.New("subscription has no tenant id")
	// ErrMissingSubscriptionID is returned when a subscription carries no subscription id.
	ErrMissingSubscriptionID = errors.New("subscription has no subscription id")
)

// NotSignedInError reports a session lookup while the host is not signed in.
type NotSignedInError struct {
	Status LoginStatus
}

func (e *NotSignedInError) Error() string {
	return fmt.Sprintf("not signed in (status %s)", e.Status)
}

// CredentialError reports that no active session matches a tenant.
type CredentialError struct {
	TenantID string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("failed to get credential, tenant %s not found", e.TenantID)
}

// IsNotSignedIn reports whether err is, or wraps, a NotSignedInError.
func IsNotSignedIn(err error) bool {
	var target *NotSignedInError
	return errors.As(err, &target)
}

// IsCredentialNotFound reports whether err is, or wraps, a CredentialError.
func IsCredentialNotFound(err error) bool {
	var target *CredentialError
	return errors.As(err, &target)
}
