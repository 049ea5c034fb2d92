package session

import (
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"

	"github.com/GoCodeAlone/azaccount/config"
)

// CredentialResolver builds the credential for one configured credential type.
type CredentialResolver interface {
	// CredentialType returns the credential type this resolver handles (e.g. "cli", "env").
	CredentialType() string
	// Resolve builds a credential for tenant.
	Resolve(tenant config.TenantConfig, opts azcore.ClientOptions) (azcore.TokenCredential, error)
}

// credentialResolvers is the global registry: credType -> resolver.
var credentialResolvers = map[string]CredentialResolver{}

// RegisterCredentialResolver registers a CredentialResolver in the global registry.
// It is safe to call from init() functions.
func RegisterCredentialResolver(r CredentialResolver) {
	credentialResolvers[r.CredentialType()] = r
}

func init() {
	RegisterCredentialResolver(&clientSecretResolver{credType: config.CredentialStatic})
	RegisterCredentialResolver(&clientSecretResolver{credType: config.CredentialClientCredentials})
	RegisterCredentialResolver(&envResolver{})
	RegisterCredentialResolver(&managedIdentityResolver{})
	RegisterCredentialResolver(&cliResolver{})
	RegisterCredentialResolver(&defaultResolver{})
}

// ResolveCredential builds tenant's credential with the registered resolver
// for its credential type.
func ResolveCredential(tenant config.TenantConfig, opts azcore.ClientOptions) (azcore.TokenCredential, error) {
	credType := tenant.Credentials.Type
	if credType == "" {
		credType = config.CredentialDefault
	}
	r, ok := credentialResolvers[credType]
	if !ok {
		return nil, fmt.Errorf("unsupported credential type %q", credType)
	}
	return r.Resolve(tenant, opts)
}

// clientSecretResolver builds a service principal credential from a client
// id and secret.
type clientSecretResolver struct{ credType string }

func (r *clientSecretResolver) CredentialType() string { return r.credType }

func (r *clientSecretResolver) Resolve(t config.TenantConfig, opts azcore.ClientOptions) (azcore.TokenCredential, error) {
	if t.TenantID == "" || t.Credentials.ClientID == "" || t.Credentials.ClientSecret == "" {
		return nil, fmt.Errorf("%s requires tenant_id, client_id, and client_secret", r.credType)
	}
	return azidentity.NewClientSecretCredential(t.TenantID, t.Credentials.ClientID, t.Credentials.ClientSecret,
		&azidentity.ClientSecretCredentialOptions{ClientOptions: opts})
}

// envResolver reads AZURE_TENANT_ID, AZURE_CLIENT_ID and the secret or
// certificate variables understood by azidentity.
type envResolver struct{}

func (r *envResolver) CredentialType() string { return config.CredentialEnv }

func (r *envResolver) Resolve(_ config.TenantConfig, opts azcore.ClientOptions) (azcore.TokenCredential, error) {
	return azidentity.NewEnvironmentCredential(&azidentity.EnvironmentCredentialOptions{ClientOptions: opts})
}

// managedIdentityResolver handles Azure Managed Identity (VMs, AKS, etc.).
// Optional client_id selects a user-assigned managed identity.
type managedIdentityResolver struct{}

func (r *managedIdentityResolver) CredentialType() string { return config.CredentialManagedIdentity }

func (r *managedIdentityResolver) Resolve(t config.TenantConfig, opts azcore.ClientOptions) (azcore.TokenCredential, error) {
	miOpts := &azidentity.ManagedIdentityCredentialOptions{ClientOptions: opts}
	if t.Credentials.ClientID != "" {
		miOpts.ID = azidentity.ClientID(t.Credentials.ClientID)
	}
	return azidentity.NewManagedIdentityCredential(miOpts)
}

// cliResolver uses the account signed in with `az login`.
type cliResolver struct{}

func (r *cliResolver) CredentialType() string { return config.CredentialCLI }

func (r *cliResolver) Resolve(t config.TenantConfig, _ azcore.ClientOptions) (azcore.TokenCredential, error) {
	return azidentity.NewAzureCLICredential(&azidentity.AzureCLICredentialOptions{TenantID: t.TenantID})
}

// defaultResolver chains the environment, workload identity, managed
// identity and developer tool credentials.
type defaultResolver struct{}

func (r *defaultResolver) CredentialType() string { return config.CredentialDefault }

func (r *defaultResolver) Resolve(t config.TenantConfig, opts azcore.ClientOptions) (azcore.TokenCredential, error) {
	return azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
		ClientOptions: opts,
		TenantID:      t.TenantID,
	})
}
