package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"gopkg.in/yaml.v3"
)

// Azure environment names accepted in the environment field.
const (
	EnvironmentAzureCloud        = "AzureCloud"
	EnvironmentAzureChinaCloud   = "AzureChinaCloud"
	EnvironmentAzureUSGovernment = "AzureUSGovernment"
)

// Credential types understood by the session manager.
const (
	CredentialStatic            = "static"
	CredentialClientCredentials = "client_credentials"
	CredentialEnv               = "env"
	CredentialManagedIdentity   = "managed_identity"
	CredentialCLI               = "cli"
	CredentialDefault           = "default"
)

var credentialTypes = map[string]bool{
	CredentialStatic:            true,
	CredentialClientCredentials: true,
	CredentialEnv:               true,
	CredentialManagedIdentity:   true,
	CredentialCLI:               true,
	CredentialDefault:           true,
}

// CredentialConfig selects how a tenant's credential is built.
type CredentialConfig struct {
	Type         string `json:"type,omitempty" yaml:"type,omitempty"`
	ClientID     string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"` //nolint:gosec // G117: credential config field
}

// TenantConfig describes one tenant to sign in to.
type TenantConfig struct {
	TenantID    string           `json:"tenant_id" yaml:"tenant_id"`
	UserID      string           `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Credentials CredentialConfig `json:"credentials" yaml:"credentials"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr        string `json:"addr,omitempty" yaml:"addr,omitempty"`
	MetricsPath string `json:"metrics_path,omitempty" yaml:"metrics_path,omitempty"`
}

// TracingConfig enables OTLP/HTTP span export. Tracing is off when Endpoint
// is empty.
type TracingConfig struct {
	Endpoint    string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ServiceName string  `json:"service_name,omitempty" yaml:"service_name,omitempty"`
	Insecure    bool    `json:"insecure,omitempty" yaml:"insecure,omitempty"`
	SampleRate  float64 `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
}

// Enabled reports whether an exporter endpoint is configured.
func (t TracingConfig) Enabled() bool { return t.Endpoint != "" }

// Config is the top-level azaccount configuration.
type Config struct {
	Environment string         `json:"environment,omitempty" yaml:"environment,omitempty"`
	Tenants     []TenantConfig `json:"tenants" yaml:"tenants"`
	// Filters lists subscription ids to select. Empty selects every subscription.
	Filters []string      `json:"filters,omitempty" yaml:"filters,omitempty"`
	Log     LogConfig     `json:"log,omitempty" yaml:"log,omitempty"`
	Server  ServerConfig  `json:"server,omitempty" yaml:"server,omitempty"`
	Tracing TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// LoadFromFile loads a configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses YAML, expanding ${VAR} references from the
// environment, applies defaults and validates the result.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with defaults applied and no tenants.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = EnvironmentAzureCloud
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "azaccount"
	}
	for i := range c.Tenants {
		if c.Tenants[i].Credentials.Type == "" {
			c.Tenants[i].Credentials.Type = CredentialDefault
		}
	}
}

// Validate checks the configuration for structural errors.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Cloud(); err != nil {
		errs = append(errs, err)
	}
	seen := make(map[string]bool, len(c.Tenants))
	for i, t := range c.Tenants {
		if t.TenantID == "" {
			errs = append(errs, fmt.Errorf("tenants[%d]: tenant_id is required", i))
			continue
		}
		key := strings.ToLower(t.TenantID)
		if seen[key] {
			errs = append(errs, fmt.Errorf("tenants[%d]: duplicate tenant_id %q", i, t.TenantID))
		}
		seen[key] = true

		ct := t.Credentials.Type
		if !credentialTypes[ct] {
			errs = append(errs, fmt.Errorf("tenants[%d]: unsupported credential type %q", i, ct))
			continue
		}
		if ct == CredentialStatic || ct == CredentialClientCredentials {
			if t.Credentials.ClientID == "" || t.Credentials.ClientSecret == "" {
				errs = append(errs, fmt.Errorf("tenants[%d]: %s requires client_id and client_secret", i, ct))
			}
		}
	}
	if r := c.Tracing.SampleRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_rate: %v is outside [0, 1]", r))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unsupported format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Cloud maps the configured environment name to its Azure cloud endpoints.
func (c *Config) Cloud() (cloud.Configuration, error) {
	switch c.Environment {
	case "", EnvironmentAzureCloud:
		return cloud.AzurePublic, nil
	case EnvironmentAzureChinaCloud:
		return cloud.AzureChina, nil
	case EnvironmentAzureUSGovernment:
		return cloud.AzureGovernment, nil
	default:
		return cloud.Configuration{}, fmt.Errorf("environment: unknown Azure environment %q", c.Environment)
	}
}

// TenantIDs returns the configured tenant ids in order.
func (c *Config) TenantIDs() []string {
	ids := make([]string, 0, len(c.Tenants))
	for _, t := range c.Tenants {
		ids = append(ids, t.TenantID)
	}
	return ids
}

// Hash returns the SHA256 hex digest of the YAML encoding of cfg.
func Hash(cfg *Config) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("hash config: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
