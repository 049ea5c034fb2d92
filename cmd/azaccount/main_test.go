package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"

	"github.com/GoCodeAlone/azaccount/account"
	"github.com/GoCodeAlone/azaccount/account/accounttest"
	"github.com/GoCodeAlone/azaccount/config"
	"github.com/GoCodeAlone/azaccount/session"
)

const testConfigYAML = `
tenants:
  - tenant_id: T1
    user_id: dev@contoso.com
  - tenant_id: T2
filters:
  - s3
log:
  level: error
`

type cliSource struct{}

func (cliSource) ListSubscriptions(_ context.Context, cred azcore.TokenCredential) ([]account.Subscription, error) {
	switch cred.(*accounttest.Credential).Name {
	case "T1":
		return []account.Subscription{{SubscriptionID: "s1", DisplayName: "Prod", State: "Enabled"}}, nil
	case "T2":
		return []account.Subscription{{SubscriptionID: "s3", DisplayName: "Sandbox", State: "Enabled"}}, nil
	}
	return nil, nil
}

type cliLister struct{}

func (cliLister) ListLocations(_ context.Context, subscriptionID string) ([]account.Location, error) {
	return []account.Location{{SubscriptionID: subscriptionID, Name: "eastus", DisplayName: "East US", RegionType: "Physical"}}, nil
}

// setupCLI writes a config file, installs fake Azure backends and captures
// output. It returns the config path and the stdout buffer.
func setupCLI(t *testing.T) (string, *bytes.Buffer) {
	t.Helper()
	fp := filepath.Join(t.TempDir(), "azaccount.yaml")
	if err := os.WriteFile(fp, []byte(testConfigYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out := &bytes.Buffer{}
	oldOut, oldErr := stdout, stderr
	stdout, stderr = out, io.Discard
	extraManagerOptions = []session.Option{
		session.WithSubscriptionSource(cliSource{}),
		session.WithCredentialFactory(func(tc config.TenantConfig, _ azcore.ClientOptions) (azcore.TokenCredential, error) {
			return &accounttest.Credential{Name: tc.TenantID}, nil
		}),
	}
	extraWrapperOptions = []account.Option{
		account.WithLocationClientFactory(func(azcore.TokenCredential) (account.LocationLister, error) {
			return cliLister{}, nil
		}),
	}
	t.Cleanup(func() {
		stdout, stderr = oldOut, oldErr
		extraManagerOptions = nil
		extraWrapperOptions = nil
	})
	return fp, out
}

func TestRunStatus(t *testing.T) {
	fp, out := setupCLI(t)
	if err := runStatus([]string{"--config", fp}); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "LoggedIn" {
		t.Errorf("expected LoggedIn, got %q", got)
	}
}

func TestRunStatus_LoginFailureJSON(t *testing.T) {
	fp, out := setupCLI(t)
	extraManagerOptions = append(extraManagerOptions, session.WithCredentialFactory(
		func(tc config.TenantConfig, _ azcore.ClientOptions) (azcore.TokenCredential, error) {
			return nil, fmt.Errorf("no credential for %s", tc.TenantID)
		}))

	if err := runStatus([]string{"--config", fp, "--json"}); err != nil {
		t.Fatalf("runStatus: %v", err)
	}
	var body map[string]string
	if err := json.Unmarshal(out.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "LoggedOut" || !strings.Contains(body["error"], "no credential for T1") {
		t.Errorf("unexpected body %v", body)
	}
}

func TestRunSessions(t *testing.T) {
	fp, out := setupCLI(t)
	if err := runSessions([]string{"--config", fp}); err != nil {
		t.Fatalf("runSessions: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %q", out.String())
	}
	if !strings.HasPrefix(lines[1], "T1") || !strings.Contains(lines[1], "dev@contoso.com") {
		t.Errorf("unexpected row %q", lines[1])
	}
}

func TestRunSubscriptions(t *testing.T) {
	fp, out := setupCLI(t)
	if err := runSubscriptions([]string{"--config", fp, "--json"}); err != nil {
		t.Fatalf("runSubscriptions: %v", err)
	}
	var subs []account.Subscription
	if err := json.Unmarshal(out.Bytes(), &subs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(subs) != 1 || subs[0].SubscriptionID != "s3" || subs[0].TenantID != "T2" {
		t.Errorf("unexpected filtered subscriptions %+v", subs)
	}

	out.Reset()
	if err := runSubscriptions([]string{"--config", fp, "--json", "--all"}); err != nil {
		t.Fatalf("runSubscriptions --all: %v", err)
	}
	subs = nil
	if err := json.Unmarshal(out.Bytes(), &subs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("expected 2 subscriptions, got %d", len(subs))
	}
}

func TestRunLocations(t *testing.T) {
	fp, out := setupCLI(t)
	if err := runLocations([]string{"--config", fp, "S1"}); err != nil {
		t.Fatalf("runLocations: %v", err)
	}
	if !strings.Contains(out.String(), "eastus") || !strings.Contains(out.String(), "East US") {
		t.Errorf("unexpected output %q", out.String())
	}

	if err := runLocations([]string{"--config", fp}); err == nil {
		t.Error("expected error without subscription id")
	}
	if err := runLocations([]string{"--config", fp, "missing"}); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestRun_BadConfig(t *testing.T) {
	setupCLI(t)
	err := runSessions([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	if err == nil || !strings.Contains(err.Error(), "failed to load config") {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestRunServe(t *testing.T) {
	fp, _ := setupCLI(t)
	ready := make(chan string, 1)
	serveReady = ready
	t.Cleanup(func() { serveReady = nil })

	done := make(chan error, 1)
	go func() { done <- runServe([]string{"--config", fp, "--addr", "127.0.0.1:0"}) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("runServe exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/api/v1/providers/azure/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var body map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if body["status"] != "LoggedIn" {
		t.Errorf("expected LoggedIn, got %v", body)
	}

	resp, err = http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	metrics, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(metrics), "azaccount_http_requests_total") {
		t.Errorf("metrics missing request counter:\n%s", metrics)
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("signal: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runServe: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
