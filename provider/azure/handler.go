// Package azure serves a read-only JSON API over an account.Wrapper.
package azure

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/GoCodeAlone/azaccount/account"
)

const routePrefix = "/api/v1/providers/azure"

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(p *Provider) { p.metrics = m }
}

// Provider exposes subscription, session and region queries over HTTP.
type Provider struct {
	wrapper *account.Wrapper
	logger  *slog.Logger
	metrics *Metrics
}

// NewProvider creates a Provider over w and subscribes to the host's change
// notifications for logging and metrics. The subscriptions live as long as
// w's lifecycle.
func NewProvider(w *account.Wrapper, opts ...Option) *Provider {
	p := &Provider{wrapper: w, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics("azaccount")
	}
	w.RegisterSessionsChangedListener(func() {
		p.metrics.RecordEvent("sessions_changed")
		p.logger.Info("azure sessions changed", "status", w.SignInStatus(), "sessions", len(w.Host().Sessions()))
	})
	w.RegisterFiltersChangedListener(func() {
		p.metrics.RecordEvent("filters_changed")
		p.logger.Info("azure subscription filters changed", "filtered", len(w.FilteredSubscriptions()))
	})
	return p
}

// Metrics returns the provider's collectors.
func (p *Provider) Metrics() *Metrics { return p.metrics }

// RegisterRoutes registers the API routes on mux.
func (p *Provider) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+routePrefix+"/status", p.instrument("status", p.handleStatus))
	mux.HandleFunc("GET "+routePrefix+"/sessions", p.instrument("sessions", p.handleSessions))
	mux.HandleFunc("GET "+routePrefix+"/subscriptions", p.instrument("subscriptions", p.handleSubscriptions))
	mux.HandleFunc("GET "+routePrefix+"/subscriptions/{subscriptionId}/locations", p.instrument("locations", p.handleLocations))
}

// Traced wraps h with OpenTelemetry server spans. Without opts the global
// tracer provider is used.
func Traced(h http.Handler, opts ...otelhttp.Option) http.Handler {
	return otelhttp.NewHandler(h, "azaccount.api", opts...)
}

type sessionView struct {
	Environment string `json:"environment,omitempty"`
	UserID      string `json:"userId,omitempty"`
	TenantID    string `json:"tenantId"`
}

func (p *Provider) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"provider": "azure",
		"status":   string(p.wrapper.SignInStatus()),
	})
}

func (p *Provider) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions, err := p.wrapper.Sessions()
	if err != nil {
		p.writeError(w, err)
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		if s == nil {
			continue
		}
		out = append(out, sessionView{Environment: s.Environment, UserID: s.UserID, TenantID: s.TenantID})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (p *Provider) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("all") != "true" {
		writeJSON(w, http.StatusOK, map[string]any{"subscriptions": p.wrapper.FilteredSubscriptions()})
		return
	}
	subs, err := p.wrapper.AllSubscriptions(r.Context())
	if err != nil {
		p.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (p *Provider) handleLocations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("subscriptionId")
	subs, err := p.wrapper.AllSubscriptions(r.Context())
	if err != nil {
		p.writeError(w, err)
		return
	}
	var sub *account.Subscription
	for i := range subs {
		if strings.EqualFold(subs[i].SubscriptionID, id) {
			sub = &subs[i]
			break
		}
	}
	if sub == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "subscription " + id + " not found"})
		return
	}
	locations, err := p.wrapper.LocationsBySubscription(r.Context(), *sub)
	if err != nil {
		p.writeError(w, err)
		return
	}
	if locations == nil {
		locations = []account.Location{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptionId": sub.SubscriptionID, "locations": locations})
}

// statusCode maps adapter and SDK errors to HTTP status codes.
func statusCode(err error) int {
	var respErr *azcore.ResponseError
	switch {
	case account.IsNotSignedIn(err):
		return http.StatusUnauthorized
	case account.IsCredentialNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, account.ErrMissingTenantID), errors.Is(err, account.ErrMissingSubscriptionID):
		return http.StatusUnprocessableEntity
	case errors.As(err, &respErr) && respErr.StatusCode >= 400:
		return respErr.StatusCode
	default:
		return http.StatusInternalServerError
	}
}

func (p *Provider) writeError(w http.ResponseWriter, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		p.logger.Error("azure request failed", "err", err)
	} else {
		p.logger.Debug("azure request rejected", "status", code, "err", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (p *Provider) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		elapsed := time.Since(start)
		p.metrics.RecordRequest(route, rec.status, elapsed)
		p.logger.Debug("azure request", "route", route, "status", rec.status, "duration", elapsed)
	}
}
