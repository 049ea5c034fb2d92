package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/azaccount/config"
	"github.com/GoCodeAlone/azaccount/observability/tracing"
	"github.com/GoCodeAlone/azaccount/provider/azure"
)

// serveReady, when set, receives the bound listener address. Used by tests.
var serveReady chan<- string

func runServe(args []string) error {
	var flags commonFlags
	var addr string
	var watch bool
	if _, err := parseCommand("serve", "serve [--addr] [--watch] [options]", args, &flags, func(fs *flag.FlagSet) {
		fs.StringVar(&addr, "addr", "", "Listen address; overrides server.addr from the config")
		fs.BoolVar(&watch, "watch", false, "Reload tenants and filters when the config file changes")
	}); err != nil {
		return err
	}

	a, err := newApp(&flags)
	if err != nil {
		return err
	}
	defer a.close()
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.cfg.Tracing.Enabled() {
		tp, err := tracing.NewProvider(ctx, a.cfg.Tracing, version)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn("tracer shutdown failed", "err", err)
			}
		}()
		a.logger.Info("tracing enabled", "endpoint", a.cfg.Tracing.Endpoint)
	}

	provider := azure.NewProvider(a.wrapper, azure.WithLogger(a.logger))
	mux := http.NewServeMux()
	provider.RegisterRoutes(mux)
	mux.Handle("GET "+a.cfg.Server.MetricsPath, provider.Metrics().Handler())

	loginCtx, cancel := context.WithTimeout(ctx, flags.timeout)
	if err := a.manager.Login(loginCtx); err != nil {
		a.logger.Warn("initial sign in failed, serving signed out", "err", err)
	}
	cancel()

	if watch {
		w := config.NewWatcher(config.NewFileSource(flags.configPath), func(evt config.ChangeEvent) {
			applyCtx, cancel := context.WithTimeout(ctx, flags.timeout)
			defer cancel()
			if err := a.manager.Apply(applyCtx, evt.Config); err != nil {
				a.logger.Error("failed to apply reloaded config", "source", evt.Source, "err", err)
			}
		}, config.WithWatchLogger(a.logger))
		if err := w.Start(); err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: azure.Traced(mux), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	a.logger.Info("azaccount API listening", "addr", ln.Addr().String(), "watch", watch)
	if serveReady != nil {
		serveReady <- ln.Addr().String()
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
