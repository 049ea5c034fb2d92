package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/GoCodeAlone/azaccount/account"
	"github.com/GoCodeAlone/azaccount/config"
	"github.com/GoCodeAlone/azaccount/session"
)

// stdout and stderr are swapped out by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// extraManagerOptions and extraWrapperOptions let tests replace the Azure
// SDK backends.
var (
	extraManagerOptions []session.Option
	extraWrapperOptions []account.Option
)

const defaultLoginTimeout = 2 * time.Minute

type commonFlags struct {
	configPath string
	logLevel   string
	jsonOut    bool
	timeout    time.Duration
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "azaccount.yaml", "Path to the azaccount config file")
	fs.StringVar(&c.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
	fs.BoolVar(&c.jsonOut, "json", false, "Print JSON instead of a table")
	fs.DurationVar(&c.timeout, "timeout", defaultLoginTimeout, "Timeout for sign-in and Azure calls")
}

// app is the wiring shared by every command.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	manager   *session.Manager
	lifecycle *account.Lifecycle
	wrapper   *account.Wrapper
}

func newApp(flags *commonFlags) (*app, error) {
	cfg, err := config.LoadFromFile(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	logger := cfg.Log.NewLogger(stderr)

	opts := append([]session.Option{session.WithLogger(logger)}, extraManagerOptions...)
	manager, err := session.NewManager(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create account manager: %w", err)
	}
	lifecycle := account.NewLifecycle()
	return &app{
		cfg:       cfg,
		logger:    logger,
		manager:   manager,
		lifecycle: lifecycle,
		wrapper:   account.NewWrapper(lifecycle, manager, extraWrapperOptions...),
	}, nil
}

func (a *app) close() {
	a.lifecycle.Dispose()
}

func parseCommand(name, usageLine string, args []string, flags *commonFlags, extra func(*flag.FlagSet)) (*flag.FlagSet, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags.register(fs)
	if extra != nil {
		extra(fs)
	}
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: azaccount %s\n\nOptions:\n", usageLine)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return fs, nil
}

// signedIn builds the app and signs in.
func signedIn(ctx context.Context, flags *commonFlags) (*app, error) {
	a, err := newApp(flags)
	if err != nil {
		return nil, err
	}
	if err := a.manager.Login(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("sign in: %w", err)
	}
	return a, nil
}

func runStatus(args []string) error {
	var flags commonFlags
	if _, err := parseCommand("status", "status [options]", args, &flags, nil); err != nil {
		return err
	}
	a, err := newApp(&flags)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()
	loginErr := a.manager.Login(ctx)

	status := a.wrapper.SignInStatus()
	if flags.jsonOut {
		out := map[string]string{"status": string(status)}
		if loginErr != nil {
			out["error"] = loginErr.Error()
		}
		return writeJSON(out)
	}
	fmt.Fprintln(stdout, status)
	if loginErr != nil {
		fmt.Fprintf(stdout, "sign in failed: %v\n", loginErr)
	}
	return nil
}

func runSessions(args []string) error {
	var flags commonFlags
	if _, err := parseCommand("sessions", "sessions [options]", args, &flags, nil); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()
	a, err := signedIn(ctx, &flags)
	if err != nil {
		return err
	}
	defer a.close()

	sessions, err := a.wrapper.Sessions()
	if err != nil {
		return err
	}
	if flags.jsonOut {
		type view struct {
			Environment string `json:"environment"`
			UserID      string `json:"userId,omitempty"`
			TenantID    string `json:"tenantId"`
		}
		out := make([]view, 0, len(sessions))
		for _, s := range sessions {
			if s == nil {
				continue
			}
			out = append(out, view{Environment: s.Environment, UserID: s.UserID, TenantID: s.TenantID})
		}
		return writeJSON(out)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TENANT\tUSER\tENVIRONMENT")
	for _, s := range sessions {
		if s == nil {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.TenantID, s.UserID, s.Environment)
	}
	return tw.Flush()
}

func runSubscriptions(args []string) error {
	var flags commonFlags
	var all bool
	if _, err := parseCommand("subscriptions", "subscriptions [--all] [options]", args, &flags, func(fs *flag.FlagSet) {
		fs.BoolVar(&all, "all", false, "List every subscription instead of the filtered selection")
	}); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()
	a, err := signedIn(ctx, &flags)
	if err != nil {
		return err
	}
	defer a.close()

	subs := a.wrapper.FilteredSubscriptions()
	if all {
		if subs, err = a.wrapper.AllSubscriptions(ctx); err != nil {
			return err
		}
	}
	if flags.jsonOut {
		return writeJSON(subs)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBSCRIPTION\tNAME\tSTATE\tTENANT")
	for _, s := range subs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.SubscriptionID, s.DisplayName, s.State, s.TenantID)
	}
	return tw.Flush()
}

func runLocations(args []string) error {
	var flags commonFlags
	fs, err := parseCommand("locations", "locations [options] <subscription-id>", args, &flags, nil)
	if err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("subscription id is required")
	}
	id := fs.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()
	a, err := signedIn(ctx, &flags)
	if err != nil {
		return err
	}
	defer a.close()

	subs, err := a.wrapper.AllSubscriptions(ctx)
	if err != nil {
		return err
	}
	var target *account.Subscription
	for i := range subs {
		if strings.EqualFold(subs[i].SubscriptionID, id) {
			target = &subs[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("subscription %s not found", id)
	}

	locations, err := a.wrapper.LocationsBySubscription(ctx, *target)
	if err != nil {
		return fmt.Errorf("list locations for %s: %w", id, err)
	}
	if flags.jsonOut {
		return writeJSON(locations)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDISPLAY NAME\tREGION TYPE")
	for _, l := range locations {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", l.Name, l.DisplayName, l.RegionType)
	}
	return tw.Flush()
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
