package main

import (
	"fmt"
	"os"
)

var version = "dev"

var commands = map[string]func([]string) error{
	"status":        runStatus,
	"sessions":      runSessions,
	"subscriptions": runSubscriptions,
	"locations":     runLocations,
	"serve":         runServe,
}

func usage() {
	fmt.Fprintf(os.Stderr, `azaccount - Azure account and subscription CLI (version %s)

Usage:
  azaccount <command> [options]

Commands:
  status         Sign in and print the sign-in status
  sessions       List signed-in tenant sessions
  subscriptions  List filtered subscriptions (--all for every subscription)
  locations      List regions available to a subscription
  serve          Serve the account API over HTTP (--watch reloads the config)

Run 'azaccount <command> -h' for command-specific help.
`, version)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "-h" || cmd == "--help" || cmd == "help" {
		usage()
		os.Exit(0)
	}
	if cmd == "-v" || cmd == "--version" || cmd == "version" {
		fmt.Println(version)
		os.Exit(0)
	}

	fn, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd) //nolint:gosec // G705: CLI error output
		usage()
		os.Exit(1)
	}

	if err := fn(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err) //nolint:gosec // G705: CLI error output
		os.Exit(1)
	}
}
