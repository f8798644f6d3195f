// Package main is the entry point for the Shot On Me command line client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/shotonme/shotonme-client/internal/config"
	"github.com/shotonme/shotonme-client/internal/middleware"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// command runs one subcommand with its own arguments.
type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"add-funds":     {"Add funds to your wallet with a card", runAddFunds},
	"pay":           {"Pay a friend with a card", runPay},
	"tap":           {"Tap and pay at a venue", runTap},
	"cards":         {"Manage saved cards: list | add | default <id> | delete <id>", runCards},
	"notifications": {"Manage notifications: list | count | read <id> | read-all | delete <id>", runNotifications},
	"watch":         {"Stream realtime events and keep the unread badge current", runWatch},
	"doctor":        {"Check the backend, payments and cache", runDoctor},
}

// errUsage is returned for malformed command lines. It maps to exit code 2.
var errUsage = errors.New("usage error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run parses global flags, loads configuration and dispatches to a subcommand.
// It returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("shotonme", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a YAML config file")
	envFile := fs.String("env-file", config.DefaultEnvFile, "path to a .env file (ignored when missing)")
	help := fs.Bool("help", false, "display help message")
	fs.Usage = func() { usage(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *help {
		usage(fs, stdout)
		return 0
	}
	if fs.NArg() == 0 {
		usage(fs, stderr)
		return 2
	}

	name := fs.Arg(0)
	if name == "version" {
		fmt.Fprintln(stdout, "shotonme", version)
		return 0
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", name)
		usage(fs, stderr)
		return 2
	}

	cfg, errs := config.Load(*configPath, *envFile)
	if len(errs) > 0 {
		fmt.Fprintln(stderr, "invalid configuration:")
		for _, err := range errs {
			fmt.Fprintf(stderr, "  - %v\n", err)
		}
		return 1
	}

	logger := middleware.NewLogger(cfg.Env)
	slog.SetDefault(logger)
	logger.Debug("configuration loaded", slog.Any("config", cfg.LogSummary()))

	a, err := newApp(cfg, logger, stdout)
	if err != nil {
		logger.Error("failed to initialize client", slog.String("error", err.Error()))
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.close(shutdownCtx)
	}()

	if err := cmd.run(ctx, a, fs.Args()[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, err)
			return 2
		}
		if errors.Is(err, context.Canceled) {
			return 130
		}
		fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintln(w, "Shot On Me Client")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: shotonme [options] <command> [command options]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-14s %s\n", name, commands[name].summary)
	}
	fmt.Fprintf(w, "  %-14s %s\n", "version", "Print the client version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

// usageErrorf formats a usage error for a subcommand.
func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}
