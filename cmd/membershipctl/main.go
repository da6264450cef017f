// Command membershipctl administers membership users stored in MongoDB or
// PostgreSQL.
//
//	membershipctl [-store mongo|postgres|memory] <command> [flags]
//
// Commands: create-user, unlock-user, list-users, online, migrate.
// Engine settings come from GOMEMBERSHIP_* variables, store settings from
// MONGODB_* or PG_* variables. A .env file is read when present.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

var errUsage = errors.New("usage")

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, app *app, args []string) error
}

var commands = []command{
	{"create-user", "create a user", runCreateUser},
	{"unlock-user", "clear a user's lockout", runUnlockUser},
	{"list-users", "page through users, optionally filtered by name or email", runListUsers},
	{"online", "count users active within the online window", runOnline},
	{"migrate", "apply PostgreSQL schema migrations", runMigrate},
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("membershipctl", flag.ContinueOnError)
	store := fs.String("store", envOr("MEMBERSHIP_STORE", "mongo"), "user store: mongo, postgres or memory")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(fs)
		return 2
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	name := fs.Arg(0)
	for _, cmd := range commands {
		if cmd.name != name {
			continue
		}
		a := &app{store: *store, logger: logger}
		defer a.close()

		err := cmd.run(ctx, a, fs.Args()[1:])
		switch {
		case err == nil:
			return 0
		case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
			return 2
		default:
			logger.ErrorContext(ctx, "command failed", "command", name, "error", err)
			return 1
		}
	}

	fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
	usage(fs)
	return 2
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "usage: membershipctl [flags] <command> [command flags]")
	fs.PrintDefaults()
	fmt.Fprintln(os.Stderr, "\ncommands:")
	for _, cmd := range commands {
		fmt.Fprintf(os.Stderr, "  %-12s %s\n", cmd.name, cmd.usage)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
