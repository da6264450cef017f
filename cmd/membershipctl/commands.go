package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	goMembership "github.com/MrEthical07/goMembership"
	"github.com/MrEthical07/goMembership/repository/postgres"
)

func runCreateUser(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	var req goMembership.CreateUserRequest
	fs.StringVar(&req.Username, "user", "", "user name (required)")
	fs.StringVar(&req.Password, "password", os.Getenv("MEMBERSHIP_PASSWORD"), "password, defaults to MEMBERSHIP_PASSWORD")
	fs.StringVar(&req.Email, "email", "", "email address")
	fs.StringVar(&req.PasswordQuestion, "question", "", "password question")
	fs.StringVar(&req.PasswordAnswer, "answer", "", "password answer")
	fs.StringVar(&req.Comment, "comment", "", "free-form comment")
	fs.BoolVar(&req.IsApproved, "approved", true, "approve the user")
	roles := fs.String("roles", "", "comma separated roles")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if req.Username == "" || req.Password == "" {
		fs.Usage()
		return errUsage
	}
	if *roles != "" {
		req.Roles = strings.Split(*roles, ",")
	}

	engine, err := a.engine(ctx)
	if err != nil {
		return err
	}
	user, err := engine.CreateUser(ctx, req)
	if err != nil {
		var cerr *goMembership.CreateUserError
		if errors.As(err, &cerr) {
			return fmt.Errorf("create user: %s", cerr.Status)
		}
		return err
	}
	fmt.Printf("created %s (%s)\n", user.UserName, user.ProviderUserKey)
	return nil
}

func runUnlockUser(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("unlock-user", flag.ContinueOnError)
	username := fs.String("user", "", "user name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" {
		fs.Usage()
		return errUsage
	}

	engine, err := a.engine(ctx)
	if err != nil {
		return err
	}
	ok, err := engine.UnlockUser(ctx, *username)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %q not found", *username)
	}
	fmt.Printf("unlocked %s\n", *username)
	return nil
}

func runListUsers(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list-users", flag.ContinueOnError)
	page := fs.Int("page", 0, "zero based page index")
	size := fs.Int("size", 20, "page size")
	name := fs.String("name", "", "user name search term, '*' wildcards allowed")
	email := fs.String("email", "", "email search term, '*' wildcards allowed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	engine, err := a.engine(ctx)
	if err != nil {
		return err
	}

	var res goMembership.UserPage
	switch {
	case *name != "":
		res, err = engine.FindUsersByName(ctx, *name, *page, *size)
	case *email != "":
		res, err = engine.FindUsersByEmail(ctx, *email, *page, *size)
	default:
		res, err = engine.GetAllUsers(ctx, *page, *size)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tEMAIL\tAPPROVED\tLOCKED\tLAST ACTIVITY")
	for _, u := range res.Users {
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n",
			u.UserName, u.Email, u.IsApproved, u.IsLockedOut, u.LastActivityDate.Format(time.RFC3339))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d of %d\n", len(res.Users), res.TotalRecords)
	return nil
}

func runOnline(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("online", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	engine, err := a.engine(ctx)
	if err != nil {
		return err
	}
	n, err := engine.GetNumberOfUsersOnline(ctx)
	if err != nil {
		return err
	}
	fmt.Println(n)
	return nil
}

func runMigrate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.store != "postgres" {
		return fmt.Errorf("migrate: store %q manages its own schema", a.store)
	}

	pool, cfg, err := a.postgresPool(ctx)
	if err != nil {
		return err
	}
	if err := postgres.Migrate(ctx, pool, cfg, a.logger); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "migrations applied", "table", cfg.MigrationsTable)
	return nil
}
