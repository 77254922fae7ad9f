package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"license-server/config"
	"license-server/internal/app"
	"license-server/internal/auth"
	"license-server/internal/database"
	"license-server/internal/logging"
)

const usage = `usage: license-admin [command] [flags]

Commands:
  migrate                      apply database migrations
  stats                        print the global counters
  recompute                    rebuild derived counters from the tables
  prune [-days N]              delete account history older than N days
  validate -key KEY            validate a license key
  users                        list accounts
  premium -user NAME           grant premium to an account
  reset-password -user NAME    set a new password (prompted)

Without a command an interactive menu is shown.
`

// readPassword is a seam for term.ReadPassword
var readPassword = term.ReadPassword

type admin struct {
	app *app.App
	in  *bufio.Reader
	out io.Writer
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, closer := logging.New(&logging.Config{
		Level:     cfg.LoggingConfig.Level,
		Output:    "stderr",
		Component: "license-admin",
	})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		closer.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) > 0 && (args[0] == "-h" || args[0] == "--help" || args[0] == "help") {
		fmt.Fprint(stdout, usage)
		return nil
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	adm := &admin{app: a, in: bufio.NewReader(stdin), out: stdout}
	if len(args) == 0 {
		return adm.menu(ctx)
	}
	return adm.dispatch(ctx, args[0], args[1:])
}

func (adm *admin) dispatch(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(adm.out)
	days := fs.Int("days", 0, "retention in days (defaults to the configured window)")
	key := fs.String("key", "", "license key")
	user := fs.String("user", "", "username")
	if err := fs.Parse(args); err != nil {
		return err
	}

	switch cmd {
	case "migrate":
		return adm.migrate(ctx)
	case "stats":
		return adm.stats(ctx)
	case "recompute":
		return adm.recompute(ctx)
	case "prune":
		return adm.prune(ctx, *days)
	case "validate":
		return adm.validate(ctx, *key)
	case "users":
		return adm.users(ctx)
	case "premium":
		return adm.premium(ctx, *user)
	case "reset-password":
		return adm.resetPassword(ctx, *user)
	default:
		fmt.Fprint(adm.out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (adm *admin) menu(ctx context.Context) error {
	fmt.Fprintln(adm.out, "========================================")
	fmt.Fprintln(adm.out, " License Server Administration")
	fmt.Fprintln(adm.out, "========================================")

	for {
		fmt.Fprintln(adm.out, "\nOptions:")
		fmt.Fprintln(adm.out, "  1. Show global stats")
		fmt.Fprintln(adm.out, "  2. Recompute global stats")
		fmt.Fprintln(adm.out, "  3. Prune account history")
		fmt.Fprintln(adm.out, "  4. Validate a license key")
		fmt.Fprintln(adm.out, "  5. List users")
		fmt.Fprintln(adm.out, "  6. Grant premium")
		fmt.Fprintln(adm.out, "  7. Exit")
		fmt.Fprint(adm.out, "\nSelect option: ")

		input, err := adm.in.ReadString('\n')
		if err != nil && input == "" {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		var cmdErr error
		switch strings.TrimSpace(input) {
		case "1":
			cmdErr = adm.stats(ctx)
		case "2":
			cmdErr = adm.recompute(ctx)
		case "3":
			cmdErr = adm.prune(ctx, 0)
		case "4":
			cmdErr = adm.validate(ctx, adm.prompt("License key: "))
		case "5":
			cmdErr = adm.users(ctx)
		case "6":
			cmdErr = adm.premium(ctx, adm.prompt("Username: "))
		case "7":
			fmt.Fprintln(adm.out, "Goodbye!")
			return nil
		default:
			fmt.Fprintln(adm.out, "Invalid option")
		}
		if cmdErr != nil {
			fmt.Fprintln(adm.out, "Error:", cmdErr)
		}
	}
}

func (adm *admin) prompt(label string) string {
	fmt.Fprint(adm.out, label)
	line, _ := adm.in.ReadString('\n')
	return strings.TrimSpace(line)
}

func (adm *admin) migrate(ctx context.Context) error {
	if err := adm.app.DB.RunMigrations(ctx); err != nil {
		return err
	}
	fmt.Fprintln(adm.out, "Migrations applied")
	return nil
}

func (adm *admin) stats(ctx context.Context) error {
	s, err := adm.app.Stats.Read(ctx)
	if err != nil {
		return err
	}
	printStats(adm.out, s)
	return nil
}

func (adm *admin) recompute(ctx context.Context) error {
	s, err := adm.app.Stats.Recompute(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(adm.out, "Global stats recomputed")
	printStats(adm.out, s)
	return nil
}

func printStats(w io.Writer, s *database.GlobalStats) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  Users:\t%d\n", s.TotalUsers)
	fmt.Fprintf(tw, "  Licenses created:\t%d\n", s.TotalLicensesCreated)
	fmt.Fprintf(tw, "  Licenses active:\t%d\n", s.TotalLicensesActive)
	fmt.Fprintf(tw, "  Licenses deleted:\t%d\n", s.TotalLicensesDeleted)
	fmt.Fprintf(tw, "  Validations:\t%d\n", s.TotalLicenseValidations)
	fmt.Fprintf(tw, "  Last updated:\t%s\n", s.LastUpdated.Format(time.RFC3339))
	tw.Flush()
}

func (adm *admin) prune(ctx context.Context, days int) error {
	var (
		n   int64
		err error
	)
	if days > 0 {
		n, err = adm.app.History.PruneBefore(ctx, time.Now().UTC().AddDate(0, 0, -days))
	} else {
		n, err = adm.app.History.Prune(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(adm.out, "Pruned %d history entries\n", n)
	return nil
}

func (adm *admin) validate(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("-key is required")
	}
	res, err := adm.app.Licenses.Validate(ctx, key)
	if err != nil {
		return err
	}
	fmt.Fprintf(adm.out, "%s (uses: %v)\n", res.Detail, res.Uses)
	return nil
}

func (adm *admin) users(ctx context.Context) error {
	users, err := adm.app.Repo.ListUsers(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(adm.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSERNAME\tPREMIUM\tCREATED")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\n", u.ID, u.Username, u.IsPremium, u.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func (adm *admin) lookup(ctx context.Context, username string) (*database.User, error) {
	if username == "" {
		return nil, errors.New("-user is required")
	}
	user, err := adm.app.Repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %q not found", username)
	}
	return user, nil
}

func (adm *admin) premium(ctx context.Context, username string) error {
	user, err := adm.lookup(ctx, username)
	if err != nil {
		return err
	}

	var changed bool
	err = adm.app.Repo.WithTx(ctx, func(tx *database.Repository) error {
		changed, err = tx.SetPremium(ctx, user.ID, true)
		if err != nil || !changed {
			return err
		}
		return tx.AddHistory(ctx, user.ID, database.ActionUpgradePremium, "admin")
	})
	if err != nil {
		return err
	}

	if changed {
		fmt.Fprintf(adm.out, "%s is now premium\n", user.Username)
	} else {
		fmt.Fprintf(adm.out, "%s is already premium\n", user.Username)
	}
	return nil
}

func (adm *admin) resetPassword(ctx context.Context, username string) error {
	user, err := adm.lookup(ctx, username)
	if err != nil {
		return err
	}

	fmt.Fprint(adm.out, "New password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(adm.out)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password := string(pw)

	if err := auth.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := auth.NewPasswordManager(adm.app.Config.AuthConfig.BcryptCost).HashPassword(password)
	if err != nil {
		return err
	}

	err = adm.app.Repo.WithTx(ctx, func(tx *database.Repository) error {
		if err := tx.UpdatePassword(ctx, user.ID, hash); err != nil {
			return err
		}
		return tx.AddHistory(ctx, user.ID, database.ActionResetPassword, "admin")
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(adm.out, "Password updated for %s\n", user.Username)
	return nil
}
