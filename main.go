package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-console/library"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// storeOptions are the persistent flags every command uses to reach the store.
type storeOptions struct {
	driver   string
	dsn      string
	database string
	logLevel string
}

func (o *storeOptions) config(stderr io.Writer) library.Config {
	cfg := library.DefaultConfig()
	cfg.Driver = strings.ToLower(o.driver)
	// An empty DSN lets the driver pick its default location.
	cfg.DSN = o.dsn
	cfg.Database = o.database
	cfg.Logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: library.ParseLogLevel(o.logLevel)}))
	return cfg
}

func (o *storeOptions) open(cmd *cobra.Command) (*library.LibraryManager, library.Config, error) {
	cfg := o.config(cmd.ErrOrStderr())
	mgr, err := library.NewLibraryManager(cmd.Context(), cfg)
	if err != nil {
		return nil, cfg, fmt.Errorf("opening store: %w", err)
	}
	return mgr, cfg, nil
}

func newRootCmd() *cobra.Command {
	env := library.ConfigFromEnv()
	opts := &storeOptions{
		driver:   env.Driver,
		dsn:      os.Getenv("LIBRARY_DB_DSN"),
		database: env.Database,
		logLevel: os.Getenv("LIBRARY_LOG_LEVEL"),
	}

	root := &cobra.Command{
		Use:           "library",
		Short:         "Interactive library management console",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, cfg, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer mgr.Close()

			p, err := newReadlinePrompter()
			if err != nil {
				return err
			}
			defer p.Close()

			seeder := library.NewSeeder(mgr.Store(), nil, cfg.BcryptCost)
			return newShell(mgr, p, cmd.OutOrStdout(), seeder).Run(cmd.Context())
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.driver, "driver", opts.driver, "store driver: sqlite3, postgres, pgx or mongodb (env LIBRARY_DB_DRIVER)")
	f.StringVar(&opts.dsn, "dsn", opts.dsn, "database file, connection string or URI; empty uses the driver default (env LIBRARY_DB_DSN)")
	f.StringVar(&opts.database, "database", opts.database, "MongoDB database name (env LIBRARY_DB_NAME)")
	f.StringVar(&opts.logLevel, "log-level", opts.logLevel, "debug, info, warn or error (env LIBRARY_LOG_LEVEL)")

	root.AddCommand(newReportCmd(opts))
	return root
}

// readPassword reads a password from the terminal without echoing it.
func readPassword(w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Fprintln(w) // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04")
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
