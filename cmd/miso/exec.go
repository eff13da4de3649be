package main

import (
	"context"
	"errors"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/zoobzio/miso"
	"github.com/zoobzio/miso/internal/cli"
)

var (
	execDB     string
	execDryRun bool
)

var execCmd = &cobra.Command{
	Use:   "exec <document>",
	Short: "Compile a statement document and run it",
	Long: `Compile a statement document and run it against PostgreSQL, printing the returned rows.

Database errors that classify to a key listed under errors.keys in miso.yaml
are reported by key.`,
	Example: `  # Run against a database
  miso exec --db postgres://localhost/app insert-user.yaml

  # Compile only
  miso exec --dry-run insert-user.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := outputFormat()
		if err != nil {
			return err
		}
		if execDryRun {
			return runRender(args[0], out)
		}

		dsn, err := resolveDSN(execDB)
		if err != nil {
			return err
		}
		return runExec(cmd.Context(), dsn, args[0], out)
	},
}

func init() {
	f := execCmd.Flags()
	f.StringVar(&execDB, "db", "", "database URL")
	f.BoolVar(&execDryRun, "dry-run", false, "print the compiled statement without running it")
}

// resolveDSN applies --db over the configured database settings.
func resolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}

	dsn, err := cfg.DSN()
	if err != nil {
		return "", cli.ConfigError("database configuration", err)
	}
	if dsn == "" {
		return "", cli.ConfigError("database URL is required (use --db or set in config)", nil)
	}
	return dsn, nil
}

func runExec(ctx context.Context, dsn, path, out string) error {
	doc, err := cli.ReadDocument(path, os.Stdin)
	if err != nil {
		return err
	}
	b, err := doc.Builder()
	if err != nil {
		return cli.DocumentError("resolving document", err)
	}
	stmt, err := b.Build()
	if err != nil {
		return cli.DocumentError("compiling statement", err)
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return cli.DBConnectError("connecting to database", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return cli.DBConnectError("connecting to database", err)
	}

	rows, err := miso.NewExecutor(db, cfg.Errors.Keys...).Execute(ctx, stmt)
	if err != nil {
		var de *miso.DomainError
		if errors.As(err, &de) {
			return cli.GeneralError("statement rejected ("+de.Key+")", de.Err)
		}
		return cli.GeneralError("executing statement", err)
	}

	if err := cli.WriteRows(os.Stdout, rows, out); err != nil {
		return cli.GeneralError("writing output", err)
	}
	return nil
}
