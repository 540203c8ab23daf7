package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"OptionPool/internal/config"
	"OptionPool/internal/observability"
	"OptionPool/internal/persistence"
	"OptionPool/internal/projection"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dsn, dir string

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the OptionPool Postgres schema",
		SilenceUsage: true,
	}
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if !cmd.Flags().Changed("dsn") {
			dsn = cfg.Postgres.DSN
		}
		if !cmd.Flags().Changed("dir") {
			dir = cfg.MigrationsDir
		}
		return nil
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres connection string (default from POOL_POSTGRES_DSN)")
	root.PersistentFlags().StringVar(&dir, "dir", "", "migrations directory (default from POOL_MIGRATIONS_DIR)")

	withDB := func(fn func(ctx context.Context, db *sql.DB) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			db, err := sql.Open("postgres", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			return fn(cmd.Context(), db)
		}
	}
	logger := observability.NewLogger("migrate")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withDB(func(ctx context.Context, db *sql.DB) error {
				if err := persistence.NewMigrator(db, dir).Up(ctx); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				logger.Info().Msg("all migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: withDB(func(ctx context.Context, db *sql.DB) error {
				if err := persistence.NewMigrator(db, dir).Down(ctx); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info().Msg("last migration rolled back")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			RunE: withDB(func(ctx context.Context, db *sql.DB) error {
				statuses, err := persistence.NewMigrator(db, dir).Status(ctx)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				for _, s := range statuses {
					mark := "pending"
					if s.Applied {
						mark = "applied"
					}
					fmt.Printf("%s  %-8s %s\n", s.Version, mark, s.Filename)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "rebuild-projections",
			Short: "Truncate and rebuild the projection tables from the journal",
			RunE: withDB(func(ctx context.Context, db *sql.DB) error {
				if err := projection.RebuildProjections(ctx, db); err != nil {
					return fmt.Errorf("rebuild projections: %w", err)
				}
				logger.Info().Msg("projections rebuilt")
				return nil
			}),
		},
	)
	return root
}
