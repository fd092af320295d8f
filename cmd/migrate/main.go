package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/telemedicine-scheduling/internal/config"
	"github.com/hackgods/telemedicine-scheduling/internal/logging"
	appmigrations "github.com/hackgods/telemedicine-scheduling/migrations"
)

func main() {
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or roll back the scheduling schema",
		SilenceUsage: true,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(m *migrate.Migrate, logger zerolog.Logger) error {
				if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("migrate up: %w", err)
				}
				logger.Info().Msg("migrations complete")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back one migration",
			RunE: withMigrator(func(m *migrate.Migrate, logger zerolog.Logger) error {
				if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info().Msg("rolled back one migration")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: withMigrator(func(m *migrate.Migrate, logger zerolog.Logger) error {
				v, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					logger.Info().Msg("no migrations applied")
					return nil
				}
				if err != nil {
					return err
				}
				logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version: %w", err)
				}
				return withMigrator(func(m *migrate.Migrate, logger zerolog.Logger) error {
					if err := m.Force(version); err != nil {
						return fmt.Errorf("force version: %w", err)
					}
					logger.Info().Int("version", version).Msg("forced schema version")
					return nil
				})(cmd, args)
			},
		},
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func withMigrator(fn func(*migrate.Migrate, zerolog.Logger) error) func(*cobra.Command, []string) error {
	return func(*cobra.Command, []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "migrate").Logger()

		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer func() { _ = db.Close() }()

		if err := db.Ping(); err != nil {
			return fmt.Errorf("ping db: %w", err)
		}

		dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
		if err != nil {
			return fmt.Errorf("db driver: %w", err)
		}
		srcDriver, err := iofs.New(appmigrations.FS, ".")
		if err != nil {
			return fmt.Errorf("source driver: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() { _, _ = m.Close() }()

		return fn(m, logger)
	}
}
