// Command migrate manages the users schema outside the API process.
//
// Usage:
//
//	migrate -cmd=up
//	migrate -cmd=down -steps=1
//	migrate -cmd=force -version=1
//	migrate -cmd=version
//
// The DSN comes from -dsn, DATABASE_DSN, or the DATABASE_* variables the API reads.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/yourusername/medqr-api/internal/config"
	"github.com/yourusername/medqr-api/internal/logger"
)

func main() {
	command := flag.String("cmd", "up", "up, down, force or version")
	steps := flag.Int("steps", 1, "number of migrations to roll back with -cmd=down")
	version := flag.Int("version", -1, "version to force with -cmd=force")
	dsn := flag.String("dsn", "", "postgres DSN (overrides environment)")
	source := flag.String("source", "file://migrations", "migrations source URL")
	flag.Parse()

	log := logger.New(config.LogConfig{Level: os.Getenv("LOG_LEVEL"), Pretty: true}).
		With().Str("component", "migrate").Logger()

	connStr := resolveDSN(*dsn)
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrate driver")
	}

	m, err := migrate.NewWithDatabaseInstance(*source, "postgres", driver)
	if err != nil {
		log.Fatal().Err(err).Str("source", *source).Msg("failed to create migrate instance")
	}

	if err := run(m, *command, *steps, *version, log); err != nil {
		log.Fatal().Err(err).Str("cmd", *command).Msg("migration command failed")
	}
}

func run(m *migrate.Migrate, command string, steps, version int, log zerolog.Logger) error {
	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	case "down":
		if steps < 1 {
			return fmt.Errorf("steps must be positive, got %d", steps)
		}
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
	case "force":
		if version < 0 {
			return fmt.Errorf("-version is required with -cmd=force")
		}
		// Clears the dirty flag left by a failed migration.
		if err := m.Force(version); err != nil {
			return err
		}
	case "version":
	default:
		return fmt.Errorf("unknown command %q", command)
	}

	current, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Info().Msg("no migrations applied")
	case err != nil:
		return err
	default:
		log.Info().Uint("version", current).Bool("dirty", dirty).Msg("schema version")
	}
	return nil
}

func resolveDSN(flagDSN string) string {
	if flagDSN != "" {
		return flagDSN
	}
	if env := os.Getenv("DATABASE_DSN"); env != "" {
		return env
	}
	db := config.DatabaseConfig{
		Host:     envOr("DATABASE_HOST", "localhost"),
		Port:     envOr("DATABASE_PORT", "5432"),
		User:     envOr("DATABASE_USER", "postgres"),
		Password: os.Getenv("DATABASE_PASSWORD"),
		DBName:   envOr("DATABASE_DBNAME", "medqr"),
		SSLMode:  envOr("DATABASE_SSLMODE", "disable"),
	}
	return db.PostgresConnectionString()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
