// Package main applies the schema migrations for the site backend.
// The database is taken from DATABASE_URL or the DB_* variables, like the server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/voltmoto/site/backend/internal/config"
	"github.com/voltmoto/site/backend/internal/logger"
)

var Version = "dev"

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultMigrationsPath   = "migrations"
)

// Options holds migration settings
type Options struct {
	DatabaseURL    string
	MigrationsPath string
	Timeout        time.Duration
	DryRun         bool
}

func main() {
	var (
		migrPath = flag.String("path", envOr("MIGRATIONS_PATH", defaultMigrationsPath), "Path to migrations directory")
		timeout  = flag.Duration("timeout", defaultMigrationTimeout, "Lock and connect timeout")
		dryRun   = flag.Bool("dry-run", false, "Show what would be done without executing")
		version  = flag.Bool("version", false, "Print version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]       Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]     Roll back all or N migrations\n")
		fmt.Fprintf(os.Stderr, "  goto V       Migrate to version V\n")
		fmt.Fprintf(os.Stderr, "  force V      Set version V without running migrations\n")
		fmt.Fprintf(os.Stderr, "  version      Print current migration version\n")
		fmt.Fprintf(os.Stderr, "  create NAME  Create a new migration file pair\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Printf("migrate version %s\n", Version)
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	log := logger.New(logger.DefaultConfig())
	cfg := config.Load()

	opts := Options{
		DatabaseURL:    cfg.Database.DSN(),
		MigrationsPath: *migrPath,
		Timeout:        *timeout,
		DryRun:         *dryRun,
	}

	if err := runCommand(opts, log, args[0], args[1:]); err != nil {
		log.Error("Migration command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func runCommand(opts Options, log *slog.Logger, cmd string, args []string) error {
	switch cmd {
	case "create":
		if len(args) < 1 {
			return errors.New("create requires a migration name")
		}
		return createMigration(opts, log, args[0])
	case "version":
		return withMigrate(opts, func(m *migrate.Migrate) error {
			v, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				log.Info("No migrations have been applied yet")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to get version: %w", err)
			}
			log.Info("Current migration version", "version", v, "dirty", dirty)
			return nil
		})
	case "up", "down":
		steps, err := optionalInt(args)
		if err != nil {
			return err
		}
		if opts.DryRun {
			log.Info("[DRY RUN] Would migrate", "direction", cmd, "steps", steps)
			return nil
		}
		return withMigrate(opts, func(m *migrate.Migrate) error {
			from, _, _ := m.Version()
			switch {
			case cmd == "up" && steps > 0:
				err = m.Steps(steps)
			case cmd == "up":
				err = m.Up()
			case steps > 0:
				err = m.Steps(-steps)
			default:
				err = m.Down()
			}
			return report(log, m, from, err)
		})
	case "goto":
		if len(args) < 1 {
			return errors.New("goto requires a version number")
		}
		target, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		if opts.DryRun {
			log.Info("[DRY RUN] Would migrate", "to", target)
			return nil
		}
		return withMigrate(opts, func(m *migrate.Migrate) error {
			from, _, _ := m.Version()
			return report(log, m, from, m.Migrate(uint(target)))
		})
	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version number")
		}
		target, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		if opts.DryRun {
			log.Info("[DRY RUN] Would force version", "version", target)
			return nil
		}
		return withMigrate(opts, func(m *migrate.Migrate) error {
			if err := m.Force(target); err != nil {
				return fmt.Errorf("force failed: %w", err)
			}
			log.Warn("Version forced, no migrations were run", "version", target)
			return nil
		})
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func report(log *slog.Logger, m *migrate.Migrate, from uint, err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("No migrations to apply", "version", from)
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	to, _, _ := m.Version()
	log.Info("Migration completed", "from", from, "to", to)
	return nil
}

func optionalInt(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number of steps: %s", args[0])
	}
	return n, nil
}

// createMigration writes an empty up/down pair numbered after the highest existing one
func createMigration(opts Options, log *slog.Logger, name string) error {
	next, err := nextMigrationNumber(opts.MigrationsPath)
	if err != nil {
		return fmt.Errorf("failed to determine next migration number: %w", err)
	}

	stamp := time.Now().UTC().Format(time.RFC3339)
	files := map[string]string{
		filepath.Join(opts.MigrationsPath, fmt.Sprintf("%06d_%s.up.sql", next, name)):   fmt.Sprintf("-- %s\n-- Created: %s\n", name, stamp),
		filepath.Join(opts.MigrationsPath, fmt.Sprintf("%06d_%s.down.sql", next, name)): fmt.Sprintf("-- %s (rollback)\n-- Created: %s\n", name, stamp),
	}

	if opts.DryRun {
		for path := range files {
			log.Info("[DRY RUN] Would create", "file", path)
		}
		return nil
	}

	if err := os.MkdirAll(opts.MigrationsPath, 0o755); err != nil {
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}
	for path, content := range files {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		log.Info("Created migration file", "file", path)
	}
	return nil
}

func nextMigrationNumber(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}

	highest := 0
	for _, entry := range entries {
		var n int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &n); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// withMigrate opens the database, runs fn and closes both source and database
func withMigrate(opts Options, fn func(m *migrate.Migrate) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()

	db, err := sql.Open("pgx", opts.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "schema_migrations"})
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	path, err := filepath.Abs(opts.MigrationsPath)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to resolve migrations path: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()
	m.LockTimeout = opts.Timeout

	return fn(m)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
