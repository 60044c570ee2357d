package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migration pairs the up and down SQL files of one schema version.
type migration struct {
	version int
	name    string
	up      string
	down    string
}

func main() {
	var (
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
		dir         = flag.String("migrations", "scripts/migrations", "Directory holding NNN_name.up.sql / .down.sql files")
	)
	flag.Usage = usage
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *databaseURL == "" {
		logger.Error("database URL required, set DATABASE_URL or pass -database-url")
		os.Exit(1)
	}
	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	if err := run(context.Background(), logger, *databaseURL, *dir, flag.Args()); err != nil {
		logger.Error("migration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: migrate [options] <command>

Commands:
  up             Apply all pending migrations
  down [n]       Roll back n migrations (default 1)
  status         List every migration with its applied state
  version        Print the current schema version
  force <n>      Overwrite the recorded version, clearing any dirty state

Options:`)
	flag.PrintDefaults()
}

func run(ctx context.Context, logger *slog.Logger, databaseURL, dir string, args []string) error {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create connection pool: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			dirty BOOLEAN NOT NULL DEFAULT FALSE
		)
	`); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	migrations, err := loadMigrations(dir)
	if err != nil {
		return err
	}

	switch cmd := args[0]; cmd {
	case "up":
		return migrateUp(ctx, pool, logger, migrations)
	case "down":
		steps := 1
		if len(args) > 1 {
			steps, err = strconv.Atoi(args[1])
			if err != nil || steps < 1 {
				return fmt.Errorf("down expects a positive step count, got %q", args[1])
			}
		}
		return migrateDown(ctx, pool, logger, migrations, steps)
	case "status":
		return showStatus(ctx, pool, migrations)
	case "version":
		version, err := currentVersion(ctx, pool)
		if err != nil {
			return err
		}
		fmt.Printf("%d\n", version)
		return nil
	case "force":
		if len(args) < 2 {
			return errors.New("force expects a version argument")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil || version < 0 {
			return fmt.Errorf("force expects a non-negative version, got %q", args[1])
		}
		return forceVersion(ctx, pool, logger, version)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// loadMigrations reads NNN_name.up.sql / NNN_name.down.sql pairs and
// returns them ordered by version. A version without an up file is
// skipped.
func loadMigrations(dir string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	byVersion := make(map[int]*migration)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, rest, found := strings.Cut(name, "_")
		if !found {
			continue
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			continue
		}

		m := byVersion[version]
		if m == nil {
			m = &migration{version: version}
			byVersion[version] = m
		}
		switch {
		case strings.HasSuffix(rest, ".up.sql"):
			m.name = strings.TrimSuffix(rest, ".up.sql")
			m.up = filepath.Join(dir, name)
		case strings.HasSuffix(rest, ".down.sql"):
			m.down = filepath.Join(dir, name)
		}
	}

	var migrations []migration
	for _, m := range byVersion {
		if m.up != "" {
			migrations = append(migrations, *m)
		}
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}

func currentVersion(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var version int
	err := pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations WHERE NOT dirty`,
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read current version: %w", err)
	}
	return version, nil
}

func appliedVersions(ctx context.Context, pool *pgxpool.Pool) (map[int]bool, error) {
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to list applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// apply runs one SQL file inside a transaction together with its
// bookkeeping statements. The version row is inserted dirty before the
// SQL runs so a crash mid-migration is visible in status output.
func applyUp(ctx context.Context, pool *pgxpool.Pool, m migration) error {
	sql, err := os.ReadFile(m.up)
	if err != nil {
		return fmt.Errorf("failed to read migration %d: %w", m.version, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, dirty) VALUES ($1, TRUE)`, m.version,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.version, err)
	}
	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("migration %d failed: %w", m.version, err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE schema_migrations SET dirty = FALSE, applied_at = NOW() WHERE version = $1`, m.version,
	); err != nil {
		return fmt.Errorf("failed to finalize migration %d: %w", m.version, err)
	}
	return tx.Commit(ctx)
}

func migrateUp(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, migrations []migration) error {
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return err
	}

	ran := 0
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		logger.Info("applying migration",
			slog.Int("version", m.version), slog.String("name", m.name))
		if err := applyUp(ctx, pool, m); err != nil {
			return err
		}
		ran++
	}
	logger.Info("migrations complete", slog.Int("applied", ran))
	return nil
}

func migrateDown(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, migrations []migration, steps int) error {
	applied, err := appliedVersions(ctx, pool)
	if err != nil {
		return err
	}

	rolledBack := 0
	for i := len(migrations) - 1; i >= 0 && rolledBack < steps; i-- {
		m := migrations[i]
		if !applied[m.version] {
			continue
		}
		if m.down == "" {
			return fmt.Errorf("migration %d has no down file", m.version)
		}

		sql, err := os.ReadFile(m.down)
		if err != nil {
			return fmt.Errorf("failed to read migration %d down file: %w", m.version, err)
		}

		logger.Info("rolling back migration",
			slog.Int("version", m.version), slog.String("name", m.name))

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("rollback of migration %d failed: %w", m.version, err)
		}
		if _, err := tx.Exec(ctx,
			`DELETE FROM schema_migrations WHERE version = $1`, m.version,
		); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("failed to delete migration %d record: %w", m.version, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit rollback of migration %d: %w", m.version, err)
		}
		rolledBack++
	}

	logger.Info("rollback complete", slog.Int("rolled_back", rolledBack))
	return nil
}

func showStatus(ctx context.Context, pool *pgxpool.Pool, migrations []migration) error {
	rows, err := pool.Query(ctx,
		`SELECT version, applied_at, dirty FROM schema_migrations ORDER BY version`,
	)
	if err != nil {
		return fmt.Errorf("failed to read migration status: %w", err)
	}
	defer rows.Close()

	type record struct {
		appliedAt time.Time
		dirty     bool
	}
	applied := make(map[int]record)
	for rows.Next() {
		var version int
		var rec record
		if err := rows.Scan(&version, &rec.appliedAt, &rec.dirty); err != nil {
			return err
		}
		applied[version] = rec
	}
	if err := rows.Err(); err != nil {
		return err
	}

	fmt.Printf("%-8s %-32s %-8s %s\n", "VERSION", "NAME", "STATE", "APPLIED AT")
	for _, m := range migrations {
		state, appliedAt := "pending", ""
		if rec, ok := applied[m.version]; ok {
			state = "applied"
			if rec.dirty {
				state = "dirty"
			}
			appliedAt = rec.appliedAt.Format(time.RFC3339)
		}
		fmt.Printf("%-8d %-32s %-8s %s\n", m.version, m.name, state, appliedAt)
	}
	return nil
}

// forceVersion rewrites the bookkeeping so versions 1..n read as
// cleanly applied. It never touches the schema itself.
func forceVersion(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger, version int) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM schema_migrations`); err != nil {
		return fmt.Errorf("failed to clear schema_migrations: %w", err)
	}
	for v := 1; v <= version; v++ {
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, dirty) VALUES ($1, FALSE)`, v,
		); err != nil {
			return fmt.Errorf("failed to record version %d: %w", v, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info("forced schema version", slog.Int("version", version))
	return nil
}
