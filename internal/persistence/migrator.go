package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// migrationLockKey is the pg_advisory_lock key held while migrating, so
// two instances starting together do not race on the same files.
const migrationLockKey int64 = 0x5641554c54 // "VAULT"

// Migration is one numbered schema step.
// Files follow golang-migrate naming: {version}_{name}.up.sql / .down.sql
type Migration struct {
	Version  string
	UpFile   string
	DownFile string // empty when no down file exists
}

// Migrator applies the SQL files in a directory in version order and
// records each one, with a checksum of its up file, in
// public.schema_migrations.
type Migrator struct {
	db            *sql.DB
	migrationsDir string
	logger        zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, migrationsDir: migrationsDir, logger: logger}
}

// Up applies every pending migration. It fails without changing anything
// if an applied migration's file has been edited since it ran.
func (m *Migrator) Up(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		plan, err := m.Plan()
		if err != nil {
			return err
		}
		applied, err := appliedChecksums(ctx, conn)
		if err != nil {
			return err
		}

		for _, mig := range plan {
			body, sum, err := m.read(mig.UpFile)
			if err != nil {
				return err
			}
			if prev, ok := applied[mig.Version]; ok {
				if prev != "" && prev != sum {
					return fmt.Errorf("migration %s changed after it was applied", mig.UpFile)
				}
				continue
			}

			m.logger.Info().Str("file", mig.UpFile).Msg("applying migration")
			err = inTx(ctx, conn, func(tx *sql.Tx) error {
				if _, err := tx.ExecContext(ctx, body); err != nil {
					return fmt.Errorf("exec migration %s: %w", mig.UpFile, err)
				}
				_, err := tx.ExecContext(ctx,
					`INSERT INTO public.schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)`,
					mig.Version, mig.UpFile, sum,
				)
				return err
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		var version string
		err := conn.QueryRowContext(ctx,
			`SELECT version FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("get latest migration: %w", err)
		}

		plan, err := m.Plan()
		if err != nil {
			return err
		}
		var target *Migration
		for i := range plan {
			if plan[i].Version == version {
				target = &plan[i]
			}
		}
		if target == nil || target.DownFile == "" {
			return fmt.Errorf("no down migration for version %s", version)
		}

		body, _, err := m.read(target.DownFile)
		if err != nil {
			return err
		}
		err = inTx(ctx, conn, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, body); err != nil {
				return fmt.Errorf("exec down migration %s: %w", target.DownFile, err)
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM public.schema_migrations WHERE version = $1`, version)
			return err
		})
		if err != nil {
			return err
		}
		m.logger.Info().Str("file", target.DownFile).Msg("rolled back migration")
		return nil
	})
}

// Pending lists the up files that have not been applied yet.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	plan, err := m.Plan()
	if err != nil {
		return nil, err
	}
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return nil, err
	}
	applied, err := appliedChecksums(ctx, conn)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, mig := range plan {
		if _, ok := applied[mig.Version]; !ok {
			pending = append(pending, mig.UpFile)
		}
	}
	return pending, nil
}

// Plan pairs the up and down files in the migrations directory, ordered by
// version. A version with a down file but no up file is an error.
func (m *Migrator) Plan() ([]Migration, error) {
	entries, err := os.ReadDir(m.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		var up bool
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			up = true
		case strings.HasSuffix(name, ".down.sql"):
		default:
			continue
		}

		v := extractVersion(name)
		mig, ok := byVersion[v]
		if !ok {
			mig = &Migration{Version: v}
			byVersion[v] = mig
		}
		if up {
			mig.UpFile = name
		} else {
			mig.DownFile = name
		}
	}

	plan := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.UpFile == "" {
			return nil, fmt.Errorf("migration %s has no up file", mig.Version)
		}
		plan = append(plan, *mig)
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].Version < plan[j].Version })
	return plan, nil
}

func (m *Migrator) read(file string) (string, string, error) {
	content, err := os.ReadFile(filepath.Join(m.migrationsDir, file))
	if err != nil {
		return "", "", fmt.Errorf("read migration %s: %w", file, err)
	}
	sum := sha256.Sum256(content)
	return string(content), hex.EncodeToString(sum[:]), nil
}

// locked runs fn on a dedicated connection holding the migration lock.
func (m *Migrator) locked(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

func ensureMigrationTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// appliedChecksums maps applied versions to the checksum recorded when
// they ran.
func appliedChecksums(ctx context.Context, conn *sql.Conn) (map[string]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, checksum FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]string)
	for rows.Next() {
		var v, sum string
		if err := rows.Scan(&v, &sum); err != nil {
			return nil, err
		}
		applied[v] = sum
	}
	return applied, rows.Err()
}

func inTx(ctx context.Context, conn *sql.Conn, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// extractVersion returns the numeric prefix of a migration filename:
// "000001_event_log.up.sql" -> "000001".
func extractVersion(filename string) string {
	if i := strings.IndexByte(filename, '_'); i > 0 {
		return filename[:i]
	}
	return filename
}
