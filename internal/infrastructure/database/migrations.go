package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"
)

// migration is one versioned schema step loaded from a source FS.
// Files are named YYYYMMDD_HHMMSS_name.up.sql with an optional matching
// .down.sql.
type migration struct {
	version string
	name    string
	up      string
	down    string
}

// Migrate applies every migration in src that is not yet recorded in
// schema_migrations, oldest first, each in its own transaction. It returns
// the versions it applied. A failed step is rolled back and stops the run;
// earlier steps stay committed.
func (db *DB) Migrate(ctx context.Context, src fs.FS) ([]string, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("creating migrations table: %w", err)
	}

	all, err := loadMigrations(src)
	if err != nil {
		return nil, err
	}
	done, err := db.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, m := range all {
		if slices.Contains(done, m.version) {
			continue
		}
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("applying migration %s (%s): %w", m.version, m.name, err)
		}
		applied = append(applied, m.version)
	}
	return applied, nil
}

// Rollback reverts the newest applied migration using its .down.sql and
// returns its version, or "" when nothing is applied.
func (db *DB) Rollback(ctx context.Context, src fs.FS) (string, error) {
	done, err := db.appliedVersions(ctx)
	if err != nil {
		return "", err
	}
	if len(done) == 0 {
		return "", nil
	}
	latest := done[len(done)-1]

	all, err := loadMigrations(src)
	if err != nil {
		return "", err
	}
	i := slices.IndexFunc(all, func(m migration) bool { return m.version == latest })
	if i < 0 {
		return "", fmt.Errorf("migration %s not found in source", latest)
	}
	if all[i].down == "" {
		return "", fmt.Errorf("migration %s has no down SQL", latest)
	}

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, all[i].down); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", latest)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("reverting migration %s: %w", latest, err)
	}
	return latest, nil
}

// appliedVersions lists recorded versions in ascending order.
func (db *DB) appliedVersions(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning migration row: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (db *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// loadMigrations reads the root of src. Files that do not parse as
// migrations are ignored, as are down files without an up file.
func loadMigrations(src fs.FS) ([]migration, error) {
	if src == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(src, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations: %w", err)
	}

	byVersion := make(map[string]*migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, name, up, ok := parseMigrationFilename(e.Name())
		if !ok {
			continue
		}
		body, err := fs.ReadFile(src, e.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &migration{version: version}
			byVersion[version] = m
		}
		if up {
			m.name, m.up = name, string(body)
		} else {
			m.down = string(body)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up != "" {
			out = append(out, *m)
		}
	}
	slices.SortFunc(out, func(a, b migration) int { return strings.Compare(a.version, b.version) })
	return out, nil
}

// parseMigrationFilename splits "20260301_000000_wpan_events.up.sql" into
// version "20260301_000000", name "wpan_events" and direction up.
func parseMigrationFilename(file string) (version, name string, up, ok bool) {
	base, found := strings.CutSuffix(file, ".sql")
	if !found {
		return "", "", false, false
	}
	if b, isUp := strings.CutSuffix(base, ".up"); isUp {
		base, up = b, true
	} else if b, isDown := strings.CutSuffix(base, ".down"); isDown {
		base = b
	} else {
		return "", "", false, false
	}

	date, rest, found := strings.Cut(base, "_")
	if !found || date == "" {
		return "", "", false, false
	}
	clock, name, _ := strings.Cut(rest, "_")
	if clock == "" {
		return "", "", false, false
	}
	return date + "_" + clock, name, up, true
}
