package database

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var embedded embed.FS

// ErrChecksumMismatch is returned when an applied migration file was edited afterwards
var ErrChecksumMismatch = errors.New("applied migration has changed")

// EmbeddedMigrations returns the schema migrations compiled into the binary
func EmbeddedMigrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migration is one NNN_name.sql file
type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

// Migrator applies migrations and records them in schema_migrations
type Migrator struct {
	db     *DB
	logger *zap.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(db *DB, logger *zap.Logger) *Migrator {
	return &Migrator{db: db, logger: logger}
}

const schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL,
	checksum   TEXT NOT NULL,
	applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

// applied maps version to the recorded checksum
func (m *Migrator) applied() (map[int]string, error) {
	rows, err := m.db.Query("SELECT version, checksum FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var (
			version  int
			checksum string
		)
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, err
		}
		out[version] = checksum
	}
	return out, rows.Err()
}

// RunMigrations applies every migration of fsys not yet recorded, in version
// order. Already applied files must be unchanged.
func (m *Migrator) RunMigrations(fsys fs.FS) error {
	migrations, err := LoadMigrations(fsys)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	if _, err := m.db.Exec(schemaMigrationsDDL); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	applied, err := m.applied()
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	pending := 0
	for _, mig := range migrations {
		if sum, ok := applied[mig.Version]; ok {
			if sum != mig.Checksum {
				return fmt.Errorf("%w: %03d_%s", ErrChecksumMismatch, mig.Version, mig.Name)
			}
			continue
		}

		m.logger.Info("Applying migration",
			zap.Int("version", mig.Version),
			zap.String("name", mig.Name))
		if err := m.apply(mig); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", mig.Version, err)
		}
		pending++
	}

	m.logger.Info("Database schema up to date",
		zap.Int("applied", pending),
		zap.Int("total", len(migrations)))
	return nil
}

func (m *Migrator) apply(mig Migration) error {
	return m.db.InTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(mig.SQL); err != nil {
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
		_, err := tx.Exec(
			"INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)",
			mig.Version, mig.Name, mig.Checksum,
		)
		if err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		return nil
	})
}

// LoadMigrations reads every .sql file of fsys sorted by version.
// "001_approval_schema.sql" is version 1 named "approval_schema".
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	var migrations []Migration
	seen := map[int]string{}

	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".sql" {
			return nil
		}

		mig, err := parseMigrationName(path.Base(p))
		if err != nil {
			return err
		}
		if prev, dup := seen[mig.Version]; dup {
			return fmt.Errorf("duplicate migration version %d: %s and %s", mig.Version, prev, p)
		}
		seen[mig.Version] = p

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", p, err)
		}
		sum := sha256.Sum256(content)
		mig.SQL = string(content)
		mig.Checksum = hex.EncodeToString(sum[:])

		migrations = append(migrations, mig)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func parseMigrationName(filename string) (Migration, error) {
	prefix, name, ok := strings.Cut(strings.TrimSuffix(filename, ".sql"), "_")
	if !ok || name == "" {
		return Migration{}, fmt.Errorf("invalid migration filename format: %s", filename)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return Migration{}, fmt.Errorf("invalid migration version in %s", filename)
	}
	return Migration{Version: version, Name: name}, nil
}
