// Package database persists conversion job history in SQLite so the
// record of what was transcoded, when, and for whom survives a
// gateway restart. The gateway runs fine without it.
package database

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"vodgate/work/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DB is the job history store.
type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the history database at path and
// brings its schema up to date.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL keeps job writes from blocking the stats reads; the busy
	// timeout covers the rare overlap with a checkpoint.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=3000&_foreign_keys=ON"
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Job history is low-traffic; a handful of connections is plenty.
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)

	db := &DB{DB: sqlDB}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("{database/database - Open} Job history database ready at %s", path)
	return db, nil
}

// migrate applies any embedded migration files not yet recorded in
// schema_migrations, in filename order, each in its own transaction.
func (db *DB) migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		// Filenames are NNN_description.sql; NNN is the version.
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			return fmt.Errorf("migration %s has no numeric prefix: %w", name, err)
		}

		var applied bool
		if err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if applied {
			continue
		}

		content, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}

		logger.Info("{database/database - migrate} Applied migration %s", name)
	}
	return nil
}

// Close closes the underlying connection pool.
func (db *DB) Close() error {
	return db.DB.Close()
}

// GetStats reports row counts and file size for the stats endpoint.
func (db *DB) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM conversion_jobs").Scan(&count); err != nil {
		return nil, fmt.Errorf("count conversion_jobs: %w", err)
	}
	stats["conversion_jobs_count"] = count

	var pageCount, pageSize int64
	if err := db.QueryRow("PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := db.QueryRow("PRAGMA page_size").Scan(&pageSize); err == nil {
			stats["database_size_bytes"] = pageCount * pageSize
		}
	}

	return stats, nil
}
