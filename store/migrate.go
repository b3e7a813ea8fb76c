package store

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

// Migrate applies every pending migration. 000 creates schema_migrations
// and must run first.
func Migrate(db *sql.DB) error {
	entries, err := migrations.ReadDir("sqlite/migrations")
	if err != nil {
		return fmt.Errorf("store: read migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, filename := range files {
		version := strings.Split(filename, "_")[0]

		var exists bool
		err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
		if err != nil {
			if version != "000" {
				return fmt.Errorf("store: schema_migrations missing before %s: %w", filename, err)
			}
		} else if exists {
			slog.Debug("store: skipping migration", "migration", filename)
			continue
		}

		body, err := migrations.ReadFile(path.Join("sqlite/migrations", filename))
		if err != nil {
			return fmt.Errorf("store: read %s: %w", filename, err)
		}

		slog.Info("store: applying migration", "migration", filename, "version", version)
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin %s: %w", filename, err)
		}
		if _, err := tx.Exec(string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: execute %s: %w", filename, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record %s: %w", filename, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit %s: %w", filename, err)
		}
	}
	return nil
}

// OpenAndMigrate is the usual startup path.
func OpenAndMigrate(dbPath string) (*sql.DB, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
