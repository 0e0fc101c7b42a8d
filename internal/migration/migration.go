package migration

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/sirupsen/logrus"
)

//go:embed sql/*.sql
var schema embed.FS

// Run brings the database schema up to date. Migrations are embedded SQL
// files applied in filename order, each in its own transaction, and recorded
// in schema_migrations so reruns are no-ops.
func Run(db *sql.DB, logger *logrus.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			filename VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMP DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	done, err := appliedSet(db)
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	files, err := fs.Glob(schema, "sql/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(files)

	pending := 0
	for _, path := range files {
		if done[path] {
			continue
		}
		logger.WithField("migration", path).Info("Applying migration")
		if err := applyOne(db, path); err != nil {
			return err
		}
		pending++
	}

	if pending == 0 {
		logger.Info("Database schema is up to date")
	} else {
		logger.WithField("count", pending).Info("Migrations applied")
	}
	return nil
}

func applyOne(db *sql.DB, path string) error {
	body, err := schema.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read migration %s: %w", path, err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for %s: %w", path, err)
	}
	if _, err := tx.Exec(string(body)); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to execute migration %s: %w", path, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (filename) VALUES ($1)", path); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to record migration %s: %w", path, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", path, err)
	}
	return nil
}

func appliedSet(db *sql.DB) (map[string]bool, error) {
	rows, err := db.Query("SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		done[name] = true
	}
	return done, rows.Err()
}
