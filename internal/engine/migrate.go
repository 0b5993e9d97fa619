package engine

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// OpenDB opens a SQLite database, runs migrations, seeds reference data,
// and returns a Store.
func OpenDB(dsn string, resources []Resource, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlx.Open("sqlite3", withForeignKeys(dsn))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// File migrations own the tables that are not schema resources
	if err := runFileMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// Schema migrations: CREATE TABLE IF NOT EXISTS for each resource
	if err := runSchemaMigrations(db, resources, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migrations: %w", err)
	}

	store, err := NewStore(db, resources)
	if err != nil {
		db.Close()
		return nil, err
	}
	bindHooks(store)

	if err := SeedCurrencies(store, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed currencies: %w", err)
	}

	return store, nil
}

// withForeignKeys enables foreign key enforcement on a sqlite DSN.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

func runFileMigrations(db *sqlx.DB) error {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{NoTxWrap: true})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func runSchemaMigrations(db *sqlx.DB, resources []Resource, logger *slog.Logger) error {
	for _, res := range resources {
		sql := res.GenerateCreateSQL()
		logger.Debug("ensuring table", "resource", res.Name)
		if _, err := db.Exec(sql); err != nil {
			return fmt.Errorf("create table %s: %w", res.Name, err)
		}
	}

	// Columns added after the first release. CREATE TABLE IF NOT EXISTS
	// will not add them to existing tables.
	alterStatements := []string{
		`ALTER TABLE assets ADD COLUMN is_convertible INTEGER NOT NULL DEFAULT 0`,
	}
	for _, sql := range alterStatements {
		if _, err := db.Exec(sql); err != nil {
			// "duplicate column" means it already exists
			logger.Debug("alter table (may already exist)", "sql", sql, "error", err)
		}
	}

	return nil
}
