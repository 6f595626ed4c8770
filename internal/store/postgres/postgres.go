// Package postgres implements internal/store's capabilities over
// Postgres via jmoiron/sqlx and lib/pq, following the teacher's
// infrastructure/repositories package: one struct per logical table, each
// holding only a *sqlx.DB, with golang-migrate/migrate/v4 driving schema
// evolution the way the teacher's database package does.
package postgres

import (
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/auditrail/auditrail/internal/config"
)

// Connect opens a sqlx connection pool per cfg, mirroring the teacher's
// database.NewConnection pool tuning.
func Connect(cfg config.Database) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	db.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 25))
	db.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 5))
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	return db, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// RunMigrations applies every migration under migrationsPath, mirroring
// the teacher's RunMigrations bootstrap step in internal/app.
func RunMigrations(databaseURL, migrationsPath string) error {
	m, err := migrate.New("file://"+migrationsPath, databaseURL)
	if err != nil {
		return fmt.Errorf("initializing migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Store bundles the audit and retention repositories into
// internal/store.Store's capability surface; the other repositories are
// built separately.
type Store struct {
	*AuditRepository
	*RetentionRepository
}

// New builds a Store over db.
func New(db *sqlx.DB) *Store {
	return &Store{
		AuditRepository:     NewAuditRepository(db),
		RetentionRepository: NewRetentionRepository(db),
	}
}
