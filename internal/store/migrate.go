package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/gram/internal/errs"
	"github.com/matheus3301/gram/internal/store/migrations"
)

// MigrateResult reports the schema version before and after Migrate.
type MigrateResult struct {
	From    uint
	Version uint
	Changed bool
}

// Migrate brings the schema up to the latest embedded migration. A database
// left dirty by an interrupted migration is refused.
func (db *DB) Migrate() (*MigrateResult, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migration instance: %w", err)
	}

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		from = 0
	case err != nil:
		return nil, fmt.Errorf("read schema version: %w", err)
	case dirty:
		return nil, fmt.Errorf("schema version %d: %w: dirty migration", from, errs.ErrCorrupt)
	}

	res := &MigrateResult{From: from, Version: from}
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return res, nil
		}
		return nil, fmt.Errorf("migrate up from %d: %w", from, err)
	}
	res.Changed = true
	if v, _, err := m.Version(); err == nil {
		res.Version = v
	}
	return res, nil
}
