package postgres

import (
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

// migrationLogger forwards golang-migrate output to slog.
type migrationLogger struct{}

func (migrationLogger) Printf(format string, v ...any) {
	slog.Debug("Migration", "message", strings.TrimRight(fmt.Sprintf(format, v...), "\n"))
}

func (migrationLogger) Verbose() bool {
	return false
}

// Migrate brings the schema of db up to the latest version.
// The migrate instance is not closed, since closing it would close db.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "failed to load migrations")
	}

	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return errors.Wrap(err, "failed to create migration driver")
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return errors.Wrap(err, "failed to create migrator")
	}
	m.Log = migrationLogger{}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return errors.Wrap(err, "failed to read schema version")
	}
	slog.Info("Applying migrations", "from", version, "dirty", dirty)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "failed to apply migrations")
	}

	version, _, err = m.Version()
	if err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}
	slog.Info("Schema is up to date", "version", version)
	return nil
}
