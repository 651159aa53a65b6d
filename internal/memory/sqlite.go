package memory

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open opens (creating if absent) memory.db and applies any pending
// embedded migrations. Mirrors internal/store's Open/migrate pair —
// memory lives in its own database file (§6.3) so its FTS5 virtual
// table never shares a writer lock with the message queue.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	defer src.Close()

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return err
	}

	var applied int64
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&applied); err != nil {
		return err
	}

	version, err := src.First()
	if err != nil {
		if errors.Is(err, source.ErrNotExist) {
			return nil
		}
		return err
	}

	for {
		if int64(version) > applied {
			if err := applyOne(db, src, version); err != nil {
				return fmt.Errorf("apply migration %d: %w", version, err)
			}
		}
		next, err := src.Next(version)
		if err != nil {
			if errors.Is(err, source.ErrNotExist) {
				break
			}
			return err
		}
		version = next
	}
	return nil
}

func applyOne(db *sql.DB, src source.Driver, version uint) error {
	r, err := src.ReadUp(version)
	if err != nil {
		return err
	}
	defer r.Close()
	sqlBytes, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(sqlBytes)); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, version); err != nil {
		return err
	}
	return tx.Commit()
}
