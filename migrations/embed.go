// Package migrations embeds the SQL migration files so they can be used
// by the goose programmatic API in tests and server bootstrap.
//
// remote/ holds the Postgres schema of the trip store; cache/ holds the
// SQLite schema of the local cache.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed remote/*.sql cache/*.sql
var embedded embed.FS

// Remote holds the Postgres migrations.
var Remote = mustSub("remote")

// Cache holds the SQLite migrations.
var Cache = mustSub("cache")

func mustSub(dir string) fs.FS {
	sub, err := fs.Sub(embedded, dir)
	if err != nil {
		panic("migrations: " + err.Error())
	}
	return sub
}

// Up applies every pending migration in fsys to db.
func Up(ctx context.Context, dialect goose.Dialect, db *sql.DB, fsys fs.FS) error {
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("migrations.Up: create provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("migrations.Up: %w", err)
	}
	return nil
}
