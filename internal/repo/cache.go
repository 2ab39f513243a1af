package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers "sqlite" driver for database/sql

	"github.com/pkordes/triplog/internal/domain"
	"github.com/pkordes/triplog/migrations"
)

// LocalCache is the on-host mirror of the trip collection plus the draft
// slot of the active trip. Both are stored as JSON documents per user.
type LocalCache struct {
	db *sql.DB
}

// OpenLocalCache opens (creating if needed) the SQLite cache at path and
// applies the cache migrations.
func OpenLocalCache(ctx context.Context, path string) (*LocalCache, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("repo.OpenLocalCache: open: %w", err)
	}
	// SQLite allows one writer; a single connection serializes access.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("repo.OpenLocalCache: ping: %w", err)
	}
	if err := migrations.Up(ctx, goose.DialectSQLite3, db, migrations.Cache); err != nil {
		db.Close()
		return nil, fmt.Errorf("repo.OpenLocalCache: %w", err)
	}
	return &LocalCache{db: db}, nil
}

// Close releases the database handle.
func (c *LocalCache) Close() error {
	return c.db.Close()
}

// ReadCache returns the cached trips of userID. Entries that cannot be
// decoded are skipped; a cache that is not a JSON array yields
// domain.ErrMalformedState.
func (c *LocalCache) ReadCache(ctx context.Context, userID string) ([]domain.Trip, error) {
	raw, err := c.readCacheRaw(ctx, c.db, userID)
	if err != nil {
		return nil, fmt.Errorf("repo.LocalCache.ReadCache: %w", err)
	}
	if raw == "" {
		return []domain.Trip{}, nil
	}
	trips, _, err := domain.DecodeTrips([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("repo.LocalCache.ReadCache: %w", err)
	}
	return trips, nil
}

// WriteCache replaces the cached trips of userID.
func (c *LocalCache) WriteCache(ctx context.Context, userID string, trips []domain.Trip) error {
	if err := c.writeCache(ctx, c.db, userID, trips); err != nil {
		return fmt.Errorf("repo.LocalCache.WriteCache: %w", err)
	}
	return nil
}

// AppendCached inserts trip into the cache, replacing an entry with the
// same id, and keeps the cache ordered by start time descending.
func (c *LocalCache) AppendCached(ctx context.Context, userID string, trip domain.Trip) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repo.LocalCache.AppendCached: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	raw, err := c.readCacheRaw(ctx, tx, userID)
	if err != nil {
		return fmt.Errorf("repo.LocalCache.AppendCached: %w", err)
	}
	trips := []domain.Trip{}
	if raw != "" {
		// A malformed cache is replaced rather than blocking the append.
		if decoded, _, derr := domain.DecodeTrips([]byte(raw)); derr == nil {
			trips = decoded
		}
	}

	replaced := false
	for i := range trips {
		if trips[i].ID == trip.ID {
			trips[i] = trip
			replaced = true
			break
		}
	}
	if !replaced {
		trips = append(trips, trip)
	}
	sortByStartDesc(trips)

	if err := c.writeCache(ctx, tx, userID, trips); err != nil {
		return fmt.Errorf("repo.LocalCache.AppendCached: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repo.LocalCache.AppendCached: commit: %w", err)
	}
	return nil
}

// ReadDraft returns the serialized active trip of userID, or
// domain.ErrNotFound when there is none. The content is returned raw so the
// caller decides how to handle a malformed draft.
func (c *LocalCache) ReadDraft(ctx context.Context, userID string) ([]byte, error) {
	const q = `SELECT trip FROM trip_draft WHERE user_id = ?`

	var raw string
	err := c.db.QueryRowContext(ctx, q, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repo.LocalCache.ReadDraft: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("repo.LocalCache.ReadDraft: %w", err)
	}
	return []byte(raw), nil
}

// WriteDraft stores trip as the active-trip draft of userID.
func (c *LocalCache) WriteDraft(ctx context.Context, userID string, trip domain.Trip) error {
	const q = `
		INSERT INTO trip_draft (user_id, trip, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET trip = excluded.trip, updated_at = excluded.updated_at`

	trip.SchemaVersion = domain.SchemaVersion
	b, err := json.Marshal(trip)
	if err != nil {
		return fmt.Errorf("repo.LocalCache.WriteDraft: %w", err)
	}
	if _, err := c.db.ExecContext(ctx, q, userID, string(b), stamp()); err != nil {
		return fmt.Errorf("repo.LocalCache.WriteDraft: %w", err)
	}
	return nil
}

// ClearDraft removes the draft of userID. Clearing a missing draft is not an error.
func (c *LocalCache) ClearDraft(ctx context.Context, userID string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM trip_draft WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("repo.LocalCache.ClearDraft: %w", err)
	}
	return nil
}

// sqlExecer is satisfied by *sql.DB and *sql.Tx.
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *LocalCache) readCacheRaw(ctx context.Context, q sqlExecer, userID string) (string, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT trips FROM trip_cache WHERE user_id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return raw, err
}

func (c *LocalCache) writeCache(ctx context.Context, q sqlExecer, userID string, trips []domain.Trip) error {
	const stmt = `
		INSERT INTO trip_cache (user_id, trips, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET trips = excluded.trips, updated_at = excluded.updated_at`

	if trips == nil {
		trips = []domain.Trip{}
	}
	out := make([]domain.Trip, len(trips))
	for i, t := range trips {
		t.SchemaVersion = domain.SchemaVersion
		out[i] = t
	}
	b, err := json.Marshal(out)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, stmt, userID, string(b), stamp())
	return err
}

func stamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
