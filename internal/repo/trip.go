// Package repo contains all persistence logic for the trip log: the remote
// Postgres trip store and the local SQLite cache.
// No business logic lives here, only SQL and type mapping.
package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pkordes/triplog/internal/domain"
)

// MaxBatchSize is the largest number of updates BatchUpdate accepts in one
// atomic write group.
const MaxBatchSize = 500

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Accepting this interface instead of *pgxpool.Pool directly allows integration
// tests to pass a transaction that is rolled back after each test.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TripUpdate carries the fields reconciliation may change on a sealed trip.
type TripUpdate struct {
	DocID            string
	Distance         float64
	DistanceSource   domain.DistanceSource
	RouteCoordinates []domain.GeoPoint
}

// TripStore is the remote store of finalized trips and per-user state.
// The service layer depends on this interface, not the concrete Postgres
// implementation, which allows it to be unit-tested with a mock.
type TripStore interface {
	// ListTrips returns all trips of userID ordered by start time descending.
	ListTrips(ctx context.Context, userID string) ([]domain.Trip, error)

	// AppendTrip stores a finalized trip and returns its document id.
	// Appending the same trip id twice returns the existing document id.
	AppendTrip(ctx context.Context, userID string, trip domain.Trip) (string, error)

	// BatchUpdate applies updates atomically. It rejects more than
	// MaxBatchSize entries with domain.ErrValidation.
	BatchUpdate(ctx context.Context, userID string, updates []TripUpdate) error

	// LoadUserState returns the user's state document, empty when none exists.
	LoadUserState(ctx context.Context, userID string) (domain.UserState, error)

	// SaveUserState merges the non-empty keys of partial into the stored state.
	SaveUserState(ctx context.Context, userID string, partial domain.UserState) error
}

// pgTripStore is the Postgres implementation of TripStore.
type pgTripStore struct {
	db db
}

// NewTripStore constructs a TripStore backed by the provided db connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx for rollback isolation.
func NewTripStore(db db) TripStore {
	return &pgTripStore{db: db}
}

const tripColumns = `doc_id, trip_id, start_time, end_time, start_location, end_location,
	start_address, end_address, route_coordinates, distance, distance_source`

// ListTrips returns the trips of one user, most recent first.
func (s *pgTripStore) ListTrips(ctx context.Context, userID string) ([]domain.Trip, error) {
	q := `SELECT ` + tripColumns + `
		FROM trips
		WHERE user_id = @user_id
		ORDER BY start_time DESC`

	rows, err := s.db.Query(ctx, q, pgx.NamedArgs{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("repo.TripStore.ListTrips: %w", err)
	}
	defer rows.Close()

	trips := []domain.Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.TripStore.ListTrips: scan: %w", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.TripStore.ListTrips: rows: %w", err)
	}
	return trips, nil
}

// AppendTrip inserts a trip row and returns its doc_id.
func (s *pgTripStore) AppendTrip(ctx context.Context, userID string, trip domain.Trip) (string, error) {
	const q = `
		INSERT INTO trips (doc_id, user_id, trip_id, schema_version, start_time, end_time,
		                   start_location, end_location, start_address, end_address,
		                   route_coordinates, distance, distance_source)
		VALUES (@doc_id, @user_id, @trip_id, @schema_version, @start_time, @end_time,
		        @start_location, @end_location, @start_address, @end_address,
		        @route_coordinates, @distance, @distance_source)
		ON CONFLICT (user_id, trip_id) DO UPDATE SET updated_at = now()
		RETURNING doc_id`

	route, err := encodeRoute(trip.RouteCoordinates)
	if err != nil {
		return "", fmt.Errorf("repo.TripStore.AppendTrip: %w", err)
	}

	args := pgx.NamedArgs{
		"doc_id":            uuid.New(),
		"user_id":           userID,
		"trip_id":           trip.ID,
		"schema_version":    domain.SchemaVersion,
		"start_time":        trip.StartTime,
		"end_time":          trip.EndTime, // nil becomes NULL
		"start_location":    encodePoint(trip.StartLocation),
		"end_location":      encodePoint(trip.EndLocation),
		"start_address":     trip.StartAddress,
		"end_address":       trip.EndAddress,
		"route_coordinates": route,
		"distance":          trip.Distance,
		"distance_source":   string(sourceOrDefault(trip.DistanceSource)),
	}

	var docID pgtype.UUID
	if err := s.db.QueryRow(ctx, q, args).Scan(&docID); err != nil {
		return "", fmt.Errorf("repo.TripStore.AppendTrip: %w", err)
	}
	return uuid.UUID(docID.Bytes).String(), nil
}

// BatchUpdate writes all updates in one transaction using a pgx.Batch.
// A missing document fails the whole batch with domain.ErrNotFound.
func (s *pgTripStore) BatchUpdate(ctx context.Context, userID string, updates []TripUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	if len(updates) > MaxBatchSize {
		return fmt.Errorf("repo.TripStore.BatchUpdate: %w: %d updates exceed batch size %d",
			domain.ErrValidation, len(updates), MaxBatchSize)
	}

	const q = `
		UPDATE trips
		SET distance          = @distance,
		    distance_source   = @distance_source,
		    route_coordinates = @route_coordinates,
		    updated_at        = now()
		WHERE doc_id = @doc_id AND user_id = @user_id`

	batch := &pgx.Batch{}
	for _, u := range updates {
		id, err := uuid.Parse(u.DocID)
		if err != nil {
			return fmt.Errorf("repo.TripStore.BatchUpdate: %w: doc id %q", domain.ErrValidation, u.DocID)
		}
		route, err := encodeRoute(u.RouteCoordinates)
		if err != nil {
			return fmt.Errorf("repo.TripStore.BatchUpdate: %w", err)
		}
		batch.Queue(q, pgx.NamedArgs{
			"doc_id":            id,
			"user_id":           userID,
			"distance":          u.Distance,
			"distance_source":   string(sourceOrDefault(u.DistanceSource)),
			"route_coordinates": route,
		})
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repo.TripStore.BatchUpdate: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := execBatch(ctx, tx, batch, updates); err != nil {
		return fmt.Errorf("repo.TripStore.BatchUpdate: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("repo.TripStore.BatchUpdate: commit: %w", err)
	}
	return nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, updates []TripUpdate) error {
	br := tx.SendBatch(ctx, batch)
	defer br.Close()

	for _, u := range updates {
		tag, err := br.Exec()
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("doc %s: %w", u.DocID, domain.ErrNotFound)
		}
	}
	return br.Close()
}

// LoadUserState reads the state document of userID.
func (s *pgTripStore) LoadUserState(ctx context.Context, userID string) (domain.UserState, error) {
	const q = `SELECT state FROM user_state WHERE user_id = @user_id`

	var raw []byte
	err := s.db.QueryRow(ctx, q, pgx.NamedArgs{"user_id": userID}).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserState{}, nil
	}
	if err != nil {
		return domain.UserState{}, fmt.Errorf("repo.TripStore.LoadUserState: %w", err)
	}

	var state domain.UserState
	if err := json.Unmarshal(raw, &state); err != nil {
		return domain.UserState{}, fmt.Errorf("repo.TripStore.LoadUserState: %w: %v", domain.ErrMalformedState, err)
	}
	return state, nil
}

// SaveUserState upserts the state document, merging top-level keys with
// the JSONB concatenation operator.
func (s *pgTripStore) SaveUserState(ctx context.Context, userID string, partial domain.UserState) error {
	const q = `
		INSERT INTO user_state (user_id, state)
		VALUES (@user_id, @state)
		ON CONFLICT (user_id) DO UPDATE
		SET state      = user_state.state || EXCLUDED.state,
		    updated_at = now()`

	state, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("repo.TripStore.SaveUserState: %w", err)
	}
	if _, err := s.db.Exec(ctx, q, pgx.NamedArgs{"user_id": userID, "state": state}); err != nil {
		return fmt.Errorf("repo.TripStore.SaveUserState: %w", err)
	}
	return nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing scanTrip to be
// reused for both QueryRow and Query calls.
type scanner interface {
	Scan(dest ...any) error
}

// scanTrip maps a single database row into a domain.Trip. JSONB columns go
// through the same point decoding as cached content, so rows written by
// older clients are normalized on read.
func scanTrip(s scanner) (domain.Trip, error) {
	var (
		t          domain.Trip
		docID      pgtype.UUID
		endTime    pgtype.Timestamptz
		startLoc   []byte
		endLoc     []byte
		route      []byte
		sourceText string
	)

	err := s.Scan(&docID, &t.ID, &t.StartTime, &endTime, &startLoc, &endLoc,
		&t.StartAddress, &t.EndAddress, &route, &t.Distance, &sourceText)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trip{}, domain.ErrNotFound
		}
		return domain.Trip{}, err
	}

	t.SchemaVersion = domain.SchemaVersion
	t.DocID = uuid.UUID(docID.Bytes).String()
	if endTime.Valid {
		et := endTime.Time
		t.EndTime = &et
	}
	t.StartLocation = domain.DecodePoint(startLoc)
	t.EndLocation = domain.DecodePoint(endLoc)
	t.RouteCoordinates = decodeRoute(route)
	t.DistanceSource = sourceOrDefault(domain.DistanceSource(sourceText))
	return t, nil
}

func encodePoint(p *domain.GeoPoint) []byte {
	if p == nil {
		return nil
	}
	b, _ := json.Marshal(p)
	return b
}

func encodeRoute(points []domain.GeoPoint) ([]byte, error) {
	if points == nil {
		points = []domain.GeoPoint{}
	}
	return json.Marshal(points)
}

func decodeRoute(raw []byte) []domain.GeoPoint {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []domain.GeoPoint{}
	}
	out := make([]domain.GeoPoint, 0, len(items))
	for _, item := range items {
		if p := domain.DecodePoint(item); p != nil {
			out = append(out, *p)
		}
	}
	return out
}

func sourceOrDefault(s domain.DistanceSource) domain.DistanceSource {
	if s == domain.SourceRouted {
		return domain.SourceRouted
	}
	return domain.SourceGPS
}
