// Package recordstore persists completed deployments in SQLite.
package recordstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fyrsmithlabs/mcpforge/internal/orchestrator"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("record not found")

// Entry is a stored deployment record.
type Entry struct {
	ID        string
	Record    orchestrator.Record
	CreatedAt time.Time
}

// Store implements orchestrator.RecordStore.
type Store struct {
	db *sql.DB
}

// Open opens the database at dsn and applies the schema. Use ":memory:" for
// a throwaway store.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = "sqlite3"
	}
	if dsn == "" {
		return nil, errors.New("record store DSN is required")
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// SQLite writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// SaveRecord inserts rec and returns its generated id.
func (s *Store) SaveRecord(ctx context.Context, rec orchestrator.Record) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deployments (id, owner_id, name, endpoint, description, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, rec.OwnerID, rec.Name, rec.Endpoint, rec.Description, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert record: %w", err)
	}
	return id, nil
}

// Get returns the record with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, name, endpoint, description, created_at FROM deployments WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return e, nil
}

// ListByOwner returns ownerID's records, newest first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, name, endpoint, description, created_at FROM deployments
		 WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var e Entry
	if err := sc.Scan(&e.ID, &e.Record.OwnerID, &e.Record.Name, &e.Record.Endpoint, &e.Record.Description, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

var _ orchestrator.RecordStore = (*Store)(nil)
