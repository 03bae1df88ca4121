// Package metadata implements the generic key-value persistence contract
// used by the unfinalized blocks tracker and the fetch service cursor:
// arbitrary JSON-encodable values keyed by a string, upserted and read
// inside the caller's own transaction so state survives alongside whatever
// else that transaction commits.
package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goran-ethernal/evmindex/internal/logger"
	"github.com/russross/meddler"
)

// ErrNotFound is returned by Read when no row exists for the given key.
var ErrNotFound = errors.New("metadata: key not found")

// record is the meddler-mapped row backing the metadata table.
type record struct {
	Key       string `meddler:"key,pk"`
	Value     string `meddler:"value"`
	UpdatedAt int64  `meddler:"updated_at"`
}

// Querier is satisfied by *sql.DB and *sql.Tx, letting Store operate either
// standalone or inside a caller-managed transaction.
type Querier interface {
	meddler.DB
}

// Store is the metadata key-value contract: Upsert persists an
// arbitrary value under a key, Read retrieves and decodes it.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// NewStore builds a metadata Store over the given database handle.
func NewStore(db *sql.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log.WithComponent("metadata-store")}
}

// DB returns the underlying *sql.DB, used by callers that need to open their
// own transaction spanning metadata writes and other tables.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Upsert writes value (JSON-marshaled) under key using q, which may be the
// store's own *sql.DB or a transaction the caller is already committing
// other writes through.
func Upsert(ctx context.Context, q Querier, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("metadata: marshal %q: %w", key, err)
	}

	rec := record{Key: key, Value: string(payload), UpdatedAt: time.Now().Unix()}
	if err := meddler.Update(q, "metadata", &rec); err != nil {
		// meddler.Update issues UPDATE; a never-before-seen key has no row to
		// update, so fall back to INSERT.
		if insertErr := meddler.Insert(q, "metadata", &rec); insertErr != nil {
			return fmt.Errorf("metadata: upsert %q: update=%v insert=%w", key, err, insertErr)
		}
	}
	return nil
}

// Read decodes the value stored under key into dest (a pointer), returning
// ErrNotFound if no row exists.
func Read(ctx context.Context, q Querier, key string, dest any) error {
	var rec record
	err := meddler.QueryRow(q, &rec, "SELECT * FROM metadata WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("metadata: read %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(rec.Value), dest); err != nil {
		return fmt.Errorf("metadata: decode %q: %w", key, err)
	}
	return nil
}

// Upsert is a convenience wrapper around the package-level Upsert using the
// store's own database handle (no caller-managed transaction).
func (s *Store) Upsert(ctx context.Context, key string, value any) error {
	return Upsert(ctx, s.db, key, value)
}

// Read is a convenience wrapper around the package-level Read using the
// store's own database handle.
func (s *Store) Read(ctx context.Context, key string, dest any) error {
	return Read(ctx, s.db, key, dest)
}
