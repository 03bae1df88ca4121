package metadata

import (
	"database/sql"
	"testing"

	"github.com/goran-ethernal/evmindex/internal/db"
	"github.com/goran-ethernal/evmindex/internal/logger"
	"github.com/goran-ethernal/evmindex/internal/metadata/migrations"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	path := t.TempDir() + "/metadata.db"
	require.NoError(t, migrations.RunMigrations(path))

	conn, err := db.NewSQLiteDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewStore(conn, logger.NewNopLogger()), conn
}

type cursor struct {
	Height uint64 `json:"height"`
}

func TestStore_UpsertThenRead(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Upsert(ctx, "cursor", cursor{Height: 100}))

	var got cursor
	require.NoError(t, store.Read(ctx, "cursor", &got))
	require.Equal(t, uint64(100), got.Height)
}

func TestStore_UpsertOverwrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := t.Context()

	require.NoError(t, store.Upsert(ctx, "cursor", cursor{Height: 1}))
	require.NoError(t, store.Upsert(ctx, "cursor", cursor{Height: 2}))

	var got cursor
	require.NoError(t, store.Read(ctx, "cursor", &got))
	require.Equal(t, uint64(2), got.Height)
}

func TestStore_ReadMissingKey(t *testing.T) {
	store, _ := newTestStore(t)
	var got cursor
	err := store.Read(t.Context(), "missing", &got)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpsertInsideTransaction(t *testing.T) {
	store, conn := newTestStore(t)
	ctx := t.Context()

	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, Upsert(ctx, tx, "inTx", cursor{Height: 7}))
	require.NoError(t, tx.Commit())

	var got cursor
	require.NoError(t, store.Read(ctx, "inTx", &got))
	require.Equal(t, uint64(7), got.Height)
}
