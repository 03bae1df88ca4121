package unfinalized

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/evmindex/internal/chaintypes"
	"github.com/goran-ethernal/evmindex/internal/db"
	"github.com/goran-ethernal/evmindex/internal/logger"
	"github.com/goran-ethernal/evmindex/internal/metadata"
	"github.com/goran-ethernal/evmindex/internal/metadata/migrations"
	"github.com/stretchr/testify/require"
)

var errHeaderNotFound = errors.New("header not found")

// fakeChain implements chain.API with only HeaderByNumber wired up; the
// fork-detection algorithm under test never calls the other methods.
type fakeChain struct {
	headers map[uint64]*ethtypes.Header
}

func (f *fakeChain) ChainID(ctx context.Context) (uint64, error) { return 1, nil }

func (f *fakeChain) HeaderByNumber(ctx context.Context, blockNum *uint64) (*ethtypes.Header, error) {
	if blockNum == nil {
		return nil, errHeaderNotFound
	}
	h, ok := f.headers[*blockNum]
	if !ok {
		return nil, errHeaderNotFound
	}
	return h, nil
}

func (f *fakeChain) ResolveFinalizedHeight(ctx context.Context) (uint64, error) { return 0, nil }

func (f *fakeChain) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]ethtypes.Log, error) {
	return nil, nil
}

func (f *fakeChain) BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]ethtypes.Log, error) {
	return nil, nil
}

func (f *fakeChain) BatchGetHeaders(ctx context.Context, blockNums []uint64) ([]*ethtypes.Header, error) {
	return nil, nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	return nil, nil
}

func (f *fakeChain) IsContractCreation(ctx context.Context, txHash common.Hash) (bool, error) {
	return false, nil
}

func (f *fakeChain) FetchBlock(ctx context.Context, height uint64, includeTx bool) (*chaintypes.FetchedBlock, error) {
	return nil, nil
}

func newTestTracker(t *testing.T) (*Tracker, *fakeChain) {
	t.Helper()
	path := t.TempDir() + "/unfinalized.db"
	require.NoError(t, migrations.RunMigrations(path))

	conn, err := db.NewSQLiteDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	store := metadata.NewStore(conn, logger.NewNopLogger())
	fc := &fakeChain{headers: map[uint64]*ethtypes.Header{}}
	return NewTracker(store, fc, logger.NewNopLogger()), fc
}

func header(number uint64, parent common.Hash, salt byte) *ethtypes.Header {
	return &ethtypes.Header{
		Number:     new(big.Int).SetUint64(number),
		ParentHash: parent,
		Extra:      []byte{salt},
	}
}

func TestTracker_RegisterUnfinalized_EnforcesSequence(t *testing.T) {
	tr, _ := newTestTracker(t)

	require.NoError(t, tr.RegisterUnfinalized(10, common.HexToHash("0x1")))
	require.NoError(t, tr.RegisterUnfinalized(11, common.HexToHash("0x2")))

	err := tr.RegisterUnfinalized(13, common.HexToHash("0x3"))
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestTracker_RegisterUnfinalized_DropsFinalizedHeights(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.RegisterFinalized(header(100, common.Hash{}, 0))

	require.NoError(t, tr.RegisterUnfinalized(50, common.HexToHash("0x1")))
	require.Empty(t, tr.unfinalized)
}

func TestTracker_RegisterFinalized_Monotonic(t *testing.T) {
	tr, _ := newTestTracker(t)
	tr.RegisterFinalized(header(100, common.Hash{}, 0))
	tr.RegisterFinalized(header(50, common.Hash{}, 0))
	require.Equal(t, uint64(100), tr.finalizedHeader.Number.Uint64())
}

func TestTracker_ProcessUnfinalizedBlocks_NoForkPrunesFinalized(t *testing.T) {
	tr, _ := newTestTracker(t)
	h100 := header(100, common.Hash{}, 1)

	require.NoError(t, tr.RegisterUnfinalized(100, h100.Hash()))
	require.NoError(t, tr.RegisterUnfinalized(101, common.HexToHash("0x2")))
	tr.RegisterFinalized(h100)

	tx, err := tr.store.DB().BeginTx(t.Context(), nil)
	require.NoError(t, err)
	rewind, err := tr.ProcessUnfinalizedBlocks(t.Context(), tx, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Nil(t, rewind)
	require.Len(t, tr.unfinalized, 1)
	require.Equal(t, uint64(101), tr.unfinalized[0].Height)
}

func TestTracker_ProcessUnfinalizedBlocks_DetectsForkAtFinalizedHeight(t *testing.T) {
	tr, _ := newTestTracker(t)
	h100 := header(100, common.Hash{}, 1)

	require.NoError(t, tr.RegisterUnfinalized(100, common.HexToHash("0xdead")))
	tr.RegisterFinalized(h100)

	tx, err := tr.store.DB().BeginTx(t.Context(), nil)
	require.NoError(t, err)
	rewind, err := tr.ProcessUnfinalizedBlocks(t.Context(), tx, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NotNil(t, rewind)
}
