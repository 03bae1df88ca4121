package fetchsvc

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/evmindex/internal/chaintypes"
	"github.com/goran-ethernal/evmindex/internal/common"
	"github.com/goran-ethernal/evmindex/internal/datasource"
	"github.com/goran-ethernal/evmindex/internal/dictionary"
	"github.com/goran-ethernal/evmindex/internal/logger"
	"github.com/goran-ethernal/evmindex/pkg/config"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	finalizedHeight uint64
}

func (f *fakeChain) ChainID(ctx context.Context) (uint64, error) { return 1, nil }
func (f *fakeChain) HeaderByNumber(ctx context.Context, blockNum *uint64) (*ethtypes.Header, error) {
	return &ethtypes.Header{Number: new(big.Int).SetUint64(*blockNum)}, nil
}
func (f *fakeChain) ResolveFinalizedHeight(ctx context.Context) (uint64, error) {
	return f.finalizedHeight, nil
}
func (f *fakeChain) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]ethtypes.Log, error) {
	return nil, nil
}
func (f *fakeChain) BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]ethtypes.Log, error) {
	return nil, nil
}
func (f *fakeChain) BatchGetHeaders(ctx context.Context, blockNums []uint64) ([]*ethtypes.Header, error) {
	return nil, nil
}
func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash ethcommon.Hash) (*ethtypes.Receipt, error) {
	return nil, nil
}
func (f *fakeChain) IsContractCreation(ctx context.Context, txHash ethcommon.Hash) (bool, error) {
	return false, nil
}
func (f *fakeChain) FetchBlock(ctx context.Context, height uint64, includeTx bool) (*chaintypes.FetchedBlock, error) {
	return nil, nil
}

type fakeDispatcher struct {
	free     int
	enqueued [][]uint64
	dynamic  chan []datasource.DataSource
}

func newFakeDispatcher(free int) *fakeDispatcher {
	return &fakeDispatcher{free: free, dynamic: make(chan []datasource.DataSource, 1)}
}

func (d *fakeDispatcher) FreeSize() int { return d.free }
func (d *fakeDispatcher) EnqueueBlocks(ctx context.Context, heights []uint64) error {
	d.enqueued = append(d.enqueued, heights)
	d.free -= len(heights)
	return nil
}
func (d *fakeDispatcher) FlushQueue(height uint64)                      {}
func (d *fakeDispatcher) UpdateHeightMap(hm *datasource.BlockHeightMap) {}
func (d *fakeDispatcher) DynamicDataSources() <-chan []datasource.DataSource {
	return d.dynamic
}

func newTestService(t *testing.T, disp Dispatcher, chainAPI *fakeChain, sources []*datasource.DataSource) *Service {
	t.Helper()
	cfg := &config.Config{
		FetchService: config.FetchServiceConfig{
			PollInterval:      common.NewDuration(10 * time.Millisecond),
			QueryAddressLimit: 1000,
		},
	}
	return New(cfg, chainAPI, nil, nil, disp, sources, 1, logger.NewNopLogger())
}

func TestService_ComputeBatch_DenseEnumerationWithoutDictionary(t *testing.T) {
	disp := newFakeDispatcher(100)
	s := newTestService(t, disp, &fakeChain{finalizedHeight: 10}, nil)
	s.dictQuerySize = 5

	b, err := s.computeBatch(t.Context(), 1, 10, 100)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3, 4, 5}, b.heights)
	require.Equal(t, uint64(5), b.lastBuffered)
}

func TestService_ComputeBatch_TruncatesToFreeSize(t *testing.T) {
	disp := newFakeDispatcher(2)
	s := newTestService(t, disp, &fakeChain{finalizedHeight: 10}, nil)
	s.dictQuerySize = 5

	b, err := s.computeBatch(t.Context(), 1, 10, 2)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, b.heights)
	// The remainder (3,4,5) is deferred to the next iteration, so the
	// cursor must not advance past what was actually enqueued.
	require.Equal(t, uint64(2), b.lastBuffered)
}

// fakeDictionary answers every height in [StartHeight, LastProcessedHeight]
// with a fixed set of matched heights, modeling a dictionary that has
// already buffered up to some height short of the full query window.
type fakeDictionary struct {
	startHeight         uint64
	lastProcessedHeight uint64
	matched             []uint64
	lastBuffered        uint64
}

func (d *fakeDictionary) UpdateQueriesMap(hm *datasource.BlockHeightMap) {}
func (d *fakeDictionary) GetData(ctx context.Context, start, end uint64, limit int) (*dictionary.Result, error) {
	return &dictionary.Result{MatchedHeights: d.matched, LastBufferedHeight: d.lastBuffered}, nil
}
func (d *fakeDictionary) InitMetadata(ctx context.Context) (*dictionary.Metadata, error) {
	return &dictionary.Metadata{StartHeight: d.startHeight, LastProcessedHeight: d.lastProcessedHeight}, nil
}
func (d *fakeDictionary) Version() int { return 1 }

func TestService_ComputeBatch_ModuloOverlayExtendsPastDictionaryLastBuffered(t *testing.T) {
	disp := newFakeDispatcher(100)
	sources := []*datasource.DataSource{
		{
			Kind:     "modulo",
			Handlers: []datasource.Handler{{Kind: datasource.HandlerBlock, Name: "everyThree", Block: &datasource.ModuloFilter{Every: 3}}},
		},
	}
	s := newTestService(t, disp, &fakeChain{finalizedHeight: 20}, sources)
	s.dictQuerySize = 19
	dict := &fakeDictionary{
		startHeight:         0,
		lastProcessedHeight: 20,
		matched:             []uint64{2, 4, 6, 8, 10},
		lastBuffered:        10,
	}
	s.dict = dict

	b, err := s.computeBatch(t.Context(), 1, 20, 100)
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 3, 4, 6, 8, 9, 10, 12, 15, 18}, b.heights)
	require.Equal(t, uint64(18), b.lastBuffered)
}

func TestService_ComputeBatch_AppliesBypass(t *testing.T) {
	disp := newFakeDispatcher(100)
	s := newTestService(t, disp, &fakeChain{finalizedHeight: 10}, nil)
	s.dictQuerySize = 5
	s.bypassBlocks = []uint64{3}

	b, err := s.computeBatch(t.Context(), 1, 10, 100)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 4, 5}, b.heights)
}

func TestService_Run_StopsOnContextCancel(t *testing.T) {
	disp := newFakeDispatcher(0)
	s := newTestService(t, disp, &fakeChain{finalizedHeight: 0}, nil)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
