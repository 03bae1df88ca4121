// Package dispatcher implements the bounded block dispatcher: a ring
// buffer of pending heights drained by a fixed-size worker pool, with
// results committed back in strict height order.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/evmindex/internal/datasource"
	"github.com/goran-ethernal/evmindex/internal/logger"
	"github.com/goran-ethernal/evmindex/internal/metadata"
	"github.com/goran-ethernal/evmindex/internal/unfinalized"
	"github.com/goran-ethernal/evmindex/pkg/config"
	"github.com/goran-ethernal/evmindex/pkg/worker"

	"github.com/JekaMas/workerpool"
)

// ErrHandlerFailure is sent, wrapped with the failing height, on the
// Errors() channel when a height fails processing after the handler's own
// retries are exhausted. It is fatal: the dispatcher
// never skips a height, so the caller must stop the fetch loop on this
// error rather than advance past it.
var ErrHandlerFailure = errors.New("dispatcher: handler failed")

const metadataKeyLastProcessed = "lastProcessedHeight"

// Dispatcher fans pending heights out to a fixed pool of workers and
// commits their results back in order.
type Dispatcher struct {
	cfg     *config.DispatcherConfig
	store   *metadata.Store
	tracker *unfinalized.Tracker
	handler worker.Handler
	log     *logger.Logger

	mu        sync.Mutex
	ring      *ring
	heightMap *datasource.BlockHeightMap
	commits   *commitQueue

	pool *workerpool.WorkerPool

	results   chan commitResult
	errCh     chan error
	forkCh    chan uint64
	dynamicDS chan []datasource.DataSource
	done      chan struct{}
}

// New builds a Dispatcher whose commit cursor starts immediately after
// resumeFrom (the last height already persisted).
func New(
	cfg *config.DispatcherConfig,
	store *metadata.Store,
	tracker *unfinalized.Tracker,
	handler worker.Handler,
	heightMap *datasource.BlockHeightMap,
	resumeFrom uint64,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		store:     store,
		tracker:   tracker,
		handler:   handler,
		log:       log.WithComponent("dispatcher"),
		ring:      newRing(cfg.RingBufferSize),
		heightMap: heightMap,
		commits:   newCommitQueue(resumeFrom + 1),
		pool:      workerpool.New(cfg.Workers),
		results:   make(chan commitResult, cfg.CommitQueueSize),
		errCh:     make(chan error, 1),
		forkCh:    make(chan uint64, 1),
		dynamicDS: make(chan []datasource.DataSource, 1),
		done:      make(chan struct{}),
	}
}

// FreeSize reports how many more heights can be enqueued before the ring
// buffer is full. The fetch service must never enqueue more than this.
func (d *Dispatcher) FreeSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ring.FreeSize()
}

// EnqueueBlocks pushes heights into the ring buffer and submits one worker
// task per height. It never blocks: if there isn't room it returns an
// error instead of waiting or silently dropping anything.
func (d *Dispatcher) EnqueueBlocks(ctx context.Context, heights []uint64) error {
	d.mu.Lock()
	if len(heights) > d.ring.FreeSize() {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher: cannot enqueue %d heights, only %d free", len(heights), d.ring.FreeSize())
	}
	d.ring.Push(heights)
	ringPending.Set(float64(d.ring.Len()))
	d.mu.Unlock()

	for _, h := range heights {
		height := h
		d.pool.Submit(ctx, func() error {
			d.processOne(ctx, height)
			return nil
		})
	}
	return nil
}

// UpdateHeightMap swaps the BlockHeightMap used to resolve active data
// sources, used when a handler registers a dynamic data source or the
// fetch service reloads its configuration.
func (d *Dispatcher) UpdateHeightMap(hm *datasource.BlockHeightMap) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.heightMap = hm
}

// FlushQueue discards every pending, not-yet-started height above height.
// Used on a fork rewind: work already in flight for heights above the
// rewind target would only be discarded once it completes, since workers
// already running cannot be cancelled mid-flight.
func (d *Dispatcher) FlushQueue(height uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ring.DiscardAbove(height)
}

// Errors returns the channel that receives ErrHandlerFailure (wrapped with
// the failing height) the first time a worker exhausts its retries.
func (d *Dispatcher) Errors() <-chan error {
	return d.errCh
}

// Committed returns the channel of in-order commit results, for callers
// that want to observe progress.
func (d *Dispatcher) Committed() <-chan commitResult {
	return d.results
}

// Forks reports a fork-rewind target whenever the unfinalized tracker
// detects one during a commit. The fetch service must rewind its cursor to
// the reported height and call FlushQueue before resuming.
func (d *Dispatcher) Forks() <-chan uint64 {
	return d.forkCh
}

// DynamicDataSources reports any new data sources a handler registered
// while processing a block, so the fetch service can rebuild its
// BlockHeightMap and rewind to cover them from their own StartBlock.
func (d *Dispatcher) DynamicDataSources() <-chan []datasource.DataSource {
	return d.dynamicDS
}

// Stop waits for all submitted tasks to finish and releases the pool.
func (d *Dispatcher) Stop() {
	d.pool.StopWait()
	close(d.done)
}

func (d *Dispatcher) processOne(ctx context.Context, height uint64) {
	d.mu.Lock()
	active := d.heightMap.ActiveAt(height)
	d.mu.Unlock()

	names := make([]string, len(active))
	for i, ds := range active {
		names[i] = ds.Kind
	}

	result, err := d.handler.Handle(ctx, worker.ProcessBlockMsg{Height: height, DataSources: names})
	if err != nil {
		handlerFailures.Inc()
		select {
		case d.errCh <- fmt.Errorf("%w: height %d: %v", ErrHandlerFailure, height, err):
		default:
		}
		return
	}

	if err := d.commit(ctx, height, result); err != nil {
		handlerFailures.Inc()
		select {
		case d.errCh <- fmt.Errorf("%w: height %d: commit: %v", ErrHandlerFailure, height, err):
		default:
		}
		return
	}

	if len(result.DynamicDS) > 0 {
		select {
		case d.dynamicDS <- result.DynamicDS:
		default:
		}
	}
}

// commit runs the in-order bookkeeping spec.md requires once a worker
// finishes a height: register it as unfinalized (unless it's already
// behind the finalized tip), persist lastProcessedHeight, and commit, all
// inside the height's own transaction. Out-of-order completions are
// parked by the commit queue until the gap below them closes.
func (d *Dispatcher) commit(ctx context.Context, height uint64, result worker.ProcessBlockResult) error {
	d.mu.Lock()
	ready := d.commits.Ready(commitResult{height: height, hash: result.Hash})
	d.mu.Unlock()

	for _, r := range ready {
		if err := d.commitOne(ctx, r.height, r.hash); err != nil {
			return err
		}
		blocksCommitted.Inc()

		d.mu.Lock()
		d.ring.Remove(r.height)
		ringPending.Set(float64(d.ring.Len()))
		d.mu.Unlock()

		select {
		case d.results <- r:
		default:
		}
	}
	return nil
}

func (d *Dispatcher) commitOne(ctx context.Context, height uint64, hash string) error {
	tx, err := d.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	newBlock := &unfinalized.Record{Height: height, Hash: common.HexToHash(hash)}
	rewind, err := d.tracker.ProcessUnfinalizedBlocks(ctx, tx, newBlock)
	if err != nil {
		return fmt.Errorf("process unfinalized: %w", err)
	}
	if err := metadata.Upsert(ctx, tx, metadataKeyLastProcessed, height); err != nil {
		return fmt.Errorf("persist lastProcessedHeight: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	if rewind != nil {
		d.FlushQueue(*rewind)
		select {
		case d.forkCh <- *rewind:
		default:
		}
	}
	return nil
}

// LastProcessedHeight reads the persisted commit cursor, used on startup
// to resume the dispatcher and the fetch service's batch cursor together.
func LastProcessedHeight(ctx context.Context, store *metadata.Store) (uint64, error) {
	var height uint64
	if err := store.Read(ctx, metadataKeyLastProcessed, &height); err != nil {
		if errors.Is(err, metadata.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read lastProcessedHeight: %w", err)
	}
	return height, nil
}
