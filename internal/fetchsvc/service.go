// Package fetchsvc drives the main fetch loop: it tracks the finalized
// chain tip, computes per-iteration batches of block heights, and hands
// them to the dispatcher, applying backpressure when the dispatcher or the
// chain itself isn't ready.
package fetchsvc

import (
	"context"
	"sync"
	"time"

	"github.com/goran-ethernal/evmindex/internal/chain"
	"github.com/goran-ethernal/evmindex/internal/datasource"
	"github.com/goran-ethernal/evmindex/internal/dictionary"
	"github.com/goran-ethernal/evmindex/internal/logger"
	"github.com/goran-ethernal/evmindex/internal/unfinalized"
	"github.com/goran-ethernal/evmindex/pkg/config"
)

// state enumerates the main loop's coarse phases, logged at debug level on
// every transition for operator visibility.
type state string

const (
	stateIdle      state = "idle"
	stateFetching  state = "fetching"
	stateEnqueuing state = "enqueuing"
	stateShutdown  state = "shutdown"
)

// Dispatcher is the subset of dispatcher.Dispatcher the fetch service
// drives, kept as an interface so tests can substitute a fake.
type Dispatcher interface {
	FreeSize() int
	EnqueueBlocks(ctx context.Context, heights []uint64) error
	FlushQueue(height uint64)
	UpdateHeightMap(hm *datasource.BlockHeightMap)
	DynamicDataSources() <-chan []datasource.DataSource
}

// Service runs the single-threaded fetch loop described in spec.md's
// fetch-service section.
type Service struct {
	cfg     *config.Config
	chain   chain.API
	dict    dictionary.Dictionary
	tracker *unfinalized.Tracker
	disp    Dispatcher
	log     *logger.Logger

	dictQuerySize     uint64
	bypassBlocks      []uint64
	queryAddressLimit int

	mu          sync.RWMutex
	state       state
	hm          *datasource.BlockHeightMap
	sources     []*datasource.DataSource
	nextHeight  uint64
	finalized   uint64
	tipUpdateCh chan struct{}

	interval *intervalEstimator
}

// New builds a fetch service ready to Run. resumeFrom is the height to
// resume from (lastProcessedHeight + 1), sources are the initial data
// sources the BlockHeightMap is built from.
func New(
	cfg *config.Config,
	chainAPI chain.API,
	dict dictionary.Dictionary,
	tracker *unfinalized.Tracker,
	disp Dispatcher,
	sources []*datasource.DataSource,
	resumeFrom uint64,
	log *logger.Logger,
) *Service {
	querySize := uint64(1000)
	var bypass []uint64
	if cfg.Dictionary != nil {
		if cfg.Dictionary.QuerySize > 0 {
			querySize = cfg.Dictionary.QuerySize
		}
		bypass = cfg.Dictionary.BypassBlocks
	}

	return &Service{
		cfg:               cfg,
		chain:             chainAPI,
		dict:              dict,
		tracker:           tracker,
		disp:              disp,
		log:               log.WithComponent("fetchsvc"),
		dictQuerySize:     querySize,
		bypassBlocks:      bypass,
		queryAddressLimit: cfg.FetchService.QueryAddressLimit,
		state:             stateIdle,
		hm:                datasource.NewBlockHeightMap(sources),
		sources:           sources,
		nextHeight:        resumeFrom,
		tipUpdateCh:       make(chan struct{}, 1),
		interval:          newIntervalEstimator(),
	}
}

// State reports the main loop's current coarse phase, for the operator
// status API.
func (s *Service) State() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return string(s.state)
}

// NextHeight reports the next height the batch cursor will fetch from.
func (s *Service) NextHeight() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextHeight
}

// FinalizedHeight reports the most recently observed finalized chain tip.
func (s *Service) FinalizedHeight() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalized
}

func (s *Service) heightMap() *datasource.BlockHeightMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hm
}

func (s *Service) setState(st state) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.log.Debugf("fetch service state -> %s", st)
}

func (s *Service) dictMetadata(ctx context.Context) (*dictionary.Metadata, error) {
	if s.dict == nil {
		return nil, dictionary.ErrUnaccelerable
	}
	return s.dict.InitMetadata(ctx)
}

// Run drives the main loop until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	go s.tipMonitor(ctx)
	go s.dynamicDSWatcher(ctx)

	for {
		select {
		case <-ctx.Done():
			s.setState(stateShutdown)
			return ctx.Err()
		default:
		}

		s.mu.RLock()
		next := s.nextHeight
		finalized := s.finalized
		s.mu.RUnlock()

		if next > finalized {
			s.setState(stateIdle)
			select {
			case <-s.tipUpdateCh:
				continue
			case <-ctx.Done():
				s.setState(stateShutdown)
				return ctx.Err()
			}
		}

		freeSize := s.disp.FreeSize()
		if freeSize == 0 {
			s.setState(stateIdle)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				s.setState(stateShutdown)
				return ctx.Err()
			}
			continue
		}

		s.setState(stateFetching)
		b, err := s.computeBatch(ctx, next, finalized, freeSize)
		if err != nil {
			s.log.Warnf("batch computation failed: %v", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				s.setState(stateShutdown)
				return ctx.Err()
			}
			continue
		}

		s.setState(stateEnqueuing)
		if err := s.disp.EnqueueBlocks(ctx, b.heights); err != nil {
			s.log.Warnf("enqueue failed, will retry: %v", err)
			continue
		}

		s.mu.Lock()
		s.nextHeight = b.lastBuffered + 1
		s.mu.Unlock()
	}
}

// tipMonitor polls chain finality at an adaptively shrinking interval and
// feeds unfinalized.Tracker.RegisterFinalized, waking the main loop when
// the tip advances.
func (s *Service) tipMonitor(ctx context.Context) {
	configured := s.cfg.FetchService.PollInterval.Duration
	for {
		interval := s.interval.PollInterval(configured)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		height, err := s.chain.ResolveFinalizedHeight(ctx)
		if err != nil {
			s.log.Warnf("resolve finalized height: %v", err)
			continue
		}

		s.mu.RLock()
		advanced := height > s.finalized
		s.mu.RUnlock()
		if !advanced {
			continue
		}

		header, err := s.chain.HeaderByNumber(ctx, &height)
		if err != nil {
			s.log.Warnf("fetch finalized header %d: %v", height, err)
			continue
		}

		s.tracker.RegisterFinalized(header)
		s.interval.Observe(time.Now())

		s.mu.Lock()
		s.finalized = height
		s.mu.Unlock()

		select {
		case s.tipUpdateCh <- struct{}{}:
		default:
		}
	}
}

// dynamicDSWatcher waits for the dispatcher to report data sources a
// handler registered at runtime and folds them into the tracked set.
func (s *Service) dynamicDSWatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case added := <-s.disp.DynamicDataSources():
			ptrs := make([]*datasource.DataSource, len(added))
			for i := range added {
				ds := added[i]
				ptrs[i] = &ds
			}
			s.resetForNewDS(ptrs)
		}
	}
}

// resetForNewDS handles a dynamically registered data source: flush the
// dispatcher's pending work, rebuild the dictionary query map against the
// updated height map, and rewind the cursor to the new data source's
// StartBlock so it gets re-fetched from its own beginning.
func (s *Service) resetForNewDS(added []*datasource.DataSource) {
	s.mu.Lock()
	s.sources = append(s.sources, added...)
	hm := datasource.NewBlockHeightMap(s.sources)
	s.hm = hm

	lowest, ok := uint64(0), false
	for _, ds := range added {
		if !ok || ds.StartBlock < lowest {
			lowest, ok = ds.StartBlock, true
		}
	}
	if ok && lowest < s.nextHeight {
		s.nextHeight = lowest
	}
	rewindTo := s.nextHeight
	s.mu.Unlock()

	if rewindTo > 0 {
		s.disp.FlushQueue(rewindTo - 1)
	}
	s.disp.UpdateHeightMap(hm)
	if s.dict != nil {
		s.dict.UpdateQueriesMap(hm)
	}

	select {
	case s.tipUpdateCh <- struct{}{}:
	default:
	}
}
