// Package rpcpool manages a set of JSON-RPC connections against upstream
// endpoints, health-checking each one and round-robining requests across the
// healthy subset. It depends only on internal/rpc's raw transport, not on
// internal/chain, so that internal/chain can in turn depend on this package
// without an import cycle.
package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goran-ethernal/evmindex/internal/common"
	"github.com/goran-ethernal/evmindex/internal/logger"
	"github.com/goran-ethernal/evmindex/internal/metrics"
	"github.com/goran-ethernal/evmindex/internal/rpc"
	"github.com/goran-ethernal/evmindex/pkg/config"
)

// Pool errors.
var (
	ErrNoHealthyConnections = errors.New("no healthy rpc connections available")
	ErrPoolClosed           = errors.New("rpc pool is closed")

	// ErrEndpointMismatch is returned by Add when a joining endpoint's
	// chainId, genesis hash, or runtime chain (net_version) disagrees with
	// the first-joined connection.
	ErrEndpointMismatch = errors.New("rpc endpoint identity mismatch")

	// ErrEndpointUnhealthy is surfaced once a disconnected endpoint's
	// reconnect loop exhausts PoolConfig.MaxReconnectAttempts.
	ErrEndpointUnhealthy = errors.New("rpc endpoint unhealthy after max reconnect attempts")
)

// identity is the set of values every pooled endpoint must agree on.
type identity struct {
	chainID      uint64
	genesisHash  string
	runtimeChain string
}

// connState tracks the health and reconnect backoff of a single endpoint.
type connState struct {
	caller    rpc.Caller
	client    *rpc.Client
	healthy   atomic.Bool
	chainID   atomic.Uint64
	backoff   time.Duration
	failCount atomic.Int32
	reconnect atomic.Int32

	mu           sync.RWMutex
	genesisHash  string
	runtimeChain string
}

// Pool manages connections to one or more RPC endpoints.
type Pool struct {
	cfg     *config.PoolConfig
	rpcCfg  *config.RPCConfig
	log     *logger.Logger
	conns   []*connState
	mu      sync.RWMutex
	nextIdx atomic.Uint64

	identity    identity
	identitySet atomic.Bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// NewPool builds a Pool over the configured endpoints. Each endpoint gets its
// own internal/rpc.Client so batching and adaptive sizing are tracked
// per-connection. When cfg.CoalesceWindow is positive, the client is wrapped
// in a Coalescer so concurrent callers against the same endpoint merge into
// fewer outbound batches.
func NewPool(cfg *config.RPCConfig, poolCfg *config.PoolConfig, log *logger.Logger) *Pool {
	p := &Pool{
		cfg:    poolCfg,
		rpcCfg: cfg,
		log:    log,
	}

	for _, ep := range cfg.Endpoints {
		client := rpc.NewClient(ep.URL, cfg)
		cs := &connState{
			client:  client,
			caller:  callerFor(client, cfg),
			backoff: poolCfg.ReconnectInitialBackoff.Duration,
		}
		cs.healthy.Store(true)
		p.conns = append(p.conns, cs)
	}

	return p
}

func callerFor(client *rpc.Client, cfg *config.RPCConfig) rpc.Caller {
	if cfg.CoalesceWindow.Duration <= 0 {
		return client
	}
	return rpc.NewCoalescer(client, cfg.CoalesceWindow.Duration)
}

// Start verifies every endpoint agrees on chain identity, then begins the
// background health check loop.
func (p *Pool) Start(ctx context.Context) error {
	if p.started.Swap(true) {
		return nil
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	if err := p.verifyChainIDs(p.ctx); err != nil {
		return fmt.Errorf("join verification: %w", err)
	}

	p.wg.Add(1)
	go p.healthCheckLoop()

	return nil
}

// Stop halts the health check loop and releases resources.
func (p *Pool) Stop() {
	if p.closed.Swap(true) {
		return
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, cs := range p.conns {
		if closer, ok := cs.caller.(interface{ Close() }); ok {
			closer.Close()
		}
	}
}

// verifyChainIDs requires every statically configured endpoint to agree on
// chainId, genesis hash, and runtime chain before the pool is considered
// usable; a pool split across networks would silently corrupt indexed data.
func (p *Pool) verifyChainIDs(ctx context.Context) error {
	for _, cs := range p.conns {
		id, err := p.fetchIdentity(ctx, cs)
		if err != nil {
			cs.healthy.Store(false)
			p.log.Warnw("endpoint failed identity probe", "url", cs.client.URL(), "error", err)
			continue
		}

		cs.chainID.Store(id.chainID)
		cs.mu.Lock()
		cs.genesisHash = id.genesisHash
		cs.runtimeChain = id.runtimeChain
		cs.mu.Unlock()

		if err := p.agreeOrSetIdentity(id, cs.client.URL()); err != nil {
			return err
		}
	}
	return nil
}

// agreeOrSetIdentity records the pool-wide identity from the first endpoint
// that successfully reports one, and rejects any later endpoint (at
// verification time or via Add) whose identity disagrees.
func (p *Pool) agreeOrSetIdentity(id identity, url string) error {
	if p.identitySet.CompareAndSwap(false, true) {
		p.identity = id
		return nil
	}

	want := p.identity
	switch {
	case id.chainID != want.chainID:
		return fmt.Errorf("%w: endpoint %s reports chain id %d, expected %d", ErrEndpointMismatch, url, id.chainID, want.chainID)
	case want.genesisHash != "" && id.genesisHash != "" && id.genesisHash != want.genesisHash:
		return fmt.Errorf("%w: endpoint %s reports genesis hash %s, expected %s", ErrEndpointMismatch, url, id.genesisHash, want.genesisHash)
	case want.runtimeChain != "" && id.runtimeChain != "" && id.runtimeChain != want.runtimeChain:
		return fmt.Errorf("%w: endpoint %s reports runtime chain %s, expected %s", ErrEndpointMismatch, url, id.runtimeChain, want.runtimeChain)
	}
	return nil
}

// fetchIdentity probes chainId, the block 0 hash (genesis hash), and
// net_version (runtime chain) for a single connection.
func (p *Pool) fetchIdentity(ctx context.Context, cs *connState) (identity, error) {
	var hex string
	if err := cs.client.Call(ctx, &hex, "eth_chainId"); err != nil {
		return identity{}, fmt.Errorf("eth_chainId: %w", err)
	}
	chainID, err := common.ParseUint64orHex(&hex)
	if err != nil {
		return identity{}, fmt.Errorf("invalid chain id %q: %w", hex, err)
	}

	var genesis struct {
		Hash string `json:"hash"`
	}
	if err := cs.client.Call(ctx, &genesis, "eth_getBlockByNumber", "0x0", false); err != nil {
		return identity{}, fmt.Errorf("eth_getBlockByNumber(0): %w", err)
	}

	var runtimeChain string
	if err := cs.client.Call(ctx, &runtimeChain, "net_version"); err != nil {
		return identity{}, fmt.Errorf("net_version: %w", err)
	}

	return identity{chainID: chainID, genesisHash: genesis.Hash, runtimeChain: runtimeChain}, nil
}

// Add joins a new endpoint to the running pool. It dials the endpoint,
// verifies its chainId/genesisHash/runtimeChain against the first-joined
// connection, and only then adds it to the round-robin set. Called after
// Start, unlike the endpoints passed to NewPool.
func (p *Pool) Add(ctx context.Context, endpoint config.EndpointConfig) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	client := rpc.NewClient(endpoint.URL, p.rpcCfg)
	cs := &connState{
		client:  client,
		caller:  callerFor(client, p.rpcCfg),
		backoff: p.cfg.ReconnectInitialBackoff.Duration,
	}

	id, err := p.fetchIdentity(ctx, cs)
	if err != nil {
		return fmt.Errorf("probe new endpoint %s: %w", endpoint.URL, err)
	}
	if err := p.agreeOrSetIdentity(id, endpoint.URL); err != nil {
		return err
	}

	cs.chainID.Store(id.chainID)
	cs.genesisHash = id.genesisHash
	cs.runtimeChain = id.runtimeChain
	cs.healthy.Store(true)

	p.mu.Lock()
	p.conns = append(p.conns, cs)
	p.mu.Unlock()

	p.log.Infow("endpoint added to pool", "url", endpoint.URL)
	return nil
}

// Get returns a healthy connection using round-robin selection.
func (p *Pool) Get() (rpc.Caller, error) {
	cs, err := p.getHealthy()
	if err != nil {
		return nil, err
	}
	return cs.caller, nil
}

func (p *Pool) getHealthy() (*connState, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var healthy []*connState
	for _, cs := range p.conns {
		if cs.healthy.Load() {
			healthy = append(healthy, cs)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthyConnections
	}

	idx := p.nextIdx.Add(1) % uint64(len(healthy))
	return healthy[idx], nil
}

// FetchBlocksFromFirstAvailable walks the pool's healthy connections,
// retrying eth_getBlockByNumber for every requested height against the next
// connection whenever the current one fails, up to MaxReconnectAttempts
// connections before surfacing the failure.
func (p *Pool) FetchBlocksFromFirstAvailable(ctx context.Context, heights []uint64) ([]any, error) {
	maxAttempts := p.cfg.MaxReconnectAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cs, err := p.getHealthy()
		if err != nil {
			return nil, err
		}

		results := make([]any, len(heights))
		elems := make([]rpc.BatchElem, len(heights))
		for i, h := range heights {
			elems[i] = rpc.BatchElem{
				Method: "eth_getBlockByNumber",
				Args:   []any{fmt.Sprintf("0x%x", h), false},
				Result: &results[i],
			}
		}

		if err := cs.caller.BatchCall(ctx, elems); err != nil {
			lastErr = err
			p.markFailed(cs, err)
			continue
		}

		failed := false
		for _, elem := range elems {
			if elem.Error != nil {
				lastErr = elem.Error
				failed = true
				break
			}
		}
		if failed {
			p.markFailed(cs, lastErr)
			continue
		}

		return results, nil
	}

	return nil, fmt.Errorf("%w: exhausted %d connection(s): %v", ErrEndpointUnhealthy, maxAttempts, lastErr)
}

func (p *Pool) markFailed(cs *connState, err error) {
	cs.failCount.Add(1)
	wasHealthy := cs.healthy.Swap(false)
	if wasHealthy {
		p.log.Warnw("endpoint marked unhealthy", "url", cs.client.URL(), "error", err)
		go p.reconnectLoop(cs)
	}
}

// HealthyCount returns the number of currently healthy connections.
func (p *Pool) HealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, cs := range p.conns {
		if cs.healthy.Load() {
			count++
		}
	}
	return count
}

// TotalCount returns the number of configured connections.
func (p *Pool) TotalCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthCheckInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.checkAll()
		}
	}
}

func (p *Pool) checkAll() {
	p.mu.RLock()
	conns := make([]*connState, len(p.conns))
	copy(conns, p.conns)
	p.mu.RUnlock()

	var wg sync.WaitGroup
	for _, cs := range conns {
		wg.Add(1)
		go func(cs *connState) {
			defer wg.Done()
			p.checkOne(cs)
		}(cs)
	}
	wg.Wait()
}

func (p *Pool) checkOne(cs *connState) {
	ctx, cancel := context.WithTimeout(p.ctx, p.rpcCfg.RequestTimeout.Duration)
	defer cancel()

	var hex string
	err := cs.client.Call(ctx, &hex, "eth_chainId")

	if err != nil {
		p.markFailed(cs, err)
		metrics.ComponentHealthSet(common.ComponentRPCPool, p.HealthyCount() > 0)
		return
	}

	cs.failCount.Store(0)
	cs.reconnect.Store(0)
	cs.backoff = p.cfg.ReconnectInitialBackoff.Duration
	wasHealthy := cs.healthy.Swap(true)
	if !wasHealthy {
		p.log.Infow("endpoint recovered", "url", cs.client.URL())
	}
	metrics.ComponentHealthSet(common.ComponentRPCPool, true)
}

// reconnectLoop retries a failed connection with exponential backoff, giving
// up after MaxReconnectAttempts and leaving it unhealthy for good; the next
// scheduled health check will still try it once more and can revive it.
func (p *Pool) reconnectLoop(cs *connState) {
	maxAttempts := p.cfg.MaxReconnectAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(cs.backoff):
		}

		attempt := cs.reconnect.Add(1)

		ctx, cancel := context.WithTimeout(p.ctx, p.rpcCfg.RequestTimeout.Duration)
		var hex string
		err := cs.client.Call(ctx, &hex, "eth_chainId")
		cancel()

		if err == nil {
			cs.failCount.Store(0)
			cs.reconnect.Store(0)
			cs.backoff = p.cfg.ReconnectInitialBackoff.Duration
			cs.healthy.Store(true)
			p.log.Infow("endpoint recovered", "url", cs.client.URL())
			return
		}

		if attempt >= int32(maxAttempts) {
			p.log.Errorw("endpoint exhausted reconnect attempts, giving up", "url", cs.client.URL(),
				"attempts", attempt, "error", fmt.Errorf("%w: %v", ErrEndpointUnhealthy, err))
			return
		}

		cs.backoff *= 2
		if cs.backoff > p.cfg.ReconnectMaxBackoff.Duration {
			cs.backoff = p.cfg.ReconnectMaxBackoff.Duration
		}
	}
}
