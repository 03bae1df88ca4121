package dictionary

import (
	"context"
	"fmt"
	"sync"

	"github.com/goran-ethernal/evmindex/internal/datasource"
	"github.com/goran-ethernal/evmindex/internal/logger"
)

// multiClient fans GetData/UpdateQueriesMap/InitMetadata calls out across
// every negotiated endpoint, trying them in order (v2 endpoints first, per
// Negotiate's ordering) and falling through to the next on error. It
// presents the same Dictionary surface as a single endpoint to callers.
type multiClient struct {
	clients []Dictionary
	log     *logger.Logger

	mu       sync.RWMutex
	metadata *Metadata
}

// NewMultiClient wraps a set of already-negotiated dictionary clients behind
// a single Dictionary, used when more than one endpoint is configured.
func NewMultiClient(clients []Dictionary, log *logger.Logger) Dictionary {
	if len(clients) == 1 {
		return clients[0]
	}
	return &multiClient{clients: clients, log: log.WithComponent("dictionary")}
}

func (m *multiClient) Version() int {
	if len(m.clients) == 0 {
		return 0
	}
	return m.clients[0].Version()
}

func (m *multiClient) UpdateQueriesMap(heightMap *datasource.BlockHeightMap) {
	for _, c := range m.clients {
		c.UpdateQueriesMap(heightMap)
	}
}

func (m *multiClient) InitMetadata(ctx context.Context) (*Metadata, error) {
	var lastErr error
	for _, c := range m.clients {
		meta, err := c.InitMetadata(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		m.mu.Lock()
		m.metadata = meta
		m.mu.Unlock()
		return meta, nil
	}
	return nil, fmt.Errorf("dictionary: all endpoints failed metadata init: %w", lastErr)
}

// GetData tries each endpoint in scheduling order until one succeeds, a
// simple representation of "behind for this cycle" handling: a dictionary
// whose lastProcessedHeight trails startBlock (or that errors outright) is
// skipped in favor of the next configured endpoint, falling fully through
// to the caller's dense-enumeration fallback only when every endpoint fails.
func (m *multiClient) GetData(ctx context.Context, start, end uint64, limit int) (*Result, error) {
	var lastErr error
	for _, c := range m.clients {
		result, err := c.GetData(ctx, start, end, limit)
		if err != nil {
			m.log.Debugf("dictionary endpoint skipped this cycle: err=%v", err)
			lastErr = err
			continue
		}
		return result, nil
	}
	return nil, fmt.Errorf("dictionary: all endpoints failed GetData: %w", lastErr)
}
