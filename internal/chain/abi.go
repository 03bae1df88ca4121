package chain

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// abiCache caches decoded contract ABIs keyed by contract address, bounding
// memory use with a simple size cap rather than a full LRU since ABI churn
// within a single indexing run is low.
type abiCache struct {
	mu    sync.RWMutex
	byKey map[common.Address]*abi.ABI
	max   int
}

func newABICache(max int) *abiCache {
	if max <= 0 {
		max = 256
	}
	return &abiCache{
		byKey: make(map[common.Address]*abi.ABI),
		max:   max,
	}
}

// Get returns the cached ABI for an address, if present.
func (c *abiCache) Get(address common.Address) (*abi.ABI, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	parsed, ok := c.byKey[address]
	return parsed, ok
}

// Put parses and caches the ABI JSON for a contract address. Eviction on
// overflow is unordered: correctness only requires that the cache not grow
// without bound, not that it track least-recent use.
func (c *abiCache) Put(address common.Address, abiJSON string) (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.byKey) >= c.max {
		for k := range c.byKey {
			delete(c.byKey, k)
			break
		}
	}
	c.byKey[address] = &parsed
	return &parsed, nil
}

// Len reports the number of cached ABIs, used by tests and status reporting.
func (c *abiCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}
