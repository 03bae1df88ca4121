package dictionary

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/goran-ethernal/evmindex/internal/datasource"
	"github.com/goran-ethernal/evmindex/internal/logger"
	"github.com/goran-ethernal/evmindex/internal/rpc"
)

// v2Client speaks the subql_filterBlocks JSON-RPC dictionary protocol,
// reusing internal/rpc.Client wholesale rather than hand-rolling a second
// transport: a dictionary endpoint is, from the wire's perspective, just
// another JSON-RPC server.
type v2Client struct {
	conn *rpc.Client
	log  *logger.Logger

	mu      sync.RWMutex
	entries []RangeEntry

	supportsDistinct    bool
	supportsStartHeight bool
}

// newV2Client builds a subql_filterBlocks dictionary client over conn.
func newV2Client(conn *rpc.Client, log *logger.Logger) *v2Client {
	return &v2Client{
		conn:                conn,
		log:                 log.WithComponent("dictionary"),
		supportsDistinct:    true,
		supportsStartHeight: true,
	}
}

func (c *v2Client) Version() int { return 2 }

func (c *v2Client) UpdateQueriesMap(heightMap *datasource.BlockHeightMap) {
	entries := BuildRangeEntries(heightMap, func(msg string) { c.log.Warnf("%s", msg) })

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

func (c *v2Client) entryForHeight(height uint64) (QueryEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return EntryForHeight(c.entries, height)
}

type subqlMetadataResult struct {
	Chain               string `json:"chain"`
	GenesisHash         string `json:"genesisHash"`
	LastProcessedHeight uint64 `json:"lastProcessedHeight"`
	StartHeight         uint64 `json:"startHeight"`
}

func (c *v2Client) InitMetadata(ctx context.Context) (*Metadata, error) {
	var result subqlMetadataResult
	if err := c.conn.Call(ctx, &result, "subql_getMetadata"); err != nil {
		return nil, fmt.Errorf("dictionary v2: subql_getMetadata: %w", err)
	}

	return &Metadata{
		Chain:               result.Chain,
		GenesisHash:         result.GenesisHash,
		LastProcessedHeight: result.LastProcessedHeight,
		StartHeight:         result.StartHeight,
	}, nil
}

type subqlFilterBlocksResult struct {
	Blocks     []json.RawMessage `json:"blocks"`
	BlockRange [2]uint64         `json:"blockRange"`
}

type subqlBlockRef struct {
	Number uint64 `json:"blockHeight"`
}

func (c *v2Client) GetData(ctx context.Context, start, end uint64, limit int) (*Result, error) {
	entry, ok := c.entryForHeight(start)
	if ok && entry.Unaccelerable {
		return nil, ErrUnaccelerable
	}

	c.mu.RLock()
	distinct := c.supportsDistinct
	startHeight := c.supportsStartHeight
	c.mu.RUnlock()

	conditions := subqlConditions(entry)
	fieldSelection := []string{"blockHeight"}

	params := []any{start, end, limit, conditions, fieldSelection}
	if startHeight {
		params = append(params, map[string]any{"distinct": distinct})
	}

	var result subqlFilterBlocksResult
	err := c.conn.Call(ctx, &result, "subql_filterBlocks", params...)
	if err != nil {
		if containsCapabilityHint(err.Error()) {
			CapabilityDisabledInc("startHeight")
			c.mu.Lock()
			c.supportsStartHeight = false
			c.supportsDistinct = false
			c.mu.Unlock()
			return c.GetData(ctx, start, end, limit)
		}
		return nil, fmt.Errorf("dictionary v2: subql_filterBlocks: %w", err)
	}

	heights := make([]uint64, 0, len(result.Blocks))
	for _, raw := range result.Blocks {
		var ref subqlBlockRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil, fmt.Errorf("dictionary v2: decode block payload: %w", err)
		}
		heights = append(heights, ref.Number)
	}

	QueryInc(2, "ok")
	return &Result{MatchedHeights: heights, LastBufferedHeight: result.BlockRange[1]}, nil
}

func subqlConditions(entry QueryEntry) map[string]any {
	conditions := map[string]any{}
	if len(entry.Logs) > 0 {
		logs := make([]map[string]any, len(entry.Logs))
		for i, l := range entry.Logs {
			m := map[string]any{}
			if l.Addresses != nil {
				m["address"] = l.Addresses
			}
			if l.Topics0 != nil {
				m["topics0"] = l.Topics0
			}
			if l.Topics1 != nil {
				m["topics1"] = l.Topics1
			}
			if l.Topics2 != nil {
				m["topics2"] = l.Topics2
			}
			if l.Topics3 != nil {
				m["topics3"] = l.Topics3
			}
			logs[i] = m
		}
		conditions["logs"] = logs
	}
	if len(entry.Transactions) > 0 {
		txs := make([]map[string]any, len(entry.Transactions))
		for i, tx := range entry.Transactions {
			m := map[string]any{}
			if tx.From != nil {
				m["from"] = tx.From
			}
			if tx.To != nil {
				m["to"] = tx.To
			}
			if tx.Function != nil {
				m["function"] = tx.Function
			}
			txs[i] = m
		}
		conditions["transactions"] = txs
	}
	return conditions
}
