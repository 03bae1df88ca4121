package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/goran-ethernal/evmindex/internal/chaintypes"
	"github.com/goran-ethernal/evmindex/internal/rpc"
	"github.com/goran-ethernal/evmindex/internal/rpcpool"
	"github.com/goran-ethernal/evmindex/pkg/config"
)

// API is the chain-facing surface the rest of the indexer depends on. It is
// implemented by Client and is the seam mocked out in fetch service/dispatcher tests.
type API interface {
	ChainID(ctx context.Context) (uint64, error)
	HeaderByNumber(ctx context.Context, blockNum *uint64) (*ethtypes.Header, error)
	ResolveFinalizedHeight(ctx context.Context) (uint64, error)
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]ethtypes.Log, error)
	BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]ethtypes.Log, error)
	BatchGetHeaders(ctx context.Context, blockNums []uint64) ([]*ethtypes.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	IsContractCreation(ctx context.Context, txHash common.Hash) (bool, error)
	FetchBlock(ctx context.Context, height uint64, includeTx bool) (*chaintypes.FetchedBlock, error)
}

// Client implements API on top of a pooled raw JSON-RPC transport, decoding
// JSON directly into go-ethereum's core/types rather than driving ethclient.Client.
type Client struct {
	pool *rpcpool.Pool
	cfg  *config.ChainConfig
	abis *abiCache
}

// NewClient builds a chain API client backed by the given connection pool.
func NewClient(pool *rpcpool.Pool, cfg *config.ChainConfig) *Client {
	return &Client{
		pool: pool,
		cfg:  cfg,
		abis: newABICache(cfg.ABICacheSize),
	}
}

func (c *Client) conn() (rpc.Caller, error) {
	return c.pool.Get()
}

// ChainID returns the network's chain ID.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	conn, err := c.conn()
	if err != nil {
		return 0, err
	}

	var hex string
	if err := conn.Call(ctx, &hex, "eth_chainId"); err != nil {
		return 0, err
	}
	return parseHexUint(hex)
}

// HeaderByNumber fetches a single block header. A nil blockNum requests the
// chain tip ("latest").
func (c *Client) HeaderByNumber(ctx context.Context, blockNum *uint64) (*ethtypes.Header, error) {
	conn, err := c.conn()
	if err != nil {
		return nil, err
	}

	var header *ethtypes.Header
	tag := blockNumArg(blockNum)
	if err := conn.Call(ctx, &header, "eth_getBlockByNumber", tag, false); err != nil {
		return nil, err
	}
	if header == nil {
		return nil, fmt.Errorf("block %s not found", tag)
	}
	return header, nil
}

// ResolveFinalizedHeight returns the height considered finalized under the
// configured finality mode, falling back to latest-minus-lag when the node
// does not implement the finalized/safe tags.
func (c *Client) ResolveFinalizedHeight(ctx context.Context) (uint64, error) {
	switch BlockFinality(c.cfg.Finality) {
	case FinalityFinalized:
		header, err := c.headerByTag(ctx, "finalized")
		if err == nil {
			return header.Number.Uint64(), nil
		}
		return c.latestMinusLag(ctx)
	case FinalitySafe:
		header, err := c.headerByTag(ctx, "safe")
		if err == nil {
			return header.Number.Uint64(), nil
		}
		return c.latestMinusLag(ctx)
	default:
		return c.latestMinusLag(ctx)
	}
}

func (c *Client) latestMinusLag(ctx context.Context) (uint64, error) {
	latest, err := c.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, err
	}
	height := latest.Number.Uint64()
	if height < c.cfg.FinalizedLag {
		return 0, nil
	}
	return height - c.cfg.FinalizedLag, nil
}

func (c *Client) headerByTag(ctx context.Context, tag string) (*ethtypes.Header, error) {
	conn, err := c.conn()
	if err != nil {
		return nil, err
	}

	var header *ethtypes.Header
	if err := conn.Call(ctx, &header, "eth_getBlockByNumber", tag, false); err != nil {
		return nil, err
	}
	if header == nil {
		return nil, fmt.Errorf("block tag %q not found", tag)
	}
	return header, nil
}

// GetLogs retrieves logs matching the given filter query.
func (c *Client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]ethtypes.Log, error) {
	conn, err := c.conn()
	if err != nil {
		return nil, err
	}

	var logs []ethtypes.Log
	if err := conn.Call(ctx, &logs, "eth_getLogs", toFilterArg(query)); err != nil {
		if ok, errData := rpc.IsTooManyResultsError(err); ok {
			from, to, parsed := rpc.ParseSuggestedBlockRange(errData)
			if parsed {
				return nil, fmt.Errorf("eth_getLogs returned too many results, retry with range [%d, %d]: %w", from, to, err)
			}
		}
		return nil, err
	}
	return logs, nil
}

// BatchGetLogs retrieves logs for multiple filter queries in a single
// outbound batch, relying on the underlying client's adaptive batch sizing
// to choose how many are actually sent per HTTP round trip.
func (c *Client) BatchGetLogs(ctx context.Context, queries []ethereum.FilterQuery) ([][]ethtypes.Log, error) {
	conn, err := c.conn()
	if err != nil {
		return nil, err
	}

	results := make([][]ethtypes.Log, len(queries))
	elems := make([]rpc.BatchElem, len(queries))
	for i, q := range queries {
		elems[i] = rpc.BatchElem{
			Method: "eth_getLogs",
			Args:   []any{toFilterArg(q)},
			Result: &results[i],
		}
	}

	if err := conn.BatchCall(ctx, elems); err != nil {
		return nil, err
	}
	for i, elem := range elems {
		if elem.Error != nil {
			return nil, fmt.Errorf("batch eth_getLogs[%d]: %w", i, elem.Error)
		}
	}

	return results, nil
}

// BatchGetHeaders retrieves headers for multiple block numbers in one batch.
func (c *Client) BatchGetHeaders(ctx context.Context, blockNums []uint64) ([]*ethtypes.Header, error) {
	conn, err := c.conn()
	if err != nil {
		return nil, err
	}

	results := make([]*ethtypes.Header, len(blockNums))
	elems := make([]rpc.BatchElem, len(blockNums))
	for i, n := range blockNums {
		n := n
		elems[i] = rpc.BatchElem{
			Method: "eth_getBlockByNumber",
			Args:   []any{blockNumArg(&n), false},
			Result: &results[i],
		}
	}

	if err := conn.BatchCall(ctx, elems); err != nil {
		return nil, err
	}
	for i, elem := range elems {
		if elem.Error != nil {
			return nil, fmt.Errorf("batch eth_getBlockByNumber[%d]: %w", i, elem.Error)
		}
	}

	return results, nil
}

// rpcTransaction decodes a transaction embedded in a full-body
// eth_getBlockByNumber response: go-ethereum's ethtypes.Transaction knows how
// to unmarshal the standard tx fields but not the "from" address the node
// also includes, so it's decoded a second time into a sibling struct, the
// same two-pass trick go-ethereum's own ethclient uses.
type rpcTransaction struct {
	tx   *ethtypes.Transaction
	from common.Address
}

func (t *rpcTransaction) UnmarshalJSON(msg []byte) error {
	if err := json.Unmarshal(msg, &t.tx); err != nil {
		return err
	}
	var extra struct {
		From common.Address `json:"from"`
	}
	if err := json.Unmarshal(msg, &extra); err != nil {
		return err
	}
	t.from = extra.From
	return nil
}

// blockTransactions decodes just the "transactions" array out of a
// full-body eth_getBlockByNumber response; the header fields are decoded
// separately into *ethtypes.Header from the same raw bytes, since embedding
// Header directly would hand its own UnmarshalJSON the whole object and
// silently drop this field.
type blockTransactions struct {
	Transactions []*rpcTransaction `json:"transactions"`
}

// FetchBlock composes eth_getBlockByNumber (with full transaction bodies
// when includeTx is set) and eth_getLogs for the same height, issued in
// parallel, into a single chaintypes.FetchedBlock. Receipts are not fetched
// here; each transaction's Receipt method fetches and memoizes its own on
// first access.
func (c *Client) FetchBlock(ctx context.Context, height uint64, includeTx bool) (*chaintypes.FetchedBlock, error) {
	conn, err := c.conn()
	if err != nil {
		return nil, err
	}

	tag := blockNumArg(&height)

	var raw json.RawMessage
	var logs []ethtypes.Log

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := conn.Call(gctx, &raw, "eth_getBlockByNumber", tag, includeTx); err != nil {
			return fmt.Errorf("eth_getBlockByNumber(%s): %w", tag, err)
		}
		return nil
	})
	g.Go(func() error {
		blockNum := new(big.Int).SetUint64(height)
		query := ethereum.FilterQuery{FromBlock: blockNum, ToBlock: blockNum}
		if err := conn.Call(gctx, &logs, "eth_getLogs", toFilterArg(query)); err != nil {
			return fmt.Errorf("eth_getLogs(%d): %w", height, err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("block %s not found", tag)
	}

	var header ethtypes.Header
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("unmarshal block %s header: %w", tag, err)
	}

	var body blockTransactions
	if includeTx {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("unmarshal block %s transactions: %w", tag, err)
		}
	}

	txs := make([]*chaintypes.Transaction, len(body.Transactions))
	for i, rtx := range body.Transactions {
		txs[i] = chaintypes.NewTransaction(rtx.tx, rtx.from, c)
	}

	return &chaintypes.FetchedBlock{
		Header:       &header,
		Transactions: txs,
		Logs:         logs,
	}, nil
}

// TransactionReceipt fetches the receipt for a transaction hash.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	conn, err := c.conn()
	if err != nil {
		return nil, err
	}

	var receipt *ethtypes.Receipt
	if err := conn.Call(ctx, &receipt, "eth_getTransactionReceipt", txHash.Hex()); err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, fmt.Errorf("receipt for %s not found", txHash.Hex())
	}
	return receipt, nil
}

// IsContractCreation reports whether a transaction's receipt has no "to"
// address, the signal used for the ToContractCreation data source sentinel.
func (c *Client) IsContractCreation(ctx context.Context, txHash common.Hash) (bool, error) {
	receipt, err := c.TransactionReceipt(ctx, txHash)
	if err != nil {
		return false, err
	}
	return receipt.ContractAddress != (common.Address{}), nil
}

func toFilterArg(q ethereum.FilterQuery) any {
	arg := map[string]any{
		"topics": q.Topics,
	}

	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
	} else {
		if q.FromBlock != nil {
			n := q.FromBlock.Uint64()
			arg["fromBlock"] = blockNumArg(&n)
		}
		if q.ToBlock != nil {
			n := q.ToBlock.Uint64()
			arg["toBlock"] = blockNumArg(&n)
		}
	}

	if len(q.Addresses) > 0 {
		if len(q.Addresses) == 1 {
			arg["address"] = q.Addresses[0]
		} else {
			arg["address"] = q.Addresses
		}
	}

	return arg
}

func blockNumArg(blockNum *uint64) string {
	if blockNum == nil {
		return "latest"
	}
	return fmt.Sprintf("0x%x", *blockNum)
}

func parseHexUint(s string) (uint64, error) {
	var v uint64
	_, err := fmt.Sscanf(s, "0x%x", &v)
	if err != nil {
		return 0, fmt.Errorf("parse hex uint %q: %w", s, err)
	}
	return v, nil
}
