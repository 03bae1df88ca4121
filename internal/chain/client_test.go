package chain

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	gethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/evmindex/internal/common"
	"github.com/goran-ethernal/evmindex/internal/logger"
	"github.com/goran-ethernal/evmindex/internal/rpc"
	"github.com/goran-ethernal/evmindex/internal/rpcpool"
	"github.com/goran-ethernal/evmindex/pkg/config"
	"github.com/stretchr/testify/require"
)

type rpcHandlerFunc func(method string, params []any) (any, error)

func newChainTestServer(t *testing.T, handler rpcHandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpc.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// The pool's join verification probes net_version and the genesis
		// block on every endpoint before a test's own handler sees a call;
		// answer those here so individual tests can assert on just the
		// method(s) they care about.
		if req.Method == "net_version" {
			resp := rpc.Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`"1"`)}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
			return
		}
		if req.Method == "eth_getBlockByNumber" && len(req.Params) > 0 && req.Params[0] == "0x0" {
			raw, err := json.Marshal(blockHeader(0))
			require.NoError(t, err)
			resp := rpc.Response{JSONRPC: "2.0", ID: req.ID, Result: raw}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
			return
		}

		result, err := handler(req.Method, req.Params)
		if err != nil {
			resp := rpc.Response{JSONRPC: "2.0", ID: req.ID, Error: &rpc.ResponseError{Code: -32000, Message: err.Error()}}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
			return
		}

		raw, err := json.Marshal(result)
		require.NoError(t, err)
		resp := rpc.Response{JSONRPC: "2.0", ID: req.ID, Result: raw}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func newTestPool(t *testing.T, srv *httptest.Server) *rpcpool.Pool {
	t.Helper()
	rpcCfg := &config.RPCConfig{
		Endpoints:      []config.EndpointConfig{{URL: srv.URL, Weight: 1}},
		RequestTimeout: common.NewDuration(2 * time.Second),
		MaxBatchSize:   10,
		CoalesceWindow: common.NewDuration(time.Millisecond),
		Retry: &config.RetryConfig{
			ThrottleLimit: 1,
			SlotInterval:  common.NewDuration(time.Millisecond),
			Timeout:       common.NewDuration(2 * time.Second),
		},
	}
	poolCfg := &config.PoolConfig{
		HealthCheckInterval:     common.NewDuration(time.Hour),
		ReconnectInitialBackoff: common.NewDuration(time.Millisecond),
		ReconnectMaxBackoff:     common.NewDuration(10 * time.Millisecond),
	}

	p := rpcpool.NewPool(rpcCfg, poolCfg, logger.NewNopLogger())
	require.NoError(t, p.Start(t.Context()))
	t.Cleanup(p.Stop)
	return p
}

func blockHeader(number uint64) map[string]any {
	return map[string]any{
		"number":           fmt.Sprintf("0x%x", number),
		"hash":             "0x" + hexRepeat("1", 64),
		"parentHash":       "0x" + hexRepeat("0", 64),
		"sha3Uncles":       "0x" + hexRepeat("0", 64),
		"transactionsRoot": "0x" + hexRepeat("0", 64),
		"stateRoot":        "0x" + hexRepeat("0", 64),
		"receiptsRoot":     "0x" + hexRepeat("0", 64),
		"miner":            "0x" + hexRepeat("0", 40),
		"logsBloom":        "0x" + hexRepeat("0", 512),
		"difficulty":       "0x0",
		"gasLimit":         "0x1c9c380",
		"gasUsed":          "0x0",
		"timestamp":        "0x1",
		"extraData":        "0x",
		"mixHash":          "0x" + hexRepeat("0", 64),
		"nonce":            "0x0000000000000000",
	}
}

func hexRepeat(ch string, n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = ch[0]
	}
	return string(out)
}

func gethFilterQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{}
}

func zeroAddress() gethcommon.Address {
	return gethcommon.Address{}
}

func TestClient_ChainID(t *testing.T) {
	srv := newChainTestServer(t, func(method string, params []any) (any, error) {
		require.Equal(t, "eth_chainId", method)
		return "0x1", nil
	})
	defer srv.Close()

	c := NewClient(newTestPool(t, srv), &config.ChainConfig{Finality: "latest", ABICacheSize: 16})
	id, err := c.ChainID(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
}

func TestClient_HeaderByNumber_Latest(t *testing.T) {
	srv := newChainTestServer(t, func(method string, params []any) (any, error) {
		require.Equal(t, "eth_getBlockByNumber", method)
		require.Equal(t, "latest", params[0])
		return blockHeader(42), nil
	})
	defer srv.Close()

	c := NewClient(newTestPool(t, srv), &config.ChainConfig{Finality: "latest", ABICacheSize: 16})
	header, err := c.HeaderByNumber(t.Context(), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(42), header.Number.Uint64())
}

func TestClient_ResolveFinalizedHeight_FallsBackWhenTagUnsupported(t *testing.T) {
	srv := newChainTestServer(t, func(method string, params []any) (any, error) {
		require.Equal(t, "eth_getBlockByNumber", method)
		if params[0] == "finalized" {
			return nil, nil
		}
		return blockHeader(100), nil
	})
	defer srv.Close()

	c := NewClient(newTestPool(t, srv), &config.ChainConfig{Finality: "finalized", FinalizedLag: 10, ABICacheSize: 16})
	height, err := c.ResolveFinalizedHeight(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(90), height)
}

func TestClient_GetLogs(t *testing.T) {
	srv := newChainTestServer(t, func(method string, params []any) (any, error) {
		require.Equal(t, "eth_getLogs", method)
		return []map[string]any{}, nil
	})
	defer srv.Close()

	c := NewClient(newTestPool(t, srv), &config.ChainConfig{Finality: "latest", ABICacheSize: 16})
	logs, err := c.GetLogs(t.Context(), gethFilterQuery())
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestClient_FetchBlock_HeaderOnly(t *testing.T) {
	srv := newChainTestServer(t, func(method string, params []any) (any, error) {
		switch method {
		case "eth_getBlockByNumber":
			require.Equal(t, false, params[1])
			return blockHeader(7), nil
		case "eth_getLogs":
			return []map[string]any{}, nil
		default:
			t.Fatalf("unexpected method %s", method)
			return nil, nil
		}
	})
	defer srv.Close()

	c := NewClient(newTestPool(t, srv), &config.ChainConfig{Finality: "latest", ABICacheSize: 16})
	block, err := c.FetchBlock(t.Context(), 7, false)
	require.NoError(t, err)
	require.Equal(t, uint64(7), block.Number())
	require.Empty(t, block.Transactions)
	require.Empty(t, block.Logs)
}

func TestClient_FetchBlock_WithTransactions(t *testing.T) {
	txHash := "0x" + hexRepeat("2", 64)
	from := "0x" + hexRepeat("3", 40)

	srv := newChainTestServer(t, func(method string, params []any) (any, error) {
		switch method {
		case "eth_getBlockByNumber":
			require.Equal(t, true, params[1])
			header := blockHeader(9)
			header["transactions"] = []map[string]any{
				{
					"type":     "0x0",
					"nonce":    "0x1",
					"gasPrice": "0x3b9aca00",
					"gas":      "0x5208",
					"to":       "0x" + hexRepeat("4", 40),
					"value":    "0x0",
					"input":    "0x",
					"v":        "0x1b",
					"r":        "0x1",
					"s":        "0x1",
					"hash":     txHash,
					"from":     from,
				},
			}
			return header, nil
		case "eth_getLogs":
			return []map[string]any{}, nil
		default:
			t.Fatalf("unexpected method %s", method)
			return nil, nil
		}
	})
	defer srv.Close()

	c := NewClient(newTestPool(t, srv), &config.ChainConfig{Finality: "latest", ABICacheSize: 16})
	block, err := c.FetchBlock(t.Context(), 9, true)
	require.NoError(t, err)
	require.Equal(t, uint64(9), block.Number())
	require.Len(t, block.Transactions, 1)
	require.Equal(t, from, block.Transactions[0].From.Hex())
}

func TestABICache_PutGet(t *testing.T) {
	cache := newABICache(2)
	addr := zeroAddress()

	const erc20ABI = `[{"type":"function","name":"balanceOf","inputs":[{"name":"who","type":"address"}],"outputs":[{"type":"uint256"}]}]`

	_, err := cache.Put(addr, erc20ABI)
	require.NoError(t, err)

	got, ok := cache.Get(addr)
	require.True(t, ok)
	require.Contains(t, got.Methods, "balanceOf")
}
