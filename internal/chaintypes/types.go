// Package chaintypes holds the data model shared by the chain API, the
// dictionary clients, and the dispatcher: headers, fetched blocks, and the
// lazily-resolved transaction/receipt pair handlers actually see.
package chaintypes

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ReceiptFetcher resolves a transaction's receipt on demand. Implemented by
// internal/chain.Client; kept as an interface here so this package never
// imports internal/chain (which itself imports chaintypes directly).
type ReceiptFetcher interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Transaction wraps a go-ethereum transaction with a memoized, lazy receipt
// lookup: most handlers never touch the receipt, so it is only fetched the
// first time Receipt is called.
type Transaction struct {
	*ethtypes.Transaction

	From common.Address

	once    sync.Once
	receipt *ethtypes.Receipt
	recvErr error
	fetcher ReceiptFetcher
}

// NewTransaction wraps tx with a receipt fetcher bound for lazy resolution.
func NewTransaction(tx *ethtypes.Transaction, from common.Address, fetcher ReceiptFetcher) *Transaction {
	return &Transaction{Transaction: tx, From: from, fetcher: fetcher}
}

// Receipt returns this transaction's receipt, fetching and caching it on
// first call. Concurrent callers block on the same sync.Once rather than
// issuing duplicate RPC calls.
func (t *Transaction) Receipt(ctx context.Context) (*ethtypes.Receipt, error) {
	t.once.Do(func() {
		t.receipt, t.recvErr = t.fetcher.TransactionReceipt(ctx, t.Hash())
	})
	return t.receipt, t.recvErr
}

// FetchedBlock bundles a block's header, full transaction bodies, and logs
// as assembled by internal/chain.Client.FetchBlock.
type FetchedBlock struct {
	Header       *ethtypes.Header
	Transactions []*Transaction
	Logs         []ethtypes.Log
}

// Number returns the block height.
func (b *FetchedBlock) Number() uint64 {
	return b.Header.Number.Uint64()
}

// Hash returns the block hash.
func (b *FetchedBlock) Hash() common.Hash {
	return b.Header.Hash()
}

// ParentHash returns the parent block's hash, the value reorg detection
// compares against the previously recorded block at height-1.
func (b *FetchedBlock) ParentHash() common.Hash {
	return b.Header.ParentHash
}
