// Package dictionary implements the two-protocol acceleration client: a
// pre-indexed filter service that lets the fetch service skip irrelevant
// block ranges in bulk instead of fetching and filtering every block itself.
package dictionary

import (
	"context"
	"errors"

	"github.com/goran-ethernal/evmindex/internal/datasource"
)

// ErrUnaccelerable is returned by GetData when the active data source at the
// requested range declares a bare Block handler, meaning the dictionary
// cannot skip anything and the caller must fall back to dense enumeration.
var ErrUnaccelerable = errors.New("dictionary: range has a block handler, cannot accelerate")

// Metadata describes a dictionary endpoint's own indexing progress, used to
// validate it targets the right chain and to clamp query ranges to what it
// has actually indexed.
type Metadata struct {
	Chain               string
	GenesisHash         string
	LastProcessedHeight uint64
	StartHeight         uint64
}

// Result is what GetData returns: either a sparse list of matching heights
// (v1) or, when the endpoint returned full payloads (v2), both the heights
// and the range the endpoint actually covered.
type Result struct {
	MatchedHeights     []uint64
	LastBufferedHeight uint64
}

// Dictionary is the version-agnostic client surface the fetch service drives;
// v1Client and v2Client both implement it, and multiClient fans a single call
// out across whichever is negotiated per configured endpoint.
type Dictionary interface {
	// UpdateQueriesMap rebuilds the internal per-range query entry from the
	// union of every active data source's handler filters.
	UpdateQueriesMap(heightMap *datasource.BlockHeightMap)

	// GetData requests matching heights in [start, end], up to limit
	// results. end is sent as given; the fetch service clamps it to the
	// endpoint's lastProcessedHeight before calling.
	GetData(ctx context.Context, start, end uint64, limit int) (*Result, error)

	// InitMetadata probes the endpoint for its chain/genesis/progress info,
	// also used by negotiation to detect which protocol version an endpoint speaks.
	InitMetadata(ctx context.Context) (*Metadata, error)

	// Version reports the protocol version this client speaks (1 or 2).
	Version() int
}

// QueryEntry is one dictionary query built from a BlockHeightMap range: the
// union of every active handler's filter, "OR"-ed by the endpoint.
type QueryEntry struct {
	// Logs is nil when no Event handler is active for this range.
	Logs []LogCondition
	// Transactions is nil when no Call handler is active for this range.
	Transactions []TxCondition
	// Unaccelerable is true when a Block (non-modulo) handler is active,
	// meaning the dictionary cannot skip anything in this range.
	Unaccelerable bool
}

// LogCondition mirrors spec's {address?, topics0..3?} log filter shape.
// A nil slice means "do not filter this field"; an empty, non-nil slice
// means "present with any value".
type LogCondition struct {
	Addresses []string
	Topics0   []string
	Topics1   []string
	Topics2   []string
	Topics3   []string
}

// TxCondition mirrors spec's {from?, to?, function?} transaction filter shape.
type TxCondition struct {
	From     []string
	To       []string
	Function []string
}
