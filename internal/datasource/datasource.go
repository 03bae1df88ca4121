// Package datasource defines the user-supplied indexing configuration: data
// sources, their handlers and filters, and the height-ordered map used to
// resolve which data sources are active at a given block.
package datasource

import (
	"github.com/ethereum/go-ethereum/common"
)

// HandlerKind enumerates the three handler shapes a data source can declare.
type HandlerKind string

const (
	HandlerBlock HandlerKind = "Block"
	HandlerCall  HandlerKind = "Call"
	HandlerEvent HandlerKind = "Event"
)

// TopicAny is a sentinel distinct from nil used in an EventFilter's Topics
// slot to mean "present with any value" (the literal "!null" in spec terms),
// as opposed to nil which means "not filtered on this slot at all". Callers
// must compare against it by pointer identity (==), never by value, since a
// real topic hash could otherwise coincidentally equal any fixed bit pattern.
var TopicAny = new(common.Hash)

// ToContractCreation is a sentinel distinct from both nil ("any recipient")
// and a concrete address, used in a CallFilter's To field to mean "explicit
// null", which matches contract-creation transactions only. Compare by
// pointer identity, the same rule as TopicAny.
var ToContractCreation = new(common.Address)

// EventFilter matches handlers of HandlerKind Event. Each Topics slot is nil
// (unfiltered), TopicAny (present with any value), or a concrete hash.
type EventFilter struct {
	Topics [4]*common.Hash
}

// CallFilter matches handlers of HandlerKind Call. Function is hashed to its
// 4-byte selector by the dictionary query builder, not here.
type CallFilter struct {
	From     *common.Address
	To       *common.Address
	Function string
}

// ModuloFilter matches handlers of HandlerKind Block configured as
// "every Mth block"; zero means the handler is not modulo-based.
type ModuloFilter struct {
	Every uint64
}

// Handler is one mapping entry of a data source: a kind, a name the worker
// IPC boundary dispatches to, and the filter matching that kind.
type Handler struct {
	Kind  HandlerKind
	Name  string
	Event *EventFilter
	Call  *CallFilter
	Block *ModuloFilter
}

// Options carries the optional per-data-source ABI and address projection
// used both by the query builder (options.address -> filter.to) and handler
// dispatch (ABI decoding).
type Options struct {
	ABI     string
	Address *common.Address
}

// DataSource is one user-supplied indexing unit: active from StartBlock
// (inclusive) to EndBlock (inclusive, zero meaning unbounded), contributing
// Handlers to the query builder and dispatch once active.
type DataSource struct {
	Kind       string
	StartBlock uint64
	EndBlock   uint64 // 0 means unbounded
	Options    Options
	Handlers   []Handler
}

// Active reports whether this data source covers the given height.
func (ds *DataSource) Active(height uint64) bool {
	if height < ds.StartBlock {
		return false
	}
	if ds.EndBlock != 0 && height > ds.EndBlock {
		return false
	}
	return true
}

// HasBlockHandler reports whether any handler is a non-modulo Block handler,
// which voids dictionary use for the data source's whole active range.
func (ds *DataSource) HasBlockHandler() bool {
	for _, h := range ds.Handlers {
		if h.Kind == HandlerBlock && (h.Block == nil || h.Block.Every == 0) {
			return true
		}
	}
	return false
}

// ModuloHandlers returns every Block handler configured with a nonzero
// Every, used by the fetch service's modulo overlay step.
func (ds *DataSource) ModuloHandlers() []ModuloFilter {
	var out []ModuloFilter
	for _, h := range ds.Handlers {
		if h.Kind == HandlerBlock && h.Block != nil && h.Block.Every > 0 {
			out = append(out, *h.Block)
		}
	}
	return out
}
