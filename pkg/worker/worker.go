// Package worker defines the message contract between the dispatcher and
// the per-block processing boundary. The sandboxed out-of-process worker
// itself is out of scope; this package only fixes the shape of what
// crosses that boundary so a real IPC transport could be dropped in later
// without touching dispatcher call sites.
package worker

import (
	"context"

	"github.com/goran-ethernal/evmindex/internal/datasource"
)

// FetchBlockMsg asks the worker to process a single height. Every field is
// a value so the message can be serialized across a real process boundary
// without carrying pointers or open handles.
type FetchBlockMsg struct {
	Height uint64
}

// ProcessBlockMsg carries everything a worker needs to run handlers for one
// height: the height itself and the names of the data sources active at
// that height (resolved by the dispatcher from the BlockHeightMap before
// dispatch, so the worker never needs its own copy of the full map).
type ProcessBlockMsg struct {
	Height      uint64
	DataSources []string
}

// ProcessBlockResult is what a worker reports back after running handlers.
// Hash lets the caller feed unfinalized.Tracker.RegisterUnfinalized without
// a second chain round-trip. DynamicDS carries any new data sources a
// handler registered during processing (spec.md's dynamic data source
// registration), returned by value so the dispatcher can merge them into
// its BlockHeightMap without aliasing worker-owned memory.
type ProcessBlockResult struct {
	Hash      string
	DynamicDS []datasource.DataSource
}

// BlockResponseMsg is the terminal message for one height: either a result
// or an error, never both.
type BlockResponseMsg struct {
	Height uint64
	Result ProcessBlockResult
	Err    error
}

// Handler runs the registered handlers for one block and returns whatever
// dynamic data sources it discovered. Implementations are expected to be
// in-process for now; a real sandboxed worker
// would marshal ProcessBlockMsg/BlockResponseMsg across IPC instead of
// calling Handle directly.
type Handler interface {
	Handle(ctx context.Context, msg ProcessBlockMsg) (ProcessBlockResult, error)
}
