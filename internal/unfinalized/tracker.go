// Package unfinalized tracks blocks between the chain tip and the finalized
// height, detecting reorgs by comparing recorded hashes against the chain's
// current view and computing a rewind target when a fork is found.
package unfinalized

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/evmindex/internal/chain"
	"github.com/goran-ethernal/evmindex/internal/logger"
	"github.com/goran-ethernal/evmindex/internal/metadata"
)

// ErrInvariantViolation is returned by RegisterUnfinalized when the caller
// attempts to register a height that does not extend the tracked chain by
// exactly one block, a sign of an upstream ordering bug rather than a fork.
var ErrInvariantViolation = errors.New("unfinalized: height does not extend tracked chain")

const (
	metadataKeyUnfinalized   = "unfinalizedBlocks"
	metadataKeyVerifiedTip   = "lastFinalizedVerifiedHeight"
	directHeaderFetchGapSize = 200
)

// Record is one tracked, not-yet-finalized block.
type Record struct {
	Height uint64      `json:"height"`
	Hash   common.Hash `json:"hash"`
}

// Tracker holds the in-memory unfinalized chain and persists it through
// internal/metadata.Store, reusing the caller's transaction so the tracker
// state and the block's own processing commit atomically.
type Tracker struct {
	store *metadata.Store
	chain chain.API
	log   *logger.Logger

	unfinalized            []Record
	finalizedHeader        *ethtypes.Header
	lastCheckedBlockHeight uint64
}

// NewTracker builds a Tracker backed by store and chain.
func NewTracker(store *metadata.Store, chainAPI chain.API, log *logger.Logger) *Tracker {
	return &Tracker{
		store: store,
		chain: chainAPI,
		log:   log.WithComponent("unfinalized-tracker"),
	}
}

// Bootstrap loads any persisted tracker state and runs one pass of
// ProcessUnfinalizedBlocks before the fetch service's main loop starts,
// returning a rewind height if a fork is already pending from a previous run.
func (t *Tracker) Bootstrap(ctx context.Context) (*uint64, error) {
	var records []Record
	err := t.store.Read(ctx, metadataKeyUnfinalized, &records)
	if err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return nil, fmt.Errorf("unfinalized: bootstrap read %s: %w", metadataKeyUnfinalized, err)
	}
	if err == nil {
		t.unfinalized = records
	}

	var verifiedTip uint64
	err = t.store.Read(ctx, metadataKeyVerifiedTip, &verifiedTip)
	if err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return nil, fmt.Errorf("unfinalized: bootstrap read %s: %w", metadataKeyVerifiedTip, err)
	}
	if err == nil {
		t.lastCheckedBlockHeight = verifiedTip
	}

	tx, err := t.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("unfinalized: bootstrap begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rewind, err := t.ProcessUnfinalizedBlocks(ctx, tx, nil)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("unfinalized: bootstrap commit: %w", err)
	}
	return rewind, nil
}

// RegisterUnfinalized records a newly fetched block as not-yet-finalized.
// height must equal the last tracked height plus one, or the list must be
// empty; any other relationship is an invariant violation. Heights at or
// below the current finalized height are silently dropped, since they are
// already covered by finalization.
func (t *Tracker) RegisterUnfinalized(height uint64, hash common.Hash) error {
	if t.finalizedHeader != nil && height <= t.finalizedHeader.Number.Uint64() {
		return nil
	}

	if len(t.unfinalized) > 0 {
		last := t.unfinalized[len(t.unfinalized)-1]
		if height != last.Height+1 {
			return fmt.Errorf("%w: got %d, want %d", ErrInvariantViolation, height, last.Height+1)
		}
	}

	t.unfinalized = append(t.unfinalized, Record{Height: height, Hash: hash})
	return nil
}

// RegisterFinalized updates the tracked finalized header. Non-monotonic
// updates (a header at or below the current one) are ignored.
func (t *Tracker) RegisterFinalized(header *ethtypes.Header) {
	if t.finalizedHeader != nil && header.Number.Uint64() <= t.finalizedHeader.Number.Uint64() {
		return
	}
	t.finalizedHeader = header
}

// ProcessUnfinalizedBlocks implements the fork-detection algorithm: register
// newBlock if given, check whether the tracked chain has forked against the
// finalized header, and either prune finalized records or compute a rewind
// target. tx is the caller's transaction; tracker state is persisted through
// it so it commits atomically with whatever else the caller is doing.
func (t *Tracker) ProcessUnfinalizedBlocks(ctx context.Context, tx *sql.Tx, newBlock *Record) (*uint64, error) {
	if newBlock != nil {
		if err := t.RegisterUnfinalized(newBlock.Height, newBlock.Hash); err != nil {
			return nil, err
		}
	}

	if t.finalizedHeader == nil {
		return nil, t.persist(ctx, tx)
	}

	forked, err := t.hasForked(ctx)
	if err != nil {
		return nil, err
	}

	finalizedHeight := t.finalizedHeader.Number.Uint64()

	if !forked {
		t.deleteFinalized(finalizedHeight)
		t.lastCheckedBlockHeight = finalizedHeight
		return nil, t.persist(ctx, tx)
	}

	rewind := t.findRewindTarget(ctx, finalizedHeight)
	t.log.Warnf("fork detected, rewinding: target=%d", rewind)
	return &rewind, t.persist(ctx, tx)
}

// hasForked finds the highest tracked record at or below the finalized
// height (the "verifiable" block) and compares it against the canonical
// chain, walking the parent-hash chain down from the finalized header (or
// jumping directly via a height lookup when the gap is large).
func (t *Tracker) hasForked(ctx context.Context) (bool, error) {
	finalizedHeight := t.finalizedHeader.Number.Uint64()

	var verifiable *Record
	for i := len(t.unfinalized) - 1; i >= 0; i-- {
		if t.unfinalized[i].Height <= finalizedHeight {
			verifiable = &t.unfinalized[i]
			break
		}
	}
	if verifiable == nil {
		return false, nil
	}

	if verifiable.Height == finalizedHeight {
		return verifiable.Hash != t.finalizedHeader.Hash(), nil
	}

	gap := finalizedHeight - verifiable.Height
	var canonicalHash common.Hash
	if gap > directHeaderFetchGapSize {
		header, err := t.chain.HeaderByNumber(ctx, &verifiable.Height)
		if err != nil {
			return false, fmt.Errorf("unfinalized: fetch header at %d: %w", verifiable.Height, err)
		}
		canonicalHash = header.Hash()
	} else {
		hash, err := t.walkParentChain(ctx, verifiable.Height)
		if err != nil {
			return false, err
		}
		canonicalHash = hash
	}

	return verifiable.Hash != canonicalHash, nil
}

// walkParentChain follows parentHash pointers backward from the finalized
// header until it reaches targetHeight, returning that ancestor's hash.
func (t *Tracker) walkParentChain(ctx context.Context, targetHeight uint64) (common.Hash, error) {
	current := t.finalizedHeader
	for current.Number.Uint64() > targetHeight {
		parentNum := current.Number.Uint64() - 1
		header, err := t.chain.HeaderByNumber(ctx, &parentNum)
		if err != nil {
			return common.Hash{}, fmt.Errorf("unfinalized: walk parent chain at %d: %w", parentNum, err)
		}
		if header.Hash() != current.ParentHash {
			return common.Hash{}, fmt.Errorf("unfinalized: discontinuous parent chain at %d", parentNum)
		}
		current = header
	}
	return current.Hash(), nil
}

// findRewindTarget walks the tracked records in reverse looking for the
// first one whose hash still matches the canonical chain, falling back to
// lastCheckedBlockHeight when nothing below the finalized height matches.
func (t *Tracker) findRewindTarget(ctx context.Context, finalizedHeight uint64) uint64 {
	for i := len(t.unfinalized) - 1; i >= 0; i-- {
		rec := t.unfinalized[i]
		if rec.Height > finalizedHeight {
			continue
		}
		header, err := t.chain.HeaderByNumber(ctx, &rec.Height)
		if err != nil {
			continue
		}
		if header.Hash() == rec.Hash {
			return rec.Height
		}
	}
	return t.lastCheckedBlockHeight
}

func (t *Tracker) deleteFinalized(finalizedHeight uint64) {
	kept := t.unfinalized[:0]
	for _, rec := range t.unfinalized {
		if rec.Height > finalizedHeight {
			kept = append(kept, rec)
		}
	}
	t.unfinalized = kept
}

func (t *Tracker) persist(ctx context.Context, tx *sql.Tx) error {
	if err := metadata.Upsert(ctx, tx, metadataKeyUnfinalized, t.unfinalized); err != nil {
		return fmt.Errorf("unfinalized: persist %s: %w", metadataKeyUnfinalized, err)
	}
	if err := metadata.Upsert(ctx, tx, metadataKeyVerifiedTip, t.lastCheckedBlockHeight); err != nil {
		return fmt.Errorf("unfinalized: persist %s: %w", metadataKeyVerifiedTip, err)
	}
	return nil
}
