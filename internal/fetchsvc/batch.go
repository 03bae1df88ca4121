package fetchsvc

import (
	"context"
	"errors"
	"sort"

	"github.com/goran-ethernal/evmindex/internal/dictionary"
)

// batch is the result of one iteration of batch computation: the heights to
// enqueue plus the last height the batch covers, which the fetch service's
// own cursor moves past even if heights is empty. The dispatcher is handed
// only heights.
type batch struct {
	heights      []uint64
	lastBuffered uint64
}

// computeBatch implements the fetch loop's per-iteration batch algorithm:
// dictionary-first with dense-enumeration fallback, a modulo-handler
// overlay, bypass subtraction, and truncation to the dispatcher's free
// capacity.
func (s *Service) computeBatch(ctx context.Context, nextHeight, finalizedTip uint64, freeSize int) (batch, error) {
	end := nextHeight + s.dictQuerySize
	if end > finalizedTip {
		end = finalizedTip
	}

	matched, lastBuffered, err := s.fetchRange(ctx, nextHeight, end)
	if err != nil {
		return batch{}, err
	}

	modulos := s.heightMap().ModuloFiltersInRange(nextHeight, end)
	every := make([]uint64, len(modulos))
	for i, m := range modulos {
		every[i] = m.Every
	}
	matched, lastBuffered = mergeModuloOverlay(matched, nextHeight, end, lastBuffered, every)
	matched = subtractBypass(matched, s.bypassBlocks)

	// A truncation here must not let lastBuffered outrun what was
	// actually enqueued: the remainder is deferred to the next
	// iteration, not skipped.
	if len(matched) > freeSize {
		matched = matched[:freeSize]
		if len(matched) > 0 {
			lastBuffered = matched[len(matched)-1]
		} else if nextHeight > 0 {
			lastBuffered = nextHeight - 1
		} else {
			lastBuffered = 0
		}
	}

	return batch{heights: matched, lastBuffered: lastBuffered}, nil
}

// fetchRange returns the matched heights in [start, end] via the
// dictionary when it is usable for this range (with end clamped to the
// dictionary's lastProcessedHeight), falling back to dense enumeration of
// every height from start, at most dictQuerySize of them, otherwise.
func (s *Service) fetchRange(ctx context.Context, start, end uint64) ([]uint64, uint64, error) {
	dict := s.dict
	if dict != nil {
		meta, err := s.dictMetadata(ctx)
		if err == nil && start >= meta.StartHeight && meta.LastProcessedHeight >= start {
			result, err := dict.GetData(ctx, start, min(end, meta.LastProcessedHeight), s.queryAddressLimit)
			if err == nil {
				return result.MatchedHeights, result.LastBufferedHeight, nil
			}
			if !errors.Is(err, dictionary.ErrUnaccelerable) {
				s.log.Warnf("dictionary query failed, falling back to dense enumeration: %v", err)
			}
		} else {
			dictionary.BehindInc()
		}
	}

	if end < start {
		return nil, start, nil
	}
	if s.dictQuerySize > 0 && end-start+1 > s.dictQuerySize {
		end = start + s.dictQuerySize - 1
	}
	heights := make([]uint64, 0, end-start+1)
	for h := start; h <= end; h++ {
		heights = append(heights, h)
	}
	return heights, end, nil
}

// mergeModuloOverlay adds every height that is a multiple of some
// configured modulo filter within [start, end] into matched, merging
// sorted-unique since both inputs are already ascending. A modulo stride
// can land past the dictionary/dense range's own lastBuffered (end is the
// full query window, lastBuffered only the verified range). When it does,
// the returned lastBuffered is raised to cover it, since those heights
// are about to be enqueued too.
func mergeModuloOverlay(matched []uint64, start, end, lastBuffered uint64, modulos []uint64) ([]uint64, uint64) {
	if len(modulos) == 0 {
		return matched, lastBuffered
	}

	overlay := make(map[uint64]struct{})
	for _, m := range modulos {
		if m == 0 {
			continue
		}
		first := ((start + m - 1) / m) * m
		for k := first; k <= end; k += m {
			overlay[k] = struct{}{}
			if k > lastBuffered {
				lastBuffered = k
			}
		}
	}
	if len(overlay) == 0 {
		return matched, lastBuffered
	}

	for _, h := range matched {
		delete(overlay, h)
	}
	merged := append([]uint64{}, matched...)
	for h := range overlay {
		merged = append(merged, h)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i] < merged[j] })
	return merged, lastBuffered
}

// subtractBypass removes any height the operator has flagged as a known
// dictionary gap that must be skipped rather than re-fetched here.
func subtractBypass(matched []uint64, bypass []uint64) []uint64 {
	if len(bypass) == 0 {
		return matched
	}
	skip := make(map[uint64]struct{}, len(bypass))
	for _, h := range bypass {
		skip[h] = struct{}{}
	}
	out := matched[:0:0]
	for _, h := range matched {
		if _, ok := skip[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}
