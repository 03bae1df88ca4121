package datasource

import "sort"

// BlockHeightMap orders data sources by StartBlock and answers "what is the
// active data source set at height H" in O(log N), via a sorted-slice binary
// search rather than a balanced tree: rebuilds are infrequent (only on
// resetForNewDS) and the slice is immutable between rebuilds.
type BlockHeightMap struct {
	entries []heightEntry
}

type heightEntry struct {
	startBlock uint64
	sources    []*DataSource
}

// NewBlockHeightMap builds a map from an unordered set of data sources,
// grouping them by StartBlock and sorting the resulting entries ascending.
func NewBlockHeightMap(sources []*DataSource) *BlockHeightMap {
	byStart := make(map[uint64][]*DataSource)
	for _, ds := range sources {
		byStart[ds.StartBlock] = append(byStart[ds.StartBlock], ds)
	}

	entries := make([]heightEntry, 0, len(byStart))
	for start, ds := range byStart {
		entries = append(entries, heightEntry{startBlock: start, sources: ds})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].startBlock < entries[j].startBlock })

	return &BlockHeightMap{entries: entries}
}

// ActiveAt returns every data source whose [StartBlock, EndBlock] range
// covers height, in O(log N + k) where k is the number of entries at or
// below height (bounded in practice by how spread out StartBlocks are).
func (m *BlockHeightMap) ActiveAt(height uint64) []*DataSource {
	if len(m.entries) == 0 {
		return nil
	}

	// idx is the first entry whose startBlock > height; every entry before
	// it starts at or before height and is a candidate.
	idx := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].startBlock > height
	})

	var active []*DataSource
	for i := 0; i < idx; i++ {
		for _, ds := range m.entries[i].sources {
			if ds.Active(height) {
				active = append(active, ds)
			}
		}
	}
	return active
}

// LowestStartBlock returns the smallest StartBlock across all entries, used
// when a new data source forces the fetch cursor to rewind. The second
// return is false when the map is empty.
func (m *BlockHeightMap) LowestStartBlock() (uint64, bool) {
	if len(m.entries) == 0 {
		return 0, false
	}
	return m.entries[0].startBlock, true
}

// HasBlockHandlerAt reports whether any data source active at height
// declares a non-modulo Block handler, which voids dictionary use for that
// height.
func (m *BlockHeightMap) HasBlockHandlerAt(height uint64) bool {
	for _, ds := range m.ActiveAt(height) {
		if ds.HasBlockHandler() {
			return true
		}
	}
	return false
}

// Len returns the number of distinct StartBlock entries in the map.
func (m *BlockHeightMap) Len() int {
	return len(m.entries)
}

// StartHeights returns every distinct StartBlock in ascending order, the
// range boundaries the dictionary query builder rebuilds one entry per.
func (m *BlockHeightMap) StartHeights() []uint64 {
	heights := make([]uint64, len(m.entries))
	for i, e := range m.entries {
		heights[i] = e.startBlock
	}
	return heights
}

// ModuloFiltersInRange collects every modulo Block handler belonging to a
// data source whose active range overlaps [start, end], used by the fetch
// service's modulo overlay step.
func (m *BlockHeightMap) ModuloFiltersInRange(start, end uint64) []ModuloFilter {
	var out []ModuloFilter
	for _, e := range m.entries {
		for _, ds := range e.sources {
			if ds.StartBlock > end {
				continue
			}
			if ds.EndBlock != 0 && ds.EndBlock < start {
				continue
			}
			out = append(out, ds.ModuloHandlers()...)
		}
	}
	return out
}
