package dictionary

import (
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goran-ethernal/evmindex/internal/datasource"
)

// BuildQueryEntry projects every handler filter of every given, active data
// source into one QueryEntry, following spec's construction rules:
// addresses/topics/selectors lowercased and deduplicated, a bare Block
// handler voiding dictionary use, Call filters preferring options.address
// over an explicit filter.To when both are set.
func BuildQueryEntry(sources []*datasource.DataSource, warn func(msg string)) QueryEntry {
	var entry QueryEntry

	logSeen := map[string]struct{}{}
	txSeen := map[string]struct{}{}

	for _, ds := range sources {
		for _, h := range ds.Handlers {
			switch h.Kind {
			case datasource.HandlerBlock:
				if h.Block == nil || h.Block.Every == 0 {
					entry.Unaccelerable = true
				}
			case datasource.HandlerEvent:
				if h.Event == nil {
					continue
				}
				cond := buildLogCondition(ds, h.Event)
				key := logConditionKey(cond)
				if _, dup := logSeen[key]; dup {
					continue
				}
				logSeen[key] = struct{}{}
				entry.Logs = append(entry.Logs, cond)
			case datasource.HandlerCall:
				if h.Call == nil {
					continue
				}
				cond := buildTxCondition(ds, h.Call, warn)
				key := txConditionKey(cond)
				if _, dup := txSeen[key]; dup {
					continue
				}
				txSeen[key] = struct{}{}
				entry.Transactions = append(entry.Transactions, cond)
			}
		}
	}

	return entry
}

func buildLogCondition(ds *datasource.DataSource, f *datasource.EventFilter) LogCondition {
	var cond LogCondition
	if ds.Options.Address != nil {
		cond.Addresses = []string{strings.ToLower(ds.Options.Address.Hex())}
	}

	slots := [4]*[]string{&cond.Topics0, &cond.Topics1, &cond.Topics2, &cond.Topics3}
	for i, topic := range f.Topics {
		switch {
		case topic == nil:
			// absent: leave the slot nil, meaning "do not filter"
		case topic == datasource.TopicAny:
			*slots[i] = []string{}
		default:
			*slots[i] = []string{strings.ToLower(topic.Hex())}
		}
	}
	return cond
}

func buildTxCondition(ds *datasource.DataSource, f *datasource.CallFilter, warn func(string)) TxCondition {
	var cond TxCondition
	if f.From != nil {
		cond.From = []string{strings.ToLower(f.From.Hex())}
	}

	switch {
	case ds.Options.Address != nil:
		cond.To = []string{strings.ToLower(ds.Options.Address.Hex())}
		if f.To != nil && warn != nil {
			warn("data source options.address conflicts with handler filter.to; keeping options.address")
		}
	case f.To == datasource.ToContractCreation:
		cond.To = []string{""}
	case f.To != nil:
		cond.To = []string{strings.ToLower(f.To.Hex())}
	}

	if f.Function != "" {
		selector := crypto.Keccak256([]byte(normalizeSignature(f.Function)))[:4]
		cond.Function = []string{strings.ToLower(hexPrefix(selector))}
	}

	return cond
}

// normalizeSignature strips whitespace from a handler-declared function
// signature ("transfer(address, uint256)") before hashing, matching how
// go-ethereum's abi.Method.Sig is built.
func normalizeSignature(sig string) string {
	return strings.ReplaceAll(sig, " ", "")
}

func hexPrefix(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2+len(b)*2)
	out[0], out[1] = '0', 'x'
	for i, c := range b {
		out[2+i*2] = hextable[c>>4]
		out[2+i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}

func logConditionKey(c LogCondition) string {
	return strings.Join(c.Addresses, ",") + "|" + strings.Join(c.Topics0, ",") + "|" +
		strings.Join(c.Topics1, ",") + "|" + strings.Join(c.Topics2, ",") + "|" + strings.Join(c.Topics3, ",")
}

func txConditionKey(c TxCondition) string {
	return strings.Join(c.From, ",") + "|" + strings.Join(c.To, ",") + "|" + strings.Join(c.Function, ",")
}

// BuildRangeEntries projects heightMap into one QueryEntry per distinct
// start height boundary, the shape both v1Client and v2Client cache and
// consult in GetData.
func BuildRangeEntries(heightMap *datasource.BlockHeightMap, warn func(string)) []RangeEntry {
	starts := heightMap.StartHeights()
	entries := make([]RangeEntry, 0, len(starts))
	for _, start := range starts {
		active := heightMap.ActiveAt(start)
		entries = append(entries, RangeEntry{
			StartHeight: start,
			Entry:       BuildQueryEntry(active, warn),
		})
	}
	return entries
}

// RangeEntry pairs a QueryEntry with the height it becomes active at.
type RangeEntry struct {
	StartHeight uint64
	Entry       QueryEntry
}

// EntryForHeight returns the QueryEntry active at height: the last entry
// whose StartHeight is <= height, since entries is sorted ascending.
func EntryForHeight(entries []RangeEntry, height uint64) (QueryEntry, bool) {
	var best *RangeEntry
	for i := range entries {
		if entries[i].StartHeight > height {
			break
		}
		best = &entries[i]
	}
	if best == nil {
		return QueryEntry{}, false
	}
	return best.Entry, true
}
