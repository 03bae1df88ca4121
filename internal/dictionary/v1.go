package dictionary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/goran-ethernal/evmindex/internal/datasource"
	"github.com/goran-ethernal/evmindex/internal/logger"
)

// v1Client speaks the GraphQL dictionary protocol directly over net/http: no
// GraphQL client library is pulled in because none appears anywhere in the
// reference corpus for this spec (documented in DESIGN.md), so the query
// document is hand-built with text/template the same way the teacher builds
// other request bodies by hand.
type v1Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	log      *logger.Logger

	mu      sync.RWMutex
	entries []RangeEntry

	supportsDistinct    bool
	supportsStartHeight bool
}

// newV1Client builds a GraphQL-over-HTTP dictionary client for endpoint.
func newV1Client(endpoint string, timeout time.Duration, log *logger.Logger) *v1Client {
	return &v1Client{
		endpoint:            endpoint,
		http:                &http.Client{Timeout: timeout},
		timeout:             timeout,
		log:                 log.WithComponent("dictionary"),
		supportsDistinct:    true,
		supportsStartHeight: true,
	}
}

func (c *v1Client) Version() int { return 1 }

func (c *v1Client) UpdateQueriesMap(heightMap *datasource.BlockHeightMap) {
	entries := BuildRangeEntries(heightMap, func(msg string) { c.log.Warnf("%s", msg) })

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

// entryForHeight is a thin helper used by GetData's block-handler check:
// v1 only returns sparse heights, so a wholly-unaccelerable range must still
// be reported to the caller so it falls back to dense enumeration.
func (c *v1Client) entryForHeight(height uint64) (QueryEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return EntryForHeight(c.entries, height)
}

// metadataQueryTemplate requests the _metadata fields. startHeight is
// included only when the endpoint is known to support it.
var metadataQueryTemplate = template.Must(template.New("metadata").Parse(`{
  _metadata { lastProcessedHeight genesisHash{{if .StartHeight}} startHeight{{end}} }
}`))

type metadataQueryVars struct {
	StartHeight bool
}

func (c *v1Client) InitMetadata(ctx context.Context) (*Metadata, error) {
	c.mu.RLock()
	supportsStartHeight := c.supportsStartHeight
	c.mu.RUnlock()

	var buf bytes.Buffer
	if err := metadataQueryTemplate.Execute(&buf, metadataQueryVars{StartHeight: supportsStartHeight}); err != nil {
		return nil, fmt.Errorf("dictionary v1: build metadata query: %w", err)
	}

	var resp struct {
		Data struct {
			Metadata struct {
				LastProcessedHeight uint64 `json:"lastProcessedHeight"`
				GenesisHash         string `json:"genesisHash"`
				StartHeight         uint64 `json:"startHeight"`
			} `json:"_metadata"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}

	if err := c.post(ctx, buf.String(), &resp); err != nil {
		return nil, err
	}

	for _, e := range resp.Errors {
		if containsCapabilityHint(e.Message) {
			CapabilityDisabledInc("startHeight")
			c.mu.Lock()
			c.supportsStartHeight = false
			c.mu.Unlock()
			return c.InitMetadata(ctx)
		}
		return nil, fmt.Errorf("dictionary v1: graphql error: %s", e.Message)
	}

	return &Metadata{
		GenesisHash:         resp.Data.Metadata.GenesisHash,
		LastProcessedHeight: resp.Data.Metadata.LastProcessedHeight,
		StartHeight:         resp.Data.Metadata.StartHeight,
	}, nil
}

// blockQueryTemplate builds one filtered node-set per condition group;
// distinct is appended only when the endpoint is known to support it.
var blockQueryTemplate = template.Must(template.New("blocks").Parse(`{
  blocks(filter: { blockHeight: { greaterThanOrEqualTo: "{{.Start}}", lessThanOrEqualTo: "{{.End}}" } }{{if .Distinct}}, distinct: [BLOCK_HEIGHT]{{end}}, first: {{.Limit}}) {
    nodes { blockHeight }
  }
}`))

type blockQueryVars struct {
	Start, End uint64
	Limit      int
	Distinct   bool
}

func (c *v1Client) GetData(ctx context.Context, start, end uint64, limit int) (*Result, error) {
	if entry, ok := c.entryForHeight(start); ok && entry.Unaccelerable {
		return nil, ErrUnaccelerable
	}

	c.mu.RLock()
	distinct := c.supportsDistinct
	c.mu.RUnlock()

	var buf bytes.Buffer
	if err := blockQueryTemplate.Execute(&buf, blockQueryVars{Start: start, End: end, Limit: limit, Distinct: distinct}); err != nil {
		return nil, fmt.Errorf("dictionary v1: build block query: %w", err)
	}

	var resp struct {
		Data struct {
			Blocks struct {
				Nodes []struct {
					BlockHeight uint64 `json:"blockHeight"`
				} `json:"nodes"`
			} `json:"blocks"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}

	if err := c.post(ctx, buf.String(), &resp); err != nil {
		return nil, err
	}

	for _, e := range resp.Errors {
		if containsCapabilityHint(e.Message) {
			CapabilityDisabledInc("distinct")
			c.mu.Lock()
			c.supportsDistinct = false
			c.mu.Unlock()
			return c.GetData(ctx, start, end, limit)
		}
		return nil, fmt.Errorf("dictionary v1: graphql error: %s", e.Message)
	}

	heights := make([]uint64, 0, len(resp.Data.Blocks.Nodes))
	last := start
	for _, n := range resp.Data.Blocks.Nodes {
		heights = append(heights, n.BlockHeight)
		if n.BlockHeight > last {
			last = n.BlockHeight
		}
	}

	QueryInc(1, "ok")
	return &Result{MatchedHeights: heights, LastBufferedHeight: last}, nil
}

func (c *v1Client) post(ctx context.Context, query string, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return fmt.Errorf("dictionary v1: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("dictionary v1: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dictionary v1: request to %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dictionary v1: %s returned status %d", c.endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("dictionary v1: decode response: %w", err)
	}
	return nil
}

func containsCapabilityHint(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "distinct") || strings.Contains(lower, "startheight")
}
