package dictionary

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goran-ethernal/evmindex/internal/logger"
	"github.com/stretchr/testify/require"
)

func TestV1Client_GetData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"blocks": map[string]any{
					"nodes": []map[string]any{{"blockHeight": 101}, {"blockHeight": 105}},
				},
			},
		})
	}))
	defer srv.Close()

	c := newV1Client(srv.URL, time.Second, logger.NewNopLogger())
	result, err := c.GetData(t.Context(), 100, 200, 10)
	require.NoError(t, err)
	require.Equal(t, []uint64{101, 105}, result.MatchedHeights)
	require.Equal(t, uint64(105), result.LastBufferedHeight)
}

func TestV1Client_InitMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"_metadata": map[string]any{
					"lastProcessedHeight": 500,
					"genesisHash":         "0xabc",
					"startHeight":         1,
				},
			},
		})
	}))
	defer srv.Close()

	c := newV1Client(srv.URL, time.Second, logger.NewNopLogger())
	meta, err := c.InitMetadata(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(500), meta.LastProcessedHeight)
}

func TestV1Client_DisablesDistinctOnCapabilityError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"errors": []map[string]any{{"message": "Unknown argument \"distinct\""}},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"blocks": map[string]any{"nodes": []map[string]any{}}},
		})
	}))
	defer srv.Close()

	c := newV1Client(srv.URL, time.Second, logger.NewNopLogger())
	_, err := c.GetData(t.Context(), 100, 200, 10)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.False(t, c.supportsDistinct)
}
