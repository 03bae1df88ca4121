package dictionary

import (
	"context"

	"github.com/goran-ethernal/evmindex/internal/logger"
	"github.com/goran-ethernal/evmindex/internal/rpc"
	"github.com/goran-ethernal/evmindex/pkg/config"
)

// Negotiate probes each configured dictionary endpoint with a v2
// subql_getMetadata call; any error (including a plain HTTP/GraphQL
// endpoint that doesn't speak JSON-RPC at all) falls back to v1 for that
// endpoint. The returned clients are ordered with v2 endpoints first,
// matching the scheduling preference multiClient applies.
func Negotiate(ctx context.Context, cfg *config.DictionaryConfig, log *logger.Logger) ([]Dictionary, error) {
	var v2s, v1s []Dictionary

	for _, endpoint := range cfg.Endpoints {
		rpcCfg := &config.RPCConfig{
			Endpoints:      []config.EndpointConfig{{URL: endpoint, Weight: 1}},
			RequestTimeout: cfg.QueryTimeout,
			MaxBatchSize:   1,
			CoalesceWindow: cfg.QueryTimeout,
			Retry: &config.RetryConfig{
				ThrottleLimit: 1,
				SlotInterval:  cfg.QueryTimeout,
				Timeout:       cfg.QueryTimeout,
			},
		}
		conn := rpc.NewClient(endpoint, rpcCfg)

		v2 := newV2Client(conn, log)
		probeCtx, cancel := context.WithTimeout(ctx, cfg.QueryTimeout.Duration)
		_, err := v2.InitMetadata(probeCtx)
		cancel()

		if err == nil {
			log.Infof("dictionary endpoint negotiated v2: endpoint=%s", endpoint)
			v2s = append(v2s, v2)
			continue
		}

		log.Warnf("dictionary endpoint falling back to v1: endpoint=%s reason=%v", endpoint, err)
		v1s = append(v1s, newV1Client(endpoint, cfg.QueryTimeout.Duration, log))
	}

	return append(v2s, v1s...), nil
}
