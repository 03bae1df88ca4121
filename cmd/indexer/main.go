package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"

	sampleerc20 "github.com/goran-ethernal/evmindex/examples/datasource"
	internalcommon "github.com/goran-ethernal/evmindex/internal/common"
	"github.com/goran-ethernal/evmindex/internal/chain"
	"github.com/goran-ethernal/evmindex/internal/config"
	"github.com/goran-ethernal/evmindex/internal/datasource"
	"github.com/goran-ethernal/evmindex/internal/db"
	"github.com/goran-ethernal/evmindex/internal/dictionary"
	"github.com/goran-ethernal/evmindex/internal/dispatcher"
	"github.com/goran-ethernal/evmindex/internal/fetchsvc"
	"github.com/goran-ethernal/evmindex/internal/logger"
	"github.com/goran-ethernal/evmindex/internal/metadata"
	metadatamig "github.com/goran-ethernal/evmindex/internal/metadata/migrations"
	"github.com/goran-ethernal/evmindex/internal/metrics"
	"github.com/goran-ethernal/evmindex/internal/rpcpool"
	"github.com/goran-ethernal/evmindex/internal/unfinalized"
	"github.com/goran-ethernal/evmindex/pkg/api"
	pkgconfig "github.com/goran-ethernal/evmindex/pkg/config"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║             evmindex v%s                ║
║   EVM Chain Block & Event Indexing Core    ║
╚═══════════════════════════════════════════╝
`
	metadataKeyLastProcessed = "lastProcessedHeight"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "evmindex - EVM chain block and event indexing core",
	Long: `evmindex fetches blocks and events from an EVM-compatible chain, tracks
unfinalized blocks for reorg safety, and dispatches per-block processing to a
bounded worker pool, optionally accelerated by a dictionary service.`,
	Version: version,
	RunE:    runIndexer,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the dictionary endpoints that would be negotiated for this config",
	Long:  `Loads the configuration and negotiates against every configured dictionary endpoint, printing the protocol version each one resolved to, without starting the indexer.`,
	RunE:  runStatus,
}

var configSchemaCmd = &cobra.Command{
	Use:   "config-schema",
	Short: "Print the JSON Schema for the configuration file format",
	Long:  `Reflects pkg/config.Config into a JSON Schema document, for editor autocompletion and CI validation of config.yaml/json/toml.`,
	RunE:  runConfigSchema,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configSchemaCmd)
}

func runConfigSchema(cmd *cobra.Command, args []string) error {
	schema := jsonschema.Reflect(&pkgconfig.Config{})
	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config schema: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Dictionary == nil {
		fmt.Println("dictionary acceleration is not configured")
		return nil
	}

	clients, err := dictionary.Negotiate(cmd.Context(), cfg.Dictionary, componentLogger(cfg, internalcommon.ComponentDictionary))
	if err != nil {
		return fmt.Errorf("negotiate dictionary endpoints: %w", err)
	}

	fmt.Printf("negotiated %d dictionary client(s):\n", len(clients))
	for _, c := range clients {
		fmt.Printf("  - version %d\n", c.Version())
	}
	return nil
}

// componentLogger builds a component-scoped logger, guarding against the
// nil-pointer-behind-non-nil-interface hazard: cfg.Logging is an optional
// *pkgconfig.LoggingConfig, and passing a nil one directly as the
// logger.LoggingConfig interface would pass logger's own nil check (it only
// sees a non-nil interface) and then panic on first field access.
func componentLogger(cfg *pkgconfig.Config, component string) *logger.Logger {
	var logCfg logger.LoggingConfig
	if cfg.Logging != nil {
		logCfg = cfg.Logging
	}
	return logger.NewComponentLoggerFromConfig(component, logCfg)
}

func runIndexer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	log := componentLogger(cfg, internalcommon.ComponentFetchService)

	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	log.Info("running metadata store migrations...")
	if err := metadatamig.RunMigrations(cfg.DB.Path); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	store := metadata.NewStore(database, componentLogger(cfg, internalcommon.ComponentMetadataStore))

	maintenance := db.NewMaintenanceCoordinator(cfg.DB.Path, database, cfg.Maintenance, componentLogger(cfg, internalcommon.ComponentMaintenance))
	if err := maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start database maintenance: %w", err)
	}
	defer func() {
		if err := maintenance.Stop(); err != nil {
			log.Warnf("failed to stop database maintenance: %v", err)
		}
	}()

	log.Info("connecting to the chain...")
	pool := rpcpool.NewPool(&cfg.RPC, &cfg.Pool, componentLogger(cfg, internalcommon.ComponentRPCPool))
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start rpc pool: %w", err)
	}
	defer pool.Stop()
	log.Infof("connected to %d/%d rpc endpoint(s)", pool.HealthyCount(), pool.TotalCount())

	chainAPI := chain.NewClient(pool, &cfg.Chain)

	var dict dictionary.Dictionary
	if cfg.Dictionary != nil {
		clients, err := dictionary.Negotiate(ctx, cfg.Dictionary, componentLogger(cfg, internalcommon.ComponentDictionary))
		if err != nil {
			return fmt.Errorf("failed to negotiate dictionary endpoints: %w", err)
		}
		dict = dictionary.NewMultiClient(clients, componentLogger(cfg, internalcommon.ComponentDictionary))
		log.Infof("negotiated %d dictionary endpoint(s)", len(clients))
	}

	tracker := unfinalized.NewTracker(store, chainAPI, componentLogger(cfg, internalcommon.ComponentUnfinalizedTrack))
	rewind, err := tracker.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("failed to bootstrap unfinalized tracker: %w", err)
	}

	var resumeFrom uint64
	if err := store.Read(ctx, metadataKeyLastProcessed, &resumeFrom); err != nil && !errors.Is(err, metadata.ErrNotFound) {
		return fmt.Errorf("failed to read last processed height: %w", err)
	}
	if rewind != nil {
		log.Warnf("fork detected on startup, rewinding resume height from %d to %d", resumeFrom, *rewind)
		resumeFrom = *rewind
	}

	handler, err := sampleerc20.NewHandler(chainAPI, cfg.DB, nil, componentLogger(cfg, internalcommon.ComponentDispatcher))
	if err != nil {
		return fmt.Errorf("failed to create sample data source handler: %w", err)
	}
	defer handler.Close()

	sources := []*datasource.DataSource{sampleerc20.NewDataSource(resumeFrom, 0)}
	hm := datasource.NewBlockHeightMap(sources)

	disp := dispatcher.New(
		&cfg.Dispatcher,
		store,
		tracker,
		handler,
		hm,
		resumeFrom,
		componentLogger(cfg, internalcommon.ComponentDispatcher),
	)
	defer disp.Stop()

	fetchService := fetchsvc.New(
		cfg,
		chainAPI,
		dict,
		tracker,
		disp,
		sources,
		resumeFrom+1,
		log,
	)

	if cfg.API != nil && cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, fetchService, disp, dictionaryStatusProvider(dict), componentLogger(cfg, internalcommon.ComponentAPI))
		go func() {
			if err := apiServer.Start(ctx); err != nil {
				log.Errorf("api server error: %v", err)
			}
		}()
	}

	log.Info("starting evmindex fetch loop...")
	if err := fetchService.Run(ctx); err != nil {
		return fmt.Errorf("fetch service stopped: %w", err)
	}

	log.Info("evmindex stopped successfully")
	return nil
}

// dictionaryStatusProvider adapts a possibly-nil dictionary.Dictionary to
// api.DictionaryStatusProvider, which must itself stay nil (not a non-nil
// interface wrapping a nil Dictionary) when acceleration is disabled, or the
// status handler's "h.dict != nil" check would wrongly see it as present.
func dictionaryStatusProvider(dict dictionary.Dictionary) api.DictionaryStatusProvider {
	if dict == nil {
		return nil
	}
	return dict
}

