package config

import (
	"fmt"
	"slices"
	"time"

	"github.com/goran-ethernal/evmindex/internal/common"
	"github.com/goran-ethernal/evmindex/internal/logger"
)

// Config represents the complete configuration for the indexer core.
type Config struct {
	// RPC contains JSON-RPC transport configuration shared by every endpoint in the pool.
	RPC RPCConfig `yaml:"rpc" json:"rpc" toml:"rpc"`

	// Pool contains connection pool configuration.
	Pool PoolConfig `yaml:"pool" json:"pool" toml:"pool"`

	// Chain contains chain-level configuration (finality, ABI handling).
	Chain ChainConfig `yaml:"chain" json:"chain" toml:"chain"`

	// Dictionary contains dictionary acceleration client configuration.
	Dictionary *DictionaryConfig `yaml:"dictionary,omitempty" json:"dictionary,omitempty" toml:"dictionary,omitempty"`

	// Unfinalized contains unfinalized-block tracking configuration.
	Unfinalized UnfinalizedConfig `yaml:"unfinalized" json:"unfinalized" toml:"unfinalized"`

	// FetchService contains the fetch service main-loop configuration.
	FetchService FetchServiceConfig `yaml:"fetch_service" json:"fetch_service" toml:"fetch_service"`

	// Dispatcher contains the block dispatcher worker pool configuration.
	Dispatcher DispatcherConfig `yaml:"dispatcher" json:"dispatcher" toml:"dispatcher"`

	// DB contains database configuration for the metadata and unfinalized-block stores.
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// RetentionPolicy contains optional database retention policy settings.
	RetentionPolicy *RetentionPolicyConfig `yaml:"retention_policy,omitempty" json:"retention_policy,omitempty" toml:"retention_policy,omitempty"` //nolint:lll

	// Maintenance contains optional database maintenance settings.
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`

	// Logging contains logging configuration.
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration.
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// API contains the operator status/health HTTP API configuration.
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`
}

// EndpointConfig describes a single upstream RPC endpoint.
type EndpointConfig struct {
	// URL is the HTTP(S) JSON-RPC endpoint, e.g. "https://mainnet.example.com".
	URL string `yaml:"url" json:"url" toml:"url"`

	// Weight defaults to 1. The pool's round-robin selection does not read
	// it: every healthy endpoint is picked equally often.
	Weight int `yaml:"weight" json:"weight" toml:"weight"`
}

// RPCConfig configures the raw JSON-RPC transport shared by every pooled connection.
type RPCConfig struct {
	// Endpoints lists the upstream RPC URLs to pool across.
	Endpoints []EndpointConfig `yaml:"endpoints" json:"endpoints" toml:"endpoints"`

	// RequestTimeout bounds a single HTTP round trip.
	RequestTimeout common.Duration `yaml:"request_timeout" json:"request_timeout" toml:"request_timeout"`

	// MaxBatchSize is the ceiling the adaptive batcher will not probe past.
	MaxBatchSize int `yaml:"max_batch_size" json:"max_batch_size" toml:"max_batch_size"`

	// CoalesceWindow is how long concurrent callers are held open to be merged
	// into a single outbound batch.
	CoalesceWindow common.Duration `yaml:"coalesce_window" json:"coalesce_window" toml:"coalesce_window"`

	// Retry contains RPC retry configuration with exponential backoff.
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional RPC configuration fields.
func (r *RPCConfig) ApplyDefaults() {
	if r.RequestTimeout.Duration == 0 {
		r.RequestTimeout = common.NewDuration(15 * time.Second)
	}
	if r.MaxBatchSize == 0 {
		r.MaxBatchSize = 500
	}
	if r.CoalesceWindow.Duration == 0 {
		r.CoalesceWindow = common.NewDuration(10 * time.Millisecond)
	}
	for i := range r.Endpoints {
		if r.Endpoints[i].Weight == 0 {
			r.Endpoints[i].Weight = 1
		}
	}
	if r.Retry != nil {
		r.Retry.ApplyDefaults()
	}
}

// Validate checks the RPC configuration.
func (r *RPCConfig) Validate() error {
	if len(r.Endpoints) == 0 {
		return fmt.Errorf("rpc.endpoints: at least one endpoint is required")
	}
	for i, ep := range r.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("rpc.endpoints[%d]: url is required", i)
		}
	}
	if r.MaxBatchSize <= 0 {
		return fmt.Errorf("rpc.max_batch_size: must be positive")
	}
	return nil
}

// PoolConfig configures the connection pool managing the RPC endpoints.
type PoolConfig struct {
	// HealthCheckInterval is how often idle and failed connections are probed.
	HealthCheckInterval common.Duration `yaml:"health_check_interval" json:"health_check_interval" toml:"health_check_interval"` //nolint:lll

	// ReconnectInitialBackoff is the starting backoff for a failed connection's reconnect loop.
	ReconnectInitialBackoff common.Duration `yaml:"reconnect_initial_backoff" json:"reconnect_initial_backoff" toml:"reconnect_initial_backoff"` //nolint:lll

	// ReconnectMaxBackoff caps the reconnect backoff.
	ReconnectMaxBackoff common.Duration `yaml:"reconnect_max_backoff" json:"reconnect_max_backoff" toml:"reconnect_max_backoff"` //nolint:lll

	// MaxReconnectAttempts bounds how many times a disconnected endpoint's
	// reconnect loop retries before the pool gives up on it and surfaces
	// ErrEndpointUnhealthy instead of retrying forever.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
}

// ApplyDefaults sets default values for optional pool configuration fields.
func (p *PoolConfig) ApplyDefaults() {
	if p.HealthCheckInterval.Duration == 0 {
		p.HealthCheckInterval = common.NewDuration(30 * time.Second)
	}
	if p.ReconnectInitialBackoff.Duration == 0 {
		p.ReconnectInitialBackoff = common.NewDuration(1 * time.Second)
	}
	if p.ReconnectMaxBackoff.Duration == 0 {
		p.ReconnectMaxBackoff = common.NewDuration(1 * time.Minute)
	}
	if p.MaxReconnectAttempts == 0 {
		p.MaxReconnectAttempts = 5
	}
}

// ChainConfig configures chain-level behavior: finality semantics and ABI handling.
type ChainConfig struct {
	// Finality specifies the finality mode: "finalized", "safe", or "latest".
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// FinalizedLag is the number of blocks behind head to consider finalized.
	// Used when Finality is "latest", and as the fallback whenever the
	// "finalized" or "safe" tag request fails.
	FinalizedLag uint64 `yaml:"finalized_lag" json:"finalized_lag" toml:"finalized_lag"`

	// ABICacheSize bounds the number of decoded ABI entries cached in memory.
	ABICacheSize int `yaml:"abi_cache_size" json:"abi_cache_size" toml:"abi_cache_size"`
}

// ApplyDefaults sets default values for optional chain configuration fields.
func (c *ChainConfig) ApplyDefaults() {
	if c.Finality == "" {
		c.Finality = "finalized"
	}
	if c.ABICacheSize == 0 {
		c.ABICacheSize = 256
	}
}

// Validate checks the chain configuration.
func (c *ChainConfig) Validate() error {
	if c.Finality != "finalized" && c.Finality != "safe" && c.Finality != "latest" {
		return fmt.Errorf("chain.finality: must be one of: 'finalized', 'safe', or 'latest'")
	}
	return nil
}

// DictionaryConfig configures the dictionary acceleration client.
type DictionaryConfig struct {
	// Endpoints lists candidate dictionary service URLs, tried in order.
	Endpoints []string `yaml:"endpoints" json:"endpoints" toml:"endpoints"`

	// Resolver selects which protocol version to negotiate: "auto", "v1", or "v2".
	Resolver string `yaml:"resolver" json:"resolver" toml:"resolver"`

	// QueryTimeout bounds a single dictionary round trip.
	QueryTimeout common.Duration `yaml:"query_timeout" json:"query_timeout" toml:"query_timeout"`

	// QuerySize is the block-range size requested per dictionary page.
	QuerySize uint64 `yaml:"query_size" json:"query_size" toml:"query_size"`

	// BypassBlocks lists heights the fetch service removes from every batch,
	// so they are never fetched or processed.
	BypassBlocks []uint64 `yaml:"bypass_blocks,omitempty" json:"bypass_blocks,omitempty" toml:"bypass_blocks,omitempty"`
}

// ApplyDefaults sets default values for optional dictionary configuration fields.
func (d *DictionaryConfig) ApplyDefaults() {
	if d.Resolver == "" {
		d.Resolver = "auto"
	}
	if d.QueryTimeout.Duration == 0 {
		d.QueryTimeout = common.NewDuration(10 * time.Second)
	}
	if d.QuerySize == 0 {
		d.QuerySize = 10000
	}
}

// Validate checks the dictionary configuration.
func (d *DictionaryConfig) Validate() error {
	if len(d.Endpoints) == 0 {
		return fmt.Errorf("dictionary.endpoints: at least one endpoint is required when dictionary is configured")
	}
	if d.Resolver != "auto" && d.Resolver != "v1" && d.Resolver != "v2" {
		return fmt.Errorf("dictionary.resolver: must be one of: 'auto', 'v1', or 'v2'")
	}
	return nil
}

// UnfinalizedConfig configures the unfinalized-blocks/reorg tracker.
type UnfinalizedConfig struct {
	// Enabled is not read by the indexer: unfinalized-block tracking always
	// runs, and the fetch service only ever requests heights up to the
	// finalized tip.
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// MaxDepth defaults to 256 but is not read by the tracker, which prunes
	// records only once they fall at or below the finalized height.
	MaxDepth uint64 `yaml:"max_depth" json:"max_depth" toml:"max_depth"`
}

// ApplyDefaults sets default values for optional unfinalized-tracking fields.
func (u *UnfinalizedConfig) ApplyDefaults() {
	if u.MaxDepth == 0 {
		u.MaxDepth = 256
	}
}

// FetchServiceConfig configures the fetch service main loop.
type FetchServiceConfig struct {
	// PollInterval is how often the tip monitor checks for new blocks when no
	// subscription transport is available.
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// QueryAddressLimit is passed to the dictionary as the result limit of
	// each GetData query.
	QueryAddressLimit int `yaml:"query_address_limit" json:"query_address_limit" toml:"query_address_limit"`

	// MaxInFlightBatches defaults to 8 but is not read by the fetch loop;
	// its backpressure comes from the dispatcher's FreeSize alone.
	MaxInFlightBatches int `yaml:"max_in_flight_batches" json:"max_in_flight_batches" toml:"max_in_flight_batches"`
}

// ApplyDefaults sets default values for optional fetch service configuration fields.
func (f *FetchServiceConfig) ApplyDefaults() {
	if f.PollInterval.Duration == 0 {
		f.PollInterval = common.NewDuration(3 * time.Second)
	}
	if f.QueryAddressLimit == 0 {
		f.QueryAddressLimit = 1000
	}
	if f.MaxInFlightBatches == 0 {
		f.MaxInFlightBatches = 8
	}
}

// DispatcherConfig configures the bounded block dispatcher worker pool.
type DispatcherConfig struct {
	// Workers is the number of concurrent block-processing workers.
	Workers int `yaml:"workers" json:"workers" toml:"workers"`

	// RingBufferSize bounds the number of heights the dispatcher has
	// accepted but not yet committed; FreeSize reports the room left.
	RingBufferSize int `yaml:"ring_buffer_size" json:"ring_buffer_size" toml:"ring_buffer_size"`

	// CommitQueueSize bounds the channel depth between the dispatcher and the
	// commit consumer.
	CommitQueueSize int `yaml:"commit_queue_size" json:"commit_queue_size" toml:"commit_queue_size"`
}

// ApplyDefaults sets default values for optional dispatcher configuration fields.
func (d *DispatcherConfig) ApplyDefaults() {
	if d.Workers == 0 {
		d.Workers = 8
	}
	if d.RingBufferSize == 0 {
		d.RingBufferSize = 4 * d.Workers
	}
	if d.CommitQueueSize == 0 {
		d.CommitQueueSize = 2 * d.Workers
	}
}

// Validate checks the dispatcher configuration.
func (d *DispatcherConfig) Validate() error {
	if d.Workers <= 0 {
		return fmt.Errorf("dispatcher.workers: must be positive")
	}
	return nil
}

// RetryConfig configures the JSON-RPC transport's throttle/retry behavior:
// how it responds to HTTP 429 responses and transient connection errors.
type RetryConfig struct {
	// ThrottleLimit is the maximum number of attempts (including the first)
	// before a 429 or transient transport error is surfaced to the caller.
	ThrottleLimit int `yaml:"throttle_limit" json:"throttle_limit" toml:"throttle_limit"`

	// SlotInterval scales the jittered wait used when a 429 response carries
	// no usable Retry-After header: wait = SlotInterval * rand(0, 2^attempt).
	SlotInterval common.Duration `yaml:"slot_interval" json:"slot_interval" toml:"slot_interval"`

	// Timeout bounds the wall-clock duration of an entire Call/BatchCall
	// attempt sequence, not a single HTTP round trip.
	Timeout common.Duration `yaml:"timeout" json:"timeout" toml:"timeout"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.ThrottleLimit == 0 {
		r.ThrottleLimit = 12
	}
	if r.SlotInterval.Duration == 0 {
		r.SlotInterval = common.NewDuration(500 * time.Millisecond)
	}
	if r.Timeout.Duration == 0 {
		r.Timeout = common.NewDuration(120 * time.Second) //nolint:mnd
	}
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database.
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE").
	// WAL mode is recommended for better concurrency.
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF").
	// NORMAL provides a good balance between safety and performance.
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked.
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages).
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections.
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool.
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement.
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// RetentionPolicyConfig represents database retention policy settings.
type RetentionPolicyConfig struct {
	// MaxDBSizeMB is the maximum database size in megabytes (0 = unlimited).
	MaxDBSizeMB uint64 `yaml:"max_db_size_mb"`

	// MaxBlocks is the maximum number of blocks to retain (0 = unlimited).
	MaxBlocks uint64 `yaml:"max_blocks"`
}

// IsEnabled returns true if retention policy should be applied.
func (r *RetentionPolicyConfig) IsEnabled() bool {
	return r != nil && (r.MaxDBSizeMB > 0 || r.MaxBlocks > 0)
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs.
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h").
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup.
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness.
	// Options: PASSIVE, FULL, RESTART, TRUNCATE.
	// TRUNCATE is recommended for production (most aggressive space reclamation).
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}

	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components.
	// Options: "debug", "info", "warn", "error".
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder).
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components.
	// Available components: rpc-client, rpc-pool, chain-api, dictionary,
	// unfinalized-tracker, fetch-service, dispatcher, metadata-store,
	// maintenance, api.
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active.
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to.
	// Format: "host:port" or ":port".
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed.
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// APIConfig configures the operator status/health HTTP API. It never serves
// indexed events; that's the external relational store's job.
type APIConfig struct {
	// Enabled controls whether the HTTP API server runs.
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the API HTTP server to.
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// ReadTimeout bounds how long the server waits to read a request.
	ReadTimeout common.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`

	// WriteTimeout bounds how long a handler has to write its response.
	WriteTimeout common.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`

	// IdleTimeout bounds how long a keep-alive connection may sit idle.
	IdleTimeout common.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`

	// CORS configures cross-origin access to the status API.
	CORS CORSConfig `yaml:"cors" json:"cors" toml:"cors"`
}

// CORSConfig configures the API server's CORS middleware.
type CORSConfig struct {
	// Enabled turns on the CORS middleware.
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// AllowedOrigins lists origins allowed to access the API, or ["*"] for any.
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = common.NewDuration(5 * time.Second)
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = common.NewDuration(10 * time.Second)
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = common.NewDuration(60 * time.Second)
	}
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.RPC.ApplyDefaults()
	c.Pool.ApplyDefaults()
	c.Chain.ApplyDefaults()
	if c.Dictionary != nil {
		c.Dictionary.ApplyDefaults()
	}
	c.Unfinalized.ApplyDefaults()
	c.FetchService.ApplyDefaults()
	c.Dispatcher.ApplyDefaults()
	c.DB.ApplyDefaults()

	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}
	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}
	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
	if c.API != nil {
		c.API.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.RPC.Validate(); err != nil {
		return err
	}

	if err := c.Chain.Validate(); err != nil {
		return err
	}

	if c.Dictionary != nil {
		if err := c.Dictionary.Validate(); err != nil {
			return err
		}
	}

	if err := c.Dispatcher.Validate(); err != nil {
		return err
	}

	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	if c.DB.JournalMode != "" && c.DB.JournalMode != "WAL" &&
		c.DB.JournalMode != "DELETE" && c.DB.JournalMode != "TRUNCATE" &&
		c.DB.JournalMode != "PERSIST" && c.DB.JournalMode != "MEMORY" {
		return fmt.Errorf("db.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if c.DB.Synchronous != "" && c.DB.Synchronous != "FULL" &&
		c.DB.Synchronous != "NORMAL" && c.DB.Synchronous != "OFF" {
		return fmt.Errorf("db.synchronous must be one of: FULL, NORMAL, OFF")
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}
