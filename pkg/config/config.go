package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"

	"eduapp/pkg/store/keys"
)

const (
	defaultAddress              = "0.0.0.0"
	defaultPort                 = 8080
	defaultDBPath               = "./.database"
	defaultDatabase             = "eduapp"
	defaultServerTimeout        = 10 * time.Second
	defaultPebbleCacheSize      = 64 << 20
	defaultCouchTimeout         = 10 * time.Second
	defaultReconcileConcurrency = 4
	defaultCompactionCron       = "0 3 * * *"
	defaultTombstoneTTL         = 30 * 24 * time.Hour
	defaultCompactionLockTTL    = 300 * time.Second
	defaultCompactionBatchSize  = 512
	defaultRateRPS              = 1000
	defaultRateBurst            = 1000
	defaultLogLevel             = "info"
	defaultSlowThreshold        = 200 * time.Millisecond
)

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = defaultAddress
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// LoadConfigFile reads and parses a YAML config file. A missing file yields
// an error matching fs.ErrNotExist.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// ResolveConfigPath prefers an explicit flag, then EDUAPP_CONFIG.
func ResolveConfigPath(flagPath string, flagSet bool, getenv func(string) string) string {
	if flagSet {
		return flagPath
	}
	if p := getenv("EDUAPP_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// applyDefaults fills every zero value that has a default.
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = Duration(defaultServerTimeout)
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = Duration(defaultServerTimeout)
	}

	st := &c.Store
	if st.Backend == "" {
		st.Backend = BackendPebble
	}
	st.Backend = strings.ToLower(strings.TrimSpace(st.Backend))
	if st.DBPath == "" {
		st.DBPath = defaultDBPath
	}
	if st.Database == "" {
		st.Database = defaultDatabase
	}
	if st.Pebble.CacheSize == 0 {
		st.Pebble.CacheSize = defaultPebbleCacheSize
	}
	if st.CouchDB.Timeout == 0 {
		st.CouchDB.Timeout = Duration(defaultCouchTimeout)
	}

	if c.Indexes.ReconcileConcurrency == 0 {
		c.Indexes.ReconcileConcurrency = defaultReconcileConcurrency
	}

	cc := &c.Compaction
	if cc.Cron == "" {
		cc.Cron = defaultCompactionCron
	}
	if cc.TombstoneTTL == 0 {
		cc.TombstoneTTL = Duration(defaultTombstoneTTL)
	}
	if cc.LockTTL == 0 {
		cc.LockTTL = Duration(defaultCompactionLockTTL)
	}
	if cc.BatchSize == 0 {
		cc.BatchSize = defaultCompactionBatchSize
	}

	if c.Security.RateLimit.RPS == 0 {
		c.Security.RateLimit.RPS = defaultRateRPS
	}
	if c.Security.RateLimit.Burst == 0 {
		c.Security.RateLimit.Burst = defaultRateBurst
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Telemetry.SlowThreshold == 0 {
		c.Telemetry.SlowThreshold = Duration(defaultSlowThreshold)
	}
}

// ValidateConfig fills defaults into the effective config and fails fast on
// values the process cannot run with.
func ValidateConfig(eff *EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return errors.New("effective config is nil")
	}
	cfg.applyDefaults()
	eff.Addr = cfg.Addr()
	eff.DBPath = cfg.Store.DBPath

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	cert, key := cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
	if (cert == "") != (key == "") {
		return errors.New("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	for _, f := range []string{cert, key} {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("tls file not accessible: %w", err)
		}
	}

	switch cfg.Store.Backend {
	case BackendPebble, BackendSQLite:
	case BackendCouchDB:
		if cfg.Store.CouchDB.URL == "" {
			return errors.New("store.couchdb.url is required for the couchdb backend")
		}
	default:
		return fmt.Errorf("unknown store.backend %q (want pebble, sqlite or couchdb)", cfg.Store.Backend)
	}
	if err := keys.ValidateDatabaseName(cfg.Store.Database); err != nil {
		return fmt.Errorf("store.database: %w", err)
	}

	if cfg.Indexes.ReconcileConcurrency < 0 {
		return fmt.Errorf("indexes.reconcile_concurrency must be positive, got %d", cfg.Indexes.ReconcileConcurrency)
	}
	if cfg.Compaction.BatchSize < 0 {
		return fmt.Errorf("compaction.batch_size must be positive, got %d", cfg.Compaction.BatchSize)
	}
	if !gronx.IsValid(cfg.Compaction.Cron) {
		return fmt.Errorf("invalid compaction.cron expression: %s", cfg.Compaction.Cron)
	}
	if cfg.Security.RateLimit.RPS < 0 || cfg.Security.RateLimit.Burst < 0 {
		return errors.New("security.rate_limit values must be positive")
	}
	return nil
}

// SQLitePath resolves the sqlite file, defaulting to a file under the store
// directory.
func (c *Config) SQLitePath(storeDir string) string {
	if c.Store.SQLite.File != "" {
		return c.Store.SQLite.File
	}
	return filepath.Join(storeDir, c.Store.Database+".sqlite")
}

// Summary renders the effective settings for the startup banner. Secrets
// are masked.
func (c *Config) Summary(source string) []string {
	items := []string{
		"source: " + source,
		"listen: " + c.Addr(),
		"backend: " + c.Store.Backend,
		"database: " + c.Store.Database,
		"db_path: " + c.Store.DBPath,
	}
	switch c.Store.Backend {
	case BackendPebble:
		items = append(items, fmt.Sprintf("pebble: cache=%s wal_disabled=%t", c.Store.Pebble.CacheSize, c.Store.Pebble.DisableWAL))
	case BackendCouchDB:
		user := c.Store.CouchDB.Username
		if user == "" {
			user = "-"
		}
		items = append(items, fmt.Sprintf("couchdb: %s user=%s password=%s", c.Store.CouchDB.URL, user, maskPassword(c.Store.CouchDB.Password)))
	}
	items = append(items,
		fmt.Sprintf("reconcile_concurrency: %d", c.Indexes.ReconcileConcurrency),
		fmt.Sprintf("compaction: enabled=%t cron=%q ttl=%s dry_run=%t", c.Compaction.Enabled, c.Compaction.Cron, c.Compaction.TombstoneTTL.Duration(), c.Compaction.DryRun),
		fmt.Sprintf("rate_limit: rps=%g burst=%d", c.Security.RateLimit.RPS, c.Security.RateLimit.Burst),
		"log_level: "+c.Logging.Level,
	)
	return items
}

func maskPassword(p string) string {
	if p == "" {
		return "-"
	}
	return "****"
}

// IsNotExist reports whether err means the config file is absent.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
