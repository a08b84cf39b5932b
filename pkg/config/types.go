package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Indexes    IndexesConfig    `yaml:"indexes"`
	Compaction CompactionConfig `yaml:"compaction"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address      string    `yaml:"address"`
	Port         int       `yaml:"port"`
	TLS          TLSConfig `yaml:"tls"`
	ReadTimeout  Duration  `yaml:"read_timeout"`
	WriteTimeout Duration  `yaml:"write_timeout"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Backend names accepted by store.backend.
const (
	BackendPebble  = "pebble"
	BackendSQLite  = "sqlite"
	BackendCouchDB = "couchdb"
)

// StoreConfig selects the document store and the database inside it.
type StoreConfig struct {
	Backend  string `yaml:"backend"`
	DBPath   string `yaml:"db_path"`
	Database string `yaml:"database"`
	Pebble   struct {
		CacheSize  SizeBytes `yaml:"cache_size"`
		DisableWAL bool      `yaml:"disable_wal"`
	} `yaml:"pebble"`
	SQLite struct {
		File        string `yaml:"file"`
		Synchronous bool   `yaml:"synchronous"`
	} `yaml:"sqlite"`
	CouchDB struct {
		URL      string   `yaml:"url"`
		Username string   `yaml:"username"`
		Password string   `yaml:"password"`
		Timeout  Duration `yaml:"timeout"`
	} `yaml:"couchdb"`
}

type IndexesConfig struct {
	ReconcileConcurrency int `yaml:"reconcile_concurrency"`
}

// CompactionConfig drives the scheduled tombstone purge.
type CompactionConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Cron         string   `yaml:"cron"`
	TombstoneTTL Duration `yaml:"tombstone_ttl"`
	LockTTL      Duration `yaml:"lock_ttl"`
	BatchSize    int      `yaml:"batch_size"`
	DryRun       bool     `yaml:"dry_run"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig controls the slow-operation threshold.
type TelemetryConfig struct {
	SlowThreshold Duration `yaml:"slow_threshold"`
}

// SizeBytes is a byte count parsed from "64MB"-style strings or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseSizeBytes(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

func parseSizeBytes(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration parses "100ms"-style strings; bare numbers are seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
