package config

import (
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult is the merged configuration plus where it came from.
type EffectiveConfigResult struct {
	Config *Config
	Addr   string
	DBPath string
	Source string // e.g. "config+env+flags"
}

// ParseConfigFlags parses the three process flags from args.
func ParseConfigFlags(name string, args []string) (Flags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "HTTP listen address")
	db := fs.String("db", defaultDBPath, "state and embedded store directory")
	cfg := fs.String("config", "./config.yaml", "path to config file")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addr, DB: *db, Config: *cfg, Set: set}, nil
}

// ParseConfigFile loads the config file named by the flags or EDUAPP_CONFIG.
// found is false when the file does not exist and was not asked for
// explicitly.
func ParseConfigFile(flags Flags, getenv func(string) string) (cfg *Config, found bool, err error) {
	path := ResolveConfigPath(flags.Config, flags.Set["config"], getenv)
	cfg, err = LoadConfigFile(path)
	if err != nil {
		if IsNotExist(err) && !flags.Set["config"] {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

type envBinding struct {
	key   string
	apply func(c *Config, v string) error
}

func parseList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

func setString(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = strings.TrimSpace(v)
		return nil
	}
}

func setInt(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func setBool(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := parseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func setDuration(dst func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := parseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envBindings = []envBinding{
	{"ADDR", func(c *Config, v string) error { return setHostPort(c, v) }},
	{"SERVER_ADDRESS", setString(func(c *Config) *string { return &c.Server.Address })},
	{"SERVER_PORT", setInt(func(c *Config) *int { return &c.Server.Port })},
	{"TLS_CERT", setString(func(c *Config) *string { return &c.Server.TLS.CertFile })},
	{"TLS_KEY", setString(func(c *Config) *string { return &c.Server.TLS.KeyFile })},

	{"STORE_BACKEND", setString(func(c *Config) *string { return &c.Store.Backend })},
	{"DB_PATH", setString(func(c *Config) *string { return &c.Store.DBPath })},
	{"STORE_DATABASE", setString(func(c *Config) *string { return &c.Store.Database })},
	{"PEBBLE_CACHE_SIZE", func(c *Config, v string) error {
		n, err := parseSizeBytes(v)
		c.Store.Pebble.CacheSize = n
		return err
	}},
	{"PEBBLE_DISABLE_WAL", setBool(func(c *Config) *bool { return &c.Store.Pebble.DisableWAL })},
	{"SQLITE_FILE", setString(func(c *Config) *string { return &c.Store.SQLite.File })},
	{"COUCHDB_URL", setString(func(c *Config) *string { return &c.Store.CouchDB.URL })},
	{"COUCHDB_USERNAME", setString(func(c *Config) *string { return &c.Store.CouchDB.Username })},
	{"COUCHDB_PASSWORD", setString(func(c *Config) *string { return &c.Store.CouchDB.Password })},
	{"COUCHDB_TIMEOUT", setDuration(func(c *Config) *Duration { return &c.Store.CouchDB.Timeout })},

	{"RECONCILE_CONCURRENCY", setInt(func(c *Config) *int { return &c.Indexes.ReconcileConcurrency })},

	{"COMPACTION_ENABLED", setBool(func(c *Config) *bool { return &c.Compaction.Enabled })},
	{"COMPACTION_CRON", setString(func(c *Config) *string { return &c.Compaction.Cron })},
	{"COMPACTION_TOMBSTONE_TTL", setDuration(func(c *Config) *Duration { return &c.Compaction.TombstoneTTL })},
	{"COMPACTION_LOCK_TTL", setDuration(func(c *Config) *Duration { return &c.Compaction.LockTTL })},
	{"COMPACTION_BATCH_SIZE", setInt(func(c *Config) *int { return &c.Compaction.BatchSize })},
	{"COMPACTION_DRY_RUN", setBool(func(c *Config) *bool { return &c.Compaction.DryRun })},

	{"CORS_ORIGINS", func(c *Config, v string) error {
		c.Security.CORS.AllowedOrigins = parseList(v)
		return nil
	}},
	{"RATE_RPS", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		c.Security.RateLimit.RPS = f
		return err
	}},
	{"RATE_BURST", setInt(func(c *Config) *int { return &c.Security.RateLimit.Burst })},

	{"LOG_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"TELEMETRY_SLOW_THRESHOLD", setDuration(func(c *Config) *Duration { return &c.Telemetry.SlowThreshold })},
}

// ApplyEnv overlays every set EDUAPP_* variable onto cfg and reports whether
// any was present.
func ApplyEnv(cfg *Config, getenv func(string) string) (bool, error) {
	used := false
	for _, b := range envBindings {
		v := getenv("EDUAPP_" + b.key)
		if v == "" {
			continue
		}
		used = true
		if err := b.apply(cfg, v); err != nil {
			return used, fmt.Errorf("EDUAPP_%s: %w", b.key, err)
		}
	}
	return used, nil
}

func setHostPort(c *Config, addr string) error {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port %q", port)
	}
	c.Server.Address = host
	c.Server.Port = p
	return nil
}

// LoadEffectiveConfig layers the sources: file values, then environment
// overrides, then flags that were set explicitly.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileFound bool, getenv func(string) string) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult
	cfg := &Config{}
	if fileCfg != nil {
		*cfg = *fileCfg
	}
	var sources []string
	if fileFound {
		sources = append(sources, "config")
	}
	envUsed, err := ApplyEnv(cfg, getenv)
	if err != nil {
		return res, err
	}
	if envUsed {
		sources = append(sources, "env")
	}
	if flags.Set["addr"] {
		if err := setHostPort(cfg, flags.Addr); err != nil {
			return res, fmt.Errorf("--addr: %w", err)
		}
	}
	if flags.Set["db"] {
		cfg.Store.DBPath = flags.DB
	}
	if flags.Set["addr"] || flags.Set["db"] {
		sources = append(sources, "flags")
	}
	if len(sources) == 0 {
		sources = append(sources, "defaults")
	}
	res.Config = cfg
	res.Addr = cfg.Addr()
	res.DBPath = cfg.Store.DBPath
	res.Source = strings.Join(sources, "+")
	return res, nil
}
