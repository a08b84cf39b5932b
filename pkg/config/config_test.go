package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

const sampleYAML = `
server:
  address: 127.0.0.1
  port: 9090
store:
  backend: couchdb
  database: edu
  pebble:
    cache_size: 128MB
  couchdb:
    url: http://couch:5984
    username: admin
    password: secret
    timeout: 3s
compaction:
  enabled: true
  cron: "*/5 * * * *"
  tombstone_ttl: 72h
security:
  cors:
    allowed_origins: ["https://edu.example"]
`

func TestLoadConfigFile(t *testing.T) {
	cfg, err := LoadConfigFile(writeFile(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, int64(128_000_000), cfg.Store.Pebble.CacheSize.Int64())
	assert.Equal(t, 3*time.Second, cfg.Store.CouchDB.Timeout.Duration())
	assert.Equal(t, 72*time.Hour, cfg.Compaction.TombstoneTTL.Duration())
	assert.Equal(t, []string{"https://edu.example"}, cfg.Security.CORS.AllowedOrigins)

	_, err = LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, IsNotExist(err))
}

func TestDurationAndSizeParsing(t *testing.T) {
	d, err := parseDuration("1.5")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d.Duration())

	s, err := parseSizeBytes("1024")
	require.NoError(t, err)
	assert.Equal(t, int64(1024), s.Int64())
	s, err = parseSizeBytes("2KiB")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), s.Int64())

	_, err = parseDuration("soon")
	assert.Error(t, err)
	_, err = parseSizeBytes("lots")
	assert.Error(t, err)
}

func TestParseConfigFlags(t *testing.T) {
	f, err := ParseConfigFlags("eduapp", []string{"--addr", "127.0.0.1:7000", "--db", "/tmp/edu"})
	require.NoError(t, err)
	assert.True(t, f.Set["addr"])
	assert.True(t, f.Set["db"])
	assert.False(t, f.Set["config"])
	assert.Equal(t, "./config.yaml", f.Config)

	_, err = ParseConfigFlags("eduapp", []string{"--bogus"})
	assert.Error(t, err)
}

func TestParseConfigFileMissingIsFineUnlessExplicit(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	cfg, found, err := ParseConfigFile(Flags{Config: missing, Set: map[string]bool{}}, envMap(nil))
	require.NoError(t, err)
	assert.False(t, found)
	assert.NotNil(t, cfg)

	_, _, err = ParseConfigFile(Flags{Config: missing, Set: map[string]bool{"config": true}}, envMap(nil))
	assert.Error(t, err)

	path := writeFile(t, sampleYAML)
	cfg, found, err = ParseConfigFile(Flags{Config: "./ignored.yaml", Set: map[string]bool{}}, envMap(map[string]string{"EDUAPP_CONFIG": path}))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "edu", cfg.Store.Database)
}

func TestLoadEffectiveConfigLayering(t *testing.T) {
	file, err := LoadConfigFile(writeFile(t, sampleYAML))
	require.NoError(t, err)
	env := envMap(map[string]string{
		"EDUAPP_SERVER_PORT":        "9191",
		"EDUAPP_COUCHDB_PASSWORD":   "from-env",
		"EDUAPP_COMPACTION_DRY_RUN": "yes",
		"EDUAPP_CORS_ORIGINS":       "https://a.example, https://b.example",
	})
	flags := Flags{Addr: "10.0.0.1:7000", DB: "/var/lib/edu", Set: map[string]bool{"addr": true, "db": true}}

	eff, err := LoadEffectiveConfig(flags, file, true, env)
	require.NoError(t, err)
	assert.Equal(t, "config+env+flags", eff.Source)
	assert.Equal(t, "10.0.0.1:7000", eff.Addr)
	assert.Equal(t, "/var/lib/edu", eff.DBPath)
	assert.Equal(t, "from-env", eff.Config.Store.CouchDB.Password)
	assert.True(t, eff.Config.Compaction.DryRun)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, eff.Config.Security.CORS.AllowedOrigins)
	// untouched file values survive
	assert.Equal(t, "http://couch:5984", eff.Config.Store.CouchDB.URL)
}

func TestLoadEffectiveConfigRejectsBadEnv(t *testing.T) {
	_, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, nil, false, envMap(map[string]string{"EDUAPP_RATE_BURST": "many"}))
	assert.ErrorContains(t, err, "EDUAPP_RATE_BURST")
}

func TestValidateConfigDefaults(t *testing.T) {
	eff, err := LoadEffectiveConfig(Flags{Set: map[string]bool{}}, nil, false, envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, "defaults", eff.Source)
	require.NoError(t, ValidateConfig(&eff))

	c := eff.Config
	assert.Equal(t, BackendPebble, c.Store.Backend)
	assert.Equal(t, "eduapp", c.Store.Database)
	assert.Equal(t, "0.0.0.0:8080", eff.Addr)
	assert.Equal(t, defaultDBPath, eff.DBPath)
	assert.Equal(t, defaultReconcileConcurrency, c.Indexes.ReconcileConcurrency)
	assert.Equal(t, defaultCompactionCron, c.Compaction.Cron)
	assert.Equal(t, 200*time.Millisecond, c.Telemetry.SlowThreshold.Duration())
	assert.NotEmpty(t, c.Summary(eff.Source))
}

func TestValidateConfigFailures(t *testing.T) {
	cases := map[string]func(c *Config){
		"unknown backend":   func(c *Config) { c.Store.Backend = "mongo" },
		"couch without url": func(c *Config) { c.Store.Backend = BackendCouchDB },
		"bad database":      func(c *Config) { c.Store.Database = "Edu App" },
		"bad cron":          func(c *Config) { c.Compaction.Cron = "every day" },
		"half tls":          func(c *Config) { c.Server.TLS.CertFile = "cert.pem" },
		"bad concurrency":   func(c *Config) { c.Indexes.ReconcileConcurrency = -2 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := &Config{}
			mutate(c)
			assert.Error(t, ValidateConfig(&EffectiveConfigResult{Config: c}))
		})
	}
	assert.Error(t, ValidateConfig(&EffectiveConfigResult{}))
}

func TestSummaryMasksPassword(t *testing.T) {
	c := &Config{}
	c.Store.Backend = BackendCouchDB
	c.Store.CouchDB.URL = "http://couch:5984"
	c.Store.CouchDB.Password = "hunter2"
	for _, line := range c.Summary("config") {
		assert.NotContains(t, line, "hunter2")
	}
}

func TestSQLitePath(t *testing.T) {
	c := &Config{}
	c.Store.Database = "edu"
	assert.Equal(t, filepath.Join("/s", "edu.sqlite"), c.SQLitePath("/s"))
	c.Store.SQLite.File = "/x.db"
	assert.Equal(t, "/x.db", c.SQLitePath("/s"))
}
