package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduapp/pkg/config"
	"eduapp/pkg/state"
	"eduapp/pkg/store"
	"eduapp/pkg/store/couchdb"
	"eduapp/pkg/store/engine"
)

func paths(t *testing.T) state.Paths {
	p := state.PathsFor(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, state.EnsureStateDirs(p))
	return p
}

func TestOpenEmbedded(t *testing.T) {
	for _, name := range []string{config.BackendPebble, config.BackendSQLite} {
		t.Run(name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.Store.Backend = name
			cfg.Store.Database = "edu"
			s, err := Open(cfg, paths(t))
			require.NoError(t, err)
			defer s.Close()
			assert.IsType(t, &engine.Engine{}, s)

			ctx := context.Background()
			require.NoError(t, s.CreateDatabase(ctx, "edu"))
			assert.True(t, store.IsStatus(s.CreateDatabase(ctx, "edu"), store.StatusPreconditionFailed))
			require.NoError(t, s.(store.Pinger).Ping(ctx))
		})
	}
}

func TestOpenSQLiteHonoursFile(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.SQLite.File = filepath.Join(t.TempDir(), "custom.sqlite")
	s, err := Open(cfg, paths(t))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.FileExists(t, cfg.Store.SQLite.File)
}

func TestOpenCouchDB(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.Backend = config.BackendCouchDB
	cfg.Store.CouchDB.URL = "http://localhost:5984"
	s, err := Open(cfg, paths(t))
	require.NoError(t, err)
	assert.IsType(t, &couchdb.Server{}, s)
}

func TestOpenUnknown(t *testing.T) {
	cfg := &config.Config{}
	cfg.Store.Backend = "redis"
	_, err := Open(cfg, paths(t))
	assert.ErrorContains(t, err, "unknown store backend")
}
