// Package backend opens the document store selected by configuration.
package backend

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"eduapp/pkg/config"
	"eduapp/pkg/logger"
	"eduapp/pkg/state"
	"eduapp/pkg/store"
	"eduapp/pkg/store/couchdb"
	"eduapp/pkg/store/engine"
	"eduapp/pkg/store/pebblekv"
	"eduapp/pkg/store/sqlitekv"
)

// Open returns the process-wide store client. Embedded backends keep their
// files under paths.Store.
func Open(cfg *config.Config, paths state.Paths) (store.Server, error) {
	switch cfg.Store.Backend {
	case config.BackendPebble, "":
		kv, err := pebblekv.Open(paths.Store, pebblekv.Options{
			CacheSize:  cfg.Store.Pebble.CacheSize.Int64(),
			DisableWAL: cfg.Store.Pebble.DisableWAL,
		})
		if err != nil {
			return nil, fmt.Errorf("open pebble store: %w", err)
		}
		if err := kv.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			logger.Warn("pebble_metrics_unavailable", "error", err)
		}
		return wrap(kv, cfg, !cfg.Store.Pebble.DisableWAL)
	case config.BackendSQLite:
		kv, err := sqlitekv.Open(cfg.SQLitePath(paths.Store), sqlitekv.Options{
			Synchronous: cfg.Store.SQLite.Synchronous,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		// sqlite syncs according to its own pragma
		return wrap(kv, cfg, false)
	case config.BackendCouchDB:
		return couchdb.New(couchdb.Options{
			URL:      cfg.Store.CouchDB.URL,
			Username: cfg.Store.CouchDB.Username,
			Password: cfg.Store.CouchDB.Password,
			Timeout:  cfg.Store.CouchDB.Timeout.Duration(),
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func wrap(kv engine.KV, cfg *config.Config, sync bool) (store.Server, error) {
	e, err := engine.New(kv, engine.Options{
		Sync:             sync,
		CompactBatchSize: cfg.Compaction.BatchSize,
	})
	if err != nil {
		_ = kv.Close()
		logger.Error("engine_open_failed", "backend", cfg.Store.Backend, "error", err)
		return nil, err
	}
	return e, nil
}
