// Package pebblekv adapts a pebble database to the engine's KV interface.
package pebblekv

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/prometheus/client_golang/prometheus"

	"eduapp/pkg/logger"
	"eduapp/pkg/store/engine"
)

type Options struct {
	// CacheSize is the block cache size in bytes; 0 keeps pebble's default.
	CacheSize int64
	// DisableWAL trades durability of the last writes for throughput.
	DisableWAL bool
	// InMemory keeps everything in a memory filesystem.
	InMemory bool
}

type KV struct {
	db          *pebble.DB
	path        string
	walDisabled bool

	reg       prometheus.Registerer
	collector prometheus.Collector
}

var (
	_ engine.KV             = (*KV)(nil)
	_ engine.RangeCompacter = (*KV)(nil)
)

// Open opens or creates a pebble database at path.
func Open(path string, o Options) (*KV, error) {
	opts := &pebble.Options{DisableWAL: o.DisableWAL}
	if o.InMemory {
		opts.FS = vfs.NewMem()
	}
	if o.CacheSize > 0 {
		cache := pebble.NewCache(o.CacheSize)
		defer cache.Unref()
		opts.Cache = cache
	}
	if o.DisableWAL {
		logger.Warn("durability_reduced", "reason", "pebble WAL disabled", "path", path)
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("pebble_opened", "path", path, "in_memory", o.InMemory)
	return &KV{db: db, path: path, walDisabled: o.DisableWAL}, nil
}

// OpenInMemory is a convenience for tests and ephemeral deployments.
func OpenInMemory() (*KV, error) {
	return Open("", Options{InMemory: true})
}

func (k *KV) Get(key []byte) ([]byte, error) {
	v, closer, err := k.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, engine.ErrKeyNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (k *KV) Scan(lower, upper []byte, fn func(key, value []byte) error) error {
	iter, err := k.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return err
	}
	defer iter.Close()
	for valid := iter.First(); valid; valid = iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (k *KV) Apply(b *engine.Batch) error {
	batch := k.db.NewBatch()
	defer batch.Close()
	for _, op := range b.Ops {
		var err error
		if op.Delete {
			err = batch.Delete(op.Key, nil)
		} else {
			err = batch.Set(op.Key, op.Value, nil)
		}
		if err != nil {
			return fmt.Errorf("pebble batch: %w", err)
		}
	}
	if err := batch.Commit(k.writeOpt(b.Sync)); err != nil {
		logger.Error("pebble_apply_batch_failed", "error", err)
		return err
	}
	return nil
}

func (k *KV) CompactRange(lower, upper []byte) error {
	return k.db.Compact(lower, upper, true)
}

func (k *KV) Close() error {
	if k.reg != nil {
		k.reg.Unregister(k.collector)
	}
	if err := k.db.Flush(); err != nil {
		logger.Warn("pebble_flush_failed", "path", k.path, "error", err)
	}
	return k.db.Close()
}

// writeOpt always disables sync when the WAL is off.
func (k *KV) writeOpt(sync bool) *pebble.WriteOptions {
	if sync && !k.walDisabled {
		return pebble.Sync
	}
	return pebble.NoSync
}
