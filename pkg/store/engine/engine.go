// Package engine implements the document store semantics (revision checked
// writes, tombstones, declarative views, selector queries) on top of any
// sorted key-value substrate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v3"

	"eduapp/pkg/logger"
	"eduapp/pkg/models"
	"eduapp/pkg/store"
	"eduapp/pkg/store/keys"
	"eduapp/pkg/store/locks"
)

const (
	defaultDesignCacheSize  = 128
	defaultCompactBatchSize = 512
)

var ErrClosed = errors.New("engine: closed")

type Options struct {
	// Sync forces an fsync on every committed write.
	Sync bool
	// DesignCacheSize bounds the number of databases whose parsed design
	// documents are cached.
	DesignCacheSize int
	// CompactBatchSize bounds how many tombstones one purge batch removes.
	CompactBatchSize int
	// Now overrides the clock used for tombstone timestamps.
	Now func() time.Time
}

// Engine is a store.Server backed by a KV.
type Engine struct {
	kv      KV
	opts    Options
	keyLock *locks.Table
	dbLocks *xsync.MapOf[string, *sync.RWMutex]
	known   *xsync.MapOf[string, struct{}]
	designs *lru.Cache[string, []models.IndexDefinition]
	closed  atomic.Bool
}

var (
	_ store.Server = (*Engine)(nil)
	_ store.Pinger = (*Engine)(nil)
)

// New wraps kv. It stamps the key layout version on first use and refuses a
// KV written with a different layout.
func New(kv KV, opts Options) (*Engine, error) {
	if opts.DesignCacheSize <= 0 {
		opts.DesignCacheSize = defaultDesignCacheSize
	}
	if opts.CompactBatchSize <= 0 {
		opts.CompactBatchSize = defaultCompactBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cache, err := lru.New[string, []models.IndexDefinition](opts.DesignCacheSize)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		kv:      kv,
		opts:    opts,
		keyLock: locks.New(),
		dbLocks: xsync.NewMapOf[string, *sync.RWMutex](),
		known:   xsync.NewMapOf[string, struct{}](),
		designs: cache,
	}
	if err := e.checkVersion(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) checkVersion() error {
	raw, err := e.kv.Get([]byte(keys.SystemVersionKey))
	if errors.Is(err, ErrKeyNotFound) {
		b := &Batch{Sync: true}
		b.Set([]byte(keys.SystemVersionKey), []byte(keys.SystemVersion))
		return e.kv.Apply(b)
	}
	if err != nil {
		return fmt.Errorf("read layout version: %w", err)
	}
	if string(raw) != keys.SystemVersion {
		return fmt.Errorf("unsupported layout version %q (want %s)", raw, keys.SystemVersion)
	}
	return nil
}

func (e *Engine) CreateDatabase(ctx context.Context, name string) error {
	if err := e.guard(ctx); err != nil {
		return err
	}
	if err := keys.ValidateDatabaseName(name); err != nil {
		return store.BadRequest(err.Error())
	}
	unlock := e.keyLock.Lock("\x00db\x00" + name)
	defer unlock()

	k := keys.GenDatabaseKey(name)
	if _, err := e.kv.Get(k); err == nil {
		return store.FileExists("The database could not be created, the file already exists.")
	} else if !errors.Is(err, ErrKeyNotFound) {
		return err
	}
	b := &Batch{Sync: true}
	b.Set(k, []byte(e.opts.Now().UTC().Format(time.RFC3339Nano)))
	if err := e.kv.Apply(b); err != nil {
		logger.Error("engine_create_database_failed", "db", name, "error", err)
		return err
	}
	e.known.Store(name, struct{}{})
	logger.Info("engine_database_created", "db", name)
	return nil
}

// Databases lists every database name in order.
func (e *Engine) Databases(ctx context.Context) ([]string, error) {
	if err := e.guard(ctx); err != nil {
		return nil, err
	}
	prefix := []byte(keys.DatabasePrefix)
	var out []string
	err := e.kv.Scan(prefix, keys.UpperBound(prefix), func(k, _ []byte) error {
		out = append(out, strings.TrimPrefix(string(k), keys.DatabasePrefix))
		return nil
	})
	return out, err
}

func (e *Engine) Use(name string) store.Database {
	return &database{e: e, name: name}
}

func (e *Engine) Ping(ctx context.Context) error {
	if err := e.guard(ctx); err != nil {
		return err
	}
	_, err := e.kv.Get([]byte(keys.SystemVersionKey))
	return err
}

func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.kv.Close()
}

func (e *Engine) guard(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// ensureDatabase fails with store.NoDatabase when db was never created.
func (e *Engine) ensureDatabase(db string) error {
	if _, ok := e.known.Load(db); ok {
		return nil
	}
	if err := keys.ValidateDatabaseName(db); err != nil {
		return store.BadRequest(err.Error())
	}
	if _, err := e.kv.Get(keys.GenDatabaseKey(db)); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return store.NoDatabase()
		}
		return err
	}
	e.known.Store(db, struct{}{})
	return nil
}

// dbLock serializes design document writes against every other operation on
// the same database. Document writes and reads share the lock.
func (e *Engine) dbLock(db string) *sync.RWMutex {
	mu, _ := e.dbLocks.LoadOrCompute(db, func() *sync.RWMutex { return &sync.RWMutex{} })
	return mu
}

func (e *Engine) newBatch() *Batch {
	return &Batch{Sync: e.opts.Sync}
}
