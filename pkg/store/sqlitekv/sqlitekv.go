// Package sqlitekv adapts a single SQLite table to the engine's KV interface.
//
// Table:
//
//	kv(k BLOB, v BLOB)  PRIMARY KEY (k), WITHOUT ROWID
//
// SQLite compares BLOBs with memcmp, so ORDER BY k is byte order.
package sqlitekv

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"eduapp/pkg/logger"
	"eduapp/pkg/store/engine"
)

// scanPage bounds how many rows a Scan buffers before releasing its
// connection and invoking callbacks.
const scanPage = 256

type Options struct {
	// Synchronous selects PRAGMA synchronous=FULL instead of NORMAL.
	Synchronous bool
}

type KV struct {
	mu sync.Mutex // serializes writers
	db *sql.DB
}

var _ engine.KV = (*KV)(nil)

func Open(path string, o Options) (*KV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	sync := "NORMAL"
	if o.Synchronous {
		sync = "FULL"
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=%s", path, sync)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		k BLOB NOT NULL PRIMARY KEY,
		v BLOB NOT NULL
	) WITHOUT ROWID`); err != nil {
		db.Close()
		logger.Error("sqlite_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("sqlite_opened", "path", path, "synchronous", sync)
	return &KV{db: db}, nil
}

func (k *KV) Get(key []byte) ([]byte, error) {
	var v []byte
	err := k.db.QueryRow("SELECT v FROM kv WHERE k = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

type pair struct{ k, v []byte }

func (k *KV) Scan(lower, upper []byte, fn func(key, value []byte) error) error {
	from := lower
	if from == nil {
		from = []byte{}
	}
	inclusive := true
	for {
		page, err := k.page(from, inclusive, upper)
		if err != nil {
			return err
		}
		for _, p := range page {
			if err := fn(p.k, p.v); err != nil {
				return err
			}
		}
		if len(page) < scanPage {
			return nil
		}
		from = page[len(page)-1].k
		inclusive = false
	}
}

func (k *KV) page(from []byte, inclusive bool, upper []byte) ([]pair, error) {
	op := ">"
	if inclusive {
		op = ">="
	}
	var (
		rows *sql.Rows
		err  error
	)
	if upper == nil {
		rows, err = k.db.Query("SELECT k, v FROM kv WHERE k "+op+" ? ORDER BY k LIMIT ?", from, scanPage)
	} else {
		rows, err = k.db.Query("SELECT k, v FROM kv WHERE k "+op+" ? AND k < ? ORDER BY k LIMIT ?", from, upper, scanPage)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]pair, 0, scanPage)
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.k, &p.v); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (k *KV) Apply(b *engine.Batch) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	tx, err := k.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, op := range b.Ops {
		if op.Delete {
			_, err = tx.Exec("DELETE FROM kv WHERE k = ?", op.Key)
		} else {
			_, err = tx.Exec("INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v", op.Key, op.Value)
		}
		if err != nil {
			return fmt.Errorf("sqlite batch: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		logger.Error("sqlite_apply_batch_failed", "error", err)
		return err
	}
	return nil
}

func (k *KV) Close() error {
	return k.db.Close()
}
