// Package store defines the document store client the access layer talks to.
// Implementations live in sub-packages: an embedded engine over a sorted KV
// (pebble or sqlite) and a remote CouchDB driver.
package store

import (
	"context"
	"time"

	"eduapp/pkg/models"
)

// Server manages databases.
type Server interface {
	// CreateDatabase creates a database. It fails with a StatusError carrying
	// StatusPreconditionFailed when the database already exists.
	CreateDatabase(ctx context.Context, name string) error
	// Use returns a handle on a database. It performs no I/O.
	Use(name string) Database
	Close() error
}

// Database is a handle on one named document space.
//
// Insert without a revision is a creation and fails with StatusConflict when
// the key is already live. Insert with a revision succeeds only if it matches
// the stored one. Get and Destroy fail with StatusNotFound for absent keys.
type Database interface {
	Name() string
	Insert(ctx context.Context, doc models.Document) (models.DocMeta, error)
	Get(ctx context.Context, key string) (models.Document, error)
	Destroy(ctx context.Context, key, rev string) error
	Find(ctx context.Context, q models.FindQuery) ([]models.Document, error)
	List(ctx context.Context, opts models.ListOptions) ([]models.Document, error)
	View(ctx context.Context, ddoc, view string, q models.ViewQuery) (models.ViewResult, error)
}

// Compactor is implemented by databases that can reclaim space.
// Compact returns the number of deletion tombstones removed that were
// recorded before the cutoff; stores that compact asynchronously return 0.
type Compactor interface {
	Compact(ctx context.Context, before time.Time) (int, error)
}

// Pinger is implemented by servers that can check connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
