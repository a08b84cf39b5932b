// Package access is the generic document access layer: revision checked
// create / read / update / delete and read-only queries over one database,
// with store failures normalized into a small set of error kinds.
package access

import (
	"context"
	"errors"
	"time"

	"eduapp/pkg/models"
	"eduapp/pkg/store"
	"eduapp/pkg/telemetry"
)

// TimestampLayout is the format of the updatedAt stamp.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Layer is safe for concurrent use. It keeps no state besides its store
// handle; every write is a single conditional store write.
type Layer struct {
	db  store.Database
	now func() time.Time
}

type Option func(*Layer)

// WithClock overrides the clock used for updatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(l *Layer) { l.now = now }
}

func New(db store.Database, opts ...Option) *Layer {
	l := &Layer{db: db, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Database returns the name of the underlying database.
func (l *Layer) Database() string { return l.db.Name() }

func track(op string) *telemetry.Trace {
	return telemetry.Track("access." + op)
}

func finish(tr *telemetry.Trace, err *Error) error {
	if err != nil {
		tr.Fail(KindName(err))
		tr.Finish()
		return err
	}
	tr.Finish()
	return nil
}

// Create inserts doc as a new document. An empty key is assigned by the
// store; a revision on doc is ignored.
func (l *Layer) Create(ctx context.Context, doc models.Document) (models.Document, error) {
	tr := track("create")
	out := doc.Clone()
	out.Revision = ""
	meta, err := l.db.Insert(ctx, out)
	if err != nil {
		return models.Document{}, finish(tr, classify("create", doc.Key, err))
	}
	out.Key, out.Revision = meta.Key, meta.Revision
	if out.Fields == nil {
		out.Fields = map[string]any{}
	}
	return out, finish(tr, nil)
}

// Read returns found=false with a nil error when key is absent.
func (l *Layer) Read(ctx context.Context, key string) (models.Document, bool, error) {
	tr := track("read")
	if key == "" {
		return models.Document{}, false, finish(tr, fail("read", key, ErrInvalidRequest, errors.New("empty key")))
	}
	doc, err := l.db.Get(ctx, key)
	if store.IsDocumentNotFound(err) {
		tr.Finish()
		return models.Document{}, false, nil
	}
	if err != nil {
		return models.Document{}, false, finish(tr, classify("read", key, err))
	}
	return doc, true, finish(tr, nil)
}

// Update merges partial over the stored document's top-level fields, stamps
// updatedAt and writes with the revision it just read. A concurrent writer
// surfaces as ErrWriteConflict; Update never retries.
func (l *Layer) Update(ctx context.Context, key string, partial map[string]any) (models.Document, error) {
	tr := track("update")
	if key == "" {
		return models.Document{}, finish(tr, fail("update", key, ErrInvalidRequest, errors.New("empty key")))
	}
	cur, err := l.db.Get(ctx, key)
	if err != nil {
		return models.Document{}, finish(tr, classify("update", key, err))
	}
	tr.Mark("read")
	next := Merge(cur, partial)
	next.Fields[models.FieldUpdatedAt] = l.now().UTC().Format(TimestampLayout)
	meta, err := l.db.Insert(ctx, next)
	if err != nil {
		return models.Document{}, finish(tr, classify("update", key, err))
	}
	tr.Mark("write")
	next.Revision = meta.Revision
	return next, finish(tr, nil)
}

// Merge returns cur with copies of partial's top-level fields written over
// it. The reserved key and revision entries of partial are ignored.
func Merge(cur models.Document, partial map[string]any) models.Document {
	next := cur.Clone()
	if next.Fields == nil {
		next.Fields = map[string]any{}
	}
	for k, v := range partial {
		if k == models.FieldKey || k == models.FieldRevision {
			continue
		}
		next.Fields[k] = models.CloneValue(v)
	}
	return next
}

// Save writes doc conditionally on the revision it carries. A document
// without a revision is a creation.
func (l *Layer) Save(ctx context.Context, doc models.Document) (models.Document, error) {
	tr := track("save")
	out := doc.Clone()
	meta, err := l.db.Insert(ctx, out)
	if err != nil {
		return models.Document{}, finish(tr, classify("save", doc.Key, err))
	}
	out.Key, out.Revision = meta.Key, meta.Revision
	if out.Fields == nil {
		out.Fields = map[string]any{}
	}
	return out, finish(tr, nil)
}

// Delete removes key using the revision it reads first. A document that
// vanishes between the read and the removal is a write conflict.
func (l *Layer) Delete(ctx context.Context, key string) (bool, error) {
	tr := track("delete")
	if key == "" {
		return false, finish(tr, fail("delete", key, ErrInvalidRequest, errors.New("empty key")))
	}
	cur, err := l.db.Get(ctx, key)
	if err != nil {
		return false, finish(tr, classify("delete", key, err))
	}
	tr.Mark("read")
	if err := l.db.Destroy(ctx, key, cur.Revision); err != nil {
		if store.IsDocumentNotFound(err) {
			return false, finish(tr, fail("delete", key, ErrWriteConflict, store.Flatten(err)))
		}
		return false, finish(tr, classify("delete", key, err))
	}
	return true, finish(tr, nil)
}

// Find returns the documents matching q in store order. No match is an empty
// result.
func (l *Layer) Find(ctx context.Context, q models.FindQuery) ([]models.Document, error) {
	tr := track("find")
	if q.Limit < 0 || q.Skip < 0 {
		return nil, finish(tr, fail("find", "", ErrInvalidRequest, errors.New("negative limit or skip")))
	}
	docs, err := l.db.Find(ctx, q)
	if err != nil {
		return nil, finish(tr, classify("find", "", err))
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, finish(tr, nil)
}

// List returns documents ordered by key within the inclusive range of opts.
// Skip applies before Limit.
func (l *Layer) List(ctx context.Context, opts models.ListOptions) ([]models.Document, error) {
	tr := track("list")
	if opts.Limit < 0 || opts.Skip < 0 {
		return nil, finish(tr, fail("list", "", ErrInvalidRequest, errors.New("negative limit or skip")))
	}
	docs, err := l.db.List(ctx, opts)
	if err != nil {
		return nil, finish(tr, classify("list", opts.StartKey, err))
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, finish(tr, nil)
}

// View queries a declared view. An undeclared index or view is ErrNotFound.
func (l *Layer) View(ctx context.Context, index, view string, q models.ViewQuery) (models.ViewResult, error) {
	tr := track("view")
	key := index + "/" + view
	if index == "" || view == "" {
		return models.ViewResult{}, finish(tr, fail("view", key, ErrInvalidRequest, errors.New("index and view are required")))
	}
	res, err := l.db.View(ctx, index, view, q)
	if err != nil {
		return models.ViewResult{}, finish(tr, classify("view", key, err))
	}
	if res.Rows == nil {
		res.Rows = []models.ViewRow{}
	}
	return res, finish(tr, nil)
}

// Count returns the aggregated value of a counting view for one grouping key.
// A key with no rows counts zero.
func (l *Layer) Count(ctx context.Context, index, view string, key any) (int64, error) {
	res, err := l.View(ctx, index, view, models.ViewQuery{}.ByKey(key).WithReduce(true))
	if err != nil {
		return 0, err
	}
	var n int64
	for _, row := range res.Rows {
		switch v := row.Value.(type) {
		case int64:
			n += v
		case float64:
			n += int64(v)
		case int:
			n += int64(v)
		}
	}
	return n, nil
}
