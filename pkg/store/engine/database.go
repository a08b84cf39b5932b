package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"eduapp/pkg/models"
	"eduapp/pkg/store"
	"eduapp/pkg/store/keys"
	"eduapp/pkg/store/revs"
	"eduapp/pkg/store/selector"
)

type database struct {
	e    *Engine
	name string
}

var (
	_ store.Database  = (*database)(nil)
	_ store.Compactor = (*database)(nil)
)

func (d *database) Name() string { return d.name }

func (d *database) lockKey(id string) string {
	return d.name + "\x00" + id
}

func (d *database) readRecord(id string) (record, bool, error) {
	raw, err := d.e.kv.Get(keys.GenDocumentKey(d.name, id))
	if errors.Is(err, ErrKeyNotFound) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, err
	}
	r, err := decodeRecord(raw)
	if err != nil {
		return record{}, false, err
	}
	return r, true, nil
}

func (d *database) Insert(ctx context.Context, doc models.Document) (models.DocMeta, error) {
	if err := d.e.guard(ctx); err != nil {
		return models.DocMeta{}, err
	}
	if err := d.e.ensureDatabase(d.name); err != nil {
		return models.DocMeta{}, err
	}
	id := doc.Key
	if id == "" {
		id = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if err := keys.ValidateDocID(id); err != nil {
		return models.DocMeta{}, store.BadRequest(err.Error())
	}
	for k := range doc.Fields {
		if strings.HasPrefix(k, "_") {
			return models.DocMeta{}, store.BadRequest("Bad special document member: " + k)
		}
	}
	body, err := encodeBody(doc.Fields)
	if err != nil {
		return models.DocMeta{}, store.BadRequest(err.Error())
	}

	design := strings.HasPrefix(id, models.DesignPrefix)
	var def *models.IndexDefinition
	if design {
		parsed, err := models.ParseIndexDefinition(models.Document{Key: id, Fields: doc.Fields})
		if err != nil {
			return models.DocMeta{}, store.BadRequest(err.Error())
		}
		def = &parsed
	}

	mu := d.e.dbLock(d.name)
	if design {
		mu.Lock()
		defer mu.Unlock()
	} else {
		mu.RLock()
		defer mu.RUnlock()
	}
	unlock := d.e.keyLock.Lock(d.lockKey(id))
	defer unlock()

	cur, exists, err := d.readRecord(id)
	if err != nil {
		return models.DocMeta{}, err
	}
	switch {
	case exists && !cur.Deleted && doc.Revision != cur.Rev:
		return models.DocMeta{}, store.Conflict("Document update conflict.")
	case exists && cur.Deleted && doc.Revision != "" && doc.Revision != cur.Rev:
		return models.DocMeta{}, store.Conflict("Document update conflict.")
	case !exists && doc.Revision != "":
		return models.DocMeta{}, store.Conflict("Document update conflict.")
	}

	rev := revs.Next(cur.Rev, body)
	rec := record{Rev: rev, Body: doc.Fields}
	if rec.Body == nil {
		rec.Body = map[string]any{}
	}
	raw, err := encodeRecord(rec)
	if err != nil {
		return models.DocMeta{}, err
	}

	b := d.e.newBatch()
	b.Set(keys.GenDocumentKey(d.name, id), raw)
	if exists && cur.Deleted {
		b.Delete(keys.GenTombstoneKey(d.name, unixNano(cur.DeletedAt), id))
	}
	if design {
		if err := d.rebuildDesign(ctx, b, strings.TrimPrefix(id, models.DesignPrefix), def); err != nil {
			return models.DocMeta{}, err
		}
	} else {
		defs, err := d.designs()
		if err != nil {
			return models.DocMeta{}, err
		}
		next := rec.document(id)
		if err := d.reindex(b, defs, id, &next); err != nil {
			return models.DocMeta{}, err
		}
	}

	if err := ctx.Err(); err != nil {
		return models.DocMeta{}, err
	}
	if err := d.e.kv.Apply(b); err != nil {
		return models.DocMeta{}, err
	}
	if design {
		d.e.designs.Remove(d.name)
	}
	return models.DocMeta{Key: id, Revision: rev}, nil
}

func (d *database) Get(ctx context.Context, key string) (models.Document, error) {
	if err := d.e.guard(ctx); err != nil {
		return models.Document{}, err
	}
	if err := d.e.ensureDatabase(d.name); err != nil {
		return models.Document{}, err
	}
	if key == "" {
		return models.Document{}, store.BadRequest("empty document id")
	}
	rec, exists, err := d.readRecord(key)
	if err != nil {
		return models.Document{}, err
	}
	if !exists {
		return models.Document{}, store.NotFound("missing")
	}
	if rec.Deleted {
		return models.Document{}, store.NotFound("deleted")
	}
	return rec.document(key), nil
}

func (d *database) Destroy(ctx context.Context, key, rev string) error {
	if err := d.e.guard(ctx); err != nil {
		return err
	}
	if err := d.e.ensureDatabase(d.name); err != nil {
		return err
	}
	if key == "" {
		return store.BadRequest("empty document id")
	}
	design := strings.HasPrefix(key, models.DesignPrefix)
	mu := d.e.dbLock(d.name)
	if design {
		mu.Lock()
		defer mu.Unlock()
	} else {
		mu.RLock()
		defer mu.RUnlock()
	}
	unlock := d.e.keyLock.Lock(d.lockKey(key))
	defer unlock()

	cur, exists, err := d.readRecord(key)
	if err != nil {
		return err
	}
	if !exists {
		return store.NotFound("missing")
	}
	if cur.Deleted {
		return store.NotFound("deleted")
	}
	if rev != cur.Rev {
		return store.Conflict("Document update conflict.")
	}

	now := d.e.opts.Now()
	tomb := record{
		Rev:       revs.Next(cur.Rev, []byte(`{"_deleted":true}`)),
		Deleted:   true,
		DeletedAt: now.UnixNano(),
	}
	raw, err := encodeRecord(tomb)
	if err != nil {
		return err
	}
	b := d.e.newBatch()
	b.Set(keys.GenDocumentKey(d.name, key), raw)
	b.Set(keys.GenTombstoneKey(d.name, now, key), []byte(tomb.Rev))
	if design {
		if err := d.rebuildDesign(ctx, b, strings.TrimPrefix(key, models.DesignPrefix), nil); err != nil {
			return err
		}
	} else {
		defs, err := d.designs()
		if err != nil {
			return err
		}
		if err := d.reindex(b, defs, key, nil); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.e.kv.Apply(b); err != nil {
		return err
	}
	if design {
		d.e.designs.Remove(d.name)
	}
	return nil
}

func (d *database) List(ctx context.Context, opts models.ListOptions) ([]models.Document, error) {
	if err := d.e.guard(ctx); err != nil {
		return nil, err
	}
	if err := d.e.ensureDatabase(d.name); err != nil {
		return nil, err
	}
	if opts.Limit < 0 || opts.Skip < 0 {
		return nil, store.BadRequest("limit and skip must be non-negative")
	}
	prefix := keys.GenDocumentPrefix(d.name)
	lower, upper := prefix, keys.UpperBound(prefix)
	if opts.StartKey != "" {
		lower = keys.GenDocumentKey(d.name, opts.StartKey)
	}
	if opts.EndKey != "" {
		// inclusive end: the smallest key after EndKey is EndKey + 0x00
		upper = append(keys.GenDocumentKey(d.name, opts.EndKey), 0x00)
	}

	out := []models.Document{}
	skipped := 0
	err := d.e.kv.Scan(lower, upper, func(k, v []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := decodeRecord(v)
		if err != nil {
			return err
		}
		if rec.Deleted {
			return nil
		}
		if skipped < opts.Skip {
			skipped++
			return nil
		}
		id, err := keys.ParseDocumentKey(d.name, k)
		if err != nil {
			return err
		}
		doc := models.Document{Key: id, Revision: rec.Rev}
		if opts.IncludeDocs {
			doc = rec.document(id)
		}
		out = append(out, doc)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			return ErrStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrStopScan) {
		return nil, err
	}
	return out, nil
}

func (d *database) Find(ctx context.Context, q models.FindQuery) ([]models.Document, error) {
	if err := d.e.guard(ctx); err != nil {
		return nil, err
	}
	if err := d.e.ensureDatabase(d.name); err != nil {
		return nil, err
	}
	if q.Limit < 0 || q.Skip < 0 {
		return nil, store.BadRequest("limit and skip must be non-negative")
	}
	m, err := selector.Compile(q.Selector)
	if err != nil {
		return nil, store.BadRequest(err.Error())
	}
	prefix := keys.GenDocumentPrefix(d.name)
	out := []models.Document{}
	skipped := 0
	err = d.e.kv.Scan(prefix, keys.UpperBound(prefix), func(k, v []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := keys.ParseDocumentKey(d.name, k)
		if err != nil {
			return err
		}
		if strings.HasPrefix(id, models.DesignPrefix) {
			return nil
		}
		rec, err := decodeRecord(v)
		if err != nil {
			return err
		}
		if rec.Deleted || !m.Match(rec.Body) {
			return nil
		}
		if skipped < q.Skip {
			skipped++
			return nil
		}
		out = append(out, rec.document(id))
		if q.Limit > 0 && len(out) >= q.Limit {
			return ErrStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrStopScan) {
		return nil, err
	}
	return out, nil
}
