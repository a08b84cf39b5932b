package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"eduapp/pkg/logger"
	"eduapp/pkg/models"
	"eduapp/pkg/store"
	"eduapp/pkg/store/collate"
	"eduapp/pkg/store/keys"
)

// designs returns the parsed design documents of the database. Callers hold
// the database lock, shared or exclusive, so a cache fill never races a
// design write.
func (d *database) designs() ([]models.IndexDefinition, error) {
	if defs, ok := d.e.designs.Get(d.name); ok {
		return defs, nil
	}
	lower := keys.GenDocumentKey(d.name, models.DesignPrefix)
	defs := []models.IndexDefinition{}
	err := d.e.kv.Scan(lower, keys.UpperBound(lower), func(k, v []byte) error {
		rec, err := decodeRecord(v)
		if err != nil {
			return err
		}
		if rec.Deleted {
			return nil
		}
		id, err := keys.ParseDocumentKey(d.name, k)
		if err != nil {
			return err
		}
		def, err := models.ParseIndexDefinition(rec.document(id))
		if err != nil {
			logger.Warn("engine_design_skipped", "db", d.name, "id", id, "error", err)
			return nil
		}
		defs = append(defs, def)
		return nil
	})
	if err != nil {
		return nil, err
	}
	d.e.designs.Add(d.name, defs)
	return defs, nil
}

// reindex replaces the view rows of one document in every design. A nil doc
// removes them.
func (d *database) reindex(b *Batch, defs []models.IndexDefinition, id string, doc *models.Document) error {
	for _, def := range defs {
		ref := keys.GenViewBackref(d.name, def.Name, id)
		raw, err := d.e.kv.Get(ref)
		switch {
		case err == nil:
			old, err := decodeBackref(raw)
			if err != nil {
				return err
			}
			for _, k := range old {
				b.Delete(k)
			}
		case !errors.Is(err, ErrKeyNotFound):
			return err
		}
		var rows [][]byte
		if doc != nil {
			if rows, err = d.emitRows(b, def, id, *doc); err != nil {
				return err
			}
		}
		if len(rows) == 0 {
			b.Delete(ref)
			continue
		}
		enc, err := encodeBackref(rows)
		if err != nil {
			return err
		}
		b.Set(ref, enc)
	}
	return nil
}

// emitRows writes the rows doc contributes to def and returns their keys.
func (d *database) emitRows(b *Batch, def models.IndexDefinition, id string, doc models.Document) ([][]byte, error) {
	var rows [][]byte
	for _, view := range def.ViewNames() {
		for i, em := range def.Views[view].Emit.Emit(doc) {
			rk := keys.GenViewRowKey(d.name, def.Name, view, em.Key, id, i)
			val, err := json.Marshal(rowValue{Key: em.Key, Value: em.Value})
			if err != nil {
				return nil, err
			}
			b.Set(rk, val)
			rows = append(rows, rk)
		}
	}
	return rows, nil
}

// rebuildDesign drops every row of the named design and, when def is not nil,
// re-emits them from all live documents.
func (d *database) rebuildDesign(ctx context.Context, b *Batch, name string, def *models.IndexDefinition) error {
	for _, prefix := range [][]byte{keys.GenViewDesignPrefix(d.name, name), keys.GenViewBackrefPrefix(d.name, name)} {
		err := d.e.kv.Scan(prefix, keys.UpperBound(prefix), func(k, _ []byte) error {
			b.Delete(clone(k))
			return nil
		})
		if err != nil {
			return err
		}
	}
	if def == nil {
		return nil
	}
	start := time.Now()
	indexed := 0
	prefix := keys.GenDocumentPrefix(d.name)
	err := d.e.kv.Scan(prefix, keys.UpperBound(prefix), func(k, v []byte) error {
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
		if rec.Deleted {
			return nil
		}
		rows, err := d.emitRows(b, *def, id, rec.document(id))
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		enc, err := encodeBackref(rows)
		if err != nil {
			return err
		}
		b.Set(keys.GenViewBackref(d.name, def.Name, id), enc)
		indexed++
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("engine_view_rebuilt", "db", d.name, "design", name, "documents", indexed, "took", time.Since(start).String())
	return nil
}

func (d *database) View(ctx context.Context, ddoc, view string, q models.ViewQuery) (models.ViewResult, error) {
	if err := d.e.guard(ctx); err != nil {
		return models.ViewResult{}, err
	}
	if err := d.e.ensureDatabase(d.name); err != nil {
		return models.ViewResult{}, err
	}
	if q.Limit < 0 || q.Skip < 0 {
		return models.ViewResult{}, store.BadRequest("limit and skip must be non-negative")
	}
	mu := d.e.dbLock(d.name)
	mu.RLock()
	defer mu.RUnlock()

	defs, err := d.designs()
	if err != nil {
		return models.ViewResult{}, err
	}
	var (
		vdef  models.ViewDefinition
		found bool
	)
	for _, def := range defs {
		if def.Name == ddoc {
			vdef, found = def.Views[view]
			if !found {
				return models.ViewResult{}, store.NotFound("missing_named_view")
			}
			break
		}
	}
	if !found {
		return models.ViewResult{}, store.NotFound("missing")
	}

	reduce := vdef.Reduce != models.ReduceNone
	if q.Reduce != nil {
		if *q.Reduce && !reduce {
			return models.ViewResult{}, store.BadRequest("reduce is invalid for map-only views")
		}
		reduce = *q.Reduce
	}
	if reduce && q.IncludeDocs {
		return models.ViewResult{}, store.BadRequest("include_docs is invalid for reduce")
	}
	if !reduce && q.Group {
		return models.ViewResult{}, store.BadRequest("group is invalid for map views")
	}

	rowPrefix := keys.GenViewRowPrefix(d.name, ddoc, view)
	lower, upper := rowPrefix, keys.UpperBound(rowPrefix)
	if q.HasKey {
		kp := keys.GenViewKeyPrefix(d.name, ddoc, view, q.Key)
		lower, upper = kp, keys.UpperBound(kp)
	} else {
		if q.StartKey != nil {
			lower = keys.GenViewKeyPrefix(d.name, ddoc, view, q.StartKey)
		}
		if q.EndKey != nil {
			upper = keys.UpperBound(keys.GenViewKeyPrefix(d.name, ddoc, view, q.EndKey))
		}
	}

	if reduce {
		return d.reduceRows(ctx, lower, upper, rowPrefix, q)
	}
	return d.mapRows(ctx, lower, upper, rowPrefix, q)
}

func (d *database) mapRows(ctx context.Context, lower, upper, rowPrefix []byte, q models.ViewQuery) (models.ViewResult, error) {
	res := models.ViewResult{Offset: q.Skip, Rows: []models.ViewRow{}}
	err := d.e.kv.Scan(lower, upper, func(k, v []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.TotalRows++
		if res.TotalRows <= q.Skip {
			return nil
		}
		if q.Limit > 0 && len(res.Rows) >= q.Limit {
			return nil
		}
		rv, err := decodeRow(v)
		if err != nil {
			return err
		}
		id, err := keys.ParseViewRowDocID(k, len(collate.Append(clone(rowPrefix), rv.Key)))
		if err != nil {
			return err
		}
		row := models.ViewRow{ID: id, Key: rv.Key, Value: rv.Value}
		if q.IncludeDocs {
			rec, exists, err := d.readRecord(id)
			if err != nil {
				return err
			}
			if exists && !rec.Deleted {
				doc := rec.document(id)
				row.Doc = &doc
			}
		}
		res.Rows = append(res.Rows, row)
		return nil
	})
	if err != nil {
		return models.ViewResult{}, err
	}
	return res, nil
}

// reduceRows applies the count aggregation, either over the whole range or
// per distinct key when grouping.
func (d *database) reduceRows(ctx context.Context, lower, upper, rowPrefix []byte, q models.ViewQuery) (models.ViewResult, error) {
	res := models.ViewResult{Rows: []models.ViewRow{}}
	var (
		total    int64
		groups   []models.ViewRow
		groupKey []byte
	)
	err := d.e.kv.Scan(lower, upper, func(k, v []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		total++
		if !q.Group {
			return nil
		}
		rv, err := decodeRow(v)
		if err != nil {
			return err
		}
		enc := collate.Append(clone(rowPrefix), rv.Key)
		if groupKey != nil && bytes.Equal(enc, groupKey) {
			groups[len(groups)-1].Value = groups[len(groups)-1].Value.(int64) + 1
			return nil
		}
		groupKey = enc
		groups = append(groups, models.ViewRow{Key: rv.Key, Value: int64(1)})
		return nil
	})
	if err != nil {
		return models.ViewResult{}, err
	}
	if !q.Group {
		if total > 0 && q.Skip == 0 {
			res.Rows = append(res.Rows, models.ViewRow{Key: nil, Value: total})
		}
		return res, nil
	}
	for i, g := range groups {
		if i < q.Skip {
			continue
		}
		if q.Limit > 0 && len(res.Rows) >= q.Limit {
			break
		}
		res.Rows = append(res.Rows, g)
	}
	return res, nil
}

func unixNano(ns int64) time.Time {
	return time.Unix(0, ns)
}
