package engine

import (
	"context"
	"fmt"
	"time"

	"eduapp/pkg/logger"
	"eduapp/pkg/store/keys"
)

type tombstoneRef struct {
	marker []byte
	id     string
	at     time.Time
}

// Compact purges tombstones recorded before the cutoff. A tombstone that was
// superseded by a re-creation in the meantime is left to the writer that
// removed its marker.
func (d *database) Compact(ctx context.Context, before time.Time) (int, error) {
	if err := d.e.guard(ctx); err != nil {
		return 0, err
	}
	if err := d.e.ensureDatabase(d.name); err != nil {
		return 0, err
	}
	lower := keys.GenTombstonePrefix(d.name)
	upper := keys.GenTombstoneUpperBound(d.name, before)

	var refs []tombstoneRef
	err := d.e.kv.Scan(lower, upper, func(k, _ []byte) error {
		at, id, err := keys.ParseTombstoneKey(d.name, k)
		if err != nil {
			logger.Warn("engine_tombstone_key_invalid", "db", d.name, "key", string(k), "error", err)
			return nil
		}
		refs = append(refs, tombstoneRef{marker: clone(k), id: id, at: at})
		return nil
	})
	if err != nil {
		return 0, err
	}

	size := d.e.opts.CompactBatchSize
	purged := 0
	for start := 0; start < len(refs); start += size {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		end := min(start+size, len(refs))
		n, err := d.purge(refs[start:end])
		purged += n
		if err != nil {
			return purged, err
		}
	}

	if rc, ok := d.e.kv.(RangeCompacter); ok && purged > 0 {
		prefix := keys.GenDocumentPrefix(d.name)
		if err := rc.CompactRange(prefix, keys.UpperBound(prefix)); err != nil {
			logger.Warn("engine_range_compact_failed", "db", d.name, "error", err)
		}
	}
	return purged, nil
}

func (d *database) purge(refs []tombstoneRef) (int, error) {
	b := d.e.newBatch()
	var unlocks []func()
	defer func() {
		for _, u := range unlocks {
			u()
		}
	}()
	purged := 0
	seen := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		b.Delete(ref.marker)
		if _, dup := seen[ref.id]; dup {
			continue
		}
		seen[ref.id] = struct{}{}
		unlocks = append(unlocks, d.e.keyLock.Lock(d.lockKey(ref.id)))
		rec, exists, err := d.readRecord(ref.id)
		if err != nil {
			return 0, err
		}
		if !exists || !rec.Deleted || rec.DeletedAt != ref.at.UnixNano() {
			continue
		}
		b.Delete(keys.GenDocumentKey(d.name, ref.id))
		purged++
	}
	if b.Len() == 0 {
		return 0, nil
	}
	if err := d.e.kv.Apply(b); err != nil {
		return 0, fmt.Errorf("apply purge batch: %w", err)
	}
	return purged, nil
}
