package engine

import "errors"

var (
	// ErrKeyNotFound is returned by KV.Get for absent keys.
	ErrKeyNotFound = errors.New("kv: key not found")
	// ErrStopScan ends a Scan early without reporting an error.
	ErrStopScan = errors.New("kv: stop scan")
)

// KV is the sorted key-value substrate under the engine.
type KV interface {
	Get(key []byte) ([]byte, error)
	// Scan visits keys in [lower, upper) in ascending byte order. A nil upper
	// is unbounded. key and value are only valid during the callback.
	Scan(lower, upper []byte, fn func(key, value []byte) error) error
	// Apply commits every operation of the batch atomically, in order.
	Apply(b *Batch) error
	Close() error
}

// RangeCompacter is implemented by KVs that can reclaim space for a key
// range after bulk deletes.
type RangeCompacter interface {
	CompactRange(lower, upper []byte) error
}

type Op struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Batch is an ordered list of writes; a later op on the same key wins.
type Batch struct {
	Ops  []Op
	Sync bool
}

func (b *Batch) Set(key, value []byte) {
	b.Ops = append(b.Ops, Op{Key: key, Value: value})
}

func (b *Batch) Delete(key []byte) {
	b.Ops = append(b.Ops, Op{Key: key, Delete: true})
}

func (b *Batch) Len() int { return len(b.Ops) }

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
