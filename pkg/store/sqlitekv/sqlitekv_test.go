package sqlitekv

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduapp/pkg/store/engine"
)

func open(t *testing.T) *KV {
	t.Helper()
	kv, err := Open(filepath.Join(t.TempDir(), "nested", "kv.sqlite"), Options{Synchronous: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestApplyUpsertsAndDeletes(t *testing.T) {
	kv := open(t)
	var b engine.Batch
	b.Set([]byte("a"), []byte("1"))
	b.Set([]byte("a"), []byte("2"))
	b.Set([]byte("b"), []byte("1"))
	b.Delete([]byte("b"))
	require.NoError(t, kv.Apply(&b))

	v, err := kv.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(v))
	_, err = kv.Get([]byte("b"))
	assert.ErrorIs(t, err, engine.ErrKeyNotFound)
}

func TestScanPagesInByteOrder(t *testing.T) {
	kv := open(t)
	var b engine.Batch
	n := scanPage*2 + 17
	for i := n - 1; i >= 0; i-- {
		b.Set([]byte(fmt.Sprintf("doc\x00%05d", i)), []byte{byte(i)})
	}
	b.Set([]byte("doc\xff"), []byte("high"))
	b.Set([]byte("aaa"), []byte("low"))
	require.NoError(t, kv.Apply(&b))

	var keys []string
	require.NoError(t, kv.Scan([]byte("doc\x00"), []byte("doc\x01"), func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	}))
	require.Len(t, keys, n)
	assert.Equal(t, "doc\x0000000", keys[0])
	assert.Equal(t, fmt.Sprintf("doc\x00%05d", n-1), keys[n-1])

	all := 0
	require.NoError(t, kv.Scan(nil, nil, func([]byte, []byte) error {
		all++
		return nil
	}))
	assert.Equal(t, n+2, all)

	seen := 0
	err := kv.Scan(nil, nil, func([]byte, []byte) error {
		seen++
		if seen == 3 {
			return engine.ErrStopScan
		}
		return nil
	})
	assert.ErrorIs(t, err, engine.ErrStopScan)
	assert.Equal(t, 3, seen)
}
