package locks

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Table hands out one mutex per key. Entries are reference counted and
// removed once no goroutine holds or waits on them.
type Table struct {
	m *xsync.MapOf[string, *entry]
}

type entry struct {
	mu   sync.Mutex
	refs int // guarded by the map's per-key compute
}

func New() *Table {
	return &Table{m: xsync.NewMapOf[string, *entry]()}
}

// Lock blocks until key is held and returns the matching unlock.
func (t *Table) Lock(key string) (unlock func()) {
	e, _ := t.m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			old = &entry{}
		}
		old.refs++
		return old, false
	})
	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		t.m.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
			if !loaded {
				return old, true
			}
			old.refs--
			return old, old.refs <= 0
		})
	}
}

// Len returns the number of keys currently held or awaited.
func (t *Table) Len() int {
	return t.m.Size()
}
