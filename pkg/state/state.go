package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Paths is the on-disk layout under the database directory.
type Paths struct {
	Root       string
	Store      string
	State      string
	Audit      string
	Compaction string
	Tmp        string
	Crash      string
}

// PathsFor derives the layout for root without touching the filesystem.
func PathsFor(root string) Paths {
	state := filepath.Join(root, "state")
	return Paths{
		Root:       root,
		Store:      filepath.Join(root, "store"),
		State:      state,
		Audit:      filepath.Join(state, "audit"),
		Compaction: filepath.Join(state, "compaction"),
		Tmp:        filepath.Join(state, "tmp"),
		Crash:      filepath.Join(state, "crash"),
	}
}

// EnsureStateDirs creates every directory of p with 0700 permissions and
// refuses symlinks, non-directories and unwritable paths.
func EnsureStateDirs(p Paths) error {
	for _, dir := range []string{p.Store, p.Audit, p.Compaction, p.Tmp, p.Crash} {
		if err := os.MkdirAll(filepath.Dir(dir), 0o700); err != nil {
			return fmt.Errorf("cannot create parent for %s: %w", dir, err)
		}
		if fi, err := os.Lstat(dir); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return fmt.Errorf("path is a symlink: %s", dir)
			}
			if !fi.IsDir() {
				return fmt.Errorf("path exists and is not a directory: %s", dir)
			}
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("cannot create path %s: %w", dir, err)
		}
		tmp, err := os.CreateTemp(dir, ".validate-*")
		if err != nil {
			return fmt.Errorf("path not writable: %s: %w", dir, err)
		}
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	return nil
}

var (
	PathsVar Paths
	initOnce sync.Once
	initErr  error
)

// Init resolves and prepares the layout once per process; later calls return
// the first result.
func Init(dbPath string) error {
	initOnce.Do(func() {
		path := strings.TrimSpace(dbPath)
		if path == "" {
			path = "./.database"
		}
		PathsVar = PathsFor(filepath.Clean(path))
		initErr = EnsureStateDirs(PathsVar)
	})
	return initErr
}
