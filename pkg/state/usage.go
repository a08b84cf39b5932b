package state

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
)

// Usage is a filesystem capacity snapshot in bytes.
type Usage struct {
	Total     uint64
	Available uint64
}

func (u Usage) UsedPct() float64 {
	if u.Total == 0 {
		return 0
	}
	return float64(u.Total-u.Available) / float64(u.Total) * 100
}

func (u Usage) String() string {
	return fmt.Sprintf("%s free of %s (%.1f%% used)", humanize.IBytes(u.Available), humanize.IBytes(u.Total), u.UsedPct())
}

// WriteCrashDump records reason, err and all goroutine stacks under dir and
// returns the file path.
func WriteCrashDump(dir, reason string, err error) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("crash dir not initialized")
	}
	if e := os.MkdirAll(dir, 0o700); e != nil {
		return "", e
	}
	path := filepath.Join(dir, fmt.Sprintf("crash-%d.log", time.Now().UnixNano()))
	f, e := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if e != nil {
		return "", e
	}
	defer f.Close()
	fmt.Fprintf(f, "time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(f, "reason: %s\n", reason)
	if err != nil {
		fmt.Fprintf(f, "error: %v\n", err)
	}
	fmt.Fprintf(f, "\n--- goroutine stacks ---\n")
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	_, e = f.Write(buf[:n])
	return path, e
}
