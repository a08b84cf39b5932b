package logger

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Log is the process logger. It stays nil until Init runs, and every helper
// in this package is a no-op while it is nil.
var Log *slog.Logger

// Audit records administrative actions (compaction runs, index repairs) as
// JSON lines. Nil unless AttachAuditFileSink succeeded.
var Audit *slog.Logger

const queueSize = 10000

var (
	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64
)

// asyncWriter hands formatted records to the flusher goroutine and never
// blocks the caller; records are dropped when the queue is full.
type asyncWriter struct {
	ch chan []byte
}

func (a *asyncWriter) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case a.ch <- cp:
	default:
		dropped.Add(1)
	}
	return len(p), nil
}

// Init configures Log from EDUAPP_LOG_LEVEL and EDUAPP_LOG_SINK.
func Init() {
	InitWithLevel("")
}

// InitWithLevel configures Log at level ("debug", "info", "warn", "error").
// An empty level falls back to EDUAPP_LOG_LEVEL. EDUAPP_LOG_SINK of the form
// "file:/path" redirects output from stdout to that file.
func InitWithLevel(level string) {
	if strings.TrimSpace(level) == "" {
		level = os.Getenv("EDUAPP_LOG_LEVEL")
	}
	var out io.Writer = os.Stdout
	var f *os.File
	if sink := os.Getenv("EDUAPP_LOG_SINK"); strings.HasPrefix(sink, "file:") {
		path := strings.TrimPrefix(sink, "file:")
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", path, err)
		} else {
			out = f
		}
	}
	start(out, f, ParseLevel(level))
}

// InitWriter sends records to w synchronously. Tests use it to capture output.
func InitWriter(w io.Writer, level string) {
	Sync()
	Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

func start(out io.Writer, f *os.File, lv slog.Level) {
	Sync()
	mu.Lock()
	defer mu.Unlock()

	ch := make(chan []byte, queueSize)
	stop := make(chan struct{})
	stopCh = stop
	Log = slog.New(slog.NewTextHandler(&asyncWriter{ch: ch}, &slog.HandlerOptions{Level: lv}))

	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := bufio.NewWriterSize(out, 8192)
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case b := <-ch:
				buf.Write(b)
			case <-ticker.C:
				buf.Flush()
			case <-stop:
				// drain what was queued before the stop
				for drained := false; !drained; {
					select {
					case b := <-ch:
						buf.Write(b)
					default:
						drained = true
					}
				}
				buf.Flush()
				if f != nil {
					f.Close()
				}
				return
			}
		}
	}()
}

// ParseLevel maps a level name to its slog level; unknown names mean info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Dropped reports how many records the async writer discarded.
func Dropped() int64 {
	return dropped.Load()
}

// AttachAuditFileSink opens <auditDir>/audit.log as a JSON sink for Audit.
// Symlinked directories are refused and a log above 10MB is rotated aside.
func AttachAuditFileSink(auditDir string) error {
	if auditDir == "" {
		return fmt.Errorf("empty audit dir")
	}
	if fi, err := os.Lstat(auditDir); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("audit path is a symlink: %s", auditDir)
		}
		if !fi.IsDir() {
			return fmt.Errorf("audit path exists and is not a directory: %s", auditDir)
		}
	}
	if err := os.MkdirAll(auditDir, 0o700); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	fname := filepath.Join(auditDir, "audit.log")
	if fi, err := os.Stat(fname); err == nil {
		const maxSize = 10 * 1024 * 1024
		if fi.Size() > maxSize {
			_ = os.Rename(fname, fname+"."+fi.ModTime().UTC().Format("20060102T150405Z"))
		}
	}
	f, err := os.OpenFile(fname, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	Audit = slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelInfo}))
	Audit.Info("audit_sink_attached", "path", fname)
	return nil
}

// AuditEvent writes to Audit, or to Log when no audit sink is attached.
func AuditEvent(msg string, args ...any) {
	switch {
	case Audit != nil:
		Audit.Info(msg, args...)
	case Log != nil:
		Log.Info(msg, append([]any{"audit", true}, args...)...)
	}
}

// Sync flushes and stops the async writer. Safe to call more than once.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if stopCh != nil {
		close(stopCh)
		wg.Wait()
		stopCh = nil
	}
}

func Debug(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	if Log == nil {
		return
	}
	Log.Error(msg, args...)
}

// LogConfigSummary prints a readable block of settings to stdout, one
// hyphenated line per item, regardless of the configured level.
func LogConfigSummary(title string, items []string) {
	if len(items) == 0 {
		return
	}
	header := "== " + strings.ToUpper(strings.ReplaceAll(title, "_", " ")) + " "
	const width = 60
	if len(header) < width {
		header += strings.Repeat("=", width-len(header))
	}
	fmt.Fprintln(os.Stdout, header)
	for _, it := range items {
		fmt.Fprintln(os.Stdout, "- "+it)
	}
	fmt.Fprintln(os.Stdout)
}
