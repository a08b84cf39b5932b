// Package compaction purges deletion tombstones older than the configured
// TTL, on a cron schedule and on demand.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"eduapp/pkg/config"
	"eduapp/pkg/logger"
	"eduapp/pkg/store"
)

const maxConsecutiveRenewFails = 3

var (
	ErrUnsupported = errors.New("compaction: store cannot compact")
	ErrBusy        = errors.New("compaction: a run is already in progress")
)

// Result describes one run. Skipped is set when another process held the
// lease.
type Result struct {
	RunID   string    `json:"run_id"`
	Cutoff  time.Time `json:"cutoff"`
	Purged  int       `json:"purged"`
	DryRun  bool      `json:"dry_run"`
	Skipped bool      `json:"skipped"`
	TookMS  int64     `json:"took_ms"`
}

type Manager struct {
	db    store.Database
	cfg   config.CompactionConfig
	lease *fileLease
	now   func() time.Time

	mu      sync.Mutex
	running bool
	last    *Result
}

// New returns a manager over db; leaseDir holds the lock file shared by
// every process compacting the same store.
func New(db store.Database, cfg config.CompactionConfig, leaseDir string) *Manager {
	return &Manager{db: db, cfg: cfg, lease: newFileLease(leaseDir, time.Now), now: time.Now}
}

// Start runs the schedule loop until ctx is cancelled or the returned cancel
// func is called. A disabled manager only logs.
func (m *Manager) Start(ctx context.Context) context.CancelFunc {
	if !m.cfg.Enabled {
		logger.Info("compaction_disabled")
		return func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	logger.Info("compaction_enabled", "cron", m.cfg.Cron, "ttl", m.cfg.TombstoneTTL.Duration().String(), "dry_run", m.cfg.DryRun)
	go m.scheduleLoop(ctx)
	return cancel
}

func (m *Manager) scheduleLoop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(m.cfg.Cron, m.now(), false)
		if err != nil {
			logger.Error("compaction_nexttick_failed", "cron", m.cfg.Cron, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		wait := time.Until(next)
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-time.After(wait):
			if _, err := m.RunImmediate(ctx); err != nil && !errors.Is(err, ErrBusy) {
				logger.Error("compaction_run_error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Last returns the most recent completed run.
func (m *Manager) Last() (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Result{}, false
	}
	return *m.last, true
}

// RunImmediate performs one run now. Overlapping calls in this process fail
// with ErrBusy; a lease held by another process yields a skipped result.
func (m *Manager) RunImmediate(ctx context.Context) (Result, error) {
	c, ok := m.db.(store.Compactor)
	if !ok {
		return Result{}, ErrUnsupported
	}
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return Result{}, ErrBusy
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	res, err := m.runOnce(ctx, c)
	if err == nil {
		m.mu.Lock()
		m.last = &res
		m.mu.Unlock()
	}
	return res, err
}

func (m *Manager) runOnce(ctx context.Context, c store.Compactor) (Result, error) {
	start := m.now()
	res := Result{RunID: uuid.NewString(), DryRun: m.cfg.DryRun, Cutoff: start.Add(-m.cfg.TombstoneTTL.Duration()).UTC()}
	ttl := m.cfg.LockTTL.Duration()
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	owner := res.RunID
	acquired, err := m.lease.Acquire(owner, ttl)
	if err != nil {
		return res, fmt.Errorf("lease acquire failed: %w", err)
	}
	if !acquired {
		res.Skipped = true
		logger.Info("compaction_lease_not_acquired", "run_id", res.RunID)
		return res, nil
	}
	defer func() {
		if err := m.lease.Release(owner); err != nil {
			logger.Error("compaction_lease_release_error", "run_id", res.RunID, "error", err)
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.heartbeat(runCtx, cancel, owner, ttl)

	logger.AuditEvent("compaction_audit_header", "run_id", res.RunID, "db", m.db.Name(), "cutoff", res.Cutoff.Format(time.RFC3339), "dry_run", res.DryRun)
	if !res.DryRun {
		res.Purged, err = c.Compact(runCtx, res.Cutoff)
	}
	res.TookMS = m.now().Sub(start).Milliseconds()
	if err != nil {
		logger.AuditEvent("compaction_audit_footer", "run_id", res.RunID, "purged", res.Purged, "status", "failed", "error", err.Error())
		return res, fmt.Errorf("compact %s: %w", m.db.Name(), err)
	}
	logger.AuditEvent("compaction_audit_footer", "run_id", res.RunID, "purged", res.Purged, "status", "success", "took_ms", res.TookMS)
	logger.Info("compaction_run_complete", "run_id", res.RunID, "purged", res.Purged, "dry_run", res.DryRun)
	return res, nil
}

// heartbeat renews the lease and aborts the run after repeated failures.
func (m *Manager) heartbeat(ctx context.Context, abort context.CancelFunc, owner string, ttl time.Duration) {
	t := time.NewTicker(ttl / 3)
	defer t.Stop()
	fails := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.lease.Renew(owner, ttl); err != nil {
				fails++
				logger.Error("compaction_lease_renew_failed", "error", err, "count", fails)
				if fails >= maxConsecutiveRenewFails {
					abort()
					return
				}
				continue
			}
			fails = 0
		}
	}
}
