// Package bootstrap prepares the store before traffic is served: it makes
// sure the database exists, then reconciles every declared index.
//
//	NotStarted -> Creating -> Reconciling -> Ready
//	                 |             |
//	                 +---> Failed <+
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"eduapp/pkg/access"
	"eduapp/pkg/indexes"
	"eduapp/pkg/logger"
	"eduapp/pkg/store"
)

type State int32

const (
	NotStarted State = iota
	Creating
	Reconciling
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Creating:
		return "creating"
	case Reconciling:
		return "reconciling"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrBootstrapFailed = errors.New("bootstrap failed")
	ErrAlreadyRun      = errors.New("bootstrap already run")
)

var stateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "eduapp_bootstrap_state",
	Help: "Bootstrap state: 0 not started, 1 creating, 2 reconciling, 3 ready, 4 failed.",
})

func init() {
	prometheus.MustRegister(stateGauge)
}

// Sequencer runs once per process. Retrying a failed bootstrap is the
// supervisor's job.
type Sequencer struct {
	server   store.Server
	dbName   string
	registry *indexes.Registry
	layer    *access.Layer

	started atomic.Bool
	state   atomic.Int32

	mu     sync.Mutex
	report indexes.Report
	err    error
}

func New(server store.Server, dbName string, registry *indexes.Registry, opts ...access.Option) *Sequencer {
	return &Sequencer{
		server:   server,
		dbName:   dbName,
		registry: registry,
		layer:    access.New(server.Use(dbName), opts...),
	}
}

// Layer is the access layer over the bootstrapped database. Callers must not
// send traffic that depends on indexes before State reports Ready.
func (s *Sequencer) Layer() *access.Layer { return s.layer }

func (s *Sequencer) Registry() *indexes.Registry { return s.registry }

func (s *Sequencer) State() State { return State(s.state.Load()) }

// Result returns the reconcile report and error of the finished run.
func (s *Sequencer) Result() (indexes.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report, s.err
}

func (s *Sequencer) set(st State) {
	s.state.Store(int32(st))
	stateGauge.Set(float64(st))
	logger.Info("bootstrap_state", "db", s.dbName, "state", st.String())
}

// Run creates the database (an existing one is fine) and reconciles the
// registry. Any other failure moves the sequencer to Failed and is returned
// wrapped in ErrBootstrapFailed.
func (s *Sequencer) Run(ctx context.Context) (indexes.Report, error) {
	if !s.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	start := time.Now()

	s.set(Creating)
	err := s.server.CreateDatabase(ctx, s.dbName)
	switch {
	case err == nil:
		logger.Info("bootstrap_database_created", "db", s.dbName)
	case store.IsStatus(err, store.StatusPreconditionFailed):
		logger.Info("bootstrap_database_exists", "db", s.dbName)
	default:
		return s.fail(nil, fmt.Errorf("%w: create database %q: %w", ErrBootstrapFailed, s.dbName, store.Flatten(err)))
	}

	s.set(Reconciling)
	report, err := s.registry.Reconcile(ctx, s.layer)
	if err != nil {
		return s.fail(report, fmt.Errorf("%w: reconcile indexes: %w", ErrBootstrapFailed, err))
	}

	s.mu.Lock()
	s.report = report
	s.mu.Unlock()
	s.set(Ready)
	logger.Info("bootstrap_ready", "db", s.dbName, "indexes", len(report), "took", time.Since(start).String())
	return report, nil
}

func (s *Sequencer) fail(report indexes.Report, err error) (indexes.Report, error) {
	s.mu.Lock()
	s.report, s.err = report, err
	s.mu.Unlock()
	s.set(Failed)
	logger.Error("bootstrap_failed", "db", s.dbName, "error", err)
	return report, err
}
