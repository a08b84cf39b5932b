// Package app assembles the store, bootstrap sequencer, HTTP server and
// compaction schedule into one process lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/valyala/fasthttp"

	"eduapp/internal/compaction"
	"eduapp/pkg/api"
	"eduapp/pkg/bootstrap"
	"eduapp/pkg/config"
	"eduapp/pkg/indexes"
	"eduapp/pkg/logger"
	"eduapp/pkg/state"
	"eduapp/pkg/store"
	"eduapp/pkg/telemetry"
)

// App groups server state and components.
type App struct {
	eff     config.EffectiveConfigResult
	paths   state.Paths
	version string

	server    store.Server
	seq       *bootstrap.Sequencer
	compactor *compaction.Manager
	api       *api.Server

	srvFast        *fasthttp.Server
	listener       net.Listener
	compactionStop context.CancelFunc
	state          string
}

// Option adjusts an App before it runs.
type Option func(*App)

// WithListener serves on ln instead of listening on the configured address.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// New wires components around an opened store server. It does not start
// anything; call Run.
func New(eff config.EffectiveConfigResult, paths state.Paths, server store.Server, version string, opts ...Option) (*App, error) {
	if eff.Config == nil {
		return nil, errors.New("app: nil config")
	}
	if server == nil {
		return nil, errors.New("app: nil store server")
	}
	cfg := eff.Config
	registry := indexes.Default().WithConcurrency(cfg.Indexes.ReconcileConcurrency)
	a := &App{
		eff:     eff,
		paths:   paths,
		version: version,
		server:  server,
		seq:     bootstrap.New(server, cfg.Store.Database, registry),
		state:   "created",
	}
	a.compactor = compaction.New(server.Use(cfg.Store.Database), cfg.Compaction, paths.Compaction)
	a.api = api.New(a.seq, api.Options{
		CORSOrigins:    cfg.Security.CORS.AllowedOrigins,
		RateRPS:        cfg.Security.RateLimit.RPS,
		RateBurst:      cfg.Security.RateLimit.Burst,
		DataDir:        paths.Root,
		RequestTimeout: cfg.Server.WriteTimeout.Duration(),
		Compact: func(ctx context.Context) (any, error) {
			return a.compactor.RunImmediate(ctx)
		},
	})
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Sequencer exposes bootstrap state.
func (a *App) Sequencer() *bootstrap.Sequencer { return a.seq }

// Run starts HTTP, bootstraps the database and blocks until ctx is done or
// the server fails. A bootstrap failure is returned as is.
func (a *App) Run(ctx context.Context) error {
	telemetry.Init(a.eff.Config.Telemetry.SlowThreshold.Duration())
	a.printBanner()

	errCh := a.startHTTP()
	a.state = "bootstrapping"
	report, err := a.seq.Run(ctx)
	if err != nil {
		a.state = "failed"
		return err
	}
	logger.Info("bootstrap_complete", "db", a.eff.Config.Store.Database, "indexes", len(report))

	a.compactionStop = a.compactor.Start(ctx)
	a.state = "running"

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// printBanner logs the effective settings and free space of the data dir.
func (a *App) printBanner() {
	items := a.eff.Config.Summary(a.eff.Source)
	ver := a.version
	if ver == "" {
		ver = "dev"
	}
	items = append([]string{"version: " + ver}, items...)
	if u, err := state.DiskUsage(a.paths.Root); err == nil {
		items = append(items, "disk: "+u.String())
	}
	logger.LogConfigSummary("eduapp", items)
}
