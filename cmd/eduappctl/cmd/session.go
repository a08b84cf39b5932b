package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"eduapp/internal/compaction"
	"eduapp/pkg/bootstrap"
	"eduapp/pkg/config"
	"eduapp/pkg/indexes"
	"eduapp/pkg/state"
	"eduapp/pkg/store"
	"eduapp/pkg/store/backend"
)

// Opener returns an opened store server for the effective config.
type Opener func(cfg *config.Config, paths state.Paths) (store.Server, error)

func openFromConfig(cfg *config.Config, paths state.Paths) (store.Server, error) {
	return backend.Open(cfg, paths)
}

type env struct {
	flags *globalFlags
	open  Opener
	stdin func() int
}

// session is one opened store plus the components commands work through.
type session struct {
	cfg    *config.Config
	paths  state.Paths
	server store.Server
	seq    *bootstrap.Sequencer
}

func (e *env) session(cmd *cobra.Command) (*session, error) {
	flags := config.Flags{Config: "./config.yaml", DB: e.flags.db, Set: map[string]bool{}}
	if e.flags.config != "" {
		flags.Config = e.flags.config
		flags.Set["config"] = true
	}
	if e.flags.db != "" {
		flags.Set["db"] = true
	}
	fileCfg, found, err := config.ParseConfigFile(flags, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, found, os.Getenv)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateConfig(&eff); err != nil {
		return nil, err
	}
	if e.flags.askPassword {
		if eff.Config.Store.Backend != config.BackendCouchDB {
			return nil, fmt.Errorf("--ask-password applies to the couchdb backend, not %s", eff.Config.Store.Backend)
		}
		pw, err := readPassword(cmd.ErrOrStderr(), e.stdin())
		if err != nil {
			return nil, err
		}
		eff.Config.Store.CouchDB.Password = pw
	}
	paths := state.PathsFor(eff.DBPath)
	if err := state.EnsureStateDirs(paths); err != nil {
		return nil, err
	}
	server, err := e.open(eff.Config, paths)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	registry := indexes.Default().WithConcurrency(eff.Config.Indexes.ReconcileConcurrency)
	return &session{
		cfg:    eff.Config,
		paths:  paths,
		server: server,
		seq:    bootstrap.New(server, eff.Config.Store.Database, registry),
	}, nil
}

func (s *session) Close() error { return s.server.Close() }

func (s *session) compactor() *compaction.Manager {
	return compaction.New(s.server.Use(s.cfg.Store.Database), s.cfg.Compaction, s.paths.Compaction)
}

// withSession opens a session for the duration of fn.
func (e *env) withSession(cmd *cobra.Command, fn func(*session) (any, error)) error {
	s, err := e.session(cmd)
	if err != nil {
		return err
	}
	defer s.Close()
	v, err := fn(s)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), e.flags.output, v)
}
