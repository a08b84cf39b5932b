package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"

	"eduapp/internal/app"
	"eduapp/pkg/config"
	"eduapp/pkg/logger"
	"eduapp/pkg/state"
	"eduapp/pkg/store/backend"
)

// set build metadata
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// load .env file if present
	_ = godotenv.Load(".env")

	flags, err := config.ParseConfigFlags(os.Args[0], os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", err)
		return 2
	}
	fileCfg, found, err := config.ParseConfigFile(flags, os.Getenv)
	if err != nil {
		return abort("failed to load config file", err, "")
	}
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, found, os.Getenv)
	if err != nil {
		return abort("failed to build effective config", err, "")
	}
	if err := config.ValidateConfig(&eff); err != nil {
		return abort("invalid configuration", err, "")
	}

	// initialize logger after config is fully loaded
	logger.InitWithLevel(eff.Config.Logging.Level)
	defer logger.Sync()
	logger.Info("effective_config_loaded", "source", eff.Source, "addr", eff.Addr, "db_path", eff.DBPath)
	logger.Info("build_info", "version", version, "commit", commit, "build_date", buildDate, "go", runtime.Version())

	if err := state.Init(eff.DBPath); err != nil {
		logger.Error("state_dirs_setup_failed", "error", err)
		return abort(fmt.Sprintf("failed to ensure state directories under %s", eff.DBPath), err, "")
	}
	paths := state.PathsVar
	if err := logger.AttachAuditFileSink(paths.Audit); err != nil {
		logger.Warn("audit_sink_unavailable", "error", err)
	}

	server, err := backend.Open(eff.Config, paths)
	if err != nil {
		return abort("failed to open store", err, paths.Crash)
	}
	a, err := app.New(eff, paths, server, version)
	if err != nil {
		_ = server.Close()
		return abort("failed to initialize app", err, paths.Crash)
	}

	ctx, cancel := app.SetupSignalHandler(context.Background())
	defer cancel()

	runErr := a.Run(ctx)

	// bound teardown so a stuck drain cannot hang the process
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer shutdownCancel()
	shutdownErr := a.Shutdown(shutdownCtx)

	if runErr != nil {
		return abort("app run failed", runErr, paths.Crash)
	}
	if shutdownErr != nil {
		logger.Error("shutdown_incomplete", "error", shutdownErr)
		return 1
	}
	return 0
}

// abort reports a fatal error and, when crashDir is set, leaves a crash dump
// behind for the operator.
func abort(reason string, err error, crashDir string) int {
	logger.Error("fatal", "reason", reason, "error", err)
	fmt.Fprintf(os.Stderr, "%s: %v\n", reason, err)
	if crashDir != "" {
		if path, derr := state.WriteCrashDump(crashDir, reason, err); derr == nil {
			fmt.Fprintf(os.Stderr, "crash dump written to %s\n", path)
		}
	}
	return 1
}
