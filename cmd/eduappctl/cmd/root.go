// Package cmd implements eduappctl, the operator tool that talks to the
// store directly, without a running server.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"eduapp/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

type globalFlags struct {
	config  string
	db      string
	output  string
	verbose bool
	// askPassword prompts for the CouchDB password instead of reading it
	// from config.
	askPassword bool
}

// NewRootCmd builds the command tree. open is how commands reach the store;
// nil selects the configured backend.
func NewRootCmd(out io.Writer, open Opener) *cobra.Command {
	g := &globalFlags{}
	if open == nil {
		open = openFromConfig
	}
	root := &cobra.Command{
		Use:           "eduappctl",
		Short:         "Inspect and maintain an eduapp database",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := "error"
			if g.verbose {
				level = "debug"
			}
			logger.InitWriter(cmd.ErrOrStderr(), level)
			switch g.output {
			case "json", "yaml":
				return nil
			}
			return fmt.Errorf("unknown --output %q (want json or yaml)", g.output)
		},
	}
	root.SetOut(out)
	root.CompletionOptions.DisableDefaultCmd = true

	pf := root.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "", "config file path (default ./config.yaml or $EDUAPP_CONFIG)")
	pf.StringVar(&g.db, "db", "", "state and embedded store directory")
	pf.StringVarP(&g.output, "output", "o", "json", "output format: json or yaml")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "enable verbose output")
	pf.BoolVar(&g.askPassword, "ask-password", false, "prompt for the CouchDB password")

	env := &env{flags: g, open: open, stdin: stdinFD}
	root.AddCommand(
		newBootstrapCmd(env),
		newGetCmd(env),
		newListCmd(env),
		newFindCmd(env),
		newViewCmd(env),
		newCompactCmd(env),
		newBenchCmd(env),
	)
	return root
}

// Execute runs the CLI against os.Args.
func Execute() {
	if err := NewRootCmd(os.Stdout, nil).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
