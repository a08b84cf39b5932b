package cmd

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"eduapp/pkg/access"
	"eduapp/pkg/indexes"
	"eduapp/pkg/models"
)

// bootstrapReport is the printable form of one bootstrap run.
type bootstrapReport struct {
	Database string           `json:"database"`
	State    string           `json:"state"`
	Indexes  []indexesOutcome `json:"indexes"`
}

type indexesOutcome struct {
	indexes.Result
	Error string `json:"error,omitempty"`
}

func newBootstrapCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the database if needed and reconcile declared indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withSession(cmd, func(s *session) (any, error) {
				report, runErr := s.seq.Run(cmd.Context())
				out := bootstrapReport{Database: s.cfg.Store.Database, State: s.seq.State().String()}
				for _, r := range report {
					o := indexesOutcome{Result: r}
					if r.Err != nil {
						o.Error = r.Err.Error()
					}
					out.Indexes = append(out.Indexes, o)
				}
				if runErr != nil {
					_ = render(cmd.OutOrStdout(), e.flags.output, out)
					return nil, runErr
				}
				return out, nil
			})
		},
	}
}

func newGetCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "get KEY",
		Short: "Print one document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withSession(cmd, func(s *session) (any, error) {
				doc, found, err := s.seq.Layer().Read(cmd.Context(), args[0])
				if err != nil {
					return nil, err
				}
				if !found {
					return nil, fmt.Errorf("%s: %w", args[0], access.ErrNotFound)
				}
				return doc, nil
			})
		},
	}
}

func newListCmd(e *env) *cobra.Command {
	var opts models.ListOptions
	c := &cobra.Command{
		Use:   "list",
		Short: "List documents in key order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withSession(cmd, func(s *session) (any, error) {
				return s.seq.Layer().List(cmd.Context(), opts)
			})
		},
	}
	f := c.Flags()
	f.StringVar(&opts.StartKey, "start", "", "first key, inclusive")
	f.StringVar(&opts.EndKey, "end", "", "last key, inclusive")
	f.IntVar(&opts.Limit, "limit", 0, "maximum documents, 0 for all")
	f.IntVar(&opts.Skip, "skip", 0, "documents to skip")
	f.BoolVar(&opts.IncludeDocs, "include-docs", true, "print full bodies, not just key and revision")
	return c
}

func newFindCmd(e *env) *cobra.Command {
	var (
		selector string
		q        models.FindQuery
	)
	c := &cobra.Command{
		Use:   "find",
		Short: "Print documents matching a JSON selector",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := json.Unmarshal([]byte(selector), &q.Selector); err != nil {
				return fmt.Errorf("--selector: %w", err)
			}
			return e.withSession(cmd, func(s *session) (any, error) {
				return s.seq.Layer().Find(cmd.Context(), q)
			})
		},
	}
	f := c.Flags()
	f.StringVar(&selector, "selector", "{}", `selector object, e.g. {"type":"post"}`)
	f.IntVar(&q.Limit, "limit", 0, "maximum documents, 0 for all")
	f.IntVar(&q.Skip, "skip", 0, "documents to skip")
	return c
}

func newViewCmd(e *env) *cobra.Command {
	var (
		key, start, end string
		reduce          string
		q               models.ViewQuery
	)
	c := &cobra.Command{
		Use:   "view INDEX VIEW",
		Short: "Query a declared view",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := buildViewQuery(&q, key, start, end, reduce); err != nil {
				return err
			}
			return e.withSession(cmd, func(s *session) (any, error) {
				return s.seq.Layer().View(cmd.Context(), args[0], args[1], q)
			})
		},
	}
	f := c.Flags()
	f.StringVar(&key, "key", "", "exact key as JSON")
	f.StringVar(&start, "start", "", "first key as JSON")
	f.StringVar(&end, "end", "", "last key as JSON")
	f.StringVar(&reduce, "reduce", "", "true or false; empty keeps the view default")
	f.BoolVar(&q.Group, "group", false, "group reduce rows by key")
	f.BoolVar(&q.IncludeDocs, "include-docs", false, "attach documents to map rows")
	f.IntVar(&q.Limit, "limit", 0, "maximum rows, 0 for all")
	f.IntVar(&q.Skip, "skip", 0, "rows to skip")
	return c
}

func buildViewQuery(q *models.ViewQuery, key, start, end, reduce string) error {
	decode := func(flag, raw string) (any, error) {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("--%s must be JSON: %w", flag, err)
		}
		return v, nil
	}
	if key != "" {
		v, err := decode("key", key)
		if err != nil {
			return err
		}
		*q = q.ByKey(v)
	}
	if start != "" {
		v, err := decode("start", start)
		if err != nil {
			return err
		}
		q.StartKey = v
	}
	if end != "" {
		v, err := decode("end", end)
		if err != nil {
			return err
		}
		q.EndKey = v
	}
	switch reduce {
	case "":
	case "true":
		*q = q.WithReduce(true)
	case "false":
		*q = q.WithReduce(false)
	default:
		return fmt.Errorf("--reduce must be true or false, got %q", reduce)
	}
	return nil
}

func newCompactCmd(e *env) *cobra.Command {
	var dryRun bool
	c := &cobra.Command{
		Use:   "compact",
		Short: "Purge deletion tombstones older than the configured TTL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withSession(cmd, func(s *session) (any, error) {
				if dryRun {
					s.cfg.Compaction.DryRun = true
				}
				return s.compactor().RunImmediate(cmd.Context())
			})
		},
	}
	c.Flags().BoolVar(&dryRun, "dry-run", false, "report the cutoff without purging")
	return c
}
