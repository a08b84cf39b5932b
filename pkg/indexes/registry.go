// Package indexes holds the application's secondary index definitions and
// makes the store's design documents match them.
package indexes

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"eduapp/pkg/access"
	"eduapp/pkg/logger"
	"eduapp/pkg/models"
)

const defaultConcurrency = 4

// definition-owned members of a design document
var ownedFields = []string{"language", "views"}

var reconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "eduapp_index_reconcile_total",
	Help: "Index reconciliations by outcome.",
}, []string{"index", "outcome"})

func init() {
	prometheus.MustRegister(reconcileTotal)
}

type Outcome string

const (
	Installed Outcome = "installed"
	Unchanged Outcome = "unchanged"
	Updated   Outcome = "updated"
	Failed    Outcome = "failed"
)

type Result struct {
	Index    string  `json:"index"`
	Outcome  Outcome `json:"outcome"`
	Revision string  `json:"revision,omitempty"`
	Err      error   `json:"-"`
}

// Report is sorted by index name.
type Report []Result

// Failed returns the results that did not reconcile.
func (r Report) Failed() []Result {
	var out []Result
	for _, res := range r {
		if res.Outcome == Failed {
			out = append(out, res)
		}
	}
	return out
}

// Registry is an immutable set of index definitions.
type Registry struct {
	defs        []models.IndexDefinition
	concurrency int
}

// NewRegistry validates defs and rejects duplicate names.
func NewRegistry(defs ...models.IndexDefinition) (*Registry, error) {
	seen := make(map[string]struct{}, len(defs))
	out := make([]models.IndexDefinition, 0, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate index %q", models.ErrInvalidDefinition, d.Name)
		}
		seen[d.Name] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return &Registry{defs: out, concurrency: defaultConcurrency}, nil
}

// WithConcurrency returns a copy reconciling at most n definitions at once.
func (r *Registry) WithConcurrency(n int) *Registry {
	c := *r
	if n > 0 {
		c.concurrency = n
	}
	return &c
}

// Definitions returns the declared set sorted by name.
func (r *Registry) Definitions() []models.IndexDefinition {
	return append([]models.IndexDefinition(nil), r.defs...)
}

// Lookup finds a declared definition by name.
func (r *Registry) Lookup(name string) (models.IndexDefinition, bool) {
	for _, d := range r.defs {
		if d.Name == name {
			return d, true
		}
	}
	return models.IndexDefinition{}, false
}

// Reconcile installs or replaces every declared design document through l.
// A failing definition does not stop the others; the returned error joins
// the per-definition failures.
func (r *Registry) Reconcile(ctx context.Context, l *access.Layer) (Report, error) {
	report := make(Report, len(r.defs))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, def := range r.defs {
		i, def := i, def
		g.Go(func() error {
			report[i] = reconcileOne(ctx, l, def)
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, res := range report {
		reconcileTotal.WithLabelValues(res.Index, string(res.Outcome)).Inc()
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("index %s: %w", res.Index, res.Err))
		}
	}
	logger.Info("indexes_reconciled", "db", l.Database(), "total", len(report), "failed", len(errs))
	return report, errors.Join(errs...)
}

func reconcileOne(ctx context.Context, l *access.Layer, def models.IndexDefinition) Result {
	res := Result{Index: def.Name}
	declared, err := canonical(def.DesignFields())
	if err != nil {
		res.Outcome, res.Err = Failed, err
		return res
	}

	cur, found, err := l.Read(ctx, def.ID())
	if err != nil {
		res.Outcome, res.Err = Failed, err
		return res
	}
	if !found {
		doc, err := l.Create(ctx, models.Document{Key: def.ID(), Fields: declared})
		if err != nil {
			res.Outcome, res.Err = Failed, err
			return res
		}
		logger.Info("index_installed", "index", def.Name, "rev", doc.Revision)
		res.Outcome, res.Revision = Installed, doc.Revision
		return res
	}

	if sameOwned(cur.Fields, declared) {
		res.Outcome, res.Revision = Unchanged, cur.Revision
		return res
	}
	next := cur.Clone()
	for _, f := range ownedFields {
		next.Fields[f] = declared[f]
	}
	doc, err := l.Save(ctx, next)
	if err != nil {
		res.Outcome, res.Err = Failed, err
		return res
	}
	logger.Info("index_updated", "index", def.Name, "from", cur.Revision, "to", doc.Revision)
	res.Outcome, res.Revision = Updated, doc.Revision
	return res
}

// canonical gives declared fields the shapes a stored document decodes to so
// they compare structurally.
func canonical(fields map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func sameOwned(stored, declared map[string]any) bool {
	for _, f := range ownedFields {
		if !reflect.DeepEqual(stored[f], declared[f]) {
			return false
		}
	}
	return true
}
