package models

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Reduce selects the aggregation applied to a view's emitted rows.
type Reduce string

const (
	ReduceNone  Reduce = ""
	ReduceCount Reduce = "_count"
)

// LanguageJavaScript is the only map language the store understands.
const LanguageJavaScript = "javascript"

var (
	ErrInvalidDefinition = errors.New("invalid index definition")
	ErrNoEmitSpec        = errors.New("view has no declarative emit spec")

	nameRe  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)
	identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)
)

// EmitSpec describes which grouping keys a document contributes to a view.
//
//	Type  only documents whose type field equals it ("" matches all)
//	Path  dotted path of the grouping key
//	Each  emit one row per element when Path resolves to an array
//	Value dotted path of the row value ("" emits null)
type EmitSpec struct {
	Type  string `json:"type,omitempty"`
	Path  string `json:"path"`
	Each  bool   `json:"each,omitempty"`
	Value string `json:"value,omitempty"`
}

// Emission is one (key, value) pair produced by an EmitSpec.
type Emission struct {
	Key   any
	Value any
}

type ViewDefinition struct {
	Emit   EmitSpec
	Reduce Reduce
}

// IndexDefinition is the declarative form of a design document.
type IndexDefinition struct {
	Name     string
	Language string
	Views    map[string]ViewDefinition
}

// ID is the key of the design document that stores the definition.
func (d IndexDefinition) ID() string {
	return DesignPrefix + d.Name
}

// ViewNames returns the view names in stable order.
func (d IndexDefinition) ViewNames() []string {
	names := make([]string, 0, len(d.Views))
	for n := range d.Views {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (d IndexDefinition) Validate() error {
	if !nameRe.MatchString(d.Name) {
		return fmt.Errorf("%w: bad index name %q", ErrInvalidDefinition, d.Name)
	}
	if d.Language != "" && d.Language != LanguageJavaScript {
		return fmt.Errorf("%w: %s: unsupported language %q", ErrInvalidDefinition, d.Name, d.Language)
	}
	if len(d.Views) == 0 {
		return fmt.Errorf("%w: %s: no views", ErrInvalidDefinition, d.Name)
	}
	for name, v := range d.Views {
		if !nameRe.MatchString(name) {
			return fmt.Errorf("%w: %s: bad view name %q", ErrInvalidDefinition, d.Name, name)
		}
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: %s/%s: %v", ErrInvalidDefinition, d.Name, name, err)
		}
	}
	return nil
}

func (v ViewDefinition) Validate() error {
	switch v.Reduce {
	case ReduceNone, ReduceCount:
	default:
		return fmt.Errorf("unsupported reduce %q", v.Reduce)
	}
	if v.Emit.Path == "" {
		return fmt.Errorf("emit path is required")
	}
	for _, p := range []string{v.Emit.Path, v.Emit.Value} {
		if p == "" {
			continue
		}
		for _, seg := range strings.Split(p, ".") {
			if !identRe.MatchString(seg) {
				return fmt.Errorf("bad path segment %q in %q", seg, p)
			}
		}
	}
	return nil
}

// Emit evaluates the spec against a document.
func (e EmitSpec) Emit(doc Document) []Emission {
	if doc.IsDesign() {
		return nil
	}
	if e.Type != "" && doc.Type() != e.Type {
		return nil
	}
	key, ok := doc.Get(e.Path)
	if !ok {
		return nil
	}
	var value any
	if e.Value != "" {
		value, _ = doc.Get(e.Value)
	}
	if !e.Each {
		return []Emission{{Key: key, Value: value}}
	}
	items, ok := key.([]any)
	if !ok {
		return nil
	}
	out := make([]Emission, 0, len(items))
	for _, it := range items {
		out = append(out, Emission{Key: it, Value: value})
	}
	return out
}

// MapFunction renders the spec as a JavaScript map function for stores that
// evaluate views themselves.
func (e EmitSpec) MapFunction() string {
	var conds []string
	if e.Type != "" {
		conds = append(conds, "doc.type === "+strconv.Quote(e.Type))
	}
	conds = append(conds, guard(e.Path)...)
	keyExpr := "doc." + e.Path
	valueExpr := "null"
	if e.Value != "" {
		valueExpr = "(" + strings.Join(guard(e.Value), " && ") + ") ? doc." + e.Value + " : null"
	}
	var body string
	if e.Each {
		conds = append(conds, "Array.isArray("+keyExpr+")")
		body = keyExpr + ".forEach(function (k) { emit(k, " + valueExpr + "); });"
	} else {
		conds[len(conds)-1] = keyExpr + " !== undefined"
		body = "emit(" + keyExpr + ", " + valueExpr + ");"
	}
	return "function (doc) { if (" + strings.Join(conds, " && ") + ") { " + body + " } }"
}

// guard builds the existence checks for every prefix of a dotted path.
func guard(path string) []string {
	segs := strings.Split(path, ".")
	out := make([]string, 0, len(segs))
	for i := range segs {
		out = append(out, "doc."+strings.Join(segs[:i+1], "."))
	}
	return out
}

// DesignFields renders the definition-owned fields of the design document.
// Values are built from JSON-native types so a stored copy decoded from JSON
// compares equal.
func (d IndexDefinition) DesignFields() map[string]any {
	lang := d.Language
	if lang == "" {
		lang = LanguageJavaScript
	}
	views := make(map[string]any, len(d.Views))
	for name, v := range d.Views {
		emit := map[string]any{"path": v.Emit.Path}
		if v.Emit.Type != "" {
			emit["type"] = v.Emit.Type
		}
		if v.Emit.Each {
			emit["each"] = true
		}
		if v.Emit.Value != "" {
			emit["value"] = v.Emit.Value
		}
		view := map[string]any{
			"map":  v.Emit.MapFunction(),
			"emit": emit,
		}
		if v.Reduce != ReduceNone {
			view["reduce"] = string(v.Reduce)
		}
		views[name] = view
	}
	return map[string]any{
		"language": lang,
		"views":    views,
	}
}

// Document renders the full design document.
func (d IndexDefinition) Document() Document {
	return Document{Key: d.ID(), Fields: d.DesignFields()}
}

// ParseIndexDefinition reads an index definition back from a design document.
func ParseIndexDefinition(doc Document) (IndexDefinition, error) {
	if !doc.IsDesign() {
		return IndexDefinition{}, fmt.Errorf("%w: %q is not a design document", ErrInvalidDefinition, doc.Key)
	}
	def := IndexDefinition{
		Name:  strings.TrimPrefix(doc.Key, DesignPrefix),
		Views: map[string]ViewDefinition{},
	}
	def.Language, _ = doc.Fields["language"].(string)
	rawViews, _ := doc.Fields["views"].(map[string]any)
	for name, raw := range rawViews {
		vm, ok := raw.(map[string]any)
		if !ok {
			return def, fmt.Errorf("%w: view %q is not an object", ErrInvalidDefinition, name)
		}
		em, ok := vm["emit"].(map[string]any)
		if !ok {
			return def, fmt.Errorf("%w: %s/%s", ErrNoEmitSpec, def.Name, name)
		}
		var v ViewDefinition
		v.Emit.Type, _ = em["type"].(string)
		v.Emit.Path, _ = em["path"].(string)
		v.Emit.Each, _ = em["each"].(bool)
		v.Emit.Value, _ = em["value"].(string)
		if r, ok := vm["reduce"].(string); ok {
			v.Reduce = Reduce(r)
		}
		def.Views[name] = v
	}
	return def, def.Validate()
}
