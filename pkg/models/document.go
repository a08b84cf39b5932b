package models

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// reserved field names on the wire
const (
	FieldKey       = "_id"
	FieldRevision  = "_rev"
	FieldDeleted   = "_deleted"
	FieldType      = "type"
	FieldUpdatedAt = "updatedAt"

	// DesignPrefix marks documents that carry index definitions.
	DesignPrefix = "_design/"
)

// Document is a schemaless record identified by Key and versioned by Revision.
// Fields never contains the reserved _id / _rev entries; they are lifted into
// Key and Revision when a document is decoded.
type Document struct {
	Key      string
	Revision string
	Fields   map[string]any
}

// Meta is embedded by typed records to carry the key and revision.
type Meta struct {
	Key      string `json:"_id,omitempty"`
	Revision string `json:"_rev,omitempty"`
}

// DocMeta is what the store returns after a successful write.
type DocMeta struct {
	Key      string `json:"id"`
	Revision string `json:"rev"`
}

// NewDocument builds a document from a field map, lifting _id and _rev.
func NewDocument(fields map[string]any) Document {
	d := Document{Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		switch k {
		case FieldKey:
			d.Key, _ = v.(string)
		case FieldRevision:
			d.Revision, _ = v.(string)
		default:
			d.Fields[k] = v
		}
	}
	return d
}

// Get resolves a dotted field path such as "author.id".
func (d Document) Get(path string) (any, bool) {
	return Lookup(d.Fields, path)
}

// Type returns the category discriminator, or "" when absent.
func (d Document) Type() string {
	s, _ := d.Fields[FieldType].(string)
	return s
}

// IsDesign reports whether the document holds index definitions.
func (d Document) IsDesign() bool {
	return strings.HasPrefix(d.Key, DesignPrefix)
}

func (d Document) Meta() DocMeta {
	return DocMeta{Key: d.Key, Revision: d.Revision}
}

// Clone returns a deep copy so callers may mutate the result freely.
func (d Document) Clone() Document {
	out := Document{Key: d.Key, Revision: d.Revision}
	if d.Fields != nil {
		out.Fields = CloneValue(d.Fields).(map[string]any)
	}
	return out
}

// Map flattens the document into a single field map including _id / _rev.
func (d Document) Map() map[string]any {
	m := make(map[string]any, len(d.Fields)+2)
	for k, v := range d.Fields {
		m[k] = v
	}
	if d.Key != "" {
		m[FieldKey] = d.Key
	}
	if d.Revision != "" {
		m[FieldRevision] = d.Revision
	}
	return m
}

func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("document must be a JSON object")
	}
	*d = NewDocument(m)
	return nil
}

// Lookup walks a dotted path through nested objects. Numeric segments index
// into arrays.
func Lookup(fields map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = fields
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// CloneValue deep-copies decoded JSON maps and arrays. Scalars are returned
// as is.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = CloneValue(e)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = CloneValue(e)
		}
		return s
	default:
		return v
	}
}
