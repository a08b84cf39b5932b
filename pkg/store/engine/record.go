package engine

import (
	"fmt"

	"github.com/goccy/go-json"

	"eduapp/pkg/models"
)

// record is the stored envelope of one document key.
type record struct {
	Rev       string         `json:"rev"`
	Deleted   bool           `json:"deleted,omitempty"`
	DeletedAt int64          `json:"deleted_at,omitempty"`
	Body      map[string]any `json:"body,omitempty"`
}

func (r record) document(id string) models.Document {
	fields := r.Body
	if fields == nil {
		fields = map[string]any{}
	}
	return models.Document{Key: id, Revision: r.Rev, Fields: fields}
}

func decodeRecord(raw []byte) (record, error) {
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

func encodeRecord(r record) ([]byte, error) {
	return json.Marshal(r)
}

// rowValue is the stored payload of one view row.
type rowValue struct {
	Key   any `json:"k"`
	Value any `json:"v"`
}

func decodeRow(raw []byte) (rowValue, error) {
	var r rowValue
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("decode view row: %w", err)
	}
	return r, nil
}

func encodeBackref(rows [][]byte) ([]byte, error) {
	return json.Marshal(rows)
}

func decodeBackref(raw []byte) ([][]byte, error) {
	var rows [][]byte
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode view backref: %w", err)
	}
	return rows, nil
}

// encodeBody produces the canonical body encoding used for revision hashing.
func encodeBody(fields map[string]any) ([]byte, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	return json.Marshal(fields)
}
