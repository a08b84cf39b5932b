package access

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"eduapp/pkg/models"
)

// Typed converts between T and documents through their JSON form. T is
// typically a struct embedding models.Meta so the key and revision round
// trip.
type Typed[T any] struct {
	l *Layer
}

func NewTyped[T any](l *Layer) Typed[T] {
	return Typed[T]{l: l}
}

func toDocument[T any](v T) (models.Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return models.Document{}, err
	}
	var doc models.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return models.Document{}, err
	}
	return doc, nil
}

func fromDocument[T any](doc models.Document) (T, error) {
	var v T
	raw, err := json.Marshal(doc)
	if err != nil {
		return v, err
	}
	err = json.Unmarshal(raw, &v)
	return v, err
}

func fromDocuments[T any](op string, docs []models.Document) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := fromDocument[T](d)
		if err != nil {
			return nil, fail(op, d.Key, ErrInvalidRequest, fmt.Errorf("decode %T: %w", v, err))
		}
		out = append(out, v)
	}
	return out, nil
}

func (t Typed[T]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	doc, err := toDocument(v)
	if err != nil {
		return zero, fail("create", "", ErrInvalidRequest, fmt.Errorf("encode %T: %w", v, err))
	}
	doc, err = t.l.Create(ctx, doc)
	if err != nil {
		return zero, err
	}
	return t.decode("create", doc)
}

func (t Typed[T]) Read(ctx context.Context, key string) (T, bool, error) {
	var zero T
	doc, found, err := t.l.Read(ctx, key)
	if err != nil || !found {
		return zero, found, err
	}
	v, err := t.decode("read", doc)
	return v, err == nil, err
}

func (t Typed[T]) Update(ctx context.Context, key string, partial map[string]any) (T, error) {
	doc, err := t.l.Update(ctx, key, partial)
	if err != nil {
		var zero T
		return zero, err
	}
	return t.decode("update", doc)
}

// Save writes v conditionally on the revision embedded in it.
func (t Typed[T]) Save(ctx context.Context, v T) (T, error) {
	var zero T
	doc, err := toDocument(v)
	if err != nil {
		return zero, fail("save", "", ErrInvalidRequest, fmt.Errorf("encode %T: %w", v, err))
	}
	doc, err = t.l.Save(ctx, doc)
	if err != nil {
		return zero, err
	}
	return t.decode("save", doc)
}

func (t Typed[T]) Find(ctx context.Context, q models.FindQuery) ([]T, error) {
	docs, err := t.l.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	return fromDocuments[T]("find", docs)
}

// List forces IncludeDocs; rows without bodies cannot fill a T.
func (t Typed[T]) List(ctx context.Context, opts models.ListOptions) ([]T, error) {
	opts.IncludeDocs = true
	docs, err := t.l.List(ctx, opts)
	if err != nil {
		return nil, err
	}
	return fromDocuments[T]("list", docs)
}

func (t Typed[T]) decode(op string, doc models.Document) (T, error) {
	v, err := fromDocument[T](doc)
	if err != nil {
		return v, fail(op, doc.Key, ErrInvalidRequest, fmt.Errorf("decode %T: %w", v, err))
	}
	return v, nil
}
