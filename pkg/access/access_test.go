package access_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduapp/pkg/access"
	"eduapp/pkg/models"
	"eduapp/pkg/store"
	"eduapp/pkg/store/engine"
	"eduapp/pkg/store/pebblekv"
)

var fixedNow = time.Date(2024, 3, 9, 10, 30, 0, 0, time.UTC)

func openDB(t *testing.T) store.Database {
	t.Helper()
	kv, err := pebblekv.OpenInMemory()
	require.NoError(t, err)
	e, err := engine.New(kv, engine.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	require.NoError(t, e.CreateDatabase(context.Background(), "edu"))
	return e.Use("edu")
}

func newLayer(t *testing.T) *access.Layer {
	return access.New(openDB(t), access.WithClock(func() time.Time { return fixedNow }))
}

// racingDB runs hook once, right before the first conditional write, to
// simulate a concurrent writer landing between the layer's read and write.
type racingDB struct {
	store.Database
	once sync.Once
	hook func()
}

func (r *racingDB) Insert(ctx context.Context, doc models.Document) (models.DocMeta, error) {
	if doc.Revision != "" {
		r.once.Do(r.hook)
	}
	return r.Database.Insert(ctx, doc)
}

func (r *racingDB) Destroy(ctx context.Context, key, rev string) error {
	r.once.Do(r.hook)
	return r.Database.Destroy(ctx, key, rev)
}

// downDB fails every call like an unreachable store.
type downDB struct{ store.Database }

var errDial = errors.New("dial tcp 127.0.0.1:5984: connection refused")

func (downDB) Get(context.Context, string) (models.Document, error) {
	return models.Document{}, errDial
}

func (downDB) Insert(context.Context, models.Document) (models.DocMeta, error) {
	return models.DocMeta{}, errDial
}

func (downDB) Find(context.Context, models.FindQuery) ([]models.Document, error) {
	return nil, errDial
}

func TestRoundTrip(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()
	in := models.Document{Fields: map[string]any{
		"type":   "classroom",
		"title":  "Algebra I",
		"seats":  float64(30),
		"open":   true,
		"topics": []any{"math", "algebra"},
		"instructor": map[string]any{
			"id":   "u1",
			"name": "Ada",
		},
	}}
	created, err := l.Create(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, created.Key)
	assert.NotEmpty(t, created.Revision)

	got, found, err := l.Read(ctx, created.Key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, created.Key, got.Key)
	assert.Equal(t, created.Revision, got.Revision)
	assert.Equal(t, in.Fields, got.Fields)
}

func TestCreateWithChosenKey(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()
	doc, err := l.Create(ctx, models.Document{Key: "community-go", Revision: "9-ignored", Fields: map[string]any{"type": "community"}})
	require.NoError(t, err)
	assert.Equal(t, "community-go", doc.Key)
	assert.NotEqual(t, "9-ignored", doc.Revision)

	_, err = l.Create(ctx, models.Document{Key: "community-go", Fields: map[string]any{"type": "community"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, access.ErrWriteConflict)
	assert.Zero(t, store.Status(err))

	var ae *access.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "create", ae.Op)
	assert.Equal(t, "community-go", ae.Key)
}

func TestReadAbsentIsAValue(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()
	doc, found, err := l.Read(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, doc.Key)

	_, err = l.Update(ctx, "nope", map[string]any{"x": 1})
	assert.ErrorIs(t, err, access.ErrNotFound)

	ok, err := l.Delete(ctx, "nope")
	assert.False(t, ok)
	assert.ErrorIs(t, err, access.ErrNotFound)

	_, _, err = l.Read(ctx, "")
	assert.ErrorIs(t, err, access.ErrInvalidRequest)
}

func TestUpdateMergesAndStamps(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()
	doc, err := l.Create(ctx, models.Document{Key: "c1", Fields: map[string]any{"type": "classroom", "title": "old", "seats": float64(10)}})
	require.NoError(t, err)

	upd, err := l.Update(ctx, "c1", map[string]any{"title": "new", "_id": "hijack", "_rev": "1-x"})
	require.NoError(t, err)
	assert.Equal(t, "c1", upd.Key)
	assert.NotEqual(t, doc.Revision, upd.Revision)
	assert.Equal(t, "new", upd.Fields["title"])
	assert.Equal(t, float64(10), upd.Fields["seats"])
	assert.Equal(t, "2024-03-09T10:30:00.000Z", upd.Fields[models.FieldUpdatedAt])

	got, _, err := l.Read(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, upd.Revision, got.Revision)
	assert.Equal(t, upd.Fields, got.Fields)
}

func TestConcurrentSavesOneWins(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()
	base, err := l.Create(ctx, models.Document{Key: "p1", Fields: map[string]any{"likes": float64(0)}})
	require.NoError(t, err)

	const writers = 6
	var ok, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := access.Merge(base, map[string]any{"likes": float64(i + 1)})
			_, err := l.Save(ctx, next)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, access.ErrWriteConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(writers-1), conflicts.Load())
}

func TestUpdateLosesRace(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	plain := access.New(db)
	_, err := plain.Create(ctx, models.Document{Key: "p1", Fields: map[string]any{"body": "v1"}})
	require.NoError(t, err)

	racer := &racingDB{Database: db}
	racer.hook = func() {
		_, err := plain.Update(ctx, "p1", map[string]any{"body": "theirs"})
		require.NoError(t, err)
	}
	_, err = access.New(racer).Update(ctx, "p1", map[string]any{"body": "mine"})
	assert.ErrorIs(t, err, access.ErrWriteConflict)

	got, _, err := plain.Read(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "theirs", got.Fields["body"])
}

func TestDeleteLosesRace(t *testing.T) {
	ctx := context.Background()

	for _, concurrent := range []struct {
		name string
		op   func(*access.Layer) error
	}{
		{"update", func(l *access.Layer) error { _, err := l.Update(ctx, "p1", map[string]any{"x": 1.0}); return err }},
		{"delete", func(l *access.Layer) error { _, err := l.Delete(ctx, "p1"); return err }},
	} {
		t.Run(concurrent.name, func(t *testing.T) {
			db := openDB(t)
			plain := access.New(db)
			_, err := plain.Create(ctx, models.Document{Key: "p1", Fields: map[string]any{"x": 0.0}})
			require.NoError(t, err)

			racer := &racingDB{Database: db, hook: func() { require.NoError(t, concurrent.op(plain)) }}
			ok, err := access.New(racer).Delete(ctx, "p1")
			assert.False(t, ok)
			assert.ErrorIs(t, err, access.ErrWriteConflict)
		})
	}
}

func TestStoreUnavailable(t *testing.T) {
	l := access.New(downDB{Database: openDB(t)})
	ctx := context.Background()

	_, _, err := l.Read(ctx, "k")
	assert.ErrorIs(t, err, access.ErrStoreUnavailable)
	assert.ErrorIs(t, err, errDial)

	_, err = l.Create(ctx, models.Document{Fields: map[string]any{}})
	assert.ErrorIs(t, err, access.ErrStoreUnavailable)

	_, err = l.Find(ctx, models.FindQuery{Selector: map[string]any{"type": "post"}})
	assert.ErrorIs(t, err, access.ErrStoreUnavailable)
	assert.Equal(t, "store_unavailable", access.KindName(err))
}

func TestDeadlineStaysInChain(t *testing.T) {
	l := newLayer(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := l.Create(ctx, models.Document{Fields: map[string]any{"a": "b"}})
	assert.ErrorIs(t, err, access.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListPagination(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()
	const n = 23
	for i := 0; i < n; i++ {
		_, err := l.Create(ctx, models.Document{Key: fmt.Sprintf("doc-%02d", i), Fields: map[string]any{"i": float64(i)}})
		require.NoError(t, err)
	}
	all, err := l.List(ctx, models.ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, n)

	const page = 5
	seen := map[string]bool{}
	for skip := 0; skip < n; skip += page {
		docs, err := l.List(ctx, models.ListOptions{Skip: skip, Limit: page})
		require.NoError(t, err)
		want := all[skip:min(skip+page, n)]
		require.Len(t, docs, len(want))
		for i, d := range docs {
			assert.Equal(t, want[i].Key, d.Key)
			assert.NotEmpty(t, d.Revision)
			assert.False(t, seen[d.Key], "page overlap on %s", d.Key)
			seen[d.Key] = true
		}
	}
	assert.Len(t, seen, n)

	docs, err := l.List(ctx, models.ListOptions{StartKey: "doc-10", EndKey: "doc-12", IncludeDocs: true})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, float64(12), docs[2].Fields["i"])

	docs, err = l.List(ctx, models.ListOptions{StartKey: "zzz"})
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)

	_, err = l.List(ctx, models.ListOptions{Limit: -1})
	assert.ErrorIs(t, err, access.ErrInvalidRequest)
}

func TestPostLifecycle(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()
	post, err := l.Create(ctx, models.Document{Fields: map[string]any{
		"type": "post",
		"tags": []any{"#go", "#systems"},
	}})
	require.NoError(t, err)

	found, err := l.Find(ctx, models.FindQuery{Selector: map[string]any{"type": "post"}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, post.Key, found[0].Key)

	ok, err := l.Delete(ctx, post.Key)
	require.NoError(t, err)
	assert.True(t, ok)

	_, present, err := l.Read(ctx, post.Key)
	require.NoError(t, err)
	assert.False(t, present)

	_, err = l.Delete(ctx, post.Key)
	assert.ErrorIs(t, err, access.ErrNotFound)

	found, err = l.Find(ctx, models.FindQuery{Selector: map[string]any{"type": "post"}})
	require.NoError(t, err)
	assert.Empty(t, found)

	_, err = l.Find(ctx, models.FindQuery{Selector: map[string]any{"tags": map[string]any{"$bogus": 1}}})
	assert.ErrorIs(t, err, access.ErrInvalidRequest)
}

func postsByTag() models.IndexDefinition {
	return models.IndexDefinition{
		Name:     "posts",
		Language: models.LanguageJavaScript,
		Views: map[string]models.ViewDefinition{
			"by_tag": {Emit: models.EmitSpec{Type: "post", Path: "tags", Each: true}, Reduce: models.ReduceCount},
		},
	}
}

func TestTagCount(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()

	_, err := l.Count(ctx, "posts", "by_tag", "#go")
	assert.ErrorIs(t, err, access.ErrNotFound)

	_, err = l.Save(ctx, postsByTag().Document())
	require.NoError(t, err)

	for _, tags := range [][]any{{"#go"}, {"#go", "#systems"}, {"#rust"}} {
		_, err := l.Create(ctx, models.Document{Fields: map[string]any{"type": "post", "tags": tags}})
		require.NoError(t, err)
	}
	n, err := l.Count(ctx, "posts", "by_tag", "#go")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = l.Create(ctx, models.Document{Fields: map[string]any{"type": "post", "tags": []any{"#go"}}})
	require.NoError(t, err)
	n, err = l.Count(ctx, "posts", "by_tag", "#go")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = l.Count(ctx, "posts", "by_tag", "#haskell")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = l.View(ctx, "posts", "by_mood", models.ViewQuery{})
	assert.ErrorIs(t, err, access.ErrNotFound)
}

type classroom struct {
	models.Meta
	Type   string   `json:"type"`
	Title  string   `json:"title"`
	Topics []string `json:"topics,omitempty"`
}

func TestTyped(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()
	rooms := access.NewTyped[classroom](l)

	c, err := rooms.Create(ctx, classroom{Type: "classroom", Title: "Go 101", Topics: []string{"go"}})
	require.NoError(t, err)
	require.NotEmpty(t, c.Key)
	require.NotEmpty(t, c.Revision)

	got, found, err := rooms.Read(ctx, c.Key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, c, got)

	got.Title = "Go 102"
	saved, err := rooms.Save(ctx, got)
	require.NoError(t, err)
	assert.NotEqual(t, got.Revision, saved.Revision)

	_, err = rooms.Save(ctx, got)
	assert.ErrorIs(t, err, access.ErrWriteConflict)

	upd, err := rooms.Update(ctx, c.Key, map[string]any{"title": "Go 103"})
	require.NoError(t, err)
	assert.Equal(t, "Go 103", upd.Title)

	list, err := rooms.List(ctx, models.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Go 103", list[0].Title)

	hits, err := rooms.Find(ctx, models.FindQuery{Selector: map[string]any{"topics": map[string]any{"$all": []any{"go"}}}})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	_, found, err = rooms.Read(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMissingDatabaseIsUnavailable(t *testing.T) {
	kv, err := pebblekv.OpenInMemory()
	require.NoError(t, err)
	e, err := engine.New(kv, engine.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	l := access.New(e.Use("nodb"))
	ctx := context.Background()

	_, found, err := l.Read(ctx, "k1")
	assert.False(t, found)
	assert.ErrorIs(t, err, access.ErrStoreUnavailable)

	_, err = l.Create(ctx, models.Document{Key: "k1", Fields: map[string]any{"a": 1.0}})
	assert.ErrorIs(t, err, access.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, access.ErrNotFound)

	_, err = l.Update(ctx, "k1", map[string]any{"a": 2.0})
	assert.ErrorIs(t, err, access.ErrStoreUnavailable)

	_, err = l.Delete(ctx, "k1")
	assert.ErrorIs(t, err, access.ErrStoreUnavailable)
}

func TestUpdateCopiesPartial(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()
	_, err := l.Create(ctx, models.Document{Key: "c1", Fields: map[string]any{"type": "classroom"}})
	require.NoError(t, err)

	nested := map[string]any{"x": 1.0}
	tags := []any{"a"}
	out, err := l.Update(ctx, "c1", map[string]any{"n": nested, "tags": tags})
	require.NoError(t, err)

	nested["x"] = 99.0
	tags[0] = "z"
	assert.Equal(t, map[string]any{"x": 1.0}, out.Fields["n"])
	assert.Equal(t, []any{"a"}, out.Fields["tags"])
}

func TestErrorsHideStatusCodes(t *testing.T) {
	l := newLayer(t)
	ctx := context.Background()
	_, err := l.Create(ctx, models.Document{Key: "c1", Fields: map[string]any{}})
	require.NoError(t, err)

	_, err = l.Create(ctx, models.Document{Key: "c1", Fields: map[string]any{}})
	require.ErrorIs(t, err, access.ErrWriteConflict)
	var se *store.StatusError
	assert.False(t, errors.As(err, &se))
	assert.NotContains(t, err.Error(), "409")
	assert.NotContains(t, err.Error(), "store:")

	_, err = l.Update(ctx, "gone", map[string]any{"a": 1.0})
	require.ErrorIs(t, err, access.ErrNotFound)
	assert.NotContains(t, err.Error(), "404")
}
