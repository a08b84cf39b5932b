package api

import (
	"context"
	"net"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"eduapp/pkg/bootstrap"
	"eduapp/pkg/indexes"
	"eduapp/pkg/store/engine"
	"eduapp/pkg/store/pebblekv"
)

type harness struct {
	t      *testing.T
	seq    *bootstrap.Sequencer
	client *fasthttp.Client
}

func newHarness(t *testing.T, opts Options, run bool) *harness {
	t.Helper()
	kv, err := pebblekv.OpenInMemory()
	require.NoError(t, err)
	e, err := engine.New(kv, engine.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	seq := bootstrap.New(e, "edu", indexes.Default())
	if run {
		_, err := seq.Run(context.Background())
		require.NoError(t, err)
	}
	s := New(seq, opts)
	t.Cleanup(s.Close)

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: s.Handler()}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	return &harness{
		t:   t,
		seq: seq,
		client: &fasthttp.Client{
			Dial: func(string) (net.Conn, error) { return ln.Dial() },
		},
	}
}

type response struct {
	status int
	header *fasthttp.ResponseHeader
	body   map[string]any
	raw    string
}

func (h *harness) do(method, path string, body any, headers ...string) response {
	h.t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI("http://eduapp.test" + path)
	req.Header.SetMethod(method)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	switch b := body.(type) {
	case nil:
	case string:
		req.SetBodyString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(h.t, err)
		req.SetBody(raw)
	}
	require.NoError(h.t, h.client.DoTimeout(req, resp, 5*time.Second))

	out := response{status: resp.StatusCode(), raw: string(resp.Body())}
	out.header = &fasthttp.ResponseHeader{}
	resp.Header.CopyTo(out.header)
	if strings.HasPrefix(string(resp.Header.ContentType()), "application/json") {
		_ = json.Unmarshal(resp.Body(), &out.body)
	}
	return out
}

func TestNotReadyGatesTraffic(t *testing.T) {
	h := newHarness(t, Options{}, false)

	r := h.do("GET", "/v1/docs", nil)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, r.status)
	assert.Equal(t, "not_ready", r.body["error"])

	r = h.do("GET", "/readyz", nil)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, r.status)
	assert.Equal(t, "not_started", r.body["state"])

	r = h.do("GET", "/healthz", nil)
	assert.Equal(t, fasthttp.StatusOK, r.status)

	r = h.do("POST", "/admin/jobs/compact", nil)
	assert.Equal(t, fasthttp.StatusNotImplemented, r.status)

	_, err := h.seq.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fasthttp.StatusOK, h.do("GET", "/readyz", nil).status)
	assert.Equal(t, fasthttp.StatusOK, h.do("GET", "/v1/docs", nil).status)
}

func TestDocumentLifecycle(t *testing.T) {
	h := newHarness(t, Options{}, true)

	r := h.do("POST", "/v1/docs", map[string]any{"type": "post", "tags": []string{"#go", "#systems"}, "body": "hello"})
	require.Equal(t, fasthttp.StatusCreated, r.status, r.raw)
	key, rev := r.body["_id"].(string), r.body["_rev"].(string)
	require.NotEmpty(t, key)
	require.NotEmpty(t, rev)

	r = h.do("GET", "/v1/docs/"+key, nil)
	require.Equal(t, fasthttp.StatusOK, r.status)
	assert.Equal(t, "hello", r.body["body"])

	r = h.do("PATCH", "/v1/docs/"+key, map[string]any{"body": "edited"})
	require.Equal(t, fasthttp.StatusOK, r.status, r.raw)
	assert.Equal(t, "edited", r.body["body"])
	assert.NotEmpty(t, r.body["updatedAt"])
	newRev := r.body["_rev"].(string)

	r = h.do("PUT", "/v1/docs/"+key, map[string]any{"_rev": rev, "type": "post", "body": "stale"})
	assert.Equal(t, fasthttp.StatusConflict, r.status)
	assert.Equal(t, "write_conflict", r.body["error"])

	r = h.do("PUT", "/v1/docs/"+key, map[string]any{"_rev": newRev, "type": "post", "body": "full"})
	assert.Equal(t, fasthttp.StatusOK, r.status, r.raw)

	r = h.do("POST", "/v1/_find", map[string]any{"selector": map[string]any{"type": "post"}})
	require.Equal(t, fasthttp.StatusOK, r.status)
	assert.Len(t, r.body["docs"], 1)

	r = h.do("DELETE", "/v1/docs/"+key, nil)
	assert.Equal(t, fasthttp.StatusOK, r.status)
	assert.Equal(t, true, r.body["ok"])

	r = h.do("GET", "/v1/docs/"+key, nil)
	assert.Equal(t, fasthttp.StatusNotFound, r.status)

	r = h.do("DELETE", "/v1/docs/"+key, nil)
	assert.Equal(t, fasthttp.StatusNotFound, r.status)
	assert.Equal(t, "not_found", r.body["error"])

	r = h.do("PATCH", "/v1/docs/"+key, map[string]any{"x": 1})
	assert.Equal(t, fasthttp.StatusNotFound, r.status)
}

func TestPutCreatesWithChosenKey(t *testing.T) {
	h := newHarness(t, Options{}, true)
	r := h.do("PUT", "/v1/docs/room%2F1", map[string]any{"type": "classroom"})
	require.Equal(t, fasthttp.StatusCreated, r.status, r.raw)
	assert.Equal(t, "room/1", r.body["_id"])

	r = h.do("GET", "/v1/docs/room%2F1", nil)
	assert.Equal(t, fasthttp.StatusOK, r.status)
}

func TestListAndViews(t *testing.T) {
	h := newHarness(t, Options{}, true)
	for _, k := range []string{"a", "b", "c", "d"} {
		r := h.do("PUT", "/v1/docs/post-"+k, map[string]any{"type": "post", "tags": []string{"#go"}, "author": map[string]any{"id": "u" + k}})
		require.Equal(t, fasthttp.StatusCreated, r.status, r.raw)
	}

	r := h.do("GET", "/v1/docs?startkey=post-&limit=2&skip=1", nil)
	require.Equal(t, fasthttp.StatusOK, r.status, r.raw)
	docs := r.body["docs"].([]any)
	require.Len(t, docs, 2)
	assert.Equal(t, "post-b", docs[0].(map[string]any)["_id"])
	assert.NotContains(t, docs[0], "type")

	r = h.do("GET", "/v1/docs?startkey=post-c&include_docs=true", nil)
	docs = r.body["docs"].([]any)
	require.Len(t, docs, 2)
	assert.Equal(t, "post", docs[0].(map[string]any)["type"])

	r = h.do("GET", "/v1/indexes/posts/by_tag?key="+url.QueryEscape(`"#go"`), nil)
	require.Equal(t, fasthttp.StatusOK, r.status, r.raw)
	rows := r.body["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(4), rows[0].(map[string]any)["value"])

	r = h.do("GET", "/v1/indexes/posts/by_author?reduce=false&key="+url.QueryEscape(`"ub"`), nil)
	require.Equal(t, fasthttp.StatusOK, r.status, r.raw)
	rows = r.body["rows"].([]any)
	require.Len(t, rows, 1)
	assert.Equal(t, "post-b", rows[0].(map[string]any)["id"])

	r = h.do("GET", "/v1/indexes/posts/by_mood", nil)
	assert.Equal(t, fasthttp.StatusNotFound, r.status)

	r = h.do("GET", "/v1/indexes/posts/by_tag?key=%23go", nil)
	assert.Equal(t, fasthttp.StatusBadRequest, r.status)

	r = h.do("GET", "/v1/docs?limit=-3", nil)
	assert.Equal(t, fasthttp.StatusBadRequest, r.status)
}

func TestBadRequests(t *testing.T) {
	h := newHarness(t, Options{}, true)

	r := h.do("POST", "/v1/docs", "{not json")
	assert.Equal(t, fasthttp.StatusBadRequest, r.status)
	assert.Equal(t, "invalid_request", r.body["error"])

	r = h.do("POST", "/v1/docs", map[string]any{"_secret": 1})
	assert.Equal(t, fasthttp.StatusBadRequest, r.status)

	r = h.do("POST", "/v1/_find", map[string]any{"selector": map[string]any{"a": map[string]any{"$nope": 1}}})
	assert.Equal(t, fasthttp.StatusBadRequest, r.status)

	r = h.do("GET", "/v2/anything", nil)
	assert.Equal(t, fasthttp.StatusNotFound, r.status)

	r = h.do("POST", "/v1/docs/abc", map[string]any{})
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, r.status)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, Options{RateRPS: 0.001, RateBurst: 1}, true)
	assert.Equal(t, fasthttp.StatusOK, h.do("GET", "/v1/docs", nil).status)
	r := h.do("GET", "/v1/docs", nil)
	assert.Equal(t, fasthttp.StatusTooManyRequests, r.status)
	// probes are never limited
	assert.Equal(t, fasthttp.StatusOK, h.do("GET", "/healthz", nil).status)
}

func TestCORS(t *testing.T) {
	h := newHarness(t, Options{CORSOrigins: []string{"https://edu.example"}}, true)

	r := h.do("OPTIONS", "/v1/docs", nil, "Origin", "https://edu.example")
	assert.Equal(t, fasthttp.StatusNoContent, r.status)
	assert.Equal(t, "https://edu.example", string(r.header.Peek("Access-Control-Allow-Origin")))
	assert.Contains(t, string(r.header.Peek("Access-Control-Allow-Methods")), "PATCH")

	r = h.do("GET", "/v1/docs", nil, "Origin", "https://evil.example")
	assert.Equal(t, fasthttp.StatusOK, r.status)
	assert.Empty(t, r.header.Peek("Access-Control-Allow-Origin"))
}

func TestAdminEndpoints(t *testing.T) {
	called := 0
	h := newHarness(t, Options{
		DataDir: t.TempDir(),
		Compact: func(context.Context) (any, error) {
			called++
			return map[string]int{"purged": 2}, nil
		},
	}, true)

	r := h.do("GET", "/admin/indexes", nil)
	require.Equal(t, fasthttp.StatusOK, r.status)
	assert.Len(t, r.body["indexes"], 3)
	report := r.body["report"].([]any)
	require.Len(t, report, 3)
	assert.Equal(t, "installed", report[0].(map[string]any)["outcome"])

	r = h.do("POST", "/admin/jobs/compact", nil)
	require.Equal(t, fasthttp.StatusOK, r.status)
	assert.Equal(t, float64(2), r.body["purged"])
	assert.Equal(t, 1, called)

	r = h.do("GET", "/admin/metrics", nil)
	require.Equal(t, fasthttp.StatusOK, r.status)
	assert.Contains(t, r.raw, "eduapp_bootstrap_state")
	assert.Contains(t, r.raw, "eduapp_index_reconcile_total")

	r = h.do("GET", "/healthz", nil)
	assert.Equal(t, "ready", r.body["state"])
	assert.Contains(t, r.body["disk"], "free of")
}

func TestLimiterSweep(t *testing.T) {
	p := newLimiterPool(1, 1)
	defer p.Shutdown()
	assert.True(t, p.Allow("1.2.3.4"))
	assert.False(t, p.Allow("1.2.3.4"))
	p.sweep(time.Now().Add(time.Minute))
	assert.True(t, p.Allow("1.2.3.4"))
}
