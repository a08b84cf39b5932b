package cmd

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBenchTargets(t *testing.T) {
	targets, err := benchTargets(benchConfig{Host: "http://h:1/", Pattern: "view", Rate: 4, Duration: time.Second})
	require.NoError(t, err)
	require.Len(t, targets, 5)
	assert.Equal(t, "http://h:1/v1/indexes/posts/by_tag?key=%22t0%22", targets[0].URL)

	targets, err = benchTargets(benchConfig{Host: "http://h:1", Pattern: "create", Rate: 2, Duration: time.Second})
	require.NoError(t, err)
	var a, b map[string]any
	require.NoError(t, json.Unmarshal(targets[0].Body, &a))
	require.NoError(t, json.Unmarshal(targets[1].Body, &b))
	assert.NotEqual(t, a["title"], b["title"])
	assert.Equal(t, "post", a["type"])

	_, err = benchTargets(benchConfig{Host: "http://h:1", Pattern: "delete", Rate: 1, Duration: time.Second})
	assert.ErrorContains(t, err, "unknown --pattern")
	_, err = benchTargets(benchConfig{Host: "http://h:1", Pattern: "list", Rate: 0, Duration: time.Second})
	assert.Error(t, err)
	_, err = benchTargets(benchConfig{Host: "not a url", Pattern: "list", Rate: 1, Duration: time.Second})
	assert.Error(t, err)
}

func TestBenchCommandReportsAttack(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/v1/docs" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	h := newHarness(t)
	out, err := h.run("bench", "--host", srv.URL, "--rate", "40", "--duration", "250ms", "--workers", "2")
	require.NoError(t, err)

	var rep benchReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "create", rep.Pattern)
	assert.NotZero(t, rep.Requests)
	assert.Equal(t, int(rep.Requests), rep.StatusCodes["201"])
	assert.Equal(t, 1.0, rep.Success)
	assert.Equal(t, int64(rep.Requests), hits.Load())
}

func TestReadPasswordNeedsTerminal(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "stdin"))
	require.NoError(t, err)
	defer f.Close()
	_, err = readPassword(os.Stderr, int(f.Fd()))
	assert.ErrorIs(t, err, errNoTerminal)
}

func TestAskPasswordOnlyForCouchDB(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("--ask-password", "get", "x")
	assert.ErrorContains(t, err, "couchdb backend")
}
