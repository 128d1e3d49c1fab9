package benchmark

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-lab-harvester/internal/sink"
)

const definitionTOML = `
[benchmark]
trials = 2
sleep_between_ms = 250
randomize_order = true
output_dir = "${BENCH_OUT}"

[headers]
Accept = "application/vnd.github+json"

[rest]
base_url = "${BENCH_URL}/"

[[rest.endpoints]]
label = "repo"
path = "/repos/octo/hello"

[[rest.endpoints]]
path = "repos/octo/hello/pulls"

[graphql]
url = "${BENCH_URL}/graphql"

[[graphql.queries]]
name = "repo"
query = "query($owner: String!) { repository(owner: $owner, name: \"hello\") { name } }"

[graphql.queries.variables]
owner = "octo"
`

type fakeAPI struct {
	mu       sync.Mutex
	accepts  []string
	gqlVars  []map[string]any
	restHits int
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepts = append(f.accepts, r.Header.Get("Accept"))

	if r.URL.Path == "/graphql" {
		var body struct {
			Variables map[string]any `json:"variables"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.gqlVars = append(f.gqlVars, body.Variables)
		_, _ = io.WriteString(w, `{"data":{"repository":{"name":"hello"}}}`)
		return
	}
	f.restHits++
	if strings.HasSuffix(r.URL.Path, "/pulls") {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{}`)
		return
	}
	_, _ = io.WriteString(w, `{"name":"hello"}`)
}

func writeDefinition(t *testing.T, url, out string) string {
	t.Helper()
	t.Setenv("BENCH_URL", url)
	t.Setenv("BENCH_OUT", out)
	path := filepath.Join(t.TempDir(), "bench.toml")
	require.NoError(t, os.WriteFile(path, []byte(definitionTOML), 0o644))
	return path
}

func TestLoadDefinition(t *testing.T) {
	path := writeDefinition(t, "http://example.test", "/tmp/out")

	def, err := LoadDefinition(path)
	require.NoError(t, err)

	assert.Equal(t, 2, def.Benchmark.Trials)
	assert.Equal(t, 10, def.Benchmark.TimeoutSeconds)
	assert.Equal(t, "/tmp/out", def.Benchmark.OutputDir)
	assert.Equal(t, "http://example.test/", def.REST.BaseURL)
	require.Len(t, def.REST.Endpoints, 2)
	assert.Equal(t, "repos/octo/hello/pulls", def.REST.Endpoints[1].Label)
	assert.Equal(t, "octo", def.GraphQL.Queries[0].Variables["owner"])
}

func TestLoadDefinition_RejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.toml")
	require.NoError(t, os.WriteFile(path, []byte("[benchmark]\ntrials = 1\n"), 0o644))

	_, err := LoadDefinition(path)
	assert.Error(t, err)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(1500 * time.Microsecond)
	return c.now
}

func TestRunner_Run(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	out := t.TempDir()
	def, err := LoadDefinition(writeDefinition(t, srv.URL, out))
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var slept []time.Duration
	runner := NewRunner(def, Options{
		Writer: sink.NewWriter(','),
		Now:    clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
		Shuffle: func(kinds []string) { kinds[0], kinds[1] = kinds[1], kinds[0] },
	})

	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{KindGraphQL, KindREST}, res.Order)
	require.Len(t, res.REST, 4)
	require.Len(t, res.GraphQL, 2)
	assert.Len(t, slept, 6)
	assert.Equal(t, 250*time.Millisecond, slept[0])

	first := res.REST[0]
	assert.Equal(t, 0, first.Trial)
	assert.Equal(t, "repo", first.Label)
	assert.Equal(t, srv.URL+"/repos/octo/hello", first.URL)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, int64(len(`{"name":"hello"}`)), first.PayloadBytes)
	assert.InDelta(t, 1.5, first.LatencyMS, 1e-9)
	assert.Equal(t, http.StatusNotFound, res.REST[1].StatusCode)
	assert.Equal(t, 1, res.REST[3].Trial)

	assert.Equal(t, "octo", api.gqlVars[0]["owner"])
	for _, accept := range api.accepts {
		assert.Equal(t, "application/vnd.github+json", accept)
	}

	content, err := os.ReadFile(filepath.Join(out, "rest_results.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, strings.Join(Schema, ","), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0,REST,repo,"+srv.URL+"/repos/octo/hello,1.500,16,200,"))

	// a second run appends without repeating the header
	_, err = runner.Run(context.Background())
	require.NoError(t, err)
	content, err = os.ReadFile(filepath.Join(out, "graphql_results.csv"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(content), "trial_id"))
	assert.Len(t, strings.Split(strings.TrimSpace(string(content)), "\n"), 5)
}

func TestRunner_RecordsTransportErrors(t *testing.T) {
	def := &Definition{
		Benchmark: Settings{Trials: 1, TimeoutSeconds: 1, OutputDir: t.TempDir()},
		REST:      RESTSuite{BaseURL: "http://127.0.0.1:1", Endpoints: []Endpoint{{Label: "x", Path: "/x"}}},
	}

	res, err := NewRunner(def, Options{}).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.REST, 1)
	assert.Equal(t, -1, res.REST[0].StatusCode)
	assert.NotEmpty(t, res.REST[0].Error)
	assert.Empty(t, res.GraphQL)
}
