package benchmark

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/kurihiro0119/github-lab-harvester/internal/logger"
	"github.com/kurihiro0119/github-lab-harvester/internal/sink"
)

// Request kinds
const (
	KindREST    = "REST"
	KindGraphQL = "GraphQL"
)

// Schema is the column layout of both result files
var Schema = sink.Schema{"trial_id", "type", "label", "url", "latency_ms", "payload_bytes", "status_code", "timestamp_start", "timestamp_end", "error"}

// Measurement is the outcome of one timed request. StatusCode is -1 when no response arrived.
type Measurement struct {
	Trial        int
	Kind         string
	Label        string
	URL          string
	LatencyMS    float64
	PayloadBytes int64
	StatusCode   int
	Start        time.Time
	End          time.Time
	Error        string
}

// Row renders the measurement in Schema order, latency to three decimals
func (m Measurement) Row() []string {
	return []string{
		strconv.Itoa(m.Trial),
		m.Kind,
		m.Label,
		m.URL,
		strconv.FormatFloat(math.Round(m.LatencyMS*1000)/1000, 'f', 3, 64),
		strconv.FormatInt(m.PayloadBytes, 10),
		strconv.Itoa(m.StatusCode),
		m.Start.UTC().Format(time.RFC3339Nano),
		m.End.UTC().Format(time.RFC3339Nano),
		m.Error,
	}
}

// Options configures a Runner
type Options struct {
	Token   string // sent as a bearer token when set
	Writer  *sink.Writer
	Now     func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error
	Shuffle func(kinds []string)
	Logger  *logger.Logger
}

// Result lists where the measurements went
type Result struct {
	Order       []string
	REST        []Measurement
	GraphQL     []Measurement
	RESTPath    string
	GraphQLPath string
}

// Runner executes a benchmark Definition
type Runner struct {
	def    *Definition
	client *http.Client
	opts   Options
	log    *logger.Logger
}

// NewRunner creates a runner. The HTTP client carries the token through an oauth2 transport
// and deliberately has no response cache, so every trial reaches the API.
func NewRunner(def *Definition, opts Options) *Runner {
	client := &http.Client{}
	if opts.Token != "" {
		client = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
	}
	client.Timeout = time.Duration(def.Benchmark.TimeoutSeconds) * time.Second

	if opts.Writer == nil {
		opts.Writer = sink.NewWriter(',')
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Shuffle == nil {
		opts.Shuffle = func(kinds []string) {
			rand.Shuffle(len(kinds), func(i, j int) { kinds[i], kinds[j] = kinds[j], kinds[i] })
		}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{def: def, client: client, opts: opts, log: log}
}

// RESTPath is the REST result file
func (r *Runner) RESTPath() string {
	return filepath.Join(r.def.Benchmark.OutputDir, "rest_results.csv")
}

// GraphQLPath is the GraphQL result file
func (r *Runner) GraphQLPath() string {
	return filepath.Join(r.def.Benchmark.OutputDir, "graphql_results.csv")
}

// Run executes every trial of both suites, appending each suite's rows to its result file
// once the suite finishes. Request failures are recorded, not returned.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	order := []string{KindREST, KindGraphQL}
	if r.def.Benchmark.RandomizeOrder {
		r.opts.Shuffle(order)
	}
	res := &Result{Order: order, RESTPath: r.RESTPath(), GraphQLPath: r.GraphQLPath()}
	r.log.Info().Strs("order", order).Int("trials", r.def.Benchmark.Trials).Msg("starting benchmark")

	for _, kind := range order {
		var (
			rows []Measurement
			path string
			err  error
		)
		switch kind {
		case KindREST:
			rows, err = r.restTrials(ctx)
			res.REST, path = rows, res.RESTPath
		default:
			rows, err = r.graphQLTrials(ctx)
			res.GraphQL, path = rows, res.GraphQLPath
		}
		if err != nil {
			return res, err
		}
		if len(rows) == 0 {
			continue
		}

		table := make([][]string, len(rows))
		for i, m := range rows {
			table[i] = m.Row()
		}
		if err := r.opts.Writer.Write(table, path, Schema); err != nil {
			return res, err
		}
		r.log.Info().Str("type", kind).Int("measurements", len(rows)).Str("path", path).Msg("suite completed")
	}
	return res, nil
}

func (r *Runner) restTrials(ctx context.Context) ([]Measurement, error) {
	base := strings.TrimRight(r.def.REST.BaseURL, "/")
	var out []Measurement
	for t := 0; t < r.def.Benchmark.Trials; t++ {
		for _, ep := range r.def.REST.Endpoints {
			url := base + "/" + strings.TrimLeft(ep.Path, "/")
			m := r.measure(ctx, t, KindREST, ep.Label, http.MethodGet, url, nil)
			out = append(out, m)
			if err := r.pause(ctx); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func (r *Runner) graphQLTrials(ctx context.Context) ([]Measurement, error) {
	var out []Measurement
	for t := 0; t < r.def.Benchmark.Trials; t++ {
		for _, q := range r.def.GraphQL.Queries {
			body, err := json.Marshal(map[string]any{"query": q.Query, "variables": q.Variables})
			if err != nil {
				return out, err
			}
			m := r.measure(ctx, t, KindGraphQL, q.Name, http.MethodPost, r.def.GraphQL.URL, body)
			out = append(out, m)
			if err := r.pause(ctx); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func (r *Runner) pause(ctx context.Context) error {
	if r.def.Benchmark.SleepBetweenMS <= 0 {
		return ctx.Err()
	}
	return r.opts.Sleep(ctx, time.Duration(r.def.Benchmark.SleepBetweenMS)*time.Millisecond)
}

// measure times one request from send until the whole body has been read
func (r *Runner) measure(ctx context.Context, trial int, kind, label, method, url string, body []byte) Measurement {
	m := Measurement{Trial: trial, Kind: kind, Label: label, URL: url, StatusCode: -1}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		m.Error = err.Error()
		m.Start = r.opts.Now()
		m.End = m.Start
		return m
	}
	req.Header.Set("User-Agent", "github-lab-harvester-benchmark")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.def.Headers {
		req.Header.Set(k, v)
	}

	m.Start = r.opts.Now()
	resp, err := r.client.Do(req)
	if err == nil {
		m.StatusCode = resp.StatusCode
		m.PayloadBytes, err = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
	m.End = r.opts.Now()
	m.LatencyMS = float64(m.End.Sub(m.Start)) / float64(time.Millisecond)
	if err != nil {
		m.Error = err.Error()
	}
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
