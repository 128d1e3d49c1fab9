// Package benchmark times equivalent REST and GraphQL requests against the GitHub API.
package benchmark

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Definition describes a benchmark: what to request and how often
type Definition struct {
	Benchmark Settings          `toml:"benchmark"`
	Headers   map[string]string `toml:"headers"`
	REST      RESTSuite         `toml:"rest"`
	GraphQL   GraphQLSuite      `toml:"graphql"`
}

// Settings controls trial count, pacing and output
type Settings struct {
	Trials         int    `toml:"trials"`
	SleepBetweenMS int    `toml:"sleep_between_ms"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RandomizeOrder bool   `toml:"randomize_order"`
	OutputDir      string `toml:"output_dir"`
}

// RESTSuite lists the REST endpoints to time, relative to BaseURL
type RESTSuite struct {
	BaseURL   string     `toml:"base_url"`
	Endpoints []Endpoint `toml:"endpoints"`
}

// Endpoint is one REST request
type Endpoint struct {
	Label string `toml:"label"`
	Path  string `toml:"path"`
}

// GraphQLSuite lists the GraphQL documents to time
type GraphQLSuite struct {
	URL     string  `toml:"url"`
	Queries []Query `toml:"queries"`
}

// Query is one GraphQL request
type Query struct {
	Name      string         `toml:"name"`
	Query     string         `toml:"query"`
	Variables map[string]any `toml:"variables"`
}

// envRef matches ${VAR}; bare $name is left alone since GraphQL variables use that form
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadDefinition reads a TOML benchmark definition. ${VAR} references are expanded from the
// environment before decoding.
func LoadDefinition(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading benchmark definition: %w", err)
	}

	def := &Definition{}
	if _, err := toml.Decode(expandEnv(string(raw)), def); err != nil {
		return nil, fmt.Errorf("parsing benchmark definition %s: %w", path, err)
	}
	def.applyDefaults()
	return def, def.Validate()
}

func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

func (d *Definition) applyDefaults() {
	if d.Benchmark.Trials == 0 {
		d.Benchmark.Trials = 1
	}
	if d.Benchmark.TimeoutSeconds == 0 {
		d.Benchmark.TimeoutSeconds = 10
	}
	if d.Benchmark.OutputDir == "" {
		d.Benchmark.OutputDir = "./data/benchmark"
	}
	if d.REST.BaseURL == "" {
		d.REST.BaseURL = "https://api.github.com"
	}
	if d.GraphQL.URL == "" {
		d.GraphQL.URL = "https://api.github.com/graphql"
	}
	for i, ep := range d.REST.Endpoints {
		if ep.Label == "" {
			d.REST.Endpoints[i].Label = ep.Path
		}
	}
}

// Validate checks the definition can be run
func (d *Definition) Validate() error {
	if d.Benchmark.Trials < 1 {
		return errors.New("benchmark.trials must be at least 1")
	}
	if d.Benchmark.SleepBetweenMS < 0 {
		return errors.New("benchmark.sleep_between_ms must not be negative")
	}
	if len(d.REST.Endpoints) == 0 && len(d.GraphQL.Queries) == 0 {
		return errors.New("benchmark defines no REST endpoints and no GraphQL queries")
	}
	for i, ep := range d.REST.Endpoints {
		if ep.Path == "" {
			return fmt.Errorf("rest.endpoints[%d] has no path", i)
		}
	}
	for i, q := range d.GraphQL.Queries {
		if q.Name == "" || q.Query == "" {
			return fmt.Errorf("graphql.queries[%d] needs a name and a query", i)
		}
	}
	return nil
}
