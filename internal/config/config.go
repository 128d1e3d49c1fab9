package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	GitHub       GitHubConfig       `toml:"github"`
	Harvest      HarvestConfig      `toml:"harvest"`
	RateLimit    RateLimitConfig    `toml:"rate_limit"`
	PullRequests PullRequestsConfig `toml:"pull_requests"`
	Output       OutputConfig       `toml:"output"`
	Storage      StorageConfig      `toml:"storage"`
	API          APIConfig          `toml:"api"`
	Log          LogConfig          `toml:"log"`
	CK           CKConfig           `toml:"ck"`
}

// GitHubConfig is the credential and endpoints shared by every GitHub call
type GitHubConfig struct {
	Token      string `toml:"token"`
	APIURL     string `toml:"api_url"`
	GraphQLURL string `toml:"graphql_url"`
}

// HarvestConfig controls the search and metadata phases
type HarvestConfig struct {
	SearchQuery        string        `toml:"search_query"`
	TargetCount        int           `toml:"target_count"`
	PageSize           int           `toml:"page_size"`
	BatchSize          int           `toml:"batch_size"`
	MaxRetriesPerBatch int           `toml:"max_retries_per_batch"`
	RetryDelay         time.Duration `toml:"retry_delay"`
	Concurrency        int           `toml:"concurrency"`
}

// RateLimitConfig tunes the rate-limit governor
type RateLimitConfig struct {
	Margin           int           `toml:"margin"`
	Buffer           time.Duration `toml:"buffer"`
	TransientBackoff time.Duration `toml:"transient_backoff"`
}

// PullRequestsConfig holds the selection criteria for the pull request phase
type PullRequestsConfig struct {
	MinReviews    int           `toml:"min_reviews"`
	MinReviewTime time.Duration `toml:"min_review_time"`
	MaxPages      int           `toml:"max_pages"`
	MinCount      int           `toml:"min_count"`
}

// OutputConfig is where datasets and result tables are written
type OutputConfig struct {
	Dir       string `toml:"dir"`
	Delimiter string `toml:"delimiter"`
}

// StorageConfig selects the optional database mirror
type StorageConfig struct {
	Type        string `toml:"type"` // "none", "sqlite" or "postgres"
	SQLitePath  string `toml:"sqlite_path"`
	PostgresURL string `toml:"postgres_url"`
}

// APIConfig configures the API server and the CLI's remote mode
type APIConfig struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	Endpoint string `toml:"endpoint"`
}

// LogConfig configures the root logger
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// CKConfig configures the CK metrics pipeline
type CKConfig struct {
	JarPath   string `toml:"jar_path"`
	Log4jPath string `toml:"log4j_path"`
	WorkDir   string `toml:"work_dir"`
	Threads   int    `toml:"threads"`
	BlockSize int    `toml:"block_size"`
}

// Default returns the configuration used when neither a file nor the environment sets a value
func Default() *Config {
	return &Config{
		GitHub: GitHubConfig{
			APIURL:     "https://api.github.com/",
			GraphQLURL: "https://api.github.com/graphql",
		},
		Harvest: HarvestConfig{
			SearchQuery:        "stars:>10000",
			TargetCount:        1000,
			PageSize:           100,
			BatchSize:          10,
			MaxRetriesPerBatch: 3,
			RetryDelay:         5 * time.Second,
			Concurrency:        4,
		},
		RateLimit: RateLimitConfig{
			Margin:           10,
			Buffer:           5 * time.Second,
			TransientBackoff: 5 * time.Second,
		},
		PullRequests: PullRequestsConfig{
			MinReviews:    1,
			MinReviewTime: time.Hour,
			MaxPages:      3,
			MinCount:      100,
		},
		Output: OutputConfig{
			Dir:       "./data",
			Delimiter: ",",
		},
		Storage: StorageConfig{
			Type:       "none",
			SQLitePath: "./harvest.db",
		},
		API: APIConfig{
			Host:     "localhost",
			Port:     "8080",
			Endpoint: "http://localhost:8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		CK: CKConfig{
			JarPath:   "ck.jar",
			WorkDir:   "./ck_work",
			Threads:   8,
			BlockSize: 200,
		},
	}
}

// Load builds the configuration from defaults, an optional TOML file and the environment,
// in that order of precedence (environment wins). String values in the file may reference
// environment variables as ${VAR}. An empty path falls back to $HARVEST_CONFIG.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = os.Getenv("HARVEST_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, &ConfigError{Field: "config file", Message: err.Error()}
		}
		cfg.expand()
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expand substitutes ${VAR} references in every string setting
func (c *Config) expand() {
	for _, s := range []*string{
		&c.GitHub.Token, &c.GitHub.APIURL, &c.GitHub.GraphQLURL,
		&c.Harvest.SearchQuery,
		&c.Output.Dir, &c.Output.Delimiter,
		&c.Storage.Type, &c.Storage.SQLitePath, &c.Storage.PostgresURL,
		&c.API.Host, &c.API.Port, &c.API.Endpoint,
		&c.Log.Level, &c.Log.Format,
		&c.CK.JarPath, &c.CK.Log4jPath, &c.CK.WorkDir,
	} {
		*s = os.ExpandEnv(*s)
	}
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"GITHUB_TOKEN":       &c.GitHub.Token,
		"GITHUB_API_URL":     &c.GitHub.APIURL,
		"GITHUB_GRAPHQL_URL": &c.GitHub.GraphQLURL,
		"SEARCH_QUERY":       &c.Harvest.SearchQuery,
		"OUTPUT_DIR":         &c.Output.Dir,
		"OUTPUT_DELIMITER":   &c.Output.Delimiter,
		"STORAGE_TYPE":       &c.Storage.Type,
		"SQLITE_PATH":        &c.Storage.SQLitePath,
		"POSTGRES_URL":       &c.Storage.PostgresURL,
		"API_HOST":           &c.API.Host,
		"API_PORT":           &c.API.Port,
		"API_ENDPOINT":       &c.API.Endpoint,
		"LOG_LEVEL":          &c.Log.Level,
		"LOG_FORMAT":         &c.Log.Format,
		"CK_JAR_PATH":        &c.CK.JarPath,
		"CK_LOG4J_PATH":      &c.CK.Log4jPath,
		"CK_WORK_DIR":        &c.CK.WorkDir,
	}
	for key, dst := range strs {
		*dst = getEnv(key, *dst)
	}

	ints := map[string]*int{
		"TARGET_COUNT":          &c.Harvest.TargetCount,
		"PAGE_SIZE":             &c.Harvest.PageSize,
		"BATCH_SIZE":            &c.Harvest.BatchSize,
		"MAX_RETRIES_PER_BATCH": &c.Harvest.MaxRetriesPerBatch,
		"CONCURRENCY":           &c.Harvest.Concurrency,
		"RATE_LIMIT_MARGIN":     &c.RateLimit.Margin,
		"CK_THREADS":            &c.CK.Threads,
		"CK_BLOCK_SIZE":         &c.CK.BlockSize,
		"PR_MIN_REVIEWS":        &c.PullRequests.MinReviews,
		"PR_MAX_PAGES":          &c.PullRequests.MaxPages,
		"PR_MIN_COUNT":          &c.PullRequests.MinCount,
	}
	for key, dst := range ints {
		v, err := getEnvInt(key, *dst)
		if err != nil {
			return err
		}
		*dst = v
	}

	durations := map[string]*time.Duration{
		"RETRY_DELAY":        &c.Harvest.RetryDelay,
		"RATE_LIMIT_BUFFER":  &c.RateLimit.Buffer,
		"TRANSIENT_BACKOFF":  &c.RateLimit.TransientBackoff,
		"PR_MIN_REVIEW_TIME": &c.PullRequests.MinReviewTime,
	}
	for key, dst := range durations {
		v, err := getEnvDuration(key, *dst)
		if err != nil {
			return err
		}
		*dst = v
	}
	return nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be an integer"}
	}
	return n, nil
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of seconds
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be a duration such as 5s or 2m"}
	}
	return d, nil
}

// Validate validates everything a harvest needs, including the GitHub credential
func (c *Config) Validate() error {
	if c.GitHub.Token == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"}
	}
	checks := []struct {
		field string
		value int
	}{
		{"TARGET_COUNT", c.Harvest.TargetCount},
		{"PAGE_SIZE", c.Harvest.PageSize},
		{"BATCH_SIZE", c.Harvest.BatchSize},
		{"MAX_RETRIES_PER_BATCH", c.Harvest.MaxRetriesPerBatch},
		{"CONCURRENCY", c.Harvest.Concurrency},
	}
	for _, ch := range checks {
		if ch.value < 1 {
			return &ConfigError{Field: ch.field, Message: "must be at least 1"}
		}
	}
	if c.Harvest.PageSize > 100 {
		return &ConfigError{Field: "PAGE_SIZE", Message: "GitHub search returns at most 100 items per page"}
	}
	if len([]rune(c.Output.Delimiter)) != 1 {
		return &ConfigError{Field: "OUTPUT_DELIMITER", Message: "must be a single character"}
	}
	return c.ValidateStorage()
}

// ValidateStorage validates only the storage settings, for commands that never call GitHub
func (c *Config) ValidateStorage() error {
	switch c.Storage.Type {
	case "none", "sqlite":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
		}
	default:
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'none', 'sqlite' or 'postgres'"}
	}
	return nil
}

// DelimiterRune returns the output delimiter as a rune, defaulting to a comma
func (c *Config) DelimiterRune() rune {
	r := []rune(c.Output.Delimiter)
	if len(r) == 0 {
		return ','
	}
	return r[0]
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
