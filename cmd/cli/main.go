package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-lab-harvester/internal/collector"
	"github.com/kurihiro0119/github-lab-harvester/internal/config"
	"github.com/kurihiro0119/github-lab-harvester/internal/logger"
	"github.com/kurihiro0119/github-lab-harvester/internal/storage"
	"github.com/kurihiro0119/github-lab-harvester/internal/storage/postgres"
	"github.com/kurihiro0119/github-lab-harvester/internal/storage/sqlite"
	"github.com/kurihiro0119/github-lab-harvester/pkg/client"
)

var (
	cfgFile    string
	outputJSON bool
	remote     bool
	endpoint   string
)

var rootCmd = &cobra.Command{
	Use:   "lab-harvest",
	Short: "GitHub repository research harvester",
	Long: `A CLI tool for harvesting metadata of popular GitHub repositories and the
review activity of their pull requests, and for answering research questions
over the collected datasets.

Datasets are written as delimited files under the output directory and, when
STORAGE_TYPE is sqlite or postgres, mirrored into a database per harvest run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file (default $HARVEST_CONFIG, then .env and environment)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&remote, "remote", false, "read runs from the API server instead of local storage")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "API server URL for --remote (default API_ENDPOINT)")

	rootCmd.AddCommand(harvestCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(ckCmd)
	rootCmd.AddCommand(benchmarkCmd)
	rootCmd.AddCommand(showCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and initializes the root logger from it
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Init(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM so workers stop and runs are marked failed
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// getStorage opens the configured database, or returns nil when storage is disabled
func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Storage.Type {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.Storage.PostgresURL)
	case "sqlite":
		return sqlite.NewSQLiteStorage(cfg.Storage.SQLitePath)
	default:
		return nil, nil
	}
}

// requireStorage is getStorage for commands that cannot work without a database
func requireStorage(cfg *config.Config) (storage.Storage, error) {
	if err := cfg.ValidateStorage(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	store, err := getStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("STORAGE_TYPE is %q: set it to sqlite or postgres, or use --remote", cfg.Storage.Type)
	}
	return store, nil
}

func newAPIClient(cfg *config.Config) *client.Client {
	url := endpoint
	if url == "" {
		url = cfg.API.Endpoint
	}
	return client.NewClient(url)
}

func newGitHubClient(cfg *config.Config) (*collector.Client, error) {
	governor := collector.NewGovernor(collector.GovernorOptions{
		Margin:           cfg.RateLimit.Margin,
		Buffer:           cfg.RateLimit.Buffer,
		TransientBackoff: cfg.RateLimit.TransientBackoff,
		Logger:           logger.Named("governor"),
	})
	return collector.NewClient(collector.ClientConfig{
		Token:      cfg.GitHub.Token,
		BaseURL:    cfg.GitHub.APIURL,
		GraphQLURL: cfg.GitHub.GraphQLURL,
	}, governor)
}

func outputPath(cfg *config.Config, name string) string {
	return filepath.Join(cfg.Output.Dir, name)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
