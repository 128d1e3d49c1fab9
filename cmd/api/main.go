package main

import (
	"fmt"
	"os"

	"github.com/kurihiro0119/github-lab-harvester/internal/aggregator"
	"github.com/kurihiro0119/github-lab-harvester/internal/api"
	"github.com/kurihiro0119/github-lab-harvester/internal/config"
	"github.com/kurihiro0119/github-lab-harvester/internal/logger"
	"github.com/kurihiro0119/github-lab-harvester/internal/storage"
	"github.com/kurihiro0119/github-lab-harvester/internal/storage/postgres"
	"github.com/kurihiro0119/github-lab-harvester/internal/storage/sqlite"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logger.Named("api")

	if err := cfg.ValidateStorage(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Initialize storage
	var store storage.Storage
	switch cfg.Storage.Type {
	case "postgres":
		store, err = postgres.NewPostgresStorage(cfg.Storage.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize PostgreSQL storage")
		}
	case "sqlite":
		store, err = sqlite.NewSQLiteStorage(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize SQLite storage")
		}
	default:
		log.Fatal().Str("storage_type", cfg.Storage.Type).Msg("the API server needs STORAGE_TYPE sqlite or postgres")
	}
	defer store.Close()

	// Initialize handler
	handler := api.NewHandler(store, aggregator.NewAggregator(store))

	// Setup routes
	router := api.SetupRoutes(handler, log)

	// Start server
	addr := fmt.Sprintf("%s:%s", cfg.API.Host, cfg.API.Port)
	log.Info().Str("addr", addr).Str("storage", cfg.Storage.Type).Msg("starting API server")

	if err := router.Run(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start server: %v\n", err)
		os.Exit(1)
	}
}
