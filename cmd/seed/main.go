package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"marketplace-mcp/backend/internal/catalog"
	"marketplace-mcp/backend/internal/config"
	"marketplace-mcp/backend/internal/logging"
	"marketplace-mcp/backend/internal/repository"
	"marketplace-mcp/backend/internal/services"
)

// Writes the bundled catalog feed to the configured catalog path (unless
// one already exists) and synchronizes the registry from it. Intended for
// local development setups.
func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	configFile := flag.String("config", "", "Path to config file")
	feedPath := flag.String("feed", "", "Catalog feed path (overrides config)")
	flag.Parse()

	// Load config
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	path := cfg.Catalog.Path
	if *feedPath != "" {
		path = *feedPath
	}
	if path == "" {
		path = "data/catalog.json"
	}

	// 1. Write the bundled feed, keeping any existing one.
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			log.Fatalf("Failed to create feed directory: %v", err)
		}
		if err := os.WriteFile(path, catalog.DefaultFeed(), 0o644); err != nil {
			log.Fatalf("Failed to write feed: %v", err)
		}
		logger.Info("Wrote bundled catalog feed", "path", path)
	} else {
		logger.Info("Keeping existing catalog feed", "path", path)
	}

	// 2. Load and validate the feed.
	loader, err := catalog.NewLoader(path, logger)
	if err != nil {
		log.Fatalf("Failed to create loader: %v", err)
	}
	descriptors, err := loader.Load()
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	// 3. Synchronize the registry.
	store, err := repository.NewSQLiteRegistryStore(cfg.DB.Path, cfg.DB.MaxConns, logger)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer store.Close()

	marketplace := services.NewMarketplaceService(store, logger)
	count, err := marketplace.SyncCatalog(ctx, descriptors)
	if err != nil {
		log.Fatalf("Failed to sync registry: %v", err)
	}

	logger.Info("Seeding complete!", "descriptors", count, "db", cfg.DB.Path)
}
