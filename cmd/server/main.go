package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"marketplace-mcp/backend/internal/api"
	"marketplace-mcp/backend/internal/catalog"
	"marketplace-mcp/backend/internal/config"
	"marketplace-mcp/backend/internal/logging"
	"marketplace-mcp/backend/internal/mcp"
	"marketplace-mcp/backend/internal/repository"
	"marketplace-mcp/backend/internal/services"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "marketplaced",
		Short: "Marketplace registry and recommendation service",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "sync",
		Short: "Load the catalog feed and synchronize the registry once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync()
		},
	})

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Command failed: %v", err)
	}
}

func runServe() error {
	ctx := context.Background()

	// Initialize logging
	logger := logging.NewLogger()

	// Load configuration
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return fmt.Errorf("configuration loading failed: %w", err)
	}
	logger.Info("Configuration loaded",
		"db_path", cfg.DB.Path,
		"catalog_path", cfg.Catalog.Path,
		"memory_base_url", cfg.Memory.BaseURL,
		"memory_key_len", len(cfg.Memory.APIKey),
	)

	logger.Info("Starting Marketplace Registry Service")

	// Initialize the registry store
	store, err := repository.NewSQLiteRegistryStore(cfg.DB.Path, cfg.DB.MaxConns, logger)
	if err != nil {
		logger.Error("Failed to initialize store", "error", err)
		return fmt.Errorf("store initialization failed: %w", err)
	}
	defer store.Close()

	logger.Info("Registry store opened")

	// Initialize service layer
	marketplace := services.NewMarketplaceService(store, logger)
	memoryClient := services.NewHTTPMemoryClient(ctx,
		cfg.Memory.BaseURL, cfg.Memory.APIKey, cfg.Memory.UserID,
		time.Duration(cfg.Memory.TimeoutSeconds)*time.Second, logger)

	logger.Info("Service layer initialized")

	// One-time catalog sync. A bad feed leaves the existing registry
	// queryable; it is not fatal for the server.
	if err := syncCatalog(ctx, cfg, marketplace, logger); err != nil {
		logger.Error("Startup catalog sync failed", "error", err)
	}

	// Create Echo server
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// Mount REST API handlers
	apiHandler := api.NewHandler(marketplace)
	apiGroup := e.Group("/api/v1")
	api.RegisterHandlers(apiGroup, apiHandler)
	e.GET("/health", apiHandler.HandleHealth)

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(marketplace, memoryClient)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", cfg.Server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
			return err
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig)

		// Create shutdown context with timeout
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
	return nil
}

func runSync() error {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}

	store, err := repository.NewSQLiteRegistryStore(cfg.DB.Path, cfg.DB.MaxConns, logger)
	if err != nil {
		return fmt.Errorf("store initialization failed: %w", err)
	}
	defer store.Close()

	marketplace := services.NewMarketplaceService(store, logger)
	return syncCatalog(ctx, cfg, marketplace, logger)
}

func syncCatalog(ctx context.Context, cfg *config.Config, marketplace *services.MarketplaceService, logger *logging.Logger) error {
	loader, err := catalog.NewLoader(cfg.Catalog.Path, logger)
	if err != nil {
		return err
	}
	descriptors, err := loader.Load()
	if err != nil {
		return err
	}
	count, err := marketplace.SyncCatalog(ctx, descriptors)
	if err != nil {
		return err
	}
	logger.Info("Registry synchronized", "descriptors", count)
	return nil
}
