package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"car-market-monitor/internal/blocket"
	"car-market-monitor/internal/catalog"
	"car-market-monitor/internal/cleanup"
	"car-market-monitor/internal/config"
	"car-market-monitor/internal/handlers"
	"car-market-monitor/internal/run"
	"car-market-monitor/internal/scheduler"
	"car-market-monitor/internal/search"
)

func main() {
	configPath := getEnv("CONFIG_PATH", "config/monitor.yaml")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("API: configuration loaded from %s", configPath)

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	var searcher *search.SearchClient
	if cfg.Search.Enabled {
		ms := cfg.Search.Meilisearch
		searcher = search.NewSearchClient(
			getEnvOrConfig(ms.Host, "MEILISEARCH_HOST", "http://localhost:7700"),
			getEnvOrConfig(ms.APIKey, "MEILISEARCH_KEY", ""),
			ms.Index,
		)
		if err := searcher.InitIndex(); err != nil {
			log.Printf("Warning: failed to initialize search index: %v", err)
		}
	}

	client := blocket.NewClient(cfg.Fetch, cfg.UserAgent)
	orchestrator := run.NewOrchestrator(store, client, cfg, searcher)

	sched := scheduler.NewScheduler(orchestrator, cfg)
	ctx := context.Background()
	if err := sched.Start(ctx); err != nil {
		log.Printf("Warning: failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	cleanupService := cleanup.NewService(store, cfg.Cleanup)

	handler := handlers.NewAPIHandler(store, searcher, sched, cleanupService)
	router := handlers.NewRouter(handler, cfg.API)

	addr := getEnvOrConfig(cfg.API.ListenAddr, "LISTEN_ADDR", ":8080")
	log.Printf("API: listening on %s", addr)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func openStore(cfg *config.Config) (catalog.Store, error) {
	switch cfg.Database.Type {
	case "postgres":
		pg := cfg.Database.Postgres
		log.Println("API: using PostgreSQL")
		return catalog.OpenPostgres(
			getEnvOrConfig(pg.Host, "DB_HOST", "localhost"),
			portOrDefault(pg.Port, 5432),
			getEnvOrConfig(pg.User, "DB_USER", "monitor"),
			getEnvOrConfig(pg.Password, "DB_PASSWORD", ""),
			getEnvOrConfig(pg.Database, "DB_NAME", "car_market"),
			pg.SSLMode,
		)
	default:
		my := cfg.Database.MySQL
		log.Println("API: using MySQL")
		return catalog.OpenMySQL(
			getEnvOrConfig(my.Host, "DB_HOST", "localhost"),
			portOrDefault(my.Port, 3306),
			getEnvOrConfig(my.User, "DB_USER", "monitor"),
			getEnvOrConfig(my.Password, "DB_PASSWORD", ""),
			getEnvOrConfig(my.Database, "DB_NAME", "car_market"),
		)
	}
}

func portOrDefault(port, fallback int) int {
	if port > 0 {
		return port
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			return p
		}
	}
	return fallback
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrConfig returns the config value if set, otherwise the environment
// variable, otherwise the default.
func getEnvOrConfig(configValue, envKey, defaultValue string) string {
	if configValue != "" {
		return configValue
	}
	return getEnv(envKey, defaultValue)
}
