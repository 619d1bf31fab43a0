package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"car-market-monitor/internal/blocket"
	"car-market-monitor/internal/catalog"
	"car-market-monitor/internal/cleanup"
	"car-market-monitor/internal/config"
	"car-market-monitor/internal/models"
	"car-market-monitor/internal/run"
	"car-market-monitor/internal/scheduler"
	"car-market-monitor/internal/search"
)

func main() {
	var (
		configPath = flag.String("config", getEnv("CONFIG_PATH", "config/monitor.yaml"), "path to config file")
		runType    = flag.String("run-type", models.RunTypeFull, "run type: full or light")
		cronMode   = flag.Bool("cron", false, "stay running and execute runs on the configured schedule")
		backfill   = flag.Bool("backfill", false, "enrich listings with missing details and exit")
		purge      = flag.Bool("purge", false, "purge removed listings past retention and exit")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Monitor: configuration loaded from %s", *configPath)

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	if err := store.Init(); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *purge {
		svc := cleanup.NewService(store, cfg.Cleanup)
		if _, err := svc.Purge(); err != nil {
			log.Fatalf("Purge failed: %v", err)
		}
		return
	}

	client := blocket.NewClient(cfg.Fetch, cfg.UserAgent)
	searcher := buildSearcher(cfg)
	orchestrator := run.NewOrchestrator(store, client, cfg, searcher)

	if *backfill {
		res, err := orchestrator.Backfill(ctx)
		if err != nil {
			log.Fatalf("Backfill failed after %d enriched: %v", res.Enriched, err)
		}
		log.Printf("Monitor: backfill done (%d enriched, %d no-data, %d failed)",
			res.Enriched, res.NoData, res.Failed)
		return
	}

	if *cronMode {
		cfg.Monitor.CronEnabled = true
		sched := scheduler.NewScheduler(orchestrator, cfg)
		if err := sched.Start(ctx); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
		defer sched.Stop()

		log.Println("Monitor: running in cron mode, press Ctrl+C to stop")
		<-ctx.Done()
		return
	}

	if *runType != models.RunTypeFull && *runType != models.RunTypeLight {
		log.Fatalf("Invalid run type %q, must be full or light", *runType)
	}
	if _, err := orchestrator.Execute(ctx, *runType); err != nil {
		log.Fatalf("Run failed: %v", err)
	}
}

func openStore(cfg *config.Config) (catalog.Store, error) {
	switch cfg.Database.Type {
	case "postgres":
		pg := cfg.Database.Postgres
		log.Println("Monitor: using PostgreSQL")
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
		log.Println("Monitor: using MySQL")
		return catalog.OpenMySQL(
			getEnvOrConfig(my.Host, "DB_HOST", "localhost"),
			portOrDefault(my.Port, 3306),
			getEnvOrConfig(my.User, "DB_USER", "monitor"),
			getEnvOrConfig(my.Password, "DB_PASSWORD", ""),
			getEnvOrConfig(my.Database, "DB_NAME", "car_market"),
		)
	}
}

func buildSearcher(cfg *config.Config) *search.SearchClient {
	if !cfg.Search.Enabled {
		return nil
	}
	ms := cfg.Search.Meilisearch
	searcher := search.NewSearchClient(
		getEnvOrConfig(ms.Host, "MEILISEARCH_HOST", "http://localhost:7700"),
		getEnvOrConfig(ms.APIKey, "MEILISEARCH_KEY", ""),
		ms.Index,
	)
	if err := searcher.InitIndex(); err != nil {
		log.Printf("Warning: failed to initialize search index: %v", err)
	}
	return searcher
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. A second
// signal exits immediately.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Println("Monitor: shutdown requested, finishing current work")
		cancel()
		<-sigs
		log.Println("Monitor: forced exit")
		os.Exit(1)
	}()
	return ctx, cancel
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
