// main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/mihara/supplycheck/cache"
	"github.com/mihara/supplycheck/config"
	"github.com/mihara/supplycheck/database"
	"github.com/mihara/supplycheck/handlers"
	"github.com/mihara/supplycheck/scraper"
	"github.com/mihara/supplycheck/services"
)

func main() {
	log.Println("Starting drug supply status checker...")

	configPath := flag.String("config", "", "path to config.yaml (defaults to standard locations)")
	refreshOnly := flag.Bool("refresh-only", false, "refresh the cached snapshot and exit (for cron)")
	flag.Parse()

	// .env is optional; real deployments set env vars directly.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment overrides from .env")
	}

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	cfg := config.AppConfig
	if cfg.Source.LandingPageURL == "" {
		log.Fatalf("No landing page URL configured (source.landing_page_url or SUPPLYCHECK_LANDING_URL)")
	}
	log.Printf("Configuration loaded. Cache dir: %s, landing page: %s", cfg.Cache.Dir, cfg.Source.LandingPageURL)

	if cfg.Database.Host != "" {
		if err := database.InitDB(cfg.Database); err != nil {
			log.Fatalf("Error initializing database: %v", err)
		}
		defer database.CloseDB()
	} else {
		log.Println("No database configured; snapshot fetch auditing disabled.")
	}

	locator := scraper.NewLocator(cfg.Source.ScrapeTimeout)
	cacheMgr := cache.NewManager(cfg.Cache.Dir, &http.Client{Timeout: cfg.Source.DownloadTimeout}, cfg.Source.FetchRetries, nil)
	service := services.NewSupplyService(cfg.Source.LandingPageURL, locator, cacheMgr, cfg.Cache.Dir, nil)

	// Serve whatever is already on disk immediately, then refresh once.
	service.LoadFromCache()
	result := service.Refresh(context.Background(), false)
	if !result.Success {
		log.Printf("WARN Startup refresh failed: %s", result.Message)
	}

	if *refreshOnly {
		if !result.Success {
			os.Exit(1)
		}
		return
	}

	handler := &handlers.SupplyHandler{
		Service:           service,
		DefaultWindowDays: cfg.Matching.WindowDays,
	}

	http.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintln(w, `{"status": "ok"}`)
	})
	http.HandleFunc("/api/refresh", handler.Refresh)
	http.HandleFunc("/api/check", handler.Check)
	http.HandleFunc("/api/preview", handler.Preview)
	http.HandleFunc("/api/status", handler.Status)
	http.HandleFunc("/api/fetches", handler.History)

	serverAddr := ":" + cfg.Server.Port
	log.Printf("Server starting on http://localhost%s\n", serverAddr)
	if err := http.ListenAndServe(serverAddr, nil); err != nil {
		log.Fatalf("Error starting server: %v", err)
	}
}
