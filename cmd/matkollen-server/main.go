package main

import (
	"flag"
	"net/http"
	"time"

	"matkollen-backend/lib/browser"
	"matkollen-backend/lib/configutil"
	"matkollen-backend/lib/scrapers/willys"
	"matkollen-backend/lib/serviceutil"
	"matkollen-backend/lib/sqliteutil"
	"matkollen-backend/services/grocery"
	"matkollen-backend/services/sessions"
)

type SessionsConfig struct {
	Database sqliteutil.Config `json:"database"`
	CacheDir string            `json:"cache_dir"`
}

type GroceryConfig struct {
	BaseUrl           string                  `json:"base_url"`
	PoolCapacity      int                     `json:"pool_capacity"`
	SyncIntervalHours int                     `json:"sync_interval_hours"`
	Sync              grocery.SyncConfig      `json:"sync"`
	Ingestor          grocery.IngestorConfig  `json:"ingestor"`
	Extractor         grocery.ExtractorConfig `json:"extractor"`
	Smtp              grocery.SmtpConfig      `json:"smtp"`
}

type Config struct {
	Port     int            `json:"port"`
	Sessions SessionsConfig `json:"sessions"`
	Grocery  GroceryConfig  `json:"grocery"`
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	syncNow := flag.Bool("sync", false, "Run a full receipt sync immediately on start.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	InitTelemetry(ctx, *verbose)

	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}

	browsers := browser.NewService()
	go func() {
		<-ctx.Done()
		browsers.Shutdown()
	}()

	database, err := cfg.Sessions.Database.Open(sessions.Schema)
	if err != nil {
		serviceutil.Fatal("open session database", err)
	}
	store := sessions.NewStore(database, cfg.Sessions.CacheDir)

	engine := willys.NewEngine(browsers, store, willys.EngineOptions{
		BaseUrl: cfg.Grocery.BaseUrl,
	})
	pool := grocery.NewPool(browsers, engine, cfg.Grocery.PoolCapacity)
	engine.SetAdopter(pool)
	go func() {
		<-ctx.Done()
		pool.Close()
	}()

	var ingestor grocery.Ingestor
	if cfg.Grocery.Ingestor.BaseUrl != "" {
		ingestor = grocery.NewHttpIngestor(cfg.Grocery.Ingestor)
	}
	var extractor grocery.TextExtractor
	if cfg.Grocery.Extractor.BaseUrl != "" {
		extractor = grocery.NewHttpExtractor(cfg.Grocery.Extractor)
	}

	syncConfig := cfg.Grocery.Sync
	syncConfig.Interval = time.Duration(cfg.Grocery.SyncIntervalHours) * time.Hour

	service := grocery.NewService(ctx, grocery.Options{
		Engine:    engine,
		Store:     store,
		Pool:      pool,
		Ingestor:  ingestor,
		Extractor: extractor,
		Smtp:      cfg.Grocery.Smtp,
		Sync:      syncConfig,
	})

	if *syncNow {
		go service.SyncAll(ctx)
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, service)

	go serviceutil.StartHttpServer(cfg.Port, mux)
	<-ctx.Done()
}
