package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/moodflo/moodflo/internal/analysis"
	"github.com/moodflo/moodflo/internal/config"
	"github.com/moodflo/moodflo/internal/gdrive"
	"github.com/moodflo/moodflo/internal/llm"
	"github.com/moodflo/moodflo/internal/registry"
	"github.com/moodflo/moodflo/internal/report"
	"github.com/moodflo/moodflo/internal/server"
	"github.com/moodflo/moodflo/internal/storage"
)

const (
	insightsTemperature = 0.2
	insightsMaxTokens   = 400
)

// reportArchive fans a finished report out to the SQLite archive and the
// on-disk JSON export directory. The archive write is authoritative; an
// export failure is logged and swallowed.
type reportArchive struct {
	store    *storage.SQLiteStore
	exporter *storage.Exporter
}

func (a reportArchive) SaveReport(sessionID string, payload []byte) error {
	if err := a.store.SaveReport(sessionID, payload); err != nil {
		return err
	}
	if err := a.exporter.SaveReport(sessionID, payload); err != nil {
		log.Printf("warning: report export failed for session %s: %v", sessionID, err)
	}
	return nil
}

func main() {
	log.Println("moodflo: starting")

	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	for _, w := range warnings {
		log.Printf("warning: %s", w)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	archive := reportArchive{store: store, exporter: storage.NewExporter(cfg.ExportDir)}

	factory := func(provider, model string) (llm.Client, error) {
		key := cfg.InsightsAPIKey()
		if key == "" {
			return nil, fmt.Errorf("no API key configured for provider %q", provider)
		}
		return llm.NewClient(provider, key, model,
			llm.WithTemperature(insightsTemperature),
			llm.WithMaxTokens(insightsMaxTokens))
	}
	insights := report.NewInsights(cfg.InsightsModel, factory, store)
	generator := report.NewGenerator(archive, insights, 0)

	windowSeconds := cfg.EffectiveWindowSeconds()
	mediaDir := cfg.MediaDir
	reg := registry.New(func(mediaRef string) (analysis.FrameSource, error) {
		path := mediaRef
		if !filepath.IsAbs(path) {
			path = filepath.Join(mediaDir, path)
		}
		return analysis.OpenWAV(path, windowSeconds, nil)
	}, cfg.ParsedBuildInterval())
	reg.SetAggregator(generator)

	hub := server.NewHub(reg, cfg.ParsedReadyTimeout(), cfg.ParsedSubscriberIdleTimeout())
	reg.SetOnTerminal(hub.BroadcastTerminal)
	reg.SetOnDelete(hub.CloseSession)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server.Handler(reg, hub, store)}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http server error: %v", err)
		}
	}()

	sessionIdle := cfg.ParsedSessionIdleTimeout()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := hub.EvictIdle(); n > 0 {
					log.Printf("evicted %d idle subscriber(s)", n)
				}
				if n := reg.EvictIdle(sessionIdle); n > 0 {
					log.Printf("evicted %d idle session(s)", n)
				}
			}
		}
	}()

	if cfg.GDriveFolderID != "" {
		syncer, syncErr := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if syncErr != nil {
			log.Printf("warning: gdrive sync disabled: %v", syncErr)
		} else {
			dbPath := cfg.DBPath
			go func() {
				ticker := time.NewTicker(5 * time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := syncer.SyncArchive(dbPath); err != nil {
							log.Printf("gdrive sync error: %v", err)
						}
					}
				}
			}()
		}
	}

	log.Printf("moodflo: listening on %s", cfg.ListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("moodflo: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("warning: http shutdown failed: %v", err)
	}
}
