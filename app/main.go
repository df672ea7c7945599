package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lysyi3m/rss-digest/app/api"
	"github.com/lysyi3m/rss-digest/app/articles"
	"github.com/lysyi3m/rss-digest/app/cache"
	"github.com/lysyi3m/rss-digest/app/cfg"
	"github.com/lysyi3m/rss-digest/app/database"
	"github.com/lysyi3m/rss-digest/app/feed"
	"github.com/lysyi3m/rss-digest/app/newsletter"
	"github.com/lysyi3m/rss-digest/app/tasks"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// help was shown
		return
	}

	setupLogger(appCfg.Debug)

	slog.Info("Starting RSS Digest server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", appCfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	feedRepo := database.NewFeedRepository(db)
	articleRepo := database.NewArticleRepository(db)

	catalog := feed.NewCatalog(appCfg.CatalogFile)
	if err := catalog.Run(); err != nil {
		slog.Warn("Failed to load feed catalog", "path", appCfg.CatalogFile, "error", err)
	}

	var invalidator articles.FeedCacheInvalidator
	var feedCache api.FeedCache
	if appCfg.RedisAddr != "" {
		redisCache, err := cache.NewCache(context.Background(), appCfg.RedisAddr, appCfg.RedisPassword, appCfg.CacheTTLDuration())
		if err != nil {
			slog.Warn("Redis unavailable, serving feeds without cache", "addr", appCfg.RedisAddr, "error", err)
		} else {
			defer redisCache.Close()
			invalidator = redisCache
			feedCache = redisCache
		}
	}

	httpClient := &http.Client{Timeout: appCfg.FetchTimeoutDuration()}
	fetcher := feed.NewFetcher(httpClient, appCfg.UserAgent, appCfg.FetchTimeoutDuration())

	service := articles.NewService(feedRepo, articleRepo, fetcher, feed.NewParser(), feed.NewNormalizer(), invalidator)
	lifecycle := articles.NewLifecycle(feedRepo, articleRepo, invalidator)

	var newsletterGen api.NewsletterGenerator
	if appCfg.CohereAPIKey != "" {
		producer := newsletter.NewCohereProducer(appCfg.CohereAPIKey, appCfg.CohereModel, nil)
		newsletterGen = newsletter.NewGenerator(articleRepo, producer)
		slog.Info("Newsletter generation enabled", "model", appCfg.CohereModel)
	} else {
		slog.Info("Newsletter generation disabled (COHERE_API_KEY not set)")
	}

	scheduler := tasks.NewScheduler(feedRepo, articleRepo, service, fetcher, feed.NewContentExtractor(), invalidator)
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(feedRepo, articleRepo, service, lifecycle, catalog, newsletterGen, scheduler, feedCache)

	httpServer := &http.Server{
		Addr:        ":" + appCfg.Port,
		Handler:     api.NewServer(handler),
		ReadTimeout: 30 * time.Second,
		// newsletter streams stay open for the whole generation
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig)
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down server gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("RSS Digest server shutdown complete")
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
