package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"hearth/api/internal/app"
	"hearth/api/internal/blob"
	"hearth/api/internal/config"
	"hearth/api/internal/feed"
	"hearth/api/internal/jobs"
	"hearth/api/internal/live"
	"hearth/api/internal/logger"
	"hearth/api/internal/search"
	"hearth/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{
		Env:     cfg.LogEnv,
		Service: cfg.LogService,
		Debug:   cfg.LogDebug,
	})
	lg := logger.L()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	publisher := live.NewPublisherWithClient(redisClient)
	hub := live.NewHub(redisClient, lg)
	queue := jobs.NewQueueWithClient(redisClient)
	tracker := feed.NewTracker(redisClient)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var attachments app.Attachments
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobStore, err := blob.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("blob store connection failed: %v", err)
		}
		attachments = blobStore
	} else {
		lg.Warn("MINIO_ENDPOINT not set, attachment downloads disabled")
	}

	service := app.New(dataStore, publisher, queue, tracker, searchService, lg)

	httpServer := app.NewHTTPServer(service, searchService, attachments, hub, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		lg.Info("hearth api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Error("shutdown error", "err", err)
	}
}
