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

	"crewsync/api/internal/app"
	"crewsync/api/internal/assets"
	"crewsync/api/internal/assist"
	"crewsync/api/internal/authpw"
	"crewsync/api/internal/config"
	"crewsync/api/internal/email"
	"crewsync/api/internal/search"
	"crewsync/api/internal/session"
	"crewsync/api/internal/store"
	appsync "crewsync/api/internal/sync"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	authService := authpw.NewService(dataStore)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		// Catch up on anything written while the service was down.
		go searchService.ReindexAllFromPG(ctx)
	}

	hub := appsync.NewHub()
	var events appsync.Publisher = hub

	// Redis backs refresh sessions and fans sync events out across
	// instances. Without it both fall back to single-instance mode.
	var refresh app.RefreshStore = dataStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer client.Close()

		log.Printf("Using Redis for refresh token storage")
		refresh = session.NewRedisStoreWithClient(client)

		bridge := appsync.NewRedisBridge(client, hub)
		defer bridge.Close()
		events = bridge
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
	}

	assetsService, err := assets.NewService(ctx, assets.Config{
		Endpoint:  cfg.MinIOEndpoint,
		AccessKey: cfg.MinIOAccessKey,
		SecretKey: cfg.MinIOSecretKey,
		Bucket:    cfg.MinIOBucket,
		UseSSL:    cfg.MinIOUseSSL,
		PublicURL: cfg.MinIOPublicURL,
	})
	if err != nil {
		log.Fatalf("asset storage failed: %v", err)
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	assistService := assist.NewService(assist.Config{
		URL:    cfg.AssistURL,
		APIKey: cfg.AssistAPIKey,
	})

	service := app.New(cfg, dataStore, refresh, authService, emailService, assetsService, assistService, searchService, hub, events)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: /api/stream holds its connection open.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("CrewSync API listening on %s", cfg.Addr)
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
		log.Printf("shutdown error: %v", err)
	}
}
