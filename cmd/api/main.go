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

	"formhub/api/internal/app"
	"formhub/api/internal/config"
	"formhub/api/internal/identity"
	"formhub/api/internal/salesforce"
	"formhub/api/internal/search"
	"formhub/api/internal/storage"
	"formhub/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		searchService.ReindexAllFromPG(ctx)
	}

	var images *storage.ImageStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		images, err = storage.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioPublicURL, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object storage failed: %v", err)
		}
	} else {
		log.Printf("Object storage not configured; image cleanup disabled")
	}

	var cache *identity.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		cache, err = identity.NewCache(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		log.Printf("Using Redis caller cache")
	}
	resolver := identity.NewResolver([]byte(cfg.JWTSecret), dataStore, cache)

	var crm *salesforce.Client
	if strings.TrimSpace(cfg.SalesforceClientID) != "" {
		crm = salesforce.New(cfg.SalesforceAuthURL, cfg.SalesforceInstanceURL, cfg.SalesforceClientID, cfg.SalesforceClientSecret)
	}

	service := app.New(cfg, dataStore, resolver, searchService, images, crm, cache)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("FormHub API listening on %s", cfg.Addr)
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
