package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/biosync/internal/api"
	"example.com/biosync/internal/blobcache"
	"example.com/biosync/internal/config"
	"example.com/biosync/internal/domain"
	"example.com/biosync/internal/freshness"
	"example.com/biosync/internal/outbox"
	persistence "example.com/biosync/internal/persistence/postgres"
	"example.com/biosync/internal/provider"
	"example.com/biosync/internal/provider/oura"
	"example.com/biosync/internal/provider/whoop"
	syncsvc "example.com/biosync/internal/sync"
	httptransport "example.com/biosync/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	db, err := blobcache.Open(cfg.BlobCachePath)
	if err != nil {
		log.Fatalf("failed to open blob cache: %v", err)
	}
	defer db.Close()
	cache := blobcache.New(db)

	recordStore := persistence.NewRecordStore(pool)
	leaseStore := persistence.NewLeaseStore(pool)
	credStore := persistence.NewCredentialStore(pool)
	resolver := freshness.New(recordStore, cache)

	fetchCfg := provider.FetchConfig{
		Timeout:        cfg.ProviderTimeout,
		RequestsPerSec: cfg.ProviderRPS,
		MaxRetries:     uint64(cfg.ProviderMaxRetries),
	}
	providers := map[domain.Source]syncsvc.Provider{
		domain.SourceWhoop: {
			Adapter:    whoop.New(cfg.WhoopBaseURL, credStore, fetchCfg),
			Normalizer: whoop.Normalizer{},
		},
		domain.SourceOura: {
			Adapter:    oura.New(cfg.OuraBaseURL, credStore, fetchCfg),
			Normalizer: oura.Normalizer{},
		},
	}

	engine := syncsvc.NewService(recordStore, cache, leaseStore, resolver, providers,
		syncsvc.WithLeaseTTL(cfg.LeaseTTL),
		syncsvc.WithRunRecorder(recordStore),
	)

	producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
	dispatcher := outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize)

	go dispatcher.Start(ctx)

	handler := api.NewHandler(engine, credStore, recordStore, cache)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, logger(mux))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("biosync listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	dispatcher.Wait()
}
