package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"devconnect/api/internal/app"
	"devconnect/api/internal/broadcast"
	"devconnect/api/internal/collab"
	"devconnect/api/internal/config"
	"devconnect/api/internal/gitrepo"
	"devconnect/api/internal/search"
	"devconnect/api/internal/store"
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

	// Fan-out goes through Redis when configured so that every API instance
	// sees every session's events; otherwise it stays in process.
	var sinks []broadcast.Sink
	var events broadcast.Subscriber
	if cfg.RedisURL != "" {
		log.Printf("Using Redis for code session fan-out")
		redisBus, err := broadcast.NewRedisBus(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisBus.Close()
		sinks = append(sinks, redisBus)
		events = redisBus
	} else {
		log.Printf("Using in-process code session fan-out")
		localBus := broadcast.NewLocalBus(64)
		sinks = append(sinks, localBus)
		events = localBus
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := broadcast.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			log.Fatalf("kafka producer failed: %v", err)
		}
		kafkaSink := broadcast.NewKafkaSink(producer, cfg.KafkaTopic)
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
		log.Printf("Publishing code session events to kafka topic %s", cfg.KafkaTopic)
	}

	dispatcher := broadcast.NewDispatcher(broadcast.Options{QueueSize: cfg.BroadcastQueueSize}, sinks...)
	defer dispatcher.Close()

	directory := collab.NewDirectory(collab.DirectoryConfig{
		Store:       dataStore,
		Broadcaster: dispatcher,
	})

	pgfts := search.NewPgFTS(db)
	var primary search.Engine
	if cfg.MeiliURL != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		primary = meiliClient
	}
	searchService := search.NewService(primary, pgfts)

	var archive *gitrepo.Service
	if cfg.ArchiveDir != "" {
		log.Printf("Archiving ended code sessions under %s", cfg.ArchiveDir)
		archive = gitrepo.New(cfg.ArchiveDir)
	}

	service := app.New(cfg, dataStore, directory, searchService, events, archive)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}
	go searchService.ReindexAllFromPG(ctx, pgfts)

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
		log.Printf("DevConnect code session API listening on %s", cfg.Addr)
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
