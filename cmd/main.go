package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kioskd/internal/audit"
	"kioskd/internal/config"
	"kioskd/internal/db"
	"kioskd/internal/engine"
	"kioskd/internal/kafka"
	"kioskd/internal/processor"
	"kioskd/internal/queuefile"
	"kioskd/internal/repository"
	"kioskd/internal/server"
	"kioskd/internal/shelf"
	"kioskd/internal/shopify"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DatabaseDSN, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	defer database.Close()

	orderRepo := repository.NewOrderRepository(database)
	shelfRepo := repository.NewShelfRepository(database)
	taskRepo := repository.NewPostgresTaskRepository(database)

	files, err := queuefile.New(cfg.QueueDir)
	if err != nil {
		return err
	}

	catalog := shopify.NewClient(
		cfg.ShopifyStoreURL, cfg.ShopifyAccessToken,
		cfg.ShopifyAPIVersion, cfg.ShopifyLocationID,
		cfg.ProductCacheTTL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auditPool := audit.NewWorkerPool(
		audit.PoolConfig{
			BatchSize:   cfg.AuditBatchSize,
			Timeout:     cfg.AuditFlush,
			ChannelSize: 256,
		},
		audit.NewDBProcessor(database),
		audit.NewOutboxProcessor(taskRepo),
		&audit.StdoutProcessor{Filter: cfg.AuditFilter},
	)
	auditPool.Start(ctx, cfg.AuditWorkers)

	// Kafka is best effort at startup: the outbox keeps events durable
	// until a broker is reachable on the next boot.
	if producer, err := kafka.NewEventProducer(cfg.KafkaBrokers); err != nil {
		log.Printf("Kafka unavailable, outbox publication disabled: %v", err)
	} else {
		defer producer.Close()
		proc := processor.NewTaskProcessor(taskRepo, producer, cfg.KafkaTopic, cfg.OutboxInterval, cfg.OutboxBatch)
		go proc.Start(ctx)
	}

	resolver := shelf.NewResolver(shelfRepo)
	eng := engine.New(orderRepo, catalog, resolver, files, auditPool, taskRepo)

	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      server.New(eng, orderRepo, shelfRepo, catalog, auditPool, cfg.StaffUser, cfg.StaffPass).Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Server listen on %s...", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe(): %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		return err
	}
	auditPool.Shutdown(cancel)

	log.Println("Server stopped gracefully")
	return nil
}
