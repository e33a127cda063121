// eventtail follows the order events topic and prints every message, which
// is the quickest way to watch the outbox drain on a running installation.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"kioskd/internal/config"
	"kioskd/internal/kafka"
)

func main() {
	cfg, err := config.LoadKafka()
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := kafka.ConsumeOrderEvents(ctx, cfg.Brokers, "kioskd-eventtail", cfg.Topic); err != nil {
		log.Fatal(err)
	}
}
