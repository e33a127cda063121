package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env"
)

type Config struct {
	Address       string `env:"RUN_ADDRESS" envDefault:":8080"`
	DatabaseDSN   string `env:"DATABASE_DSN" envDefault:"host=localhost user=postgres password=postgres dbname=kiosk sslmode=disable"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	QueueDir      string `env:"ORDER_QUEUE_DIR" envDefault:"./orders"`

	StaffUser string `env:"STAFF_USER" envDefault:"admin"`
	StaffPass string `env:"STAFF_PASS"`

	KafkaBrokers   []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTopic     string        `env:"KAFKA_TOPIC" envDefault:"order-events"`
	OutboxInterval time.Duration `env:"OUTBOX_INTERVAL" envDefault:"5s"`
	OutboxBatch    int           `env:"OUTBOX_BATCH" envDefault:"50"`

	ShopifyStoreURL    string        `env:"SHOPIFY_STORE_URL" envDefault:"your-store.myshopify.com"`
	ShopifyAccessToken string        `env:"SHOPIFY_ACCESS_TOKEN"`
	ShopifyAPIVersion  string        `env:"SHOPIFY_API_VERSION" envDefault:"2024-01"`
	ShopifyLocationID  string        `env:"SHOPIFY_LOCATION_ID"`
	ProductCacheTTL    time.Duration `env:"PRODUCT_CACHE_DURATION" envDefault:"5m"`

	AuditFilter    string        `env:"AUDIT_FILTER"`
	AuditBatchSize int           `env:"AUDIT_BATCH_SIZE" envDefault:"10"`
	AuditFlush     time.Duration `env:"AUDIT_FLUSH_INTERVAL" envDefault:"2s"`
	AuditWorkers   int           `env:"AUDIT_WORKERS" envDefault:"2"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.StaffPass == "" {
		return nil, fmt.Errorf("ENV STAFF_PASS must be set")
	}
	return cfg, nil
}

// Kafka is the broker subset of the configuration, for tools that only
// talk to the events topic.
type Kafka struct {
	Brokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	Topic   string   `env:"KAFKA_TOPIC" envDefault:"order-events"`
}

func LoadKafka() (*Kafka, error) {
	cfg := &Kafka{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
