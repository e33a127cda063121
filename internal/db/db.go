package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// Open connects to the kiosk database and applies any pending migrations.
// The pool is sized for one kiosk plus one retrieval poller; there is no
// fan-out worth more connections.
func Open(dsn, migrationsDir string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open kiosk database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping kiosk database: %w", err)
	}
	if err := goose.Up(conn, migrationsDir); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return conn, nil
}
