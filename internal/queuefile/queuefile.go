package queuefile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"kioskd/internal/models"
)

// Record is a point-in-time snapshot of an order written at every status
// transition. Files are never rewritten; each transition produces a new one,
// so the directory tree doubles as an audit trail.
type Record struct {
	OrderID           string             `json:"order_id"`
	OrderType         models.OrderType   `json:"order_type"`
	RemoteOrderID     string             `json:"remote_order_id,omitempty"`
	RemoteOrderNumber string             `json:"remote_order_number,omitempty"`
	Items             []models.OrderItem `json:"items"`
	ShelfNumbers      []int              `json:"shelf_numbers"`
	CreatedAt         string             `json:"created_at"`
	ProcessingAt      string             `json:"processing_at,omitempty"`
	CompletedAt       string             `json:"completed_at,omitempty"`
	PickupCode        string             `json:"pickup_code,omitempty"`
	TestOrder         bool               `json:"test_order"`
}

// Snapshot builds a Record from the order's current state.
func Snapshot(o *models.Order, shelfNumbers []int) Record {
	rec := Record{
		OrderID:           o.ID,
		OrderType:         o.OrderType,
		RemoteOrderID:     o.RemoteOrderID,
		RemoteOrderNumber: o.RemoteOrderNumber,
		Items:             o.Items,
		ShelfNumbers:      shelfNumbers,
		CreatedAt:         o.CreatedAt.UTC().Format(time.RFC3339),
		PickupCode:        o.PickupCode,
		TestOrder:         o.TestOrder,
	}
	if o.ProcessedAt != nil {
		rec.ProcessingAt = o.ProcessedAt.UTC().Format(time.RFC3339)
	}
	if o.CompletedAt != nil {
		rec.CompletedAt = o.CompletedAt.UTC().Format(time.RFC3339)
	}
	return rec
}

var statusDirs = []string{"pending", "processing", "completed", "failed", "archive"}

type Store struct {
	root string
}

// New creates the status subdirectories under root if they do not exist.
func New(root string) (*Store, error) {
	for _, dir := range statusDirs {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create queue dir %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Write persists one immutable snapshot under the status directory and
// returns the file path. The order id suffix keeps filenames collision-free
// even when two orders transition within the same second.
func (s *Store) Write(rec Record, status models.OrderStatus) (string, error) {
	filename := fmt.Sprintf("%s_%s.json", time.Now().Format("20060102_150405"), rec.OrderID)
	path := filepath.Join(s.root, string(status), filename)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal queue record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write queue file: %w", err)
	}
	return path, nil
}
