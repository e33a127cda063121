package queuefile_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"kioskd/internal/models"
	"kioskd/internal/queuefile"
)

func newStore(t *testing.T) (*queuefile.Store, string) {
	root := t.TempDir()
	st, err := queuefile.New(root)
	assert.NoError(t, err)
	return st, root
}

func TestNewCreatesStatusDirectories(t *testing.T) {
	_, root := newStore(t)
	for _, dir := range []string{"pending", "processing", "completed", "failed", "archive"} {
		info, err := os.Stat(filepath.Join(root, dir))
		assert.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestWritePendingSnapshot(t *testing.T) {
	st, root := newStore(t)

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	order := &models.Order{
		ID:                "abc-123",
		OrderType:         models.OrderTypeKiosk,
		RemoteOrderID:     "555",
		RemoteOrderNumber: "K1",
		Items:             []models.OrderItem{{SKU: "X", Title: "Widget", UnitPrice: 100, Quantity: 2}},
		Status:            models.StatusPending,
		CreatedAt:         created,
	}

	path, err := st.Write(queuefile.Snapshot(order, []int{7, 7}), models.StatusPending)
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "pending"), filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, "_abc-123.json"))

	data, err := os.ReadFile(path)
	assert.NoError(t, err)

	var rec queuefile.Record
	assert.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "abc-123", rec.OrderID)
	assert.Equal(t, models.OrderTypeKiosk, rec.OrderType)
	assert.Equal(t, "555", rec.RemoteOrderID)
	assert.Equal(t, "K1", rec.RemoteOrderNumber)
	assert.Equal(t, []int{7, 7}, rec.ShelfNumbers)
	assert.Equal(t, "2025-03-01T12:00:00Z", rec.CreatedAt)
	assert.False(t, rec.TestOrder)
	assert.Len(t, rec.Items, 1)
	assert.Equal(t, 100.0, rec.Items[0].UnitPrice)
}

func TestTransitionsProduceSeparateFiles(t *testing.T) {
	st, root := newStore(t)

	now := time.Now().UTC()
	processed := now.Add(time.Minute)
	order := &models.Order{
		ID:        "def-456",
		OrderType: models.OrderTypeDelivery,
		Items:     []models.OrderItem{{SKU: "Y", Quantity: 1}},
		Status:    models.StatusPending,
		CreatedAt: now,
	}

	_, err := st.Write(queuefile.Snapshot(order, nil), models.StatusPending)
	assert.NoError(t, err)

	order.Status = models.StatusProcessing
	order.ProcessedAt = &processed
	_, err = st.Write(queuefile.Snapshot(order, nil), models.StatusProcessing)
	assert.NoError(t, err)

	// The pending snapshot stays behind as the audit trail.
	pending, _ := os.ReadDir(filepath.Join(root, "pending"))
	processing, _ := os.ReadDir(filepath.Join(root, "processing"))
	assert.Len(t, pending, 1)
	assert.Len(t, processing, 1)
}

func TestWriteFailedSnapshot(t *testing.T) {
	st, root := newStore(t)

	order := &models.Order{
		ID:        "jkl-012",
		OrderType: models.OrderTypeKiosk,
		Items:     []models.OrderItem{{SKU: "Z", Quantity: 1}},
		Status:    models.StatusFailed,
		CreatedAt: time.Now().UTC(),
	}

	path, err := st.Write(queuefile.Snapshot(order, nil), models.StatusFailed)
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "failed"), filepath.Dir(path))

	failed, err := os.ReadDir(filepath.Join(root, "failed"))
	assert.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestSnapshotTimestamps(t *testing.T) {
	processed := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	completed := time.Date(2025, 3, 1, 13, 5, 0, 0, time.UTC)
	order := &models.Order{
		ID:          "ghi-789",
		OrderType:   models.OrderTypeDelivery,
		PickupCode:  "123456",
		Status:      models.StatusCompleted,
		CreatedAt:   time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC),
		ProcessedAt: &processed,
		CompletedAt: &completed,
	}
	rec := queuefile.Snapshot(order, nil)
	assert.Equal(t, "2025-03-01T13:00:00Z", rec.ProcessingAt)
	assert.Equal(t, "2025-03-01T13:05:00Z", rec.CompletedAt)
	assert.Equal(t, "123456", rec.PickupCode)
}
