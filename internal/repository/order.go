package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"kioskd/internal/models"
)

var (
	ErrDuplicateRemoteOrder = errors.New("remote order id already recorded")
	ErrDuplicatePickupCode  = errors.New("pickup code already in use")
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, order_type, remote_order_id, remote_order_number, items, status, pickup_code, test_order, created_at, processed_at, completed_at`

func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	query := `INSERT INTO order_queue (` + orderColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = r.db.ExecContext(ctx, query,
		o.ID, o.OrderType, nullString(o.RemoteOrderID), nullString(o.RemoteOrderNumber),
		items, o.Status, nullString(o.PickupCode), o.TestOrder,
		o.CreatedAt, o.ProcessedAt, o.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if pqErr.Constraint == "idx_order_queue_pending_pickup_code" {
				return fmt.Errorf("%w: %s", ErrDuplicatePickupCode, o.PickupCode)
			}
			return fmt.Errorf("%w: %s", ErrDuplicateRemoteOrder, o.RemoteOrderID)
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when no order exists.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM order_queue WHERE id=$1`
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	return o, nil
}

// ClaimOldestPending atomically selects the oldest pending order and moves
// it to processing. The claim is a single statement so concurrent callers
// can never claim the same order; SKIP LOCKED keeps racing claimers from
// blocking on each other's row lock. Returns nil, nil when the queue is
// empty.
func (r *OrderRepository) ClaimOldestPending(ctx context.Context) (*models.Order, error) {
	query := `UPDATE order_queue
		SET status='processing', processed_at=$1
		WHERE id = (
			SELECT id FROM order_queue
			WHERE status='pending'
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + orderColumns
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, time.Now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim oldest pending: %w", err)
	}
	return o, nil
}

// ClaimByPickupCode moves the pending delivery-partner order with the given
// code to processing, in the same single-statement manner as
// ClaimOldestPending. Returns nil, nil when no such order exists.
func (r *OrderRepository) ClaimByPickupCode(ctx context.Context, code string) (*models.Order, error) {
	query := `UPDATE order_queue
		SET status='processing', processed_at=$1
		WHERE id = (
			SELECT id FROM order_queue
			WHERE pickup_code=$2 AND status='pending' AND order_type='delivery_partner'
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + orderColumns
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, time.Now().UTC(), code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim by pickup code: %w", err)
	}
	return o, nil
}

// UpdateStatus moves an order from one specific status to another.
// Returns nil, nil when the order no longer carries the expected status,
// which callers treat as a lost race or an illegal transition.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, error) {
	set := `status=$1`
	now := time.Now().UTC()
	switch to {
	case models.StatusProcessing:
		set += `, processed_at=$4`
	case models.StatusCompleted:
		set += `, completed_at=$4`
	}
	query := `UPDATE order_queue SET ` + set + ` WHERE id=$2 AND status=$3 RETURNING ` + orderColumns

	args := []interface{}{to, id, from}
	if to == models.StatusProcessing || to == models.StatusCompleted {
		args = append(args, now)
	}
	o, err := scanOrder(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) CountByStatus(ctx context.Context, status models.OrderStatus) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM order_queue WHERE status=$1`, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// List returns newest-first orders, optionally filtered by status.
func (r *OrderRepository) List(ctx context.Context, status models.OrderStatus, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + orderColumns + ` FROM order_queue`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status=$1`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *OrderRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o           models.Order
		remoteID    sql.NullString
		remoteNum   sql.NullString
		pickupCode  sql.NullString
		items       []byte
		processedAt sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&o.ID, &o.OrderType, &remoteID, &remoteNum, &items, &o.Status,
		&pickupCode, &o.TestOrder, &o.CreatedAt, &processedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	o.RemoteOrderID = remoteID.String
	o.RemoteOrderNumber = remoteNum.String
	o.PickupCode = pickupCode.String
	if processedAt.Valid {
		o.ProcessedAt = &processedAt.Time
	}
	if completedAt.Valid {
		o.CompletedAt = &completedAt.Time
	}
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
