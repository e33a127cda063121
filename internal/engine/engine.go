package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"kioskd/internal/audit"
	"kioskd/internal/models"
	"kioskd/internal/queuefile"
	"kioskd/internal/repository"
	"kioskd/internal/shopify"
)

var (
	ErrEmptyCart         = errors.New("cart has no items")
	ErrDuplicateOrder    = errors.New("remote order already registered")
	ErrInvalidItem       = errors.New("invalid cart item")
	ErrRemoteCreate      = errors.New("remote order creation failed")
	ErrPersistFailed     = errors.New("local order persistence failed")
	ErrNoPendingOrders   = errors.New("no pending orders")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidPickupCode = errors.New("invalid pickup code")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRemoteFulfill     = errors.New("remote fulfillment failed")
)

// OrderStore is the slice of the order repository the engine drives.
type OrderStore interface {
	Create(ctx context.Context, o *models.Order) error
	GetByID(ctx context.Context, id string) (*models.Order, error)
	ClaimOldestPending(ctx context.Context) (*models.Order, error)
	ClaimByPickupCode(ctx context.Context, code string) (*models.Order, error)
	UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus) (*models.Order, error)
}

// Catalog is the external commerce platform the engine coordinates with.
type Catalog interface {
	CreateOrder(ctx context.Context, items []models.OrderItem, orderType models.OrderType) (*shopify.RemoteOrder, error)
	FulfillOrder(ctx context.Context, remoteOrderID string) error
}

type ShelfResolver interface {
	Resolve(ctx context.Context, items []models.OrderItem) ([]int, error)
}

type QueueWriter interface {
	Write(rec queuefile.Record, status models.OrderStatus) (string, error)
}

type Recorder interface {
	Log(record audit.Entry)
}

// TaskCreator records reconciliation discrepancies in the outbox.
type TaskCreator interface {
	CreateTask(ctx context.Context, eventData []byte) error
}

// Engine owns the order state machine: pending -> processing -> completed,
// with failed reachable from any non-terminal state. It is the only writer
// of order status and the only caller of the platform's order mutations.
type Engine struct {
	store   OrderStore
	catalog Catalog
	shelves ShelfResolver
	files   QueueWriter
	audit   Recorder
	outbox  TaskCreator

	now func() time.Time
}

func New(store OrderStore, catalog Catalog, shelves ShelfResolver, files QueueWriter, rec Recorder, outbox TaskCreator) *Engine {
	return &Engine{
		store:   store,
		catalog: catalog,
		shelves: shelves,
		files:   files,
		audit:   rec,
		outbox:  outbox,
		now:     time.Now,
	}
}

// Cart is an explicit, caller-owned value; the engine never keeps cart
// state between calls.
type Cart struct {
	Items     []models.OrderItem
	TestOrder bool
}

type CheckoutResult struct {
	OrderID      string
	OrderNumber  string
	ShelfNumbers []int
}

// KioskOrderNumber is the customer-facing number printed on the receipt.
func KioskOrderNumber(t time.Time) string {
	return "K" + t.Format("20060102150405")
}

// Checkout creates the platform order first, then persists the local
// record. A platform failure aborts with nothing persisted; a local
// failure after the platform call is a reconciliation discrepancy that is
// recorded, never swallowed.
func (e *Engine) Checkout(ctx context.Context, cart Cart) (*CheckoutResult, error) {
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}
	for _, item := range cart.Items {
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidItem, err)
		}
	}

	remote, err := e.catalog.CreateOrder(ctx, cart.Items, models.OrderTypeKiosk)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteCreate, err)
	}

	now := e.now().UTC()
	order := &models.Order{
		ID:                uuid.NewString(),
		OrderType:         models.OrderTypeKiosk,
		RemoteOrderID:     remote.ID,
		RemoteOrderNumber: remote.OrderNumber,
		Items:             cart.Items,
		Status:            models.StatusPending,
		TestOrder:         cart.TestOrder,
		CreatedAt:         now,
	}

	shelves, err := e.shelves.Resolve(ctx, cart.Items)
	if err != nil {
		e.recordReconciliation(order, fmt.Sprintf("shelf resolution failed: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	if err := e.store.Create(ctx, order); err != nil {
		e.recordReconciliation(order, fmt.Sprintf("database write failed: %v", err))
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	e.writeSnapshot(order, shelves, models.StatusPending)
	e.logTransition(order.ID, "", models.StatusPending, "kiosk checkout")

	return &CheckoutResult{
		OrderID:      order.ID,
		OrderNumber:  KioskOrderNumber(now),
		ShelfNumbers: shelves,
	}, nil
}

// RegisterDeliveryOrder queues an order placed through a delivery partner
// and returns it with a fresh pickup code. The code is unique among
// currently-pending delivery orders; a collision on that index triggers
// another draw, any other persistence error surfaces immediately.
func (e *Engine) RegisterDeliveryOrder(ctx context.Context, remoteOrderID, remoteOrderNumber string, items []models.OrderItem) (*models.Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidItem, err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		order := &models.Order{
			ID:                uuid.NewString(),
			OrderType:         models.OrderTypeDelivery,
			RemoteOrderID:     remoteOrderID,
			RemoteOrderNumber: remoteOrderNumber,
			Items:             items,
			Status:            models.StatusPending,
			PickupCode:        generatePickupCode(),
			CreatedAt:         e.now().UTC(),
		}
		err := e.store.Create(ctx, order)
		if err == nil {
			e.writeSnapshot(order, nil, models.StatusPending)
			e.logTransition(order.ID, "", models.StatusPending, "delivery partner order registered")
			return order, nil
		}
		if errors.Is(err, repository.ErrDuplicatePickupCode) {
			lastErr = err
			continue
		}
		if errors.Is(err, repository.ErrDuplicateRemoteOrder) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, remoteOrderID)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	return nil, fmt.Errorf("%w: %v", ErrPersistFailed, lastErr)
}

func generatePickupCode() string {
	return fmt.Sprintf("%06d", 100000+rand.Intn(900000))
}

type Claim struct {
	Order        *models.Order
	ShelfNumbers []int
}

// ClaimNext hands the oldest pending order to the retrieval system and
// moves it to processing. The underlying claim is a single atomic
// read-modify-write, so concurrent pollers each receive a distinct order.
func (e *Engine) ClaimNext(ctx context.Context) (*Claim, error) {
	order, err := e.store.ClaimOldestPending(ctx)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrNoPendingOrders
	}

	shelves, err := e.shelves.Resolve(ctx, order.Items)
	if err != nil {
		// The claim already happened; a resolver failure must not strand
		// the order, so it goes out with no retrieval instructions.
		log.Printf("Shelf resolution failed for claimed order %s: %v", order.ID, err)
		shelves = []int{}
	}

	e.writeSnapshot(order, shelves, models.StatusProcessing)
	e.logTransition(order.ID, models.StatusPending, models.StatusProcessing, "claimed by retrieval system")

	return &Claim{Order: order, ShelfNumbers: shelves}, nil
}

// VerifyPickup matches a delivery-partner pickup code exactly and moves the
// order to processing. A miss is ErrInvalidPickupCode, which is a user
// outcome, not a system fault.
func (e *Engine) VerifyPickup(ctx context.Context, code string) (*models.Order, error) {
	if code == "" {
		return nil, ErrInvalidPickupCode
	}
	order, err := e.store.ClaimByPickupCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrInvalidPickupCode
	}

	e.writeSnapshot(order, nil, models.StatusProcessing)
	e.logTransition(order.ID, models.StatusPending, models.StatusProcessing, "pickup code verified")
	return order, nil
}

// Complete finishes a processing order: the platform fulfillment call goes
// out first and the local row advances only after it succeeds, so a failed
// remote call leaves the order in processing for a safe retry. The status
// gate also keeps the non-idempotent fulfillment call from ever being
// issued twice for one order.
func (e *Engine) Complete(ctx context.Context, orderID string) error {
	order, err := e.store.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrOrderNotFound
	}
	if order.Status != models.StatusProcessing {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidTransition, orderID, order.Status)
	}

	// Two racing completions can both pass the gate above and both reach
	// the fulfillment call before the CAS below rejects the loser. There is
	// one retrieval poller per installation, so the window is left open
	// rather than serialized with an extra lock.

	// Orders without a platform counterpart and test orders skip the
	// remote side effect and only advance locally.
	if order.RemoteOrderID != "" && !order.TestOrder {
		if err := e.catalog.FulfillOrder(ctx, order.RemoteOrderID); err != nil {
			return fmt.Errorf("%w: %v", ErrRemoteFulfill, err)
		}
	}

	updated, err := e.store.UpdateStatus(ctx, orderID, models.StatusProcessing, models.StatusCompleted)
	if err != nil {
		return err
	}
	if updated == nil {
		return fmt.Errorf("%w: order %s left processing concurrently", ErrInvalidTransition, orderID)
	}

	e.writeSnapshot(updated, nil, models.StatusCompleted)
	e.logTransition(orderID, models.StatusProcessing, models.StatusCompleted, "order completed")
	return nil
}

// SetStatus is the operator escape hatch for forcing a valid transition,
// typically into failed. It never triggers platform calls.
func (e *Engine) SetStatus(ctx context.Context, orderID string, status models.OrderStatus, message string) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}
	order, err := e.store.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return ErrOrderNotFound
	}
	if !models.CanTransition(order.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, status)
	}

	updated, err := e.store.UpdateStatus(ctx, orderID, order.Status, status)
	if err != nil {
		return err
	}
	if updated == nil {
		return fmt.Errorf("%w: order %s changed concurrently", ErrInvalidTransition, orderID)
	}

	e.writeSnapshot(updated, nil, status)
	if message == "" {
		message = "status forced by operator"
	}
	e.logTransition(orderID, order.Status, status, message)
	return nil
}

func (e *Engine) writeSnapshot(o *models.Order, shelves []int, status models.OrderStatus) {
	if _, err := e.files.Write(queuefile.Snapshot(o, shelves), status); err != nil {
		// The file mirror is an audit trail, not the source of truth; a
		// failed write is logged and the transition stands.
		log.Printf("Queue file write failed for order %s (%s): %v", o.ID, status, err)
	}
}

func (e *Engine) logTransition(orderID string, from, to models.OrderStatus, message string) {
	e.audit.Log(audit.Entry{
		Timestamp: e.now().UTC(),
		OrderID:   orderID,
		OldState:  string(from),
		NewState:  string(to),
		Message:   message,
	})
}

// recordReconciliation flags a platform order that has no local record so
// an operator (or a downstream consumer of the outbox topic) can repair
// the discrepancy.
func (e *Engine) recordReconciliation(o *models.Order, reason string) {
	log.Printf("RECONCILIATION: remote order %s (number %s) has no local record: %s",
		o.RemoteOrderID, o.RemoteOrderNumber, reason)
	entry := audit.Entry{
		Timestamp: e.now().UTC(),
		OrderID:   o.ID,
		Message:   fmt.Sprintf("reconciliation required: remote order %s unrecorded locally: %s", o.RemoteOrderID, reason),
	}
	e.audit.Log(entry)
	if e.outbox != nil {
		data, err := json.Marshal(entry)
		if err == nil {
			if err := e.outbox.CreateTask(context.Background(), data); err != nil {
				log.Printf("Failed to record reconciliation task for remote order %s: %v", o.RemoteOrderID, err)
			}
		}
	}
}
