package engine

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"kioskd/internal/audit"
	"kioskd/internal/models"
	"kioskd/internal/queuefile"
	"kioskd/internal/repository"
	"kioskd/internal/shopify"
)

type fakeStore struct {
	createFn func(*models.Order) error
	getFn    func(string) (*models.Order, error)
	claimFn  func() (*models.Order, error)
	codeFn   func(string) (*models.Order, error)
	updateFn func(id string, from, to models.OrderStatus) (*models.Order, error)

	created []*models.Order
	updates int
}

func (f *fakeStore) Create(_ context.Context, o *models.Order) error {
	if f.createFn != nil {
		if err := f.createFn(o); err != nil {
			return err
		}
	}
	f.created = append(f.created, o)
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*models.Order, error) {
	if f.getFn != nil {
		return f.getFn(id)
	}
	return nil, nil
}

func (f *fakeStore) ClaimOldestPending(_ context.Context) (*models.Order, error) {
	if f.claimFn != nil {
		return f.claimFn()
	}
	return nil, nil
}

func (f *fakeStore) ClaimByPickupCode(_ context.Context, code string) (*models.Order, error) {
	if f.codeFn != nil {
		return f.codeFn(code)
	}
	return nil, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, from, to models.OrderStatus) (*models.Order, error) {
	f.updates++
	if f.updateFn != nil {
		return f.updateFn(id, from, to)
	}
	return &models.Order{ID: id, Status: to}, nil
}

type fakeCatalog struct {
	remote       *shopify.RemoteOrder
	createErr    error
	fulfillErr   error
	createCalls  int
	fulfillCalls int
}

func (f *fakeCatalog) CreateOrder(_ context.Context, _ []models.OrderItem, _ models.OrderType) (*shopify.RemoteOrder, error) {
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.remote, nil
}

func (f *fakeCatalog) FulfillOrder(_ context.Context, _ string) error {
	f.fulfillCalls++
	return f.fulfillErr
}

type fakeResolver struct {
	shelves []int
	err     error
}

func (f *fakeResolver) Resolve(_ context.Context, _ []models.OrderItem) ([]int, error) {
	return f.shelves, f.err
}

type fakeFiles struct {
	written []models.OrderStatus
	err     error
}

func (f *fakeFiles) Write(_ queuefile.Record, status models.OrderStatus) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.written = append(f.written, status)
	return "path", nil
}

type fakeRecorder struct {
	entries []audit.Entry
}

func (f *fakeRecorder) Log(record audit.Entry) {
	f.entries = append(f.entries, record)
}

type fakeOutbox struct {
	tasks [][]byte
}

func (f *fakeOutbox) CreateTask(_ context.Context, data []byte) error {
	f.tasks = append(f.tasks, data)
	return nil
}

type deps struct {
	store    *fakeStore
	catalog  *fakeCatalog
	resolver *fakeResolver
	files    *fakeFiles
	recorder *fakeRecorder
	outbox   *fakeOutbox
}

func newEngine(t *testing.T) (*Engine, *deps) {
	t.Helper()
	d := &deps{
		store:    &fakeStore{},
		catalog:  &fakeCatalog{remote: &shopify.RemoteOrder{ID: "900", OrderNumber: "1042"}},
		resolver: &fakeResolver{shelves: []int{3, 3}},
		files:    &fakeFiles{},
		recorder: &fakeRecorder{},
		outbox:   &fakeOutbox{},
	}
	e := New(d.store, d.catalog, d.resolver, d.files, d.recorder, d.outbox)
	e.now = func() time.Time { return time.Date(2025, 4, 2, 9, 30, 15, 0, time.UTC) }
	return e, d
}

func cart() Cart {
	return Cart{Items: []models.OrderItem{{SKU: "A", Title: "Apple", UnitPrice: 150, Quantity: 2}}}
}

func TestCheckout(t *testing.T) {
	e, d := newEngine(t)

	res, err := e.Checkout(context.Background(), cart())
	assert.NoError(t, err)
	assert.NotEmpty(t, res.OrderID)
	assert.Equal(t, "K20250402093015", res.OrderNumber)
	assert.Equal(t, []int{3, 3}, res.ShelfNumbers)

	assert.Len(t, d.store.created, 1)
	stored := d.store.created[0]
	assert.Equal(t, models.OrderTypeKiosk, stored.OrderType)
	assert.Equal(t, "900", stored.RemoteOrderID)
	assert.Equal(t, "1042", stored.RemoteOrderNumber)
	assert.Equal(t, models.StatusPending, stored.Status)

	assert.Equal(t, []models.OrderStatus{models.StatusPending}, d.files.written)
	assert.Len(t, d.recorder.entries, 1)
	assert.Equal(t, string(models.StatusPending), d.recorder.entries[0].NewState)
}

func TestCheckoutEmptyCart(t *testing.T) {
	e, d := newEngine(t)

	_, err := e.Checkout(context.Background(), Cart{})
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Zero(t, d.catalog.createCalls)
}

func TestCheckoutInvalidItem(t *testing.T) {
	e, d := newEngine(t)

	_, err := e.Checkout(context.Background(), Cart{Items: []models.OrderItem{{SKU: "A", Quantity: 0}}})
	assert.ErrorIs(t, err, ErrInvalidItem)
	assert.Zero(t, d.catalog.createCalls)
}

func TestCheckoutRemoteCreateFailurePersistsNothing(t *testing.T) {
	e, d := newEngine(t)
	d.catalog.createErr = errors.New("503 from platform")

	_, err := e.Checkout(context.Background(), cart())
	assert.ErrorIs(t, err, ErrRemoteCreate)
	assert.Empty(t, d.store.created)
	assert.Empty(t, d.files.written)
}

func TestCheckoutPersistFailureRecordsReconciliation(t *testing.T) {
	e, d := newEngine(t)
	d.store.createFn = func(*models.Order) error { return errors.New("connection reset") }

	_, err := e.Checkout(context.Background(), cart())
	assert.ErrorIs(t, err, ErrPersistFailed)
	assert.Len(t, d.outbox.tasks, 1)
	assert.Len(t, d.recorder.entries, 1)
	assert.Contains(t, d.recorder.entries[0].Message, "reconciliation required")
	assert.Contains(t, d.recorder.entries[0].Message, "900")
}

func TestRegisterDeliveryOrder(t *testing.T) {
	e, d := newEngine(t)

	order, err := e.RegisterDeliveryOrder(context.Background(), "777", "W55", cart().Items)
	assert.NoError(t, err)
	assert.Equal(t, models.OrderTypeDelivery, order.OrderType)
	assert.Equal(t, "777", order.RemoteOrderID)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), order.PickupCode)
	assert.Equal(t, []models.OrderStatus{models.StatusPending}, d.files.written)
}

func TestRegisterDeliveryOrderRedrawsOnCodeCollision(t *testing.T) {
	e, d := newEngine(t)
	attempts := 0
	d.store.createFn = func(o *models.Order) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("%w: %s", repository.ErrDuplicatePickupCode, o.PickupCode)
		}
		return nil
	}

	order, err := e.RegisterDeliveryOrder(context.Background(), "777", "W55", cart().Items)
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.NotEmpty(t, order.PickupCode)
}

func TestRegisterDeliveryOrderGivesUpAfterRepeatedCollisions(t *testing.T) {
	e, d := newEngine(t)
	attempts := 0
	d.store.createFn = func(o *models.Order) error {
		attempts++
		return fmt.Errorf("%w: %s", repository.ErrDuplicatePickupCode, o.PickupCode)
	}

	_, err := e.RegisterDeliveryOrder(context.Background(), "777", "W55", cart().Items)
	assert.ErrorIs(t, err, ErrPersistFailed)
	assert.Equal(t, 5, attempts)
}

func TestRegisterDeliveryOrderDuplicateRemoteOrder(t *testing.T) {
	e, d := newEngine(t)
	attempts := 0
	d.store.createFn = func(*models.Order) error {
		attempts++
		return fmt.Errorf("%w: 777", repository.ErrDuplicateRemoteOrder)
	}

	_, err := e.RegisterDeliveryOrder(context.Background(), "777", "W55", cart().Items)
	assert.ErrorIs(t, err, ErrDuplicateOrder)
	assert.Equal(t, 1, attempts)
}

func TestRegisterDeliveryOrderStoreFailureDoesNotRedraw(t *testing.T) {
	e, d := newEngine(t)
	attempts := 0
	d.store.createFn = func(*models.Order) error {
		attempts++
		return errors.New("db down")
	}

	_, err := e.RegisterDeliveryOrder(context.Background(), "777", "W55", cart().Items)
	assert.ErrorIs(t, err, ErrPersistFailed)
	assert.Equal(t, 1, attempts)
}

func TestClaimNext(t *testing.T) {
	e, d := newEngine(t)
	d.store.claimFn = func() (*models.Order, error) {
		return &models.Order{ID: "o1", OrderType: models.OrderTypeKiosk, Status: models.StatusProcessing}, nil
	}

	claim, err := e.ClaimNext(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "o1", claim.Order.ID)
	assert.Equal(t, []int{3, 3}, claim.ShelfNumbers)
	assert.Equal(t, []models.OrderStatus{models.StatusProcessing}, d.files.written)
}

func TestClaimNextEmptyQueue(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.ClaimNext(context.Background())
	assert.ErrorIs(t, err, ErrNoPendingOrders)
}

func TestClaimNextResolverFailureDoesNotStrandOrder(t *testing.T) {
	e, d := newEngine(t)
	d.store.claimFn = func() (*models.Order, error) {
		return &models.Order{ID: "o1", Status: models.StatusProcessing}, nil
	}
	d.resolver.err = errors.New("db down")

	claim, err := e.ClaimNext(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []int{}, claim.ShelfNumbers)
}

func TestVerifyPickup(t *testing.T) {
	e, d := newEngine(t)
	d.store.codeFn = func(code string) (*models.Order, error) {
		if code == "123456" {
			return &models.Order{ID: "o2", OrderType: models.OrderTypeDelivery, Status: models.StatusProcessing}, nil
		}
		return nil, nil
	}

	order, err := e.VerifyPickup(context.Background(), "123456")
	assert.NoError(t, err)
	assert.Equal(t, "o2", order.ID)

	_, err = e.VerifyPickup(context.Background(), "000000")
	assert.ErrorIs(t, err, ErrInvalidPickupCode)

	_, err = e.VerifyPickup(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidPickupCode)
}

func TestComplete(t *testing.T) {
	e, d := newEngine(t)
	d.store.getFn = func(string) (*models.Order, error) {
		return &models.Order{ID: "o1", RemoteOrderID: "900", Status: models.StatusProcessing}, nil
	}

	assert.NoError(t, e.Complete(context.Background(), "o1"))
	assert.Equal(t, 1, d.catalog.fulfillCalls)
	assert.Equal(t, 1, d.store.updates)
	assert.Equal(t, []models.OrderStatus{models.StatusCompleted}, d.files.written)
}

func TestCompleteUnknownOrder(t *testing.T) {
	e, _ := newEngine(t)

	assert.ErrorIs(t, e.Complete(context.Background(), "missing"), ErrOrderNotFound)
}

func TestCompleteRejectsNonProcessingOrder(t *testing.T) {
	e, d := newEngine(t)
	d.store.getFn = func(string) (*models.Order, error) {
		return &models.Order{ID: "o1", RemoteOrderID: "900", Status: models.StatusPending}, nil
	}

	assert.ErrorIs(t, e.Complete(context.Background(), "o1"), ErrInvalidTransition)
	assert.Zero(t, d.catalog.fulfillCalls)
}

func TestCompleteRemoteFulfillFailureKeepsProcessing(t *testing.T) {
	e, d := newEngine(t)
	d.store.getFn = func(string) (*models.Order, error) {
		return &models.Order{ID: "o1", RemoteOrderID: "900", Status: models.StatusProcessing}, nil
	}
	d.catalog.fulfillErr = errors.New("502 from platform")

	assert.ErrorIs(t, e.Complete(context.Background(), "o1"), ErrRemoteFulfill)
	assert.Zero(t, d.store.updates)
	assert.Empty(t, d.files.written)
}

func TestCompleteSkipsFulfillmentForTestOrders(t *testing.T) {
	e, d := newEngine(t)
	d.store.getFn = func(string) (*models.Order, error) {
		return &models.Order{ID: "o1", RemoteOrderID: "900", TestOrder: true, Status: models.StatusProcessing}, nil
	}

	assert.NoError(t, e.Complete(context.Background(), "o1"))
	assert.Zero(t, d.catalog.fulfillCalls)
	assert.Equal(t, 1, d.store.updates)
}

func TestCompleteSkipsFulfillmentWithoutRemoteOrder(t *testing.T) {
	e, d := newEngine(t)
	d.store.getFn = func(string) (*models.Order, error) {
		return &models.Order{ID: "o1", Status: models.StatusProcessing}, nil
	}

	assert.NoError(t, e.Complete(context.Background(), "o1"))
	assert.Zero(t, d.catalog.fulfillCalls)
}

func TestCompleteLostRace(t *testing.T) {
	e, d := newEngine(t)
	d.store.getFn = func(string) (*models.Order, error) {
		return &models.Order{ID: "o1", Status: models.StatusProcessing}, nil
	}
	d.store.updateFn = func(string, models.OrderStatus, models.OrderStatus) (*models.Order, error) {
		return nil, nil
	}

	assert.ErrorIs(t, e.Complete(context.Background(), "o1"), ErrInvalidTransition)
	assert.Empty(t, d.files.written)
}

func TestSetStatus(t *testing.T) {
	e, d := newEngine(t)
	d.store.getFn = func(string) (*models.Order, error) {
		return &models.Order{ID: "o1", Status: models.StatusProcessing}, nil
	}

	assert.NoError(t, e.SetStatus(context.Background(), "o1", models.StatusFailed, "shelf jam"))
	assert.Equal(t, 1, d.store.updates)
	assert.Zero(t, d.catalog.fulfillCalls)
	assert.Equal(t, "shelf jam", d.recorder.entries[0].Message)
}

func TestSetStatusRejectsInvalidTransitions(t *testing.T) {
	e, d := newEngine(t)
	d.store.getFn = func(string) (*models.Order, error) {
		return &models.Order{ID: "o1", Status: models.StatusCompleted}, nil
	}

	assert.ErrorIs(t, e.SetStatus(context.Background(), "o1", models.StatusFailed, ""), ErrInvalidTransition)
	assert.ErrorIs(t, e.SetStatus(context.Background(), "o1", "shipped", ""), ErrInvalidTransition)
	assert.Zero(t, d.store.updates)
}
