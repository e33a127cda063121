package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sethvargo/go-retry"

	"kioskd/internal/audit"
	"kioskd/internal/engine"
	"kioskd/internal/middleware"
	"kioskd/internal/models"
	"kioskd/internal/shelf"
	"kioskd/internal/shopify"
)

// Pipeline is the order lifecycle surface the HTTP layer drives.
type Pipeline interface {
	Checkout(ctx context.Context, cart engine.Cart) (*engine.CheckoutResult, error)
	RegisterDeliveryOrder(ctx context.Context, remoteOrderID, remoteOrderNumber string, items []models.OrderItem) (*models.Order, error)
	ClaimNext(ctx context.Context) (*engine.Claim, error)
	VerifyPickup(ctx context.Context, code string) (*models.Order, error)
	Complete(ctx context.Context, orderID string) error
	SetStatus(ctx context.Context, orderID string, status models.OrderStatus, message string) error
}

// OrderDirectory covers the read-only queue views used by health and staff
// endpoints.
type OrderDirectory interface {
	CountByStatus(ctx context.Context, status models.OrderStatus) (int, error)
	List(ctx context.Context, status models.OrderStatus, limit int) ([]models.Order, error)
	Ping(ctx context.Context) error
}

type ShelfDirectory interface {
	Upsert(ctx context.Context, a *models.ShelfAssignment) error
	List(ctx context.Context) ([]models.ShelfAssignment, error)
}

type CatalogStatus interface {
	ProbeConnection(ctx context.Context) shopify.ProbeResult
	ListAvailableProducts(ctx context.Context) ([]shopify.Product, error)
	ClearCache()
}

type Server struct {
	pipeline  Pipeline
	orders    OrderDirectory
	shelves   ShelfDirectory
	catalog   CatalogStatus
	auditPool *audit.WorkerPool
	staffUser string
	staffPass string
}

func New(pipeline Pipeline, orders OrderDirectory, shelves ShelfDirectory, catalog CatalogStatus, auditPool *audit.WorkerPool, staffUser, staffPass string) *Server {
	return &Server{
		pipeline:  pipeline,
		orders:    orders,
		shelves:   shelves,
		catalog:   catalog,
		auditPool: auditPool,
		staffUser: staffUser,
		staffPass: staffPass,
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(s.auditPool))

	r.Route("/api", func(r chi.Router) {
		r.Get("/orders/next", s.handleNextOrder)
		r.Post("/orders/{id}/complete", s.handleCompleteOrder)
		r.Post("/orders/{id}/status", s.handleSetStatus)
		r.Get("/health", s.handleHealth)

		r.Post("/checkout", s.handleCheckout)
		r.Post("/orders/delivery", s.handleDeliveryOrder)
		r.Post("/pickup/verify", s.handleVerifyPickup)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.BasicAuth(s.staffUser, s.staffPass))
		r.Get("/shelves", s.handleListShelves)
		r.Post("/shelves", s.handleAssignShelf)
		r.Get("/orders", s.handleListOrders)
		r.Post("/orders/{id}/fulfill", s.handleCompleteOrder)
		r.Post("/products/sync", s.handleSyncProducts)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"status": "error", "message": message})
}

func (s *Server) handleNextOrder(w http.ResponseWriter, r *http.Request) {
	claim, err := s.pipeline.ClaimNext(r.Context())
	if errors.Is(err, engine.ErrNoPendingOrders) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no_orders"})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "success",
		"order_id":      claim.Order.ID,
		"order_type":    claim.Order.OrderType,
		"shelf_numbers": claim.ShelfNumbers,
		"items":         claim.Order.Items,
	})
}

func (s *Server) handleCompleteOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.pipeline.Complete(r.Context(), id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	case errors.Is(err, engine.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	default:
		// The retrieval hardware only understands 200/404/500, so illegal
		// transitions ride the error envelope rather than a 409.
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad JSON")
		return
	}
	err := s.pipeline.SetStatus(r.Context(), id, models.OrderStatus(req.Status), req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	case errors.Is(err, engine.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := time.Now().UTC().Format(time.RFC3339)

	if err := s.orders.Ping(ctx); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": "unhealthy", "timestamp": now, "error": err.Error(),
		})
		return
	}
	pending, err := s.orders.CountByStatus(ctx, models.StatusPending)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": "unhealthy", "timestamp": now, "error": err.Error(),
		})
		return
	}
	processing, err := s.orders.CountByStatus(ctx, models.StatusProcessing)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": "unhealthy", "timestamp": now, "error": err.Error(),
		})
		return
	}

	// The probe is idempotent, so it gets a bounded retry; order mutations
	// never do.
	var probe shopify.ProbeResult
	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	_ = retry.Do(ctx, backoff, func(ctx context.Context) error {
		probe = s.catalog.ProbeConnection(ctx)
		if !probe.Connected {
			return retry.RetryableError(errors.New(probe.Detail))
		}
		return nil
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"timestamp":          now,
		"pending_orders":     pending,
		"processing_orders":  processing,
		"shopify_connected":  probe.Connected,
		"database_connected": true,
	})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items     []models.OrderItem `json:"items"`
		TestOrder bool               `json:"test_order"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad JSON")
		return
	}
	result, err := s.pipeline.Checkout(r.Context(), engine.Cart{Items: req.Items, TestOrder: req.TestOrder})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"status":        "success",
			"order_id":      result.OrderID,
			"order_number":  result.OrderNumber,
			"shelf_numbers": result.ShelfNumbers,
		})
	case errors.Is(err, engine.ErrEmptyCart), errors.Is(err, engine.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrRemoteCreate):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleDeliveryOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RemoteOrderID     string             `json:"remote_order_id"`
		RemoteOrderNumber string             `json:"remote_order_number"`
		Items             []models.OrderItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad JSON")
		return
	}
	order, err := s.pipeline.RegisterDeliveryOrder(r.Context(), req.RemoteOrderID, req.RemoteOrderNumber, req.Items)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"status":      "success",
			"order_id":    order.ID,
			"pickup_code": order.PickupCode,
		})
	case errors.Is(err, engine.ErrEmptyCart), errors.Is(err, engine.ErrInvalidItem):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrDuplicateOrder):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleVerifyPickup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PickupCode string `json:"pickup_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad JSON")
		return
	}
	order, err := s.pipeline.VerifyPickup(r.Context(), req.PickupCode)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{
			"status":       "success",
			"order_number": order.RemoteOrderNumber,
		})
	case errors.Is(err, engine.ErrInvalidPickupCode):
		// A wrong code is a customer-facing outcome, kept apart from
		// system errors so the kiosk can show "invalid code".
		writeJSON(w, http.StatusNotFound, map[string]string{"status": "invalid_code"})
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleListShelves(w http.ResponseWriter, r *http.Request) {
	shelves, err := s.shelves.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "shelves": shelves})
}

func (s *Server) handleAssignShelf(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShelfNumber  int    `json:"shelf_number"`
		SKU          string `json:"sku"`
		ProductName  string `json:"product_name"`
		CurrentStock int    `json:"current_stock"`
		Active       *bool  `json:"active"`
		BoxSize      string `json:"box_size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad JSON")
		return
	}
	if !models.ValidShelfNumber(req.ShelfNumber) {
		writeError(w, http.StatusBadRequest, "shelf number out of range")
		return
	}
	if req.BoxSize != "" && !shelf.CompatibleWithShelf(req.ShelfNumber, req.BoxSize) {
		writeError(w, http.StatusBadRequest, "shelf not compatible with product size")
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	a := &models.ShelfAssignment{
		ShelfNumber:  req.ShelfNumber,
		SKU:          req.SKU,
		ProductName:  req.ProductName,
		CurrentStock: req.CurrentStock,
		Active:       active,
	}
	if err := s.shelves.Upsert(r.Context(), a); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "shelf": a})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.OrderStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil {
		limit = 20
	}
	orders, err := s.orders.List(r.Context(), status, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "orders": orders})
}

func (s *Server) handleSyncProducts(w http.ResponseWriter, r *http.Request) {
	s.catalog.ClearCache()
	products, err := s.catalog.ListAvailableProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "success",
		"products": len(products),
	})
}
