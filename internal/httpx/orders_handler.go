package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/arrow3/storefront/internal/orders"
	"github.com/arrow3/storefront/internal/payments"
	"github.com/arrow3/storefront/internal/redisx"
)

// OrderAPI is what the route layer needs from the order core.
type OrderAPI interface {
	CreateOrder(ctx context.Context, in orders.CreateOrderInput) (*orders.Order, error)
	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	TransitionStatus(ctx context.Context, orderID string, to orders.Status, actor, notes string) (*orders.Order, error)
	CancelOrder(ctx context.Context, orderID, actor, notes string, asAdmin bool) (*orders.Order, error)
	AttachPaymentIntent(ctx context.Context, orderID, intentID string) (*orders.Order, error)
	ReconcilePayment(ctx context.Context, intentID string, succeeded bool) (*orders.Order, error)
	CreateDrone(ctx context.Context, name string, priceCents, stock int) (*orders.Drone, error)
	GetDrone(ctx context.Context, id string) (*orders.Drone, error)
	ListDrones(ctx context.Context) ([]orders.Drone, error)
}

type OrdersHandler struct {
	API     OrderAPI
	Gateway *payments.MockGateway
	Redis   *redis.Client
	Log     *zap.Logger
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/drones", h.createDrone)
	r.Get("/drones", h.listDrones)
	r.Get("/drones/{id}", h.getDrone)

	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/status", h.transitionStatus)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/pay", h.payOrder)

	r.Post("/payments/webhook", h.paymentWebhook)
}

type createDroneReq struct {
	Name          string `json:"name"`
	PriceCents    int    `json:"price_cents"`
	StockQuantity int    `json:"stock_quantity"`
}

type createOrderReq struct {
	UserID   string                 `json:"user_id"`
	DroneID  string                 `json:"drone_id"`
	Quantity int                    `json:"quantity"`
	Shipping orders.ShippingAddress `json:"shipping_address"`
	Customer orders.CustomerInfo    `json:"customer_info"`
}

type transitionReq struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type cancelReq struct {
	Notes string `json:"notes"`
}

type payReq struct {
	Succeed *bool `json:"succeed"` // defaults to true
}

type webhookReq struct {
	PaymentIntentID string `json:"payment_intent_id"`
	Succeeded       bool   `json:"succeeded"`
}

type historyJSON struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedBy string    `json:"updated_by"`
	Notes     string    `json:"notes,omitempty"`
}

type orderJSON struct {
	OrderID           string        `json:"order_id"`
	DroneID           string        `json:"drone_id"`
	UserID            string        `json:"user_id"`
	Quantity          int           `json:"quantity"`
	TotalAmountCents  int           `json:"total_amount_cents"`
	Status            string        `json:"status"`
	PaymentStatus     string        `json:"payment_status"`
	PaymentIntentID   string        `json:"payment_intent_id,omitempty"`
	OrderDate         time.Time     `json:"order_date"`
	EstimatedDelivery *time.Time    `json:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time    `json:"actual_delivery,omitempty"`
	StatusHistory     []historyJSON `json:"status_history"`
}

type droneJSON struct {
	DroneID       string `json:"drone_id"`
	Name          string `json:"name"`
	PriceCents    int    `json:"price_cents"`
	StockQuantity int    `json:"stock_quantity"`
	InStock       bool   `json:"in_stock"`
}

func toOrderJSON(o *orders.Order) orderJSON {
	hist := make([]historyJSON, 0, len(o.History))
	for _, h := range o.History {
		hist = append(hist, historyJSON{
			Status:    string(h.Status),
			Timestamp: h.Timestamp,
			UpdatedBy: h.UpdatedBy,
			Notes:     h.Notes,
		})
	}
	return orderJSON{
		OrderID:           o.ID,
		DroneID:           o.DroneID,
		UserID:            o.UserID,
		Quantity:          o.Quantity,
		TotalAmountCents:  o.TotalAmountCents,
		Status:            string(o.Status),
		PaymentStatus:     string(o.PaymentStatus),
		PaymentIntentID:   o.PaymentIntentID,
		OrderDate:         o.OrderDate,
		EstimatedDelivery: o.EstimatedDelivery,
		ActualDelivery:    o.ActualDelivery,
		StatusHistory:     hist,
	}
}

func toDroneJSON(d *orders.Drone) droneJSON {
	return droneJSON{
		DroneID:       d.ID,
		Name:          d.Name,
		PriceCents:    d.PriceCents,
		StockQuantity: d.StockQuantity,
		InStock:       d.InStock,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrDroneNotFound),
		errors.Is(err, orders.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrDroneUnavailable),
		errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrQuantityInvalid),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrInconsistentPaymentState),
		errors.Is(err, orders.ErrNotCancellable):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrPaymentIntentSet),
		errors.Is(err, orders.ErrConcurrencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// actor and role come from gateway-injected headers; authentication
// itself lives upstream of this service.
func actorFrom(r *http.Request) (actor string, isAdmin bool) {
	actor = r.Header.Get("X-User-Id")
	if actor == "" {
		actor = "anonymous"
	}
	return actor, r.Header.Get("X-User-Role") == "admin"
}

func (h *OrdersHandler) createDrone(w http.ResponseWriter, r *http.Request) {
	_, isAdmin := actorFrom(r)
	if !isAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
		return
	}
	var req createDroneReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Name == "" || req.PriceCents < 0 || req.StockQuantity < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing or invalid fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	d, err := h.API.CreateDrone(ctx, req.Name, req.PriceCents, req.StockQuantity)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDroneJSON(d))
}

func (h *OrdersHandler) listDrones(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ds, err := h.API.ListDrones(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]droneJSON, 0, len(ds))
	for i := range ds {
		out = append(out, toDroneJSON(&ds[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *OrdersHandler) getDrone(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	d, err := h.API.GetDrone(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDroneJSON(d))
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.DroneID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.API.CreateOrder(ctx, orders.CreateOrderInput{
		UserID:   req.UserID,
		DroneID:  req.DroneID,
		Quantity: req.Quantity,
		Shipping: req.Shipping,
		Customer: req.Customer,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	h.cacheOrder(ctx, o)
	writeJSON(w, http.StatusCreated, toOrderJSON(o))
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// cache first; DB stays the source of truth
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(s))
			return
		}
	}

	o, err := h.API.GetOrder(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.cacheOrder(ctx, o)
	writeJSON(w, http.StatusOK, toOrderJSON(o))
}

func (h *OrdersHandler) transitionStatus(w http.ResponseWriter, r *http.Request) {
	actor, isAdmin := actorFrom(r)
	if !isAdmin {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
		return
	}
	var req transitionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.API.TransitionStatus(ctx, orderID, orders.Status(req.Status), actor, req.Notes)
	if errors.Is(err, orders.ErrConcurrencyConflict) {
		// one transparent retry; the second conflict surfaces as 409
		o, err = h.API.TransitionStatus(ctx, orderID, orders.Status(req.Status), actor, req.Notes)
	}
	if err != nil {
		writeErr(w, err)
		return
	}

	h.invalidateOrder(ctx, orderID)
	writeJSON(w, http.StatusOK, toOrderJSON(o))
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, isAdmin := actorFrom(r)
	var req cancelReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.API.CancelOrder(ctx, orderID, actor, req.Notes, isAdmin)
	if err != nil {
		writeErr(w, err)
		return
	}

	h.invalidateOrder(ctx, orderID)
	writeJSON(w, http.StatusOK, toOrderJSON(o))
}

// payOrder drives the whole mock payment round-trip: attach an intent,
// "charge" it, and feed the outcome through the same reconciliation path
// the webhook uses.
func (h *OrdersHandler) payOrder(w http.ResponseWriter, r *http.Request) {
	var req payReq
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	succeed := req.Succeed == nil || *req.Succeed
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	cur, err := h.API.GetOrder(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}

	intentID := cur.PaymentIntentID
	if intentID == "" {
		intent := h.Gateway.CreateIntent(orderID, cur.TotalAmountCents)
		if _, err := h.API.AttachPaymentIntent(ctx, orderID, intent.ID); err != nil {
			writeErr(w, err)
			return
		}
		intentID = intent.ID
	}

	outcome := h.Gateway.Charge(payments.Intent{ID: intentID, OrderID: orderID, AmountCents: cur.TotalAmountCents}, succeed)
	o, err := h.API.ReconcilePayment(ctx, outcome.PaymentIntentID, outcome.Succeeded)
	if err != nil {
		writeErr(w, err)
		return
	}

	h.invalidateOrder(ctx, orderID)
	writeJSON(w, http.StatusOK, toOrderJSON(o))
}

func (h *OrdersHandler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.PaymentIntentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing payment_intent_id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.API.ReconcilePayment(ctx, req.PaymentIntentID, req.Succeeded)
	if err != nil {
		writeErr(w, err)
		return
	}

	h.invalidateOrder(ctx, o.ID)
	writeJSON(w, http.StatusOK, toOrderJSON(o))
}

func (h *OrdersHandler) cacheOrder(ctx context.Context, o *orders.Order) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(toOrderJSON(o))
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	if err := h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err(); err != nil && h.Log != nil {
		h.Log.Debug("order cache set", zap.Error(err))
	}
}

func (h *OrdersHandler) invalidateOrder(ctx context.Context, orderID string) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Del(ctx, key).Err()
}
