package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-fulfillment-orders/internal/errs"
	"github.com/ariefcatur/go-fulfillment-orders/internal/inventory"
	"github.com/ariefcatur/go-fulfillment-orders/internal/orders"
)

type OrdersHandler struct {
	Orders    *orders.Service
	Inventory inventory.Catalog
}

type fulfillmentUpdateReq struct {
	Status   string `json:"status"`
	WorkerID *int64 `json:"worker_id"`
}

type fulfillmentUpdateResp struct {
	OrderID int64 `json:"order_id"`
	Applied bool  `json:"applied"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/fulfillment", h.applyFulfillment)
	r.Get("/inventory", h.listInventory)
	r.Get("/inventory/{productId}", h.getInventory)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.PlaceOrderInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Orders.PlaceOrder(ctx, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// replays answer with the same body as the original placement
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) applyFulfillment(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req fulfillmentUpdateReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Status == "" {
		writeError(w, r, errs.New(errs.InvalidRequest, "status is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	applied, err := h.Orders.ApplyFulfillmentUpdate(ctx, id, req.Status, req.WorkerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !applied {
		writeError(w, r, orders.ErrOrderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, fulfillmentUpdateResp{OrderID: id, Applied: true})
}

func (h *OrdersHandler) listInventory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	recs, err := h.Inventory.List(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []inventory.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *OrdersHandler) getInventory(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "productId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rec, err := h.Inventory.Get(ctx, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
