package httpx

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-fulfillment-orders/internal/errs"
	"github.com/ariefcatur/go-fulfillment-orders/internal/fulfillment"
)

type FulfillmentHandler struct {
	Scheduler *fulfillment.Scheduler
	Sweeper   *fulfillment.Sweeper
}

type createTaskReq struct {
	OrderID int64 `json:"order_id"`
}

type createTaskResp struct {
	fulfillment.Task
	Created bool `json:"created"`
}

type updateStatusReq struct {
	WorkerID *int64 `json:"worker_id"`
	Status   string `json:"status"`
}

func (h *FulfillmentHandler) Register(r chi.Router) {
	r.Post("/tasks", h.createTask)
	r.Get("/tasks/pending", h.pendingTasks)
	r.Post("/tasks/sweep", h.sweep)
	r.Get("/tasks/{id}", h.getTask)
	r.Post("/tasks/{id}/assign", h.assignTask)
	r.Patch("/tasks/{id}/status", h.updateStatus)
	r.Get("/workers", h.workers)
}

func (h *FulfillmentHandler) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	t, created, err := h.Scheduler.CreateTask(r.Context(), req.OrderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	writeJSON(w, code, createTaskResp{Task: t, Created: created})
}

func (h *FulfillmentHandler) getTask(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.Scheduler.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *FulfillmentHandler) pendingTasks(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Scheduler.GetPendingTasks(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ts == nil {
		ts = []fulfillment.Task{}
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *FulfillmentHandler) assignTask(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.Scheduler.AssignTask(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *FulfillmentHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateStatusReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.WorkerID == nil || req.Status == "" {
		writeError(w, r, errs.New(errs.InvalidRequest, "worker_id and status are required"))
		return
	}
	t, err := h.Scheduler.UpdateTaskStatus(r.Context(), id, *req.WorkerID, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *FulfillmentHandler) workers(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Scheduler.Workers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (h *FulfillmentHandler) sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.Sweeper.SweepOnce(r.Context())
	switch {
	case errors.Is(err, fulfillment.ErrSweepInProgress), errors.Is(err, fulfillment.ErrLeaseHeld):
		writeJSON(w, http.StatusConflict, errorResp{Code: "SWEEP_IN_PROGRESS", Message: err.Error()})
	case err != nil:
		writeError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}
