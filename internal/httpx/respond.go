package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-fulfillment-orders/internal/errs"
	"github.com/ariefcatur/go-fulfillment-orders/internal/logging"
)

const maxBody = 1 << 20

type errorResp struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(code errs.Code) int {
	switch code {
	case errs.InvalidRequest, errs.InvalidStatus:
		return http.StatusBadRequest
	case errs.ProductNotFound, errs.TaskNotFound, errs.OrderNotFound, errs.WorkerNotFound:
		return http.StatusNotFound
	case errs.InsufficientStock, errs.AlreadyAssigned, errs.AlreadyProcessed, errs.InvalidTransition, errs.WorkerMismatch:
		return http.StatusConflict
	case errs.NoAvailableWorkers:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err by its innermost code. Uncoded errors are logged and
// reported without their text.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errs.CodeOf(err)
	status := statusFor(code)
	resp := errorResp{Code: string(code)}

	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), nil).Error("request failed", zap.Error(err))
		if resp.Code == "" {
			resp.Code = "INTERNAL"
		}
		resp.Message = "internal error"
	} else if e := innermost(err); e != nil {
		resp.Message = e.Message
	}
	writeJSON(w, status, resp)
}

func innermost(err error) *errs.Error {
	var last *errs.Error
	for err != nil {
		if e, ok := err.(*errs.Error); ok {
			last = e
		}
		err = errors.Unwrap(err)
	}
	return last
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.Wrap(errs.InvalidRequest, "invalid json", err)
	}
	return nil
}

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errs.New(errs.InvalidRequest, fmt.Sprintf("%s must be a positive integer", name))
	}
	return id, nil
}
