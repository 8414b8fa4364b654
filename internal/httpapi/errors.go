package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"rasapos/backend/internal/store"
)

// errorBody is the JSON shape of every error response. Code is stable for
// clients; Detail carries the structured fields of domain errors.
type errorBody struct {
	Error  string         `json:"error"`
	Code   string         `json:"code,omitempty"`
	Detail map[string]any `json:"detail,omitempty"`
}

// writeServiceError maps a service error to its HTTP status and body.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		stockErr    *store.InsufficientStockError
		pointsErr   *store.InsufficientPointsError
		couponErr   *store.CouponInvalidError
		overErr     *store.OverReturnQuantityError
		validateErr *store.ValidationError
	)

	switch {
	case errors.As(err, &validateErr):
		fields := make(map[string]any, len(validateErr.Fields))
		for k, v := range validateErr.Fields {
			fields[k] = v
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation_failed", Detail: fields})
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, errorBody{
			Error: err.Error(),
			Code:  "insufficient_stock",
			Detail: map[string]any{
				"stock_item_id": stockErr.StockItemID,
				"available":     stockErr.Available,
				"requested":     stockErr.Requested,
			},
		})
	case errors.As(err, &pointsErr):
		writeJSON(w, http.StatusConflict, errorBody{
			Error:  err.Error(),
			Code:   "insufficient_points",
			Detail: map[string]any{"available": pointsErr.Available, "requested": pointsErr.Requested},
		})
	case errors.As(err, &couponErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:  err.Error(),
			Code:   "coupon_invalid",
			Detail: map[string]any{"code": couponErr.Code, "reason": couponErr.Reason},
		})
	case errors.As(err, &overErr):
		writeJSON(w, http.StatusConflict, errorBody{
			Error: err.Error(),
			Code:  "over_return_quantity",
			Detail: map[string]any{
				"sale_line_id": overErr.SaleLineID,
				"remaining":    overErr.Remaining,
				"requested":    overErr.Requested,
			},
		})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, store.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: err.Error(), Code: "forbidden"})
	case errors.Is(err, store.ErrAlreadyVoided):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "already_voided"})
	case errors.Is(err, store.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "invalid_transition"})
	case errors.Is(err, store.ErrConcurrentModification):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "concurrent_modification"})
	case errors.Is(err, store.ErrDuplicate):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Code: "duplicate"})
	case errors.Is(err, store.ErrInvalidTransaction):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Code: "invalid_request"})
	default:
		writeError(w, logger, http.StatusInternalServerError, err)
	}
}
