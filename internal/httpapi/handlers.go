package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/service"
	"rasapos/backend/internal/store"
)

func (a *API) handleListStockItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListStockItems(r.Context())
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stock_items": items})
}

func (a *API) handleCreateStockItem(w http.ResponseWriter, r *http.Request) {
	var req domain.StockItemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	item, err := a.service.CreateStockItem(r.Context(), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleReceiveStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockReceiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	item, err := a.service.ReceiveStock(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req domain.StockAdjustRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	item, err := a.service.AdjustStock(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleListLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := a.service.ListLedger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleReconcileStock(w http.ResponseWriter, r *http.Request) {
	rec, err := a.service.ReconcileStock(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleReorderSuggestions(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ReorderSuggestions(r.Context())
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleListCompositeItems(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListCompositeItems(r.Context())
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"composite_items": items})
}

func (a *API) handleCreateCompositeItem(w http.ResponseWriter, r *http.Request) {
	var req domain.CompositeItemCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	item, err := a.service.CreateCompositeItem(r.Context(), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleUpdateCompositeBOM(w http.ResponseWriter, r *http.Request) {
	var req domain.BOMUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	item, err := a.service.UpdateCompositeBOM(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (a *API) handleExpandComposite(w http.ResponseWriter, r *http.Request) {
	qty := decimal.NewFromInt(1)
	if raw := strings.TrimSpace(r.URL.Query().Get("qty")); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			writeServiceError(w, a.logger, store.Invalid("qty", "must be a decimal number"))
			return
		}
		qty = parsed
	}
	deductions, err := a.service.ExpandComposite(r.Context(), chi.URLParam(r, "id"), qty)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deductions": deductions})
}

func (a *API) handleCreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req domain.CouponCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	coupon, err := a.service.CreateCoupon(r.Context(), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, coupon)
}

func (a *API) handleEnrollLoyalty(w http.ResponseWriter, r *http.Request) {
	var req domain.LoyaltyEnrollRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	account, err := a.service.EnrollLoyalty(r.Context(), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (a *API) handleGetLoyaltyAccount(w http.ResponseWriter, r *http.Request) {
	account, err := a.service.GetLoyaltyAccount(r.Context(), chi.URLParam(r, "customerID"))
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (a *API) handlePreviewDiscounts(w http.ResponseWriter, r *http.Request) {
	var req domain.SettleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	preview, err := a.service.PreviewDiscounts(r.Context(), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (a *API) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req domain.SettleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	resp, err := a.service.Settle(r.Context(), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleVoid(w http.ResponseWriter, r *http.Request) {
	var req domain.VoidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if !a.checkManagerPIN(w, r, "void", req.ManagerPIN) {
		return
	}
	result, err := a.service.Void(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if !a.checkManagerPIN(w, r, "return", req.ManagerPIN) {
		return
	}
	result, err := a.service.Return(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.PlaceOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	order, err := a.service.PlaceOrder(r.Context(), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := a.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleOrderAction(move func(context.Context, string) (domain.CustomerOrder, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := move(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, a.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

func (a *API) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelOrderRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	order, err := a.service.CancelOrder(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (a *API) handleCheckoutOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutOrderRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}
	resp, err := a.service.CheckoutOrder(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleListKitchenTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := a.service.ListKitchenTickets(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

func (a *API) handleClaimTicket(w http.ResponseWriter, r *http.Request) {
	var req domain.ClaimTicketRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	if req.PreparerRef == "" {
		if actor, ok := actorFrom(r); ok {
			req.PreparerRef = actor.Username
		}
	}
	ticket, err := a.service.ClaimTicket(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (a *API) handleTicketAction(move func(context.Context, string) (domain.KitchenTicket, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticket, err := move(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, a.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	}
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)

	logs, err := a.service.ListAuditLogs(r.Context(), date, limit)
	if err != nil {
		writeServiceError(w, a.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func actorFrom(r *http.Request) (domain.Actor, bool) {
	return service.ActorFromContext(r.Context())
}
