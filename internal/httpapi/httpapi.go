package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/logging"
	"rasapos/backend/internal/service"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	pinLimiter    *attemptLimiter
	logger        *slog.Logger
}

type Options struct {
	AllowedOrigin        string
	PINAttemptsPerMinute int
	Logger               *slog.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: opts.AllowedOrigin,
		pinLimiter:    newAttemptLimiter(opts.PINAttemptsPerMinute),
		logger:        logger.With("component", "httpapi"),
	}
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(a.withSecurityHeaders)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticate)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(domain.RoleCashier, domain.RoleAdmin))
			r.Get("/stock-items", a.handleListStockItems)
			r.Get("/composite-items", a.handleListCompositeItems)
			r.Get("/composite-items/{id}/expand", a.handleExpandComposite)
			r.Post("/loyalty/accounts", a.handleEnrollLoyalty)
			r.Get("/loyalty/accounts/{customerID}", a.handleGetLoyaltyAccount)
			r.Post("/discounts/preview", a.handlePreviewDiscounts)
			r.Post("/sales", a.handleSettle)
			r.Get("/sales/{id}", a.handleGetSale)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(domain.RoleAdmin))
			r.Post("/stock-items", a.handleCreateStockItem)
			r.Post("/stock-items/{id}/receive", a.handleReceiveStock)
			r.Post("/stock-items/{id}/adjust", a.handleAdjustStock)
			r.Get("/stock-items/{id}/ledger", a.handleListLedger)
			r.Get("/stock-items/{id}/reconcile", a.handleReconcileStock)
			r.Get("/reorder-suggestions", a.handleReorderSuggestions)
			r.Post("/composite-items", a.handleCreateCompositeItem)
			r.Put("/composite-items/{id}/bom", a.handleUpdateCompositeBOM)
			r.Post("/coupons", a.handleCreateCoupon)
			r.Post("/sales/{id}/void", a.handleVoid)
			r.Post("/sales/{id}/returns", a.handleReturn)
			r.Get("/audit-logs", a.handleAuditLogs)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(domain.RoleWaiter, domain.RoleCashier, domain.RoleAdmin))
			r.Post("/orders", a.handlePlaceOrder)
			r.Get("/orders/{id}", a.handleGetOrder)
			r.Post("/orders/{id}/confirm", a.handleOrderAction(a.service.ConfirmOrder))
			r.Post("/orders/{id}/serve", a.handleOrderAction(a.service.ServeOrder))
			r.Post("/orders/{id}/complete", a.handleOrderAction(a.service.CompleteOrder))
			r.Post("/orders/{id}/cancel", a.handleCancelOrder)
			r.Post("/orders/{id}/checkout", a.handleCheckoutOrder)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(domain.RoleKitchen, domain.RoleAdmin))
			r.Get("/kitchen/tickets", a.handleListKitchenTickets)
			r.Post("/kitchen/tickets/{id}/claim", a.handleClaimTicket)
			r.Post("/kitchen/tickets/{id}/ready", a.handleTicketAction(a.service.MarkTicketReady))
			r.Post("/kitchen/tickets/{id}/complete", a.handleTicketAction(a.service.CompleteTicket))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, a.logger, http.StatusNotFound, errors.New("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeMethodNotAllowed(w, a.logger)
	})
	return r
}

// authenticate resolves the bearer token into an actor on the request
// context. Role checks happen per route group.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, a.logger, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, a.logger, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func requireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := service.ActorFromContext(r.Context())
			if !ok || !slices.Contains(roles, actor.Role) {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden role", Code: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkManagerPIN gates voids and returns. It writes the response itself
// and reports whether the handler may continue.
func (a *API) checkManagerPIN(w http.ResponseWriter, r *http.Request, action string, pin string) bool {
	if !a.pinLimiter.Allow("pin:" + action + ":" + clientKey(r)) {
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many manager pin attempts", Code: "rate_limited"})
		return false
	}
	if !a.auth.ValidateManagerPIN(pin) {
		a.logger.Warn("manager pin rejected", "action", action, "client", clientKey(r))
		writeJSON(w, http.StatusForbidden, errorBody{Error: "invalid manager pin", Code: "invalid_manager_pin"})
		return false
	}
	return true
}

func (a *API) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		if a.allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-Id")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodPost || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

// decodeOptionalJSON accepts an empty body as the zero value.
func decodeOptionalJSON(r *http.Request, dest any) error {
	if r.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(r, dest)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter, logger *slog.Logger) {
	writeError(w, logger, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error(), Code: "invalid_request"})
}

// writeError hides the message of 5xx responses; it is logged instead.
func writeError(w http.ResponseWriter, logger *slog.Logger, status int, err error) {
	msg := err.Error()
	if status >= 500 {
		logger.Error("internal error", "status", status, "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
