package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rasapos/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestPreflightShortCircuits(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.Code)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected allowed origin *, got %q", got)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"customer_id":"%s","name":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/loyalty/accounts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+mintToken(t, "kasir-a", domain.RoleCashier))
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", res.Code)
	}
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	admin := mintToken(t, "manager", domain.RoleAdmin)
	body := domain.VoidRequest{Reason: "test", ManagerPIN: "000000"}

	for i := 0; i < 6; i++ {
		res := doJSON(t, handler, http.MethodPost, "/api/v1/sales/sale-missing/void", admin, body)
		if i < 5 && res.Code != http.StatusForbidden {
			t.Fatalf("attempt %d expected 403 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestUnknownRouteIsNotFound(t *testing.T) {
	api := newTestAPI(t)
	res := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/products", mintToken(t, "manager", domain.RoleAdmin), nil)
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("", 100, 500); got != 100 {
		t.Fatalf("expected fallback 100, got %d", got)
	}
	if got := parsePositiveLimit("-3", 100, 500); got != 100 {
		t.Fatalf("expected fallback for negative, got %d", got)
	}
	if got := parsePositiveLimit("9999", 100, 500); got != 500 {
		t.Fatalf("expected cap 500, got %d", got)
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.1.2.3:41234"
	if got := clientKey(req); got != "10.1.2.3" {
		t.Fatalf("expected host only, got %q", got)
	}
}
