package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/ledger"
	"rasapos/backend/internal/logging"
	"rasapos/backend/internal/service"
	"rasapos/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("RASAPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RASAPOS_TEST_DATABASE_URL to run postgres integration tests")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return s
}

func TestSettleThenVoidRestoresStockInPostgres(t *testing.T) {
	s := newIntegrationStore(t)
	opts := service.DefaultOptions()
	opts.Logger = logging.Discard()
	svc := service.New(s, opts)
	ctx := service.WithActor(context.Background(), domain.Actor{Username: "it-admin", Role: domain.RoleAdmin})

	stamp := time.Now().UnixNano()
	flourID := fmt.Sprintf("stk-it-flour-%d", stamp)
	eggID := fmt.Sprintf("stk-it-egg-%d", stamp)
	cakeID := fmt.Sprintf("cmp-it-cake-%d", stamp)

	for _, req := range []domain.StockItemCreateRequest{
		{ID: flourID, Name: "Flour", Unit: "kg", InitialQuantity: decimal.NewFromInt(5), UnitCost: decimal.NewFromInt(14000)},
		{ID: eggID, Name: "Egg", Unit: "pcs", InitialQuantity: decimal.NewFromInt(30), UnitCost: decimal.NewFromInt(2000)},
	} {
		if _, err := svc.CreateStockItem(ctx, req); err != nil {
			t.Fatalf("create stock item %s: %v", req.ID, err)
		}
	}
	if _, err := svc.CreateCompositeItem(ctx, domain.CompositeItemCreateRequest{
		ID:    cakeID,
		Name:  "Sponge cake",
		Price: decimal.NewFromInt(25000),
		BOM: []domain.BOMLine{
			{StockItemID: flourID, QuantityPerUnit: decimal.RequireFromString("0.25")},
			{StockItemID: eggID, QuantityPerUnit: decimal.NewFromInt(3)},
		},
	}); err != nil {
		t.Fatalf("create composite: %v", err)
	}

	resp, err := svc.Settle(ctx, domain.SettleRequest{
		IdempotencyKey: fmt.Sprintf("idem-it-%d", stamp),
		Lines: []domain.CartLine{
			{ItemKind: domain.ItemKindComposite, ItemID: cakeID, Quantity: decimal.NewFromInt(4)},
		},
	})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	requireStock(t, svc, flourID, "4")
	requireStock(t, svc, eggID, "18")

	if _, err := svc.Void(ctx, resp.Sale.ID, domain.VoidRequest{Reason: "integration"}); err != nil {
		t.Fatalf("void: %v", err)
	}
	requireStock(t, svc, flourID, "5")
	requireStock(t, svc, eggID, "30")

	_, err = svc.Void(ctx, resp.Sale.ID, domain.VoidRequest{Reason: "again"})
	if !errors.Is(err, store.ErrAlreadyVoided) {
		t.Fatalf("expected ErrAlreadyVoided, got %v", err)
	}

	for _, id := range []string{flourID, eggID} {
		rec, err := svc.ReconcileStock(ctx, id)
		if err != nil {
			t.Fatalf("reconcile %s: %v", id, err)
		}
		if !rec.Balanced {
			t.Fatalf("ledger out of balance for %s: %+v", id, rec)
		}
	}
}

func TestInsufficientStockLeavesNoTraceInPostgres(t *testing.T) {
	s := newIntegrationStore(t)
	opts := service.DefaultOptions()
	opts.Logger = logging.Discard()
	opts.OversellPolicy = ledger.PolicyReject
	svc := service.New(s, opts)
	ctx := service.WithActor(context.Background(), domain.Actor{Username: "it-admin", Role: domain.RoleAdmin})

	stamp := time.Now().UnixNano()
	milkID := fmt.Sprintf("stk-it-milk-%d", stamp)
	if _, err := svc.CreateStockItem(ctx, domain.StockItemCreateRequest{
		ID: milkID, Name: "Milk", Unit: "l", Price: decimal.NewFromInt(18000),
		InitialQuantity: decimal.NewFromInt(2), UnitCost: decimal.NewFromInt(12000),
	}); err != nil {
		t.Fatalf("create stock item: %v", err)
	}

	_, err := svc.Settle(ctx, domain.SettleRequest{
		Lines: []domain.CartLine{{ItemKind: domain.ItemKindStock, ItemID: milkID, Quantity: decimal.NewFromInt(3)}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	requireStock(t, svc, milkID, "2")

	entries, err := svc.ListLedger(ctx, milkID)
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the opening balance entry, got %d", len(entries))
	}
}

func requireStock(t *testing.T, svc *service.Service, id string, want string) {
	t.Helper()
	item, err := svc.GetStockItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get stock item %s: %v", id, err)
	}
	if !item.OnHand.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("stock %s: expected %s, got %s", id, want, item.OnHand)
	}
}
