package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/logging"
	"rasapos/backend/internal/store"
	"rasapos/backend/internal/store/memory"
)

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, configure ...func(*Options)) *Service {
	t.Helper()
	opts := DefaultOptions()
	opts.Logger = logging.Discard()
	opts.Now = func() time.Time { return testNow }
	for _, fn := range configure {
		fn(&opts)
	}
	return New(memory.NewSeeded(), opts)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "manager", Role: domain.RoleAdmin})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "kasir-a", Role: domain.RoleCashier})
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func onHand(t *testing.T, svc *Service, id string) decimal.Decimal {
	t.Helper()
	item, err := svc.GetStockItem(context.Background(), id)
	if err != nil {
		t.Fatalf("get stock item %s: %v", id, err)
	}
	return item.OnHand
}

func requireOnHand(t *testing.T, svc *Service, id string, want string) {
	t.Helper()
	if got := onHand(t, svc, id); !got.Equal(dec(want)) {
		t.Fatalf("expected %s on hand %s, got %s", id, want, got)
	}
}

func requireBalanced(t *testing.T, svc *Service, ids ...string) {
	t.Helper()
	for _, id := range ids {
		rec, err := svc.ReconcileStock(context.Background(), id)
		if err != nil {
			t.Fatalf("reconcile %s: %v", id, err)
		}
		if !rec.Balanced {
			t.Fatalf("ledger for %s out of balance: on hand %s, replayed %s", id, rec.OnHand, rec.ReplayedQuantity)
		}
	}
}

func soup(qty string) domain.CartLine {
	return domain.CartLine{ItemKind: domain.ItemKindComposite, ItemID: "cmp-noodle-soup", Quantity: dec(qty)}
}

func settle(t *testing.T, svc *Service, req domain.SettleRequest) domain.Sale {
	t.Helper()
	resp, err := svc.Settle(cashierCtx(), req)
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	return resp.Sale
}

func TestSettleThenVoidRestoresCompositeStock(t *testing.T) {
	svc := newTestService(t)

	sale := settle(t, svc, domain.SettleRequest{Lines: []domain.CartLine{soup("3")}})
	requireOnHand(t, svc, "stk-mince", "9.7")
	requireOnHand(t, svc, "stk-noodle", "197")
	requireOnHand(t, svc, "stk-broth", "28.95")
	if !sale.NetTotal.Equal(dec("114000")) {
		t.Fatalf("expected net 114000, got %s", sale.NetTotal)
	}

	result, err := svc.Void(adminCtx(), sale.ID, domain.VoidRequest{Reason: "wrong table"})
	if err != nil {
		t.Fatalf("void failed: %v", err)
	}
	if result.RestoredEntries != 3 {
		t.Fatalf("expected 3 restoring entries, got %d", result.RestoredEntries)
	}
	requireOnHand(t, svc, "stk-mince", "10")
	requireOnHand(t, svc, "stk-noodle", "200")
	requireOnHand(t, svc, "stk-broth", "30")
	requireBalanced(t, svc, "stk-mince", "stk-noodle", "stk-broth")

	stored, err := svc.GetSale(context.Background(), sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if !stored.IsVoid || stored.VoidedBy != "manager" || stored.VoidReason != "wrong table" {
		t.Fatalf("sale not marked void: %+v", stored)
	}
}

func TestSettleClampsStackedDiscountsAtZero(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CreateCoupon(adminCtx(), domain.CouponCreateRequest{
		Code:  "minus20",
		Kind:  domain.DiscountFixed,
		Value: dec("20"),
	}); err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	price := dec("100")
	sale := settle(t, svc, domain.SettleRequest{
		Lines: []domain.CartLine{{ItemKind: domain.ItemKindStock, ItemID: "stk-tea", Quantity: dec("1"), UnitPriceOverride: &price}},
		Discount: domain.DiscountSpec{
			Manual:       &domain.ManualDiscount{Kind: domain.DiscountPercent, Value: dec("10")},
			CouponCode:   "MINUS20",
			RedeemPoints: 80,
		},
		CustomerID: "cust-001",
	})

	if !sale.ManualDiscount.Equal(dec("10")) || !sale.CouponDiscount.Equal(dec("20")) || !sale.PointsDiscount.Equal(dec("80")) {
		t.Fatalf("unexpected discounts: manual %s coupon %s points %s", sale.ManualDiscount, sale.CouponDiscount, sale.PointsDiscount)
	}
	if !sale.NetTotal.IsZero() {
		t.Fatalf("expected net total clamped to 0, got %s", sale.NetTotal)
	}
	if !sale.Lines[0].LineTotal.Equal(dec("90")) {
		t.Fatalf("expected line total 90 after manual allocation, got %s", sale.Lines[0].LineTotal)
	}

	account, err := svc.GetLoyaltyAccount(context.Background(), "cust-001")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account.PointsBalance != 420 {
		t.Fatalf("expected balance 420, got %d", account.PointsBalance)
	}
}

func TestSettleIsAtomicOnInsufficientStock(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Settle(cashierCtx(), domain.SettleRequest{
		Lines: []domain.CartLine{
			{ItemKind: domain.ItemKindStock, ItemID: "stk-tea", Quantity: dec("1")},
			soup("101"),
		},
		Discount:   domain.DiscountSpec{RedeemPoints: 10},
		CustomerID: "cust-001",
	})
	var stockErr *store.InsufficientStockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if stockErr.StockItemID != "stk-mince" || !stockErr.Available.Equal(dec("10")) || !stockErr.Requested.Equal(dec("10.1")) {
		t.Fatalf("unexpected error detail: %+v", stockErr)
	}
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected errors.Is to match ErrInsufficientStock")
	}

	requireOnHand(t, svc, "stk-tea", "120")
	entries, err := svc.ListLedger(context.Background(), "stk-tea")
	if err != nil {
		t.Fatalf("list ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected only the opening entry, got %d", len(entries))
	}
	account, _ := svc.GetLoyaltyAccount(context.Background(), "cust-001")
	if account.PointsBalance != 500 {
		t.Fatalf("expected untouched balance 500, got %d", account.PointsBalance)
	}
}

func TestClampPolicyRecordsOnlyAvailableStock(t *testing.T) {
	svc := newTestService(t, func(o *Options) { o.OversellPolicy = "clamp" })

	sale := settle(t, svc, domain.SettleRequest{Lines: []domain.CartLine{soup("101")}, PaymentMethod: domain.PaymentCard})
	requireOnHand(t, svc, "stk-mince", "0")
	requireOnHand(t, svc, "stk-broth", "0")

	if _, err := svc.Void(adminCtx(), sale.ID, domain.VoidRequest{Reason: "oversold"}); err != nil {
		t.Fatalf("void failed: %v", err)
	}
	requireOnHand(t, svc, "stk-mince", "10")
	requireOnHand(t, svc, "stk-broth", "30")
	requireBalanced(t, svc, "stk-mince", "stk-broth", "stk-noodle")
}

func TestVoidTwiceIsRejected(t *testing.T) {
	svc := newTestService(t)
	sale := settle(t, svc, domain.SettleRequest{Lines: []domain.CartLine{soup("1")}})

	if _, err := svc.Void(adminCtx(), sale.ID, domain.VoidRequest{Reason: "test"}); err != nil {
		t.Fatalf("first void failed: %v", err)
	}
	_, err := svc.Void(adminCtx(), sale.ID, domain.VoidRequest{Reason: "again"})
	if !errors.Is(err, store.ErrAlreadyVoided) {
		t.Fatalf("expected ErrAlreadyVoided, got %v", err)
	}
	requireOnHand(t, svc, "stk-mince", "10")
}

func TestVoidRequiresAdmin(t *testing.T) {
	svc := newTestService(t)
	sale := settle(t, svc, domain.SettleRequest{Lines: []domain.CartLine{soup("1")}})

	_, err := svc.Void(cashierCtx(), sale.ID, domain.VoidRequest{Reason: "test"})
	if !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestVoidReversesLoyaltyAndCoupon(t *testing.T) {
	svc := newTestService(t)

	sale := settle(t, svc, domain.SettleRequest{
		Lines:      []domain.CartLine{soup("2")},
		Discount:   domain.DiscountSpec{CouponCode: "hemat10", RedeemPoints: 100},
		CustomerID: "cust-001",
	})
	if !sale.NetTotal.Equal(dec("68300")) {
		t.Fatalf("expected net 68300, got %s", sale.NetTotal)
	}
	if sale.Effects.PointsAccrued != 683 || sale.Effects.PointsRedeemed != 100 || !sale.Effects.CouponApplied {
		t.Fatalf("unexpected effects: %+v", sale.Effects)
	}
	account, _ := svc.GetLoyaltyAccount(context.Background(), "cust-001")
	if account.PointsBalance != 1083 {
		t.Fatalf("expected balance 1083 after settle, got %d", account.PointsBalance)
	}
	coupon, _ := svc.GetCoupon(context.Background(), "HEMAT10")
	if coupon.UsedCount != 1 {
		t.Fatalf("expected coupon used once, got %d", coupon.UsedCount)
	}

	result, err := svc.Void(adminCtx(), sale.ID, domain.VoidRequest{Reason: "customer left"})
	if err != nil {
		t.Fatalf("void failed: %v", err)
	}
	if result.PointsClawedBack != 683 || result.PointsRestored != 100 || !result.CouponReleased {
		t.Fatalf("unexpected void result: %+v", result)
	}
	account, _ = svc.GetLoyaltyAccount(context.Background(), "cust-001")
	if account.PointsBalance != 500 {
		t.Fatalf("expected balance back to 500, got %d", account.PointsBalance)
	}
	coupon, _ = svc.GetCoupon(context.Background(), "HEMAT10")
	if coupon.UsedCount != 0 {
		t.Fatalf("expected coupon usage released, got %d", coupon.UsedCount)
	}
}

func TestVoidWithoutCompensationKeepsSideEffects(t *testing.T) {
	svc := newTestService(t, func(o *Options) { o.CompensateSideEffects = false })

	sale := settle(t, svc, domain.SettleRequest{
		Lines:      []domain.CartLine{soup("2")},
		Discount:   domain.DiscountSpec{CouponCode: "HEMAT10", RedeemPoints: 100},
		CustomerID: "cust-001",
	})
	result, err := svc.Void(adminCtx(), sale.ID, domain.VoidRequest{Reason: "test"})
	if err != nil {
		t.Fatalf("void failed: %v", err)
	}
	if result.PointsClawedBack != 0 || result.CouponReleased {
		t.Fatalf("expected no side-effect reversal, got %+v", result)
	}
	account, _ := svc.GetLoyaltyAccount(context.Background(), "cust-001")
	if account.PointsBalance != 1083 {
		t.Fatalf("expected balance 1083, got %d", account.PointsBalance)
	}
	requireOnHand(t, svc, "stk-mince", "10")
}

func TestReturnTracksReturnedQuantity(t *testing.T) {
	svc := newTestService(t)
	sale := settle(t, svc, domain.SettleRequest{Lines: []domain.CartLine{soup("4")}})
	lineID := sale.Lines[0].ID

	_, err := svc.Return(adminCtx(), sale.ID, domain.ReturnRequest{
		Lines:  []domain.ReturnLineRequest{{SaleLineID: lineID, Quantity: dec("5")}},
		Reason: "too many",
	})
	var overErr *store.OverReturnQuantityError
	if !errors.As(err, &overErr) || !overErr.Remaining.Equal(dec("4")) {
		t.Fatalf("expected over-return with remaining 4, got %v", err)
	}

	first, err := svc.Return(adminCtx(), sale.ID, domain.ReturnRequest{
		Lines:  []domain.ReturnLineRequest{{SaleLineID: lineID, Quantity: dec("1")}},
		Reason: "cold soup",
	})
	if err != nil {
		t.Fatalf("first return failed: %v", err)
	}
	if !first.Return.RefundAmount.Equal(dec("38000")) || !first.NetTotal.Equal(dec("114000")) {
		t.Fatalf("unexpected first return: refund %s net %s", first.Return.RefundAmount, first.NetTotal)
	}
	requireOnHand(t, svc, "stk-mince", "9.7")

	if _, err := svc.Return(adminCtx(), sale.ID, domain.ReturnRequest{
		Lines: []domain.ReturnLineRequest{
			{SaleLineID: lineID, Quantity: dec("2")},
			{SaleLineID: lineID, Quantity: dec("1")},
		},
		Reason: "rest of the table",
	}); err != nil {
		t.Fatalf("second return failed: %v", err)
	}

	_, err = svc.Return(adminCtx(), sale.ID, domain.ReturnRequest{
		Lines:  []domain.ReturnLineRequest{{SaleLineID: lineID, Quantity: dec("1")}},
		Reason: "one more",
	})
	if !errors.Is(err, store.ErrOverReturnQuantity) {
		t.Fatalf("expected ErrOverReturnQuantity, got %v", err)
	}

	stored, _ := svc.GetSale(context.Background(), sale.ID)
	if !stored.NetTotal.IsZero() || !stored.Lines[0].ReturnedQuantity.Equal(dec("4")) {
		t.Fatalf("unexpected sale after returns: net %s returned %s", stored.NetTotal, stored.Lines[0].ReturnedQuantity)
	}
	if len(stored.Returns) != 2 {
		t.Fatalf("expected 2 return records, got %d", len(stored.Returns))
	}
	requireOnHand(t, svc, "stk-mince", "10")
	requireBalanced(t, svc, "stk-mince", "stk-noodle", "stk-broth")
}

func TestPartialReturnThenVoidRestoresExactly(t *testing.T) {
	svc := newTestService(t)
	sale := settle(t, svc, domain.SettleRequest{Lines: []domain.CartLine{soup("3")}})

	if _, err := svc.Return(adminCtx(), sale.ID, domain.ReturnRequest{
		Lines:  []domain.ReturnLineRequest{{SaleLineID: sale.Lines[0].ID, Quantity: dec("1")}},
		Reason: "spilled",
	}); err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if _, err := svc.Void(adminCtx(), sale.ID, domain.VoidRequest{Reason: "cancel rest"}); err != nil {
		t.Fatalf("void failed: %v", err)
	}

	requireOnHand(t, svc, "stk-mince", "10")
	requireOnHand(t, svc, "stk-noodle", "200")
	requireOnHand(t, svc, "stk-broth", "30")
	requireBalanced(t, svc, "stk-mince", "stk-noodle", "stk-broth")

	_, err := svc.Return(adminCtx(), sale.ID, domain.ReturnRequest{
		Lines:  []domain.ReturnLineRequest{{SaleLineID: sale.Lines[0].ID, Quantity: dec("1")}},
		Reason: "after void",
	})
	if !errors.Is(err, store.ErrAlreadyVoided) {
		t.Fatalf("expected return on void sale to fail, got %v", err)
	}
}

func TestReturnRefundIsNeverNegative(t *testing.T) {
	svc := newTestService(t)
	big, small := dec("0.99"), dec("0.01")
	lines := make([]domain.CartLine, 0, 11)
	for i := 0; i < 10; i++ {
		lines = append(lines, domain.CartLine{ItemKind: domain.ItemKindStock, ItemID: "stk-tea", Quantity: dec("1"), UnitPriceOverride: &big})
	}
	lines = append(lines, domain.CartLine{ItemKind: domain.ItemKindStock, ItemID: "stk-tea", Quantity: dec("1"), UnitPriceOverride: &small})

	sale := settle(t, svc, domain.SettleRequest{
		Lines:    lines,
		Discount: domain.DiscountSpec{Manual: &domain.ManualDiscount{Kind: domain.DiscountPercent, Value: dec("50")}},
	})
	if !sale.NetTotal.Equal(dec("4.95")) {
		t.Fatalf("expected net 4.95, got %s", sale.NetTotal)
	}
	for _, line := range sale.Lines {
		if line.LineTotal.IsNegative() {
			t.Fatalf("line %s has negative total %s", line.ID, line.LineTotal)
		}
	}

	net := sale.NetTotal
	refunded := decimal.Zero
	for i := len(sale.Lines) - 1; i >= 0; i-- {
		result, err := svc.Return(adminCtx(), sale.ID, domain.ReturnRequest{
			Lines:  []domain.ReturnLineRequest{{SaleLineID: sale.Lines[i].ID, Quantity: dec("1")}},
			Reason: "returned",
		})
		if err != nil {
			t.Fatalf("return line %d: %v", i, err)
		}
		if result.Return.RefundAmount.IsNegative() {
			t.Fatalf("line %d refunded %s", i, result.Return.RefundAmount)
		}
		if result.NetTotal.GreaterThan(net) {
			t.Fatalf("net total rose from %s to %s after returning line %d", net, result.NetTotal, i)
		}
		net = result.NetTotal
		refunded = refunded.Add(result.Return.RefundAmount)
	}
	if !refunded.Equal(sale.NetTotal) || !net.IsZero() {
		t.Fatalf("expected refunds %s to cover net %s, left %s", refunded, sale.NetTotal, net)
	}
	requireOnHand(t, svc, "stk-tea", "120")
}

func TestReturnClawsBackAccruedPoints(t *testing.T) {
	svc := newTestService(t)
	sale := settle(t, svc, domain.SettleRequest{Lines: []domain.CartLine{soup("1")}, CustomerID: "cust-001"})

	account, _ := svc.GetLoyaltyAccount(context.Background(), "cust-001")
	if account.PointsBalance != 880 {
		t.Fatalf("expected 880 after accrual, got %d", account.PointsBalance)
	}

	result, err := svc.Return(adminCtx(), sale.ID, domain.ReturnRequest{
		Lines:  []domain.ReturnLineRequest{{SaleLineID: sale.Lines[0].ID, Quantity: dec("1")}},
		Reason: "wrong order",
	})
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if result.Return.PointsClawedBack != 380 {
		t.Fatalf("expected 380 points clawed back, got %d", result.Return.PointsClawedBack)
	}
	account, _ = svc.GetLoyaltyAccount(context.Background(), "cust-001")
	if account.PointsBalance != 500 {
		t.Fatalf("expected 500 after return, got %d", account.PointsBalance)
	}
}

func TestCouponUsageLimitIsEnforced(t *testing.T) {
	svc := newTestService(t)
	limit := int64(1)
	if _, err := svc.CreateCoupon(adminCtx(), domain.CouponCreateRequest{
		Code:       "ONCE",
		Kind:       domain.DiscountFixed,
		Value:      dec("5000"),
		UsageLimit: &limit,
	}); err != nil {
		t.Fatalf("create coupon: %v", err)
	}

	req := domain.SettleRequest{Lines: []domain.CartLine{soup("1")}, Discount: domain.DiscountSpec{CouponCode: "ONCE"}}
	sale := settle(t, svc, req)
	if !sale.NetTotal.Equal(dec("33000")) {
		t.Fatalf("expected net 33000, got %s", sale.NetTotal)
	}

	_, err := svc.Settle(cashierCtx(), req)
	var couponErr *store.CouponInvalidError
	if !errors.As(err, &couponErr) || couponErr.Reason != store.CouponReasonUsageExceeded {
		t.Fatalf("expected usage limit rejection, got %v", err)
	}
	requireOnHand(t, svc, "stk-mince", "9.9")
}

func TestSettleRejectsUnknownCoupon(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Settle(cashierCtx(), domain.SettleRequest{
		Lines:    []domain.CartLine{soup("1")},
		Discount: domain.DiscountSpec{CouponCode: "NOPE"},
	})
	var couponErr *store.CouponInvalidError
	if !errors.As(err, &couponErr) || couponErr.Reason != store.CouponReasonNotFound {
		t.Fatalf("expected not_found rejection, got %v", err)
	}
}

func TestSettleRejectsPointsOverBalance(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Settle(cashierCtx(), domain.SettleRequest{
		Lines:      []domain.CartLine{soup("1")},
		Discount:   domain.DiscountSpec{RedeemPoints: 600},
		CustomerID: "cust-001",
	})
	var pointsErr *store.InsufficientPointsError
	if !errors.As(err, &pointsErr) || pointsErr.Available != 500 || pointsErr.Requested != 600 {
		t.Fatalf("expected insufficient points 500/600, got %v", err)
	}

	_, err = svc.Settle(cashierCtx(), domain.SettleRequest{
		Lines:      []domain.CartLine{soup("1")},
		Discount:   domain.DiscountSpec{RedeemPoints: 1},
		CustomerID: "walk-in",
	})
	if !errors.Is(err, store.ErrInsufficientPoints) {
		t.Fatalf("expected non-member redemption to fail, got %v", err)
	}
}

func TestSettleIdempotencyKeyReturnsExistingSale(t *testing.T) {
	svc := newTestService(t)
	req := domain.SettleRequest{IdempotencyKey: "idem-1", Lines: []domain.CartLine{soup("1")}}

	first, err := svc.Settle(cashierCtx(), req)
	if err != nil {
		t.Fatalf("first settle: %v", err)
	}
	second, err := svc.Settle(cashierCtx(), req)
	if err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if !second.Duplicate || second.Sale.ID != first.Sale.ID {
		t.Fatalf("expected duplicate of %s, got %+v", first.Sale.ID, second)
	}
	requireOnHand(t, svc, "stk-mince", "9.9")
}

func TestSettleCashPayment(t *testing.T) {
	svc := newTestService(t)
	tea := domain.CartLine{ItemKind: domain.ItemKindStock, ItemID: "stk-tea", Quantity: dec("1")}

	short := dec("1000")
	_, err := svc.Settle(cashierCtx(), domain.SettleRequest{Lines: []domain.CartLine{tea}, CashReceived: &short})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected short cash to be rejected, got %v", err)
	}

	tendered := dec("10000")
	sale := settle(t, svc, domain.SettleRequest{Lines: []domain.CartLine{tea}, CashReceived: &tendered})
	if sale.PaymentMethod != domain.PaymentCash || !sale.Change.Equal(dec("2000")) {
		t.Fatalf("expected cash with change 2000, got %s %s", sale.PaymentMethod, sale.Change)
	}

	_, err = svc.Settle(cashierCtx(), domain.SettleRequest{
		Lines: []domain.CartLine{{ItemKind: domain.ItemKindStock, ItemID: "stk-mince", Quantity: dec("1")}},
	})
	if !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected ingredient without price to be rejected, got %v", err)
	}
}

func TestUpdatedBOMDoesNotChangeSettledSale(t *testing.T) {
	svc := newTestService(t)
	sale := settle(t, svc, domain.SettleRequest{Lines: []domain.CartLine{soup("1")}})

	if _, err := svc.UpdateCompositeBOM(adminCtx(), "cmp-noodle-soup", domain.BOMUpdateRequest{
		BOM: []domain.BOMLine{{StockItemID: "stk-mince", QuantityPerUnit: dec("0.5")}},
	}); err != nil {
		t.Fatalf("update bom: %v", err)
	}
	if _, err := svc.Void(adminCtx(), sale.ID, domain.VoidRequest{Reason: "test"}); err != nil {
		t.Fatalf("void: %v", err)
	}
	requireOnHand(t, svc, "stk-mince", "10")
	requireOnHand(t, svc, "stk-noodle", "200")

	preview, err := svc.ExpandComposite(context.Background(), "cmp-noodle-soup", dec("2"))
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(preview) != 1 || !preview[0].Quantity.Equal(dec("1")) {
		t.Fatalf("unexpected expansion: %+v", preview)
	}
}

func TestPreviewDiscountsDoesNotMutate(t *testing.T) {
	svc := newTestService(t)
	preview, err := svc.PreviewDiscounts(context.Background(), domain.SettleRequest{
		Lines:      []domain.CartLine{soup("2")},
		Discount:   domain.DiscountSpec{CouponCode: "HEMAT10", RedeemPoints: 100},
		CustomerID: "cust-001",
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !preview.NetTotal.Equal(dec("68300")) || !preview.TotalDiscount.Equal(dec("7700")) {
		t.Fatalf("unexpected preview: %+v", preview)
	}
	coupon, _ := svc.GetCoupon(context.Background(), "HEMAT10")
	if coupon.UsedCount != 0 {
		t.Fatalf("preview must not use the coupon")
	}
	requireOnHand(t, svc, "stk-mince", "10")
}

func TestStockAdministration(t *testing.T) {
	svc := newTestService(t)

	if _, err := svc.CreateStockItem(cashierCtx(), domain.StockItemCreateRequest{Name: "Chili", Unit: "kg"}); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for cashier, got %v", err)
	}

	item, err := svc.CreateStockItem(adminCtx(), domain.StockItemCreateRequest{
		ID:               "stk-chili",
		Name:             "Chili",
		Unit:             "kg",
		ReorderThreshold: dec("1"),
		InitialQuantity:  dec("10"),
		UnitCost:         dec("50000"),
	})
	if err != nil {
		t.Fatalf("create stock item: %v", err)
	}
	if !item.OnHand.Equal(dec("10")) {
		t.Fatalf("expected 10 on hand, got %s", item.OnHand)
	}

	item, err = svc.ReceiveStock(adminCtx(), "stk-chili", domain.StockReceiveRequest{Quantity: dec("5"), UnitCost: dec("56000")})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !item.AverageCost.Equal(dec("52000")) {
		t.Fatalf("expected weighted average 52000, got %s", item.AverageCost)
	}

	item, err = svc.AdjustStock(adminCtx(), "stk-chili", domain.StockAdjustRequest{CountedQuantity: dec("1"), Reason: "spoiled"})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if !item.OnHand.Equal(dec("1")) {
		t.Fatalf("expected 1 on hand after count, got %s", item.OnHand)
	}
	entries, _ := svc.ListLedger(context.Background(), "stk-chili")
	last := entries[len(entries)-1]
	if last.Direction != domain.DirectionOut || !last.Quantity.Equal(dec("14")) || last.Reason != domain.ReasonStockCount {
		t.Fatalf("unexpected count entry: %+v", last)
	}
	requireBalanced(t, svc, "stk-chili")

	suggestions, err := svc.ReorderSuggestions(context.Background())
	if err != nil {
		t.Fatalf("reorder suggestions: %v", err)
	}
	if len(suggestions.Suggestions) != 1 || suggestions.Suggestions[0].StockItemID != "stk-chili" {
		t.Fatalf("expected chili suggestion only, got %+v", suggestions.Suggestions)
	}
	if !suggestions.Suggestions[0].RecommendedQuantity.Equal(dec("1")) {
		t.Fatalf("expected recommended 1, got %s", suggestions.Suggestions[0].RecommendedQuantity)
	}
}

func TestOrderReachesReadyAfterLastTicketAndChecksOut(t *testing.T) {
	svc := newTestService(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "waiter-1", Role: domain.RoleWaiter})

	order, err := svc.PlaceOrder(ctx, domain.PlaceOrderRequest{
		TableRef: "T4",
		Lines: []domain.OrderLineRequest{
			{CompositeItemID: "cmp-noodle-soup", Quantity: 1},
			{CompositeItemID: "cmp-fried-rice", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if len(order.Tickets) != 2 || order.Status != domain.OrderPending {
		t.Fatalf("unexpected order: %+v", order)
	}
	if _, err := svc.ConfirmOrder(ctx, order.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	first, second := order.Tickets[0].ID, order.Tickets[1].ID
	if _, err := svc.CompleteTicket(ctx, first); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected skipped ticket step to fail, got %v", err)
	}
	for _, step := range []func() error{
		func() error { _, err := svc.ClaimTicket(ctx, second, domain.ClaimTicketRequest{PreparerRef: "chef-b"}); return err },
		func() error { _, err := svc.MarkTicketReady(ctx, second); return err },
		func() error { _, err := svc.CompleteTicket(ctx, second); return err },
		func() error { _, err := svc.ClaimTicket(ctx, first, domain.ClaimTicketRequest{PreparerRef: "chef-a"}); return err },
		func() error { _, err := svc.MarkTicketReady(ctx, first); return err },
	} {
		if err := step(); err != nil {
			t.Fatalf("ticket step failed: %v", err)
		}
	}

	current, err := svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if current.Status != domain.OrderPreparing {
		t.Fatalf("expected preparing before the last completion, got %s", current.Status)
	}
	if _, err := svc.CheckoutOrder(ctx, order.ID, domain.CheckoutOrderRequest{}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected checkout before serve to fail, got %v", err)
	}

	if _, err := svc.CompleteTicket(ctx, first); err != nil {
		t.Fatalf("complete last ticket: %v", err)
	}
	current, _ = svc.GetOrder(ctx, order.ID)
	if current.Status != domain.OrderReady || current.ReadyAt == nil {
		t.Fatalf("expected ready after last completion, got %s", current.Status)
	}

	if _, err := svc.ServeOrder(ctx, order.ID); err != nil {
		t.Fatalf("serve: %v", err)
	}
	resp, err := svc.CheckoutOrder(ctx, order.ID, domain.CheckoutOrderRequest{PaymentMethod: "qris", PaymentReference: "QR-1"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !resp.Sale.NetTotal.Equal(dec("102000")) || resp.Sale.OrderID != order.ID {
		t.Fatalf("unexpected checkout sale: %+v", resp.Sale)
	}
	current, _ = svc.GetOrder(ctx, order.ID)
	if current.Status != domain.OrderCompleted || current.SaleID != resp.Sale.ID {
		t.Fatalf("expected completed order linked to sale, got %s %s", current.Status, current.SaleID)
	}
	requireOnHand(t, svc, "stk-mince", "9.8")
	requireOnHand(t, svc, "stk-rice", "148")
}

func TestCancelledOrderFreezesTickets(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	order, err := svc.PlaceOrder(ctx, domain.PlaceOrderRequest{
		Lines: []domain.OrderLineRequest{{CompositeItemID: "cmp-fried-rice", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	cancelled, err := svc.CancelOrder(ctx, order.ID, domain.CancelOrderRequest{Reason: "guest left"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.OrderCancelled || cancelled.CancelReason != "guest left" {
		t.Fatalf("unexpected cancelled order: %+v", cancelled)
	}

	_, err = svc.ClaimTicket(ctx, order.Tickets[0].ID, domain.ClaimTicketRequest{PreparerRef: "chef"})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected frozen ticket, got %v", err)
	}
	if _, err := svc.CancelOrder(ctx, order.ID, domain.CancelOrderRequest{}); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected second cancel to fail, got %v", err)
	}

	open, err := svc.ListKitchenTickets(ctx, "")
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("expected cancelled order tickets hidden, got %d", len(open))
	}
}

type conflictingRepo struct {
	store.Repository
	conflicts int
	calls     int
}

func (r *conflictingRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	r.calls++
	if r.conflicts > 0 {
		r.conflicts--
		return store.ErrConcurrentModification
	}
	return r.Repository.WithinTx(ctx, fn)
}

func TestSettleRetriesConcurrentModification(t *testing.T) {
	repo := &conflictingRepo{Repository: memory.NewSeeded(), conflicts: 2}
	opts := DefaultOptions()
	opts.Logger = logging.Discard()
	svc := New(repo, opts)

	if _, err := svc.Settle(cashierCtx(), domain.SettleRequest{Lines: []domain.CartLine{soup("1")}}); err != nil {
		t.Fatalf("expected settle to succeed after retries, got %v", err)
	}
	if repo.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", repo.calls)
	}

	repo.conflicts = 10
	repo.calls = 0
	_, err := svc.Settle(cashierCtx(), domain.SettleRequest{Lines: []domain.CartLine{soup("1")}})
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("expected conflict to surface, got %v", err)
	}
	if repo.calls != 4 {
		t.Fatalf("expected 1 attempt plus 3 retries, got %d", repo.calls)
	}
}

func TestListAuditLogsRecordsActor(t *testing.T) {
	svc := newTestService(t)
	sale := settle(t, svc, domain.SettleRequest{Lines: []domain.CartLine{soup("1")}})

	logs, err := svc.ListAuditLogs(context.Background(), "2026-03-01", 10)
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "sale_settle" || logs[0].EntityID != sale.ID || logs[0].ActorUsername != "kasir-a" {
		t.Fatalf("unexpected audit logs: %+v", logs)
	}

	if _, err := svc.ListAuditLogs(context.Background(), "03/01/2026", 10); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected bad date to be rejected, got %v", err)
	}
}

func TestCreateCompositeItemChecksRecipe(t *testing.T) {
	svc := newTestService(t)
	req := domain.CompositeItemCreateRequest{
		ID:    "cmp-tea-rice",
		Name:  "Tea and rice set",
		Price: dec("12500"),
		BOM: []domain.BOMLine{
			{StockItemID: "stk-rice", QuantityPerUnit: dec("1")},
			{StockItemID: "stk-tea", QuantityPerUnit: dec("1")},
		},
	}

	if _, err := svc.CreateCompositeItem(cashierCtx(), req); !errors.Is(err, store.ErrForbidden) {
		t.Fatalf("expected cashier to be forbidden, got %v", err)
	}
	created, err := svc.CreateCompositeItem(adminCtx(), req)
	if err != nil {
		t.Fatalf("create composite: %v", err)
	}
	if !created.Active || len(created.BOM) != 2 {
		t.Fatalf("unexpected composite %+v", created)
	}
	if _, err := svc.CreateCompositeItem(adminCtx(), req); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate id to be rejected, got %v", err)
	}

	items, err := svc.ListCompositeItems(context.Background())
	if err != nil {
		t.Fatalf("list composites: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 composites, got %d", len(items))
	}

	unknown := req
	unknown.ID = "cmp-ghost"
	unknown.BOM = []domain.BOMLine{{StockItemID: "stk-ghost", QuantityPerUnit: dec("1")}}
	if _, err := svc.CreateCompositeItem(adminCtx(), unknown); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected unknown stock item to be rejected, got %v", err)
	}

	zero := req
	zero.ID = "cmp-zero"
	zero.BOM = []domain.BOMLine{{StockItemID: "stk-rice", QuantityPerUnit: decimal.Zero}}
	if _, err := svc.CreateCompositeItem(adminCtx(), zero); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected zero quantity to be rejected, got %v", err)
	}
}

func TestEnrollLoyaltyStartsAtZero(t *testing.T) {
	svc := newTestService(t)

	account, err := svc.EnrollLoyalty(cashierCtx(), domain.LoyaltyEnrollRequest{CustomerID: " cust-900 ", Name: "Budi"})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if account.CustomerID != "cust-900" || account.PointsBalance != 0 {
		t.Fatalf("unexpected account %+v", account)
	}
	if _, err := svc.EnrollLoyalty(cashierCtx(), domain.LoyaltyEnrollRequest{CustomerID: "cust-900"}); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected duplicate enrollment to fail, got %v", err)
	}
	if _, err := svc.EnrollLoyalty(cashierCtx(), domain.LoyaltyEnrollRequest{}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected missing customer id to fail validation, got %v", err)
	}
}

func TestCompleteOrderNeedsServedStatus(t *testing.T) {
	svc := newTestService(t)
	order, err := svc.PlaceOrder(cashierCtx(), domain.PlaceOrderRequest{
		Lines: []domain.OrderLineRequest{{CompositeItemID: "cmp-fried-rice", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if _, err := svc.CompleteOrder(cashierCtx(), order.ID); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected pending order completion to fail, got %v", err)
	}
	if _, err := svc.ServeOrder(cashierCtx(), order.ID); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected serving an unready order to fail, got %v", err)
	}
}
