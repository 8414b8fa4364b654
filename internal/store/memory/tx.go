package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/store"
)

type tx struct {
	*state
	auditLogs []domain.AuditLog
}

func (t *tx) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	return filterAuditLogs(t.auditLogs, from, to, limit), nil
}

func (t *tx) CreateStockItem(_ context.Context, item domain.StockItem) error {
	if item.ID == "" {
		return store.ErrInvalidTransaction
	}
	if _, ok := t.stockItems[item.ID]; ok {
		return fmt.Errorf("stock item %s: %w", item.ID, store.ErrDuplicate)
	}
	t.stockItems[item.ID] = item
	return nil
}

func (t *tx) LockStockItems(_ context.Context, ids []string) (map[string]*domain.StockItem, error) {
	out := make(map[string]*domain.StockItem, len(ids))
	for _, id := range ids {
		item, ok := t.stockItems[id]
		if !ok {
			return nil, fmt.Errorf("stock item %s: %w", id, store.ErrNotFound)
		}
		out[id] = &item
	}
	return out, nil
}

func (t *tx) UpdateStockItem(_ context.Context, item domain.StockItem) error {
	if _, ok := t.stockItems[item.ID]; !ok {
		return fmt.Errorf("stock item %s: %w", item.ID, store.ErrNotFound)
	}
	t.stockItems[item.ID] = item
	return nil
}

func (t *tx) AppendLedgerEntry(_ context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	t.ledgerSeq++
	entry.Sequence = t.ledgerSeq
	t.ledger = append(t.ledger, entry)
	return entry, nil
}

func (t *tx) SaveCompositeItem(_ context.Context, item domain.CompositeItem) error {
	if item.ID == "" {
		return store.ErrInvalidTransaction
	}
	t.composites[item.ID] = cloneComposite(item)
	return nil
}

func (t *tx) CreateCoupon(_ context.Context, coupon domain.Coupon) error {
	if _, ok := t.coupons[coupon.Code]; ok {
		return fmt.Errorf("coupon %s: %w", coupon.Code, store.ErrDuplicate)
	}
	t.coupons[coupon.Code] = coupon
	return nil
}

func (t *tx) LockCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	return t.GetCoupon(ctx, code)
}

func (t *tx) UpdateCouponUsedCount(_ context.Context, code string, usedCount int64) error {
	c, ok := t.coupons[code]
	if !ok {
		return fmt.Errorf("coupon %s: %w", code, store.ErrNotFound)
	}
	c.UsedCount = usedCount
	t.coupons[code] = c
	return nil
}

func (t *tx) CreateCouponUsage(_ context.Context, usage domain.CouponUsage) error {
	t.couponUsages = append(t.couponUsages, usage)
	return nil
}

func (t *tx) ReverseCouponUsage(_ context.Context, saleID string, at time.Time) error {
	for i := range t.couponUsages {
		if t.couponUsages[i].SaleID == saleID && t.couponUsages[i].ReversedAt == nil {
			reversed := at
			t.couponUsages[i].ReversedAt = &reversed
		}
	}
	return nil
}

func (t *tx) CreateLoyaltyAccount(_ context.Context, account domain.LoyaltyAccount) error {
	if _, ok := t.loyalty[account.CustomerID]; ok {
		return fmt.Errorf("loyalty account %s: %w", account.CustomerID, store.ErrDuplicate)
	}
	t.loyalty[account.CustomerID] = account
	return nil
}

func (t *tx) LockLoyaltyAccount(ctx context.Context, customerID string) (*domain.LoyaltyAccount, error) {
	return t.GetLoyaltyAccount(ctx, customerID)
}

func (t *tx) UpdateLoyaltyBalance(_ context.Context, customerID string, balance int64, at time.Time) error {
	acc, ok := t.loyalty[customerID]
	if !ok {
		return fmt.Errorf("loyalty account %s: %w", customerID, store.ErrNotFound)
	}
	acc.PointsBalance = balance
	acc.UpdatedAt = at
	t.loyalty[customerID] = acc
	return nil
}

func (t *tx) CreateSale(_ context.Context, sale domain.Sale) error {
	if sale.ID == "" {
		return store.ErrInvalidTransaction
	}
	if _, ok := t.sales[sale.ID]; ok {
		return fmt.Errorf("sale %s: %w", sale.ID, store.ErrDuplicate)
	}
	if sale.IdempotencyKey != "" {
		if _, ok := t.salesByIdem[sale.IdempotencyKey]; ok {
			return fmt.Errorf("idempotency key %s: %w", sale.IdempotencyKey, store.ErrDuplicate)
		}
		t.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
	sale.Returns = nil
	t.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (t *tx) LockSale(ctx context.Context, id string) (*domain.Sale, error) {
	return t.GetSale(ctx, id)
}

// UpdateSale stores the mutable parts of a sale: totals, void fields, effects
// and per-line returned quantities.
func (t *tx) UpdateSale(_ context.Context, sale domain.Sale) error {
	current, ok := t.sales[sale.ID]
	if !ok {
		return fmt.Errorf("sale %s: %w", sale.ID, store.ErrNotFound)
	}
	next := cloneSale(current)
	next.GrossTotal = sale.GrossTotal
	next.NetTotal = sale.NetTotal
	next.Effects = sale.Effects
	next.IsVoid = sale.IsVoid
	next.VoidReason = sale.VoidReason
	next.VoidedBy = sale.VoidedBy
	next.VoidedAt = sale.VoidedAt
	for i := range next.Lines {
		if line, ok := sale.Line(next.Lines[i].ID); ok {
			next.Lines[i].ReturnedQuantity = line.ReturnedQuantity
		}
	}
	t.sales[sale.ID] = next
	return nil
}

func (t *tx) CreateSaleReturn(_ context.Context, ret domain.SaleReturn) error {
	if _, ok := t.sales[ret.SaleID]; !ok {
		return fmt.Errorf("sale %s: %w", ret.SaleID, store.ErrNotFound)
	}
	returns := slices.Clone(t.saleReturns[ret.SaleID])
	t.saleReturns[ret.SaleID] = append(returns, cloneSaleReturn(ret))
	return nil
}

func (t *tx) CreateOrder(_ context.Context, order domain.CustomerOrder) error {
	if order.ID == "" {
		return store.ErrInvalidTransaction
	}
	if _, ok := t.orders[order.ID]; ok {
		return fmt.Errorf("order %s: %w", order.ID, store.ErrDuplicate)
	}
	t.orders[order.ID] = cloneOrder(order)
	for _, ticket := range order.Tickets {
		t.ticketOrder[ticket.ID] = order.ID
	}
	return nil
}

func (t *tx) LockOrder(ctx context.Context, id string) (*domain.CustomerOrder, error) {
	return t.GetOrder(ctx, id)
}

func (t *tx) UpdateOrder(_ context.Context, order domain.CustomerOrder) error {
	current, ok := t.orders[order.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", order.ID, store.ErrNotFound)
	}
	next := cloneOrder(current)
	next.Status = order.Status
	next.SaleID = order.SaleID
	next.CancelReason = order.CancelReason
	next.UpdatedAt = order.UpdatedAt
	next.ReadyAt = order.ReadyAt
	t.orders[order.ID] = next
	return nil
}

func (t *tx) UpdateTicket(_ context.Context, ticket domain.KitchenTicket) error {
	orderID, ok := t.ticketOrder[ticket.ID]
	if !ok {
		return fmt.Errorf("ticket %s: %w", ticket.ID, store.ErrNotFound)
	}
	order := cloneOrder(t.orders[orderID])
	for i := range order.Tickets {
		if order.Tickets[i].ID == ticket.ID {
			order.Tickets[i] = ticket
		}
	}
	t.orders[orderID] = order
	return nil
}

func cloneComposite(src domain.CompositeItem) domain.CompositeItem {
	dup := src
	dup.BOM = slices.Clone(src.BOM)
	return dup
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	dup.Lines = make([]domain.SaleLine, len(src.Lines))
	for i, line := range src.Lines {
		line.Components = slices.Clone(line.Components)
		dup.Lines[i] = line
	}
	dup.Returns = nil
	return dup
}

func cloneSaleReturn(src domain.SaleReturn) domain.SaleReturn {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	return dup
}

func cloneOrder(src domain.CustomerOrder) domain.CustomerOrder {
	dup := src
	dup.Lines = slices.Clone(src.Lines)
	dup.Tickets = slices.Clone(src.Tickets)
	return dup
}
