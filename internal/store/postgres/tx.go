package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/store"
)

type txStore struct {
	queries
}

func (t *txStore) CreateStockItem(ctx context.Context, item domain.StockItem) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO stock_items (id, name, unit, price, on_hand, average_cost, reorder_threshold, version, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, item.ID, item.Name, item.Unit, item.Price, item.OnHand, item.AverageCost, item.ReorderThreshold, item.Version, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("stock item %s: %w", item.ID, store.ErrDuplicate)
		}
		return err
	}
	return nil
}

// LockStockItems locks rows in id order so concurrent settlements touching
// overlapping items cannot deadlock.
func (t *txStore) LockStockItems(ctx context.Context, ids []string) (map[string]*domain.StockItem, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+stockItemColumns+`
		FROM stock_items
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string]*domain.StockItem, len(ids))
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items[item.ID] = &item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := items[id]; !ok {
			return nil, fmt.Errorf("stock item %s: %w", id, store.ErrNotFound)
		}
	}
	return items, nil
}

func (t *txStore) UpdateStockItem(ctx context.Context, item domain.StockItem) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE stock_items
		SET name = $2, unit = $3, price = $4, on_hand = $5, average_cost = $6, reorder_threshold = $7, version = $8, updated_at = $9
		WHERE id = $1
	`, item.ID, item.Name, item.Unit, item.Price, item.OnHand, item.AverageCost, item.ReorderThreshold, item.Version, item.UpdatedAt)
	if err != nil {
		return err
	}
	return requireAffected(res, "stock item", item.ID)
}

func (t *txStore) AppendLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error) {
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO stock_ledger (id, stock_item_id, direction, quantity, unit_cost, reason, causing_sale_id, sale_line_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING seq
	`, entry.ID, entry.StockItemID, string(entry.Direction), entry.Quantity, entry.UnitCost, entry.Reason,
		nullIfEmpty(entry.CausingSaleID), nullIfEmpty(entry.SaleLineID), entry.Timestamp).Scan(&entry.Sequence)
	return entry, err
}

func (t *txStore) SaveCompositeItem(ctx context.Context, item domain.CompositeItem) error {
	bomJSON, err := json.Marshal(item.BOM)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO composite_items (id, name, price, bom, active, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, bom = EXCLUDED.bom,
			active = EXCLUDED.active, updated_at = EXCLUDED.updated_at
	`, item.ID, item.Name, item.Price, bomJSON, item.Active, item.UpdatedAt)
	return err
}

func (t *txStore) CreateCoupon(ctx context.Context, c domain.Coupon) error {
	var maxDiscount, usageLimit any
	if c.MaxDiscount != nil {
		maxDiscount = *c.MaxDiscount
	}
	if c.UsageLimit != nil {
		usageLimit = *c.UsageLimit
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO coupons (code, kind, value, min_purchase, max_discount, usage_limit, used_count,
			valid_from, valid_until, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, c.Code, string(c.Kind), c.Value, c.MinPurchase, maxDiscount, usageLimit, c.UsedCount,
		nullTime(c.ValidFrom), nullTime(c.ValidUntil), c.Active, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("coupon %s: %w", c.Code, store.ErrDuplicate)
		}
		return err
	}
	return nil
}

func (t *txStore) LockCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	return t.getCoupon(ctx, code, true)
}

func (t *txStore) UpdateCouponUsedCount(ctx context.Context, code string, usedCount int64) error {
	res, err := t.q.ExecContext(ctx, `UPDATE coupons SET used_count = $2 WHERE code = $1`, code, usedCount)
	if err != nil {
		return err
	}
	return requireAffected(res, "coupon", code)
}

func (t *txStore) CreateCouponUsage(ctx context.Context, u domain.CouponUsage) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO coupon_usages (id, coupon_code, sale_id, customer_id, discount, used_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, u.ID, u.CouponCode, u.SaleID, nullIfEmpty(u.CustomerID), u.Discount, u.UsedAt)
	return err
}

func (t *txStore) ReverseCouponUsage(ctx context.Context, saleID string, at time.Time) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE coupon_usages SET reversed_at = $2 WHERE sale_id = $1 AND reversed_at IS NULL
	`, saleID, at)
	return err
}

func (t *txStore) CreateLoyaltyAccount(ctx context.Context, acc domain.LoyaltyAccount) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO loyalty_accounts (customer_id, name, points_balance, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
	`, acc.CustomerID, acc.Name, acc.PointsBalance, acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("loyalty account %s: %w", acc.CustomerID, store.ErrDuplicate)
		}
		return err
	}
	return nil
}

func (t *txStore) LockLoyaltyAccount(ctx context.Context, customerID string) (*domain.LoyaltyAccount, error) {
	return t.getLoyaltyAccount(ctx, customerID, true)
}

func (t *txStore) UpdateLoyaltyBalance(ctx context.Context, customerID string, balance int64, at time.Time) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE loyalty_accounts SET points_balance = $2, updated_at = $3 WHERE customer_id = $1
	`, customerID, balance, at)
	if err != nil {
		return err
	}
	return requireAffected(res, "loyalty account", customerID)
}

func (t *txStore) CreateSale(ctx context.Context, sale domain.Sale) error {
	effectsJSON, err := json.Marshal(sale.Effects)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO sales (id, idempotency_key, order_id, customer_id, coupon_code, gross_total, manual_discount,
			coupon_discount, points_discount, net_total, payment_method, payment_reference, cash_received,
			change_amount, effects, is_void, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,false,$16,$17)
	`, sale.ID, nullIfEmpty(sale.IdempotencyKey), nullIfEmpty(sale.OrderID), nullIfEmpty(sale.CustomerID),
		nullIfEmpty(sale.CouponCode), sale.GrossTotal, sale.ManualDiscount, sale.CouponDiscount, sale.PointsDiscount,
		sale.NetTotal, sale.PaymentMethod, nullIfEmpty(sale.PaymentReference), sale.CashReceived, sale.Change,
		effectsJSON, sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("sale %s: %w", sale.ID, store.ErrDuplicate)
		}
		return err
	}

	for i, line := range sale.Lines {
		if line.Item == nil {
			return fmt.Errorf("sale line %s: %w", line.ID, store.ErrInvalidTransaction)
		}
		componentsJSON, err := json.Marshal(line.Components)
		if err != nil {
			return err
		}
		if line.Components == nil {
			componentsJSON = []byte("[]")
		}
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO sale_lines (id, sale_id, line_no, item_kind, item_id, name, quantity, unit_price,
				line_discount, line_total, returned_quantity, components)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, line.ID, sale.ID, i+1, string(line.Item.Kind()), line.Item.ItemID(), line.Name, line.Quantity,
			line.UnitPrice, line.LineDiscount, line.LineTotal, line.ReturnedQuantity, componentsJSON); err != nil {
			return err
		}
	}
	return nil
}

func (t *txStore) LockSale(ctx context.Context, id string) (*domain.Sale, error) {
	return t.getSale(ctx, "id", id, true)
}

func (t *txStore) UpdateSale(ctx context.Context, sale domain.Sale) error {
	effectsJSON, err := json.Marshal(sale.Effects)
	if err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE sales
		SET gross_total = $2, net_total = $3, effects = $4, is_void = $5, void_reason = $6,
			voided_by = $7, voided_at = $8
		WHERE id = $1
	`, sale.ID, sale.GrossTotal, sale.NetTotal, effectsJSON, sale.IsVoid, nullIfEmpty(sale.VoidReason),
		nullIfEmpty(sale.VoidedBy), nullTime(sale.VoidedAt))
	if err != nil {
		return err
	}
	if err := requireAffected(res, "sale", sale.ID); err != nil {
		return err
	}

	for _, line := range sale.Lines {
		if _, err := t.q.ExecContext(ctx, `
			UPDATE sale_lines SET returned_quantity = $3 WHERE id = $1 AND sale_id = $2
		`, line.ID, sale.ID, line.ReturnedQuantity); err != nil {
			return err
		}
	}
	return nil
}

func (t *txStore) CreateSaleReturn(ctx context.Context, ret domain.SaleReturn) error {
	linesJSON, err := json.Marshal(ret.Lines)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO sale_returns (id, sale_id, lines, refund_amount, points_clawed_back, reason, processed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, ret.ID, ret.SaleID, linesJSON, ret.RefundAmount, ret.PointsClawedBack, ret.Reason, ret.ProcessedBy, ret.CreatedAt)
	return err
}

func (t *txStore) CreateOrder(ctx context.Context, o domain.CustomerOrder) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO customer_orders (id, table_ref, status, sale_id, cancel_reason, created_by, created_at, updated_at, ready_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, o.ID, nullIfEmpty(o.TableRef), string(o.Status), nullIfEmpty(o.SaleID), nullIfEmpty(o.CancelReason),
		o.CreatedBy, o.CreatedAt, o.UpdatedAt, nullTime(o.ReadyAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("order %s: %w", o.ID, store.ErrDuplicate)
		}
		return err
	}

	for i, line := range o.Lines {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, line_no, composite_item_id, name, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, line.ID, o.ID, i+1, line.CompositeItemID, line.Name, line.Quantity, line.UnitPrice); err != nil {
			return err
		}
	}
	for _, tk := range o.Tickets {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO kitchen_tickets (id, order_id, order_line_id, composite_item_id, name, table_ref, quantity,
				status, preparer_ref, created_at, started_at, ready_at, completed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`, tk.ID, o.ID, tk.OrderLineID, tk.CompositeItemID, tk.Name, nullIfEmpty(tk.TableRef), tk.Quantity,
			string(tk.Status), nullIfEmpty(tk.PreparerRef), tk.CreatedAt, nullTime(tk.StartedAt),
			nullTime(tk.ReadyAt), nullTime(tk.CompletedAt)); err != nil {
			return err
		}
	}
	return nil
}

// LockOrder locks the order row and then every ticket of the order.
func (t *txStore) LockOrder(ctx context.Context, id string) (*domain.CustomerOrder, error) {
	return t.getOrder(ctx, id, true)
}

func (t *txStore) UpdateOrder(ctx context.Context, o domain.CustomerOrder) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE customer_orders
		SET status = $2, sale_id = $3, cancel_reason = $4, updated_at = $5, ready_at = $6
		WHERE id = $1
	`, o.ID, string(o.Status), nullIfEmpty(o.SaleID), nullIfEmpty(o.CancelReason), o.UpdatedAt, nullTime(o.ReadyAt))
	if err != nil {
		return err
	}
	return requireAffected(res, "order", o.ID)
}

func (t *txStore) UpdateTicket(ctx context.Context, tk domain.KitchenTicket) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE kitchen_tickets
		SET status = $2, preparer_ref = $3, started_at = $4, ready_at = $5, completed_at = $6
		WHERE id = $1
	`, tk.ID, string(tk.Status), nullIfEmpty(tk.PreparerRef), nullTime(tk.StartedAt), nullTime(tk.ReadyAt),
		nullTime(tk.CompletedAt))
	if err != nil {
		return err
	}
	return requireAffected(res, "ticket", tk.ID)
}

func requireAffected(res interface{ RowsAffected() (int64, error) }, kind string, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	return nil
}
