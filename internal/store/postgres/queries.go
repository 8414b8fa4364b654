package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/store"
)

// queries implements store.Reader over either the pool or an open
// transaction.
type queries struct {
	q dbtx
}

const stockItemColumns = `id, name, unit, price, on_hand, average_cost, reorder_threshold, version, updated_at`

func scanStockItem(row interface{ Scan(...any) error }) (domain.StockItem, error) {
	var item domain.StockItem
	err := row.Scan(&item.ID, &item.Name, &item.Unit, &item.Price, &item.OnHand, &item.AverageCost,
		&item.ReorderThreshold, &item.Version, &item.UpdatedAt)
	return item, err
}

func (r queries) GetStockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	item, err := scanStockItem(r.q.QueryRowContext(ctx, `SELECT `+stockItemColumns+` FROM stock_items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("stock item %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	return &item, nil
}

func (r queries) ListStockItems(ctx context.Context) ([]domain.StockItem, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+stockItemColumns+` FROM stock_items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.StockItem, 0, 64)
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

const ledgerColumns = `seq, id, stock_item_id, direction, quantity, unit_cost, reason, causing_sale_id, sale_line_id, created_at`

func (r queries) listLedger(ctx context.Context, where string, arg string) ([]domain.LedgerEntry, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+ledgerColumns+` FROM stock_ledger WHERE `+where+` = $1 ORDER BY seq`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 32)
	for rows.Next() {
		var e domain.LedgerEntry
		var direction string
		var saleID, lineID sql.NullString
		if err := rows.Scan(&e.Sequence, &e.ID, &e.StockItemID, &direction, &e.Quantity, &e.UnitCost,
			&e.Reason, &saleID, &lineID, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Direction = domain.Direction(direction)
		e.CausingSaleID = saleID.String
		e.SaleLineID = lineID.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r queries) ListLedgerEntries(ctx context.Context, stockItemID string) ([]domain.LedgerEntry, error) {
	return r.listLedger(ctx, "stock_item_id", stockItemID)
}

func (r queries) ListSaleLedgerEntries(ctx context.Context, saleID string) ([]domain.LedgerEntry, error) {
	return r.listLedger(ctx, "causing_sale_id", saleID)
}

func scanComposite(row interface{ Scan(...any) error }) (domain.CompositeItem, error) {
	var item domain.CompositeItem
	var bomRaw []byte
	if err := row.Scan(&item.ID, &item.Name, &item.Price, &bomRaw, &item.Active, &item.UpdatedAt); err != nil {
		return item, err
	}
	if err := json.Unmarshal(bomRaw, &item.BOM); err != nil {
		return item, fmt.Errorf("decode bom for %s: %w", item.ID, err)
	}
	return item, nil
}

func (r queries) GetCompositeItem(ctx context.Context, id string) (*domain.CompositeItem, error) {
	item, err := scanComposite(r.q.QueryRowContext(ctx, `
		SELECT id, name, price, bom, active, updated_at FROM composite_items WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("composite item %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	return &item, nil
}

func (r queries) ListCompositeItems(ctx context.Context) ([]domain.CompositeItem, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT id, name, price, bom, active, updated_at FROM composite_items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CompositeItem, 0, 32)
	for rows.Next() {
		item, err := scanComposite(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r queries) getCoupon(ctx context.Context, code string, lock bool) (*domain.Coupon, error) {
	query := `
		SELECT code, kind, value, min_purchase, max_discount, usage_limit, used_count,
			valid_from, valid_until, active, created_at
		FROM coupons WHERE code = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var c domain.Coupon
	var kind string
	var maxDiscount decimal.NullDecimal
	var usageLimit sql.NullInt64
	var validFrom, validUntil sql.NullTime
	err := r.q.QueryRowContext(ctx, query, code).Scan(&c.Code, &kind, &c.Value, &c.MinPurchase, &maxDiscount,
		&usageLimit, &c.UsedCount, &validFrom, &validUntil, &c.Active, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("coupon %s: %w", code, store.ErrNotFound)
		}
		return nil, err
	}
	c.Kind = domain.DiscountKind(kind)
	if maxDiscount.Valid {
		c.MaxDiscount = &maxDiscount.Decimal
	}
	if usageLimit.Valid {
		c.UsageLimit = &usageLimit.Int64
	}
	c.ValidFrom = timePtr(validFrom)
	c.ValidUntil = timePtr(validUntil)
	return &c, nil
}

func (r queries) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	return r.getCoupon(ctx, code, false)
}

func (r queries) getLoyaltyAccount(ctx context.Context, customerID string, lock bool) (*domain.LoyaltyAccount, error) {
	query := `SELECT customer_id, name, points_balance, created_at, updated_at FROM loyalty_accounts WHERE customer_id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var acc domain.LoyaltyAccount
	err := r.q.QueryRowContext(ctx, query, customerID).Scan(&acc.CustomerID, &acc.Name, &acc.PointsBalance, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("loyalty account %s: %w", customerID, store.ErrNotFound)
		}
		return nil, err
	}
	return &acc, nil
}

func (r queries) GetLoyaltyAccount(ctx context.Context, customerID string) (*domain.LoyaltyAccount, error) {
	return r.getLoyaltyAccount(ctx, customerID, false)
}

const saleColumns = `id, idempotency_key, order_id, customer_id, coupon_code, gross_total, manual_discount,
	coupon_discount, points_discount, net_total, payment_method, payment_reference, cash_received,
	change_amount, effects, is_void, void_reason, voided_by, voided_at, created_by, created_at`

func (r queries) getSale(ctx context.Context, where string, arg string, lock bool) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE ` + where + ` = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var sale domain.Sale
	var idem, orderID, customerID, couponCode, paymentRef, voidReason, voidedBy sql.NullString
	var effectsRaw []byte
	var voidedAt sql.NullTime
	err := r.q.QueryRowContext(ctx, query, arg).Scan(&sale.ID, &idem, &orderID, &customerID, &couponCode,
		&sale.GrossTotal, &sale.ManualDiscount, &sale.CouponDiscount, &sale.PointsDiscount, &sale.NetTotal,
		&sale.PaymentMethod, &paymentRef, &sale.CashReceived, &sale.Change, &effectsRaw, &sale.IsVoid,
		&voidReason, &voidedBy, &voidedAt, &sale.CreatedBy, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sale %s: %w", arg, store.ErrNotFound)
		}
		return nil, err
	}
	sale.IdempotencyKey = idem.String
	sale.OrderID = orderID.String
	sale.CustomerID = customerID.String
	sale.CouponCode = couponCode.String
	sale.PaymentReference = paymentRef.String
	sale.VoidReason = voidReason.String
	sale.VoidedBy = voidedBy.String
	sale.VoidedAt = timePtr(voidedAt)
	if len(effectsRaw) > 0 {
		if err := json.Unmarshal(effectsRaw, &sale.Effects); err != nil {
			return nil, fmt.Errorf("decode effects for %s: %w", sale.ID, err)
		}
	}

	lines, err := r.saleLines(ctx, sale.ID, lock)
	if err != nil {
		return nil, err
	}
	sale.Lines = lines

	returns, err := r.saleReturns(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Returns = returns
	return &sale, nil
}

func (r queries) saleLines(ctx context.Context, saleID string, lock bool) ([]domain.SaleLine, error) {
	query := `
		SELECT id, sale_id, item_kind, item_id, name, quantity, unit_price, line_discount, line_total,
			returned_quantity, components
		FROM sale_lines WHERE sale_id = $1 ORDER BY line_no`
	if lock {
		query += ` FOR UPDATE`
	}
	rows, err := r.q.QueryContext(ctx, query, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		var kind, itemID string
		var componentsRaw []byte
		if err := rows.Scan(&line.ID, &line.SaleID, &kind, &itemID, &line.Name, &line.Quantity, &line.UnitPrice,
			&line.LineDiscount, &line.LineTotal, &line.ReturnedQuantity, &componentsRaw); err != nil {
			return nil, err
		}
		ref, err := domain.ParseItemRef(domain.ItemKind(kind), itemID)
		if err != nil {
			return nil, fmt.Errorf("sale line %s: %w", line.ID, err)
		}
		line.Item = ref
		if err := json.Unmarshal(componentsRaw, &line.Components); err != nil {
			return nil, fmt.Errorf("decode components for %s: %w", line.ID, err)
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r queries) saleReturns(ctx context.Context, saleID string) ([]domain.SaleReturn, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, sale_id, lines, refund_amount, points_clawed_back, reason, processed_by, created_at
		FROM sale_returns WHERE sale_id = $1 ORDER BY created_at, id
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var returns []domain.SaleReturn
	for rows.Next() {
		var ret domain.SaleReturn
		var linesRaw []byte
		if err := rows.Scan(&ret.ID, &ret.SaleID, &linesRaw, &ret.RefundAmount, &ret.PointsClawedBack,
			&ret.Reason, &ret.ProcessedBy, &ret.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(linesRaw, &ret.Lines); err != nil {
			return nil, fmt.Errorf("decode return lines for %s: %w", ret.ID, err)
		}
		returns = append(returns, ret)
	}
	return returns, rows.Err()
}

func (r queries) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return r.getSale(ctx, "id", id, false)
}

func (r queries) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}
	return r.getSale(ctx, "idempotency_key", key, false)
}

const ticketColumns = `id, order_id, order_line_id, composite_item_id, name, table_ref, quantity, status,
	preparer_ref, created_at, started_at, ready_at, completed_at`

func scanTicket(row interface{ Scan(...any) error }) (domain.KitchenTicket, error) {
	var t domain.KitchenTicket
	var tableRef, preparer sql.NullString
	var status string
	var startedAt, readyAt, completedAt sql.NullTime
	if err := row.Scan(&t.ID, &t.OrderID, &t.OrderLineID, &t.CompositeItemID, &t.Name, &tableRef, &t.Quantity,
		&status, &preparer, &t.CreatedAt, &startedAt, &readyAt, &completedAt); err != nil {
		return t, err
	}
	t.TableRef = tableRef.String
	t.PreparerRef = preparer.String
	t.Status = domain.TicketStatus(status)
	t.StartedAt = timePtr(startedAt)
	t.ReadyAt = timePtr(readyAt)
	t.CompletedAt = timePtr(completedAt)
	return t, nil
}

func (r queries) getOrder(ctx context.Context, id string, lock bool) (*domain.CustomerOrder, error) {
	query := `
		SELECT id, table_ref, status, sale_id, cancel_reason, created_by, created_at, updated_at, ready_at
		FROM customer_orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var o domain.CustomerOrder
	var tableRef, saleID, cancelReason sql.NullString
	var status string
	var readyAt sql.NullTime
	err := r.q.QueryRowContext(ctx, query, id).Scan(&o.ID, &tableRef, &status, &saleID, &cancelReason,
		&o.CreatedBy, &o.CreatedAt, &o.UpdatedAt, &readyAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	o.TableRef = tableRef.String
	o.Status = domain.OrderStatus(status)
	o.SaleID = saleID.String
	o.CancelReason = cancelReason.String
	o.ReadyAt = timePtr(readyAt)

	lineRows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, composite_item_id, name, quantity, unit_price
		FROM order_lines WHERE order_id = $1 ORDER BY line_no
	`, id)
	if err != nil {
		return nil, err
	}
	for lineRows.Next() {
		var line domain.OrderLine
		if err := lineRows.Scan(&line.ID, &line.OrderID, &line.CompositeItemID, &line.Name, &line.Quantity, &line.UnitPrice); err != nil {
			_ = lineRows.Close()
			return nil, err
		}
		o.Lines = append(o.Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, err
	}
	_ = lineRows.Close()

	ticketQuery := `SELECT ` + ticketColumns + ` FROM kitchen_tickets WHERE order_id = $1 ORDER BY id`
	if lock {
		ticketQuery += ` FOR UPDATE`
	}
	ticketRows, err := r.q.QueryContext(ctx, ticketQuery, id)
	if err != nil {
		return nil, err
	}
	defer ticketRows.Close()
	for ticketRows.Next() {
		t, err := scanTicket(ticketRows)
		if err != nil {
			return nil, err
		}
		o.Tickets = append(o.Tickets, t)
	}
	return &o, ticketRows.Err()
}

func (r queries) GetOrder(ctx context.Context, id string) (*domain.CustomerOrder, error) {
	return r.getOrder(ctx, id, false)
}

func (r queries) GetTicket(ctx context.Context, id string) (*domain.KitchenTicket, error) {
	t, err := scanTicket(r.q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM kitchen_tickets WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("ticket %s: %w", id, store.ErrNotFound)
		}
		return nil, err
	}
	return &t, nil
}

func (r queries) ListTickets(ctx context.Context, status domain.TicketStatus) ([]domain.KitchenTicket, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = r.q.QueryContext(ctx, `
			SELECT `+ticketColumns+` FROM kitchen_tickets
			WHERE status = $1 ORDER BY created_at, id
		`, string(status))
	} else {
		rows, err = r.q.QueryContext(ctx, `
			SELECT `+ticketColumns+` FROM kitchen_tickets
			WHERE status <> 'completed'
				AND order_id NOT IN (SELECT id FROM customer_orders WHERE status = 'cancelled')
			ORDER BY created_at, id
		`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tickets := make([]domain.KitchenTicket, 0, 32)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r queries) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType,
			&entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}
