package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"rasapos/backend/internal/bom"
	"rasapos/backend/internal/discount"
	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/ledger"
	"rasapos/backend/internal/store"
	"rasapos/backend/internal/validation"
	"rasapos/backend/internal/xid"
)

// Settle turns a cart into a finalized sale. Stock deduction, loyalty
// movement and coupon usage commit together or not at all. A repeated
// idempotency key returns the sale that key already produced.
func (s *Service) Settle(ctx context.Context, req domain.SettleRequest) (domain.SettleResponse, error) {
	normalizeSettleRequest(&req)
	if err := validation.Struct(req); err != nil {
		return domain.SettleResponse{}, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey)
		if err == nil {
			return domain.SettleResponse{Sale: *existing, Duplicate: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.SettleResponse{}, err
		}
	}

	var sale domain.Sale
	err := s.atomic(ctx, "settle", func(tx store.Tx) error {
		created, err := s.settleInTx(ctx, tx, req, "")
		if err != nil {
			return err
		}
		sale = created
		return nil
	})
	if err != nil {
		if req.IdempotencyKey != "" && errors.Is(err, store.ErrDuplicate) {
			existing, lookupErr := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey)
			if lookupErr == nil {
				return domain.SettleResponse{Sale: *existing, Duplicate: true}, nil
			}
		}
		return domain.SettleResponse{}, err
	}

	s.afterSettle(ctx, sale)
	return domain.SettleResponse{Sale: sale}, nil
}

// PreviewDiscounts runs the discount stack for a cart without locking or
// writing anything.
func (s *Service) PreviewDiscounts(ctx context.Context, req domain.SettleRequest) (domain.DiscountPreview, error) {
	normalizeSettleRequest(&req)
	if err := validation.Struct(req); err != nil {
		return domain.DiscountPreview{}, err
	}

	_, subtotals, err := resolveCart(ctx, s.repo, req.Lines)
	if err != nil {
		return domain.DiscountPreview{}, err
	}

	in := discount.Input{
		LineSubtotals: subtotals,
		Manual:        req.Discount.Manual,
		CouponCode:    req.Discount.CouponCode,
		RedeemPoints:  req.Discount.RedeemPoints,
		PointsPerUnit: s.pointsPerUnit,
		Now:           s.now(),
	}
	if in.CouponCode != "" {
		coupon, err := s.repo.GetCoupon(ctx, in.CouponCode)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.DiscountPreview{}, err
		}
		in.Coupon = coupon
	}
	if req.CustomerID != "" {
		account, err := s.repo.GetLoyaltyAccount(ctx, req.CustomerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.DiscountPreview{}, err
		}
		if account != nil {
			in.PointsBalance = account.PointsBalance
		}
	}

	result, err := discount.Compute(in)
	if err != nil {
		return domain.DiscountPreview{}, err
	}
	return domain.DiscountPreview{
		Subtotal:       result.Subtotal,
		ManualDiscount: result.ManualDiscount,
		CouponDiscount: result.CouponDiscount,
		PointsDiscount: result.PointsDiscount,
		TotalDiscount:  result.TotalDiscount,
		NetTotal:       result.NetTotal,
		LineDiscounts:  result.LineDiscounts,
	}, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func normalizeSettleRequest(req *domain.SettleRequest) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	req.PaymentReference = strings.TrimSpace(req.PaymentReference)
	req.Discount.CouponCode = strings.ToUpper(strings.TrimSpace(req.Discount.CouponCode))
	for i := range req.Lines {
		req.Lines[i].ItemID = strings.TrimSpace(req.Lines[i].ItemID)
	}
}

// settleInTx does the settlement work inside tx. Order checkout shares it.
func (s *Service) settleInTx(ctx context.Context, tx store.Tx, req domain.SettleRequest, orderID string) (domain.Sale, error) {
	now := s.now()

	lines, subtotals, err := resolveCart(ctx, tx, req.Lines)
	if err != nil {
		return domain.Sale{}, err
	}

	var coupon *domain.Coupon
	if code := req.Discount.CouponCode; code != "" {
		coupon, err = tx.LockCoupon(ctx, code)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, err
		}
	}

	var account *domain.LoyaltyAccount
	if req.CustomerID != "" {
		account, err = tx.LockLoyaltyAccount(ctx, req.CustomerID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, err
		}
	}
	var balance int64
	if account != nil {
		balance = account.PointsBalance
	}

	result, err := discount.Compute(discount.Input{
		LineSubtotals: subtotals,
		Manual:        req.Discount.Manual,
		Coupon:        coupon,
		CouponCode:    req.Discount.CouponCode,
		RedeemPoints:  req.Discount.RedeemPoints,
		PointsBalance: balance,
		PointsPerUnit: s.pointsPerUnit,
		Now:           now,
	})
	if err != nil {
		return domain.Sale{}, err
	}

	method := req.PaymentMethod
	if method == "" {
		method = domain.PaymentCash
	}
	cashReceived := decimal.Zero
	change := decimal.Zero
	switch {
	case req.CashReceived != nil && method != domain.PaymentCash:
		return domain.Sale{}, store.Invalid("cash_received", "only accepted for cash payments")
	case req.CashReceived != nil:
		if req.CashReceived.LessThan(result.NetTotal) {
			return domain.Sale{}, store.Invalid("cash_received", "must cover the net total")
		}
		cashReceived = *req.CashReceived
		change = cashReceived.Sub(result.NetTotal)
	case method == domain.PaymentCash:
		cashReceived = result.NetTotal
	}

	saleID := xid.New("sale")
	postings := make([]ledger.Posting, 0, len(lines))
	for i := range lines {
		line := &lines[i]
		line.ID = xid.New("sl")
		line.SaleID = saleID
		line.LineDiscount = result.LineDiscounts[i]
		line.LineTotal = subtotals[i].Sub(result.LineDiscounts[i])

		deductions, err := bom.ForLine(*line, line.Quantity)
		if err != nil {
			return domain.Sale{}, err
		}
		for _, d := range deductions {
			postings = append(postings, ledger.Posting{
				StockItemID:   d.StockItemID,
				Direction:     domain.DirectionOut,
				Quantity:      d.Quantity,
				Reason:        domain.ReasonSale,
				CausingSaleID: saleID,
				SaleLineID:    line.ID,
			})
		}
	}
	if _, err := s.ledger.Post(ctx, tx, postings, now); err != nil {
		return domain.Sale{}, err
	}

	var effects domain.SaleEffects
	if account != nil {
		effects.PointsAccrued = discount.Accrual(result.NetTotal, s.accrualRate)
		effects.PointsRedeemed = req.Discount.RedeemPoints
		if effects.PointsAccrued != 0 || effects.PointsRedeemed != 0 {
			next := account.PointsBalance - effects.PointsRedeemed + effects.PointsAccrued
			if err := tx.UpdateLoyaltyBalance(ctx, account.CustomerID, next, now); err != nil {
				return domain.Sale{}, err
			}
		}
	}

	sale := domain.Sale{
		ID:               saleID,
		IdempotencyKey:   req.IdempotencyKey,
		OrderID:          orderID,
		CustomerID:       req.CustomerID,
		Lines:            lines,
		GrossTotal:       result.Subtotal,
		ManualDiscount:   result.ManualDiscount,
		CouponDiscount:   result.CouponDiscount,
		PointsDiscount:   result.PointsDiscount,
		NetTotal:         result.NetTotal,
		PaymentMethod:    method,
		PaymentReference: req.PaymentReference,
		CashReceived:     cashReceived,
		Change:           change,
		CreatedBy:        actorName(ctx),
		CreatedAt:        now,
	}
	if coupon != nil {
		sale.CouponCode = coupon.Code
		effects.CouponApplied = true
	}
	sale.Effects = effects

	if err := tx.CreateSale(ctx, sale); err != nil {
		return domain.Sale{}, err
	}

	if coupon != nil {
		if err := tx.UpdateCouponUsedCount(ctx, coupon.Code, coupon.UsedCount+1); err != nil {
			return domain.Sale{}, err
		}
		if err := tx.CreateCouponUsage(ctx, domain.CouponUsage{
			ID:         xid.New("cpu"),
			CouponCode: coupon.Code,
			SaleID:     saleID,
			CustomerID: req.CustomerID,
			Discount:   result.CouponDiscount,
			UsedAt:     now,
		}); err != nil {
			return domain.Sale{}, err
		}
	}

	return sale, nil
}

func (s *Service) afterSettle(ctx context.Context, sale domain.Sale) {
	s.logAudit(ctx, "sale_settle", "sale", sale.ID,
		fmt.Sprintf("net=%s,method=%s,lines=%d,coupon=%s,redeemed=%d,accrued=%d",
			sale.NetTotal, sale.PaymentMethod, len(sale.Lines), sale.CouponCode,
			sale.Effects.PointsRedeemed, sale.Effects.PointsAccrued))
	s.logger.Info("sale settled",
		"sale_id", sale.ID,
		"order_id", sale.OrderID,
		"net_total", sale.NetTotal.String())
}

// resolveCart turns cart rows into priced sale lines. Each row is resolved
// to an ItemRef once; composite lines carry a copy of the BOM they sell.
func resolveCart(ctx context.Context, r store.Reader, cart []domain.CartLine) ([]domain.SaleLine, []decimal.Decimal, error) {
	lines := make([]domain.SaleLine, 0, len(cart))
	subtotals := make([]decimal.Decimal, 0, len(cart))

	for i, row := range cart {
		field := fmt.Sprintf("lines[%d]", i)
		if !row.Quantity.IsPositive() {
			return nil, nil, store.Invalid(field+".quantity", "must be greater than zero")
		}
		ref, err := domain.ParseItemRef(row.ItemKind, row.ItemID)
		if err != nil {
			return nil, nil, store.Invalid(field+".item_kind", err.Error())
		}

		line := domain.SaleLine{
			Item:             ref,
			Quantity:         row.Quantity,
			ReturnedQuantity: decimal.Zero,
		}
		switch ref := ref.(type) {
		case domain.StockItemRef:
			item, err := r.GetStockItem(ctx, ref.ItemID())
			if err != nil {
				return nil, nil, fmt.Errorf("%s stock item %s: %w", field, ref.ItemID(), err)
			}
			line.Name = item.Name
			line.UnitPrice = item.Price
			if row.UnitPriceOverride == nil && !item.Price.IsPositive() {
				return nil, nil, store.Invalid(field+".item_id", "stock item is not sold directly")
			}
		case domain.CompositeItemRef:
			item, err := r.GetCompositeItem(ctx, ref.ItemID())
			if err != nil {
				return nil, nil, fmt.Errorf("%s composite item %s: %w", field, ref.ItemID(), err)
			}
			if !item.Active {
				return nil, nil, store.Invalid(field+".item_id", "composite item is inactive")
			}
			line.Name = item.Name
			line.UnitPrice = item.Price
			line.Components = slices.Clone(item.BOM)
		}

		if row.UnitPriceOverride != nil {
			if row.UnitPriceOverride.IsNegative() {
				return nil, nil, store.Invalid(field+".unit_price_override", "must not be negative")
			}
			line.UnitPrice = *row.UnitPriceOverride
		}

		lines = append(lines, line)
		subtotals = append(subtotals, line.Quantity.Mul(line.UnitPrice).Round(discount.MoneyPlaces))
	}
	return lines, subtotals, nil
}
