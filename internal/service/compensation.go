package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rasapos/backend/internal/bom"
	"rasapos/backend/internal/discount"
	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/ledger"
	"rasapos/backend/internal/store"
	"rasapos/backend/internal/validation"
	"rasapos/backend/internal/xid"
)

// Void reverses a whole sale. Stock still held by the sale goes back to the
// ledger; with compensation enabled, accrued points are clawed back,
// redeemed points are restored and the coupon use is released.
func (s *Service) Void(ctx context.Context, saleID string, req domain.VoidRequest) (domain.VoidResult, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.VoidResult{}, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validation.Struct(req); err != nil {
		return domain.VoidResult{}, err
	}

	var result domain.VoidResult
	err = s.atomic(ctx, "void", func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.IsVoid {
			return fmt.Errorf("sale %s: %w", sale.ID, store.ErrAlreadyVoided)
		}

		now := s.now()
		entries, err := tx.ListSaleLedgerEntries(ctx, sale.ID)
		if err != nil {
			return err
		}
		held := newHeldStock(entries)

		postings := make([]ledger.Posting, 0, len(sale.Lines))
		for _, line := range sale.Lines {
			remaining := line.RemainingQuantity()
			if !remaining.IsPositive() {
				continue
			}
			deductions, err := bom.ForLine(line, remaining)
			if err != nil {
				return err
			}
			postings = append(postings, held.restore(sale.ID, line.ID, deductions, domain.ReasonVoid)...)
		}
		restored, err := s.ledger.Post(ctx, tx, postings, now)
		if err != nil {
			return err
		}

		res := domain.VoidResult{SaleID: sale.ID, VoidedAt: now, RestoredEntries: len(restored)}
		if s.compensate {
			claw := sale.Effects.PointsAccrued - sale.Effects.PointsClawedBack
			restore := sale.Effects.PointsRedeemed - sale.Effects.PointsRestored
			res.PointsClawedBack, res.PointsRestored, err = s.reverseLoyalty(ctx, tx, sale, claw, restore, now)
			if err != nil {
				return err
			}
			res.CouponReleased, err = releaseCoupon(ctx, tx, sale, now)
			if err != nil {
				return err
			}
		}

		sale.IsVoid = true
		sale.VoidReason = req.Reason
		sale.VoidedBy = actor.Username
		sale.VoidedAt = &now
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return domain.VoidResult{}, err
	}

	s.logAudit(ctx, "sale_void", "sale", saleID,
		fmt.Sprintf("reason=%s,restored=%d,points_clawed=%d,points_restored=%d,coupon_released=%t",
			req.Reason, result.RestoredEntries, result.PointsClawedBack, result.PointsRestored, result.CouponReleased))
	return result, nil
}

// Return takes back part of a sale. Each line tracks what it has already
// returned, so the cumulative return can never exceed the quantity sold.
func (s *Service) Return(ctx context.Context, saleID string, req domain.ReturnRequest) (domain.ReturnResult, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.ReturnResult{}, err
	}
	req.Reason = strings.TrimSpace(req.Reason)
	for i := range req.Lines {
		req.Lines[i].SaleLineID = strings.TrimSpace(req.Lines[i].SaleLineID)
	}
	if err := validation.Struct(req); err != nil {
		return domain.ReturnResult{}, err
	}

	var result domain.ReturnResult
	err = s.atomic(ctx, "return", func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.IsVoid {
			return fmt.Errorf("sale %s: %w", sale.ID, store.ErrAlreadyVoided)
		}

		order := make([]string, 0, len(req.Lines))
		requested := make(map[string]decimal.Decimal, len(req.Lines))
		for i, rl := range req.Lines {
			if !rl.Quantity.IsPositive() {
				return store.Invalid(fmt.Sprintf("lines[%d].quantity", i), "must be greater than zero")
			}
			line, ok := sale.Line(rl.SaleLineID)
			if !ok {
				return fmt.Errorf("sale line %s: %w", rl.SaleLineID, store.ErrNotFound)
			}
			total, seen := requested[line.ID]
			if !seen {
				order = append(order, line.ID)
			}
			total = total.Add(rl.Quantity)
			if total.GreaterThan(line.RemainingQuantity()) {
				return &store.OverReturnQuantityError{
					SaleLineID: line.ID,
					Remaining:  line.RemainingQuantity(),
					Requested:  total,
				}
			}
			requested[line.ID] = total
		}

		now := s.now()
		entries, err := tx.ListSaleLedgerEntries(ctx, sale.ID)
		if err != nil {
			return err
		}
		held := newHeldStock(entries)

		ret := domain.SaleReturn{
			ID:          xid.New("ret"),
			SaleID:      sale.ID,
			Lines:       make([]domain.ReturnLine, 0, len(order)),
			Reason:      req.Reason,
			ProcessedBy: actor.Username,
			CreatedAt:   now,
		}
		refundTotal := decimal.Zero
		postings := make([]ledger.Posting, 0, len(order))
		for _, id := range order {
			line, _ := sale.Line(id)
			qty := requested[id]

			refund := discount.Refund(*line, qty)
			deductions, err := bom.ForLine(*line, qty)
			if err != nil {
				return err
			}
			postings = append(postings, held.restore(sale.ID, line.ID, deductions, domain.ReasonReturn)...)

			line.ReturnedQuantity = line.ReturnedQuantity.Add(qty)
			ret.Lines = append(ret.Lines, domain.ReturnLine{SaleLineID: id, Quantity: qty, Refund: refund})
			refundTotal = refundTotal.Add(refund)
		}
		if _, err := s.ledger.Post(ctx, tx, postings, now); err != nil {
			return err
		}

		ret.RefundAmount = refundTotal
		sale.GrossTotal = floorZero(sale.GrossTotal.Sub(refundTotal))
		sale.NetTotal = floorZero(sale.NetTotal.Sub(refundTotal))

		if s.compensate {
			want := discount.Accrual(refundTotal, s.accrualRate)
			if outstanding := sale.Effects.PointsAccrued - sale.Effects.PointsClawedBack; want > outstanding {
				want = outstanding
			}
			ret.PointsClawedBack, _, err = s.reverseLoyalty(ctx, tx, sale, want, 0, now)
			if err != nil {
				return err
			}
		}

		if err := tx.CreateSaleReturn(ctx, ret); err != nil {
			return err
		}
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		result = domain.ReturnResult{Return: ret, NetTotal: sale.NetTotal}
		return nil
	})
	if err != nil {
		return domain.ReturnResult{}, err
	}

	s.logAudit(ctx, "sale_return", "sale", saleID,
		fmt.Sprintf("return=%s,refund=%s,lines=%d,points_clawed=%d",
			result.Return.ID, result.Return.RefundAmount, len(result.Return.Lines), result.Return.PointsClawedBack))
	return result, nil
}

// reverseLoyalty gives back restore redeemed points and takes back up to
// claw accrued points. The clawback never drives the balance below zero.
// The applied amounts are added to the sale's effect set.
func (s *Service) reverseLoyalty(ctx context.Context, tx store.Tx, sale *domain.Sale, claw int64, restore int64, at time.Time) (int64, int64, error) {
	if sale.CustomerID == "" || (claw <= 0 && restore <= 0) {
		return 0, 0, nil
	}
	account, err := tx.LockLoyaltyAccount(ctx, sale.CustomerID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}

	claw = max(claw, 0)
	restore = max(restore, 0)
	available := account.PointsBalance + restore
	if claw > available {
		s.logger.Warn("points clawback capped by balance",
			"sale_id", sale.ID,
			"customer_id", sale.CustomerID,
			"wanted", claw,
			"available", available)
		claw = available
	}
	if err := tx.UpdateLoyaltyBalance(ctx, account.CustomerID, available-claw, at); err != nil {
		return 0, 0, err
	}

	sale.Effects.PointsClawedBack += claw
	sale.Effects.PointsRestored += restore
	return claw, restore, nil
}

func releaseCoupon(ctx context.Context, tx store.Tx, sale *domain.Sale, at time.Time) (bool, error) {
	if !sale.Effects.CouponApplied || sale.Effects.CouponReleased || sale.CouponCode == "" {
		return false, nil
	}
	coupon, err := tx.LockCoupon(ctx, sale.CouponCode)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := tx.UpdateCouponUsedCount(ctx, coupon.Code, max(coupon.UsedCount-1, 0)); err != nil {
		return false, err
	}
	if err := tx.ReverseCouponUsage(ctx, sale.ID, at); err != nil {
		return false, err
	}
	sale.Effects.CouponReleased = true
	return true, nil
}

// heldStock tracks, per sale line and stock item, how much stock the sale
// still holds according to its ledger entries. Restorations are capped by
// it, so stock that was never deducted (a clamped oversell) is never put
// back and nothing is restored twice.
type heldStock struct {
	outstanding map[string]decimal.Decimal
	cost        map[string]decimal.Decimal
}

func heldKey(saleLineID string, stockItemID string) string {
	return saleLineID + "\x00" + stockItemID
}

func newHeldStock(entries []domain.LedgerEntry) *heldStock {
	h := &heldStock{
		outstanding: make(map[string]decimal.Decimal, len(entries)),
		cost:        make(map[string]decimal.Decimal, len(entries)),
	}
	for _, e := range entries {
		if e.SaleLineID == "" {
			continue
		}
		key := heldKey(e.SaleLineID, e.StockItemID)
		h.outstanding[key] = h.outstanding[key].Sub(e.SignedQuantity())
		if e.Direction == domain.DirectionOut {
			h.cost[key] = e.UnitCost
		}
	}
	return h
}

func (h *heldStock) restore(saleID string, saleLineID string, deductions []domain.StockDeduction, reason string) []ledger.Posting {
	postings := make([]ledger.Posting, 0, len(deductions))
	for _, d := range deductions {
		key := heldKey(saleLineID, d.StockItemID)
		qty := decimal.Min(d.Quantity, h.outstanding[key])
		if !qty.IsPositive() {
			continue
		}
		h.outstanding[key] = h.outstanding[key].Sub(qty)
		postings = append(postings, ledger.Posting{
			StockItemID:   d.StockItemID,
			Direction:     domain.DirectionIn,
			Quantity:      qty,
			UnitCost:      h.cost[key],
			Reason:        reason,
			CausingSaleID: saleID,
			SaleLineID:    saleLineID,
		})
	}
	return postings
}

func floorZero(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
