package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rasapos/backend/internal/bom"
	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/ledger"
	"rasapos/backend/internal/store"
	"rasapos/backend/internal/validation"
	"rasapos/backend/internal/xid"
)

func (s *Service) ListStockItems(ctx context.Context) ([]domain.StockItem, error) {
	return s.repo.ListStockItems(ctx)
}

func (s *Service) GetStockItem(ctx context.Context, id string) (domain.StockItem, error) {
	item, err := s.repo.GetStockItem(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.StockItem{}, err
	}
	return *item, nil
}

// CreateStockItem registers a stock item and books its initial quantity as
// an opening balance so the ledger explains every unit on hand.
func (s *Service) CreateStockItem(ctx context.Context, req domain.StockItemCreateRequest) (domain.StockItem, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.StockItem{}, err
	}

	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	if err := validation.Struct(req); err != nil {
		return domain.StockItem{}, err
	}
	switch {
	case req.Price.IsNegative():
		return domain.StockItem{}, store.Invalid("price", "must not be negative")
	case req.ReorderThreshold.IsNegative():
		return domain.StockItem{}, store.Invalid("reorder_threshold", "must not be negative")
	case req.InitialQuantity.IsNegative():
		return domain.StockItem{}, store.Invalid("initial_quantity", "must not be negative")
	case req.UnitCost.IsNegative():
		return domain.StockItem{}, store.Invalid("unit_cost", "must not be negative")
	}
	if req.ID == "" {
		req.ID = xid.New("stk")
	}

	now := s.now()
	item := domain.StockItem{
		ID:               req.ID,
		Name:             req.Name,
		Unit:             req.Unit,
		Price:            req.Price,
		OnHand:           decimal.Zero,
		AverageCost:      decimal.Zero,
		ReorderThreshold: req.ReorderThreshold,
		UpdatedAt:        now,
	}

	var created domain.StockItem
	err := s.atomic(ctx, "create_stock_item", func(tx store.Tx) error {
		if err := tx.CreateStockItem(ctx, item); err != nil {
			return err
		}
		if req.InitialQuantity.IsPositive() {
			_, err := s.ledger.Post(ctx, tx, []ledger.Posting{{
				StockItemID: item.ID,
				Direction:   domain.DirectionIn,
				Quantity:    req.InitialQuantity,
				UnitCost:    req.UnitCost,
				Reason:      domain.ReasonOpeningBalance,
			}}, now)
			if err != nil {
				return err
			}
		}
		saved, err := tx.GetStockItem(ctx, item.ID)
		if err != nil {
			return err
		}
		created = *saved
		return nil
	})
	if err != nil {
		return domain.StockItem{}, err
	}

	s.logAudit(ctx, "stock_item_create", "stock_item", created.ID,
		fmt.Sprintf("name=%s,unit=%s,qty=%s,cost=%s", created.Name, created.Unit, req.InitialQuantity, req.UnitCost))
	return created, nil
}

// ReceiveStock books a purchase receipt and moves the weighted-average cost.
func (s *Service) ReceiveStock(ctx context.Context, stockItemID string, req domain.StockReceiveRequest) (domain.StockItem, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.StockItem{}, err
	}
	if !req.Quantity.IsPositive() {
		return domain.StockItem{}, store.Invalid("quantity", "must be greater than zero")
	}
	if req.UnitCost.IsNegative() {
		return domain.StockItem{}, store.Invalid("unit_cost", "must not be negative")
	}

	var updated domain.StockItem
	err := s.atomic(ctx, "receive_stock", func(tx store.Tx) error {
		if _, err := s.ledger.Post(ctx, tx, []ledger.Posting{{
			StockItemID: stockItemID,
			Direction:   domain.DirectionIn,
			Quantity:    req.Quantity,
			UnitCost:    req.UnitCost,
			Reason:      domain.ReasonPurchase,
		}}, s.now()); err != nil {
			return err
		}
		item, err := tx.GetStockItem(ctx, stockItemID)
		if err != nil {
			return err
		}
		updated = *item
		return nil
	})
	if err != nil {
		return domain.StockItem{}, err
	}

	s.logAudit(ctx, "stock_receive", "stock_item", stockItemID,
		fmt.Sprintf("qty=%s,cost=%s,note=%s", req.Quantity, req.UnitCost, strings.TrimSpace(req.Reason)))
	return updated, nil
}

// AdjustStock records a physical count. The difference to the books is
// posted as a stock_count entry so replay still explains on-hand.
func (s *Service) AdjustStock(ctx context.Context, stockItemID string, req domain.StockAdjustRequest) (domain.StockItem, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.StockItem{}, err
	}
	if req.CountedQuantity.IsNegative() {
		return domain.StockItem{}, store.Invalid("counted_quantity", "must not be negative")
	}

	var (
		updated domain.StockItem
		delta   decimal.Decimal
	)
	err := s.atomic(ctx, "adjust_stock", func(tx store.Tx) error {
		locked, err := tx.LockStockItems(ctx, []string{stockItemID})
		if err != nil {
			return err
		}
		item, ok := locked[stockItemID]
		if !ok {
			return fmt.Errorf("stock item %s: %w", stockItemID, store.ErrNotFound)
		}

		delta = req.CountedQuantity.Sub(item.OnHand)
		if !delta.IsZero() {
			posting := ledger.Posting{
				StockItemID: stockItemID,
				Direction:   domain.DirectionIn,
				Quantity:    delta.Abs(),
				UnitCost:    item.AverageCost,
				Reason:      domain.ReasonStockCount,
			}
			if delta.IsNegative() {
				posting.Direction = domain.DirectionOut
			}
			if _, err := s.ledger.Post(ctx, tx, []ledger.Posting{posting}, s.now()); err != nil {
				return err
			}
		}

		saved, err := tx.GetStockItem(ctx, stockItemID)
		if err != nil {
			return err
		}
		updated = *saved
		return nil
	})
	if err != nil {
		return domain.StockItem{}, err
	}

	s.logAudit(ctx, "stock_adjust", "stock_item", stockItemID,
		fmt.Sprintf("counted=%s,delta=%s,note=%s", req.CountedQuantity, delta, strings.TrimSpace(req.Reason)))
	return updated, nil
}

func (s *Service) ListLedger(ctx context.Context, stockItemID string) ([]domain.LedgerEntry, error) {
	if _, err := s.repo.GetStockItem(ctx, stockItemID); err != nil {
		return nil, err
	}
	return s.repo.ListLedgerEntries(ctx, stockItemID)
}

// ReconcileStock replays the ledger of one item and compares it with the
// stored on-hand quantity.
func (s *Service) ReconcileStock(ctx context.Context, stockItemID string) (domain.StockReconciliation, error) {
	item, err := s.repo.GetStockItem(ctx, stockItemID)
	if err != nil {
		return domain.StockReconciliation{}, err
	}
	entries, err := s.repo.ListLedgerEntries(ctx, stockItemID)
	if err != nil {
		return domain.StockReconciliation{}, err
	}

	result := ledger.Reconcile(*item, entries)
	if !result.Balanced {
		s.logger.Error("stock ledger out of balance",
			"stock_item_id", stockItemID,
			"on_hand", result.OnHand.String(),
			"replayed", result.ReplayedQuantity.String())
	}
	return result, nil
}

func (s *Service) ReorderSuggestions(ctx context.Context) (domain.ReorderSuggestionResponse, error) {
	items, err := s.repo.ListStockItems(ctx)
	if err != nil {
		return domain.ReorderSuggestionResponse{}, err
	}

	two := decimal.NewFromInt(2)
	suggestions := make([]domain.ReorderSuggestion, 0, 16)
	for _, item := range items {
		if !item.ReorderThreshold.IsPositive() || item.OnHand.GreaterThan(item.ReorderThreshold) {
			continue
		}
		recommended := item.ReorderThreshold.Mul(two).Sub(item.OnHand)
		if !recommended.IsPositive() {
			continue
		}
		suggestions = append(suggestions, domain.ReorderSuggestion{
			StockItemID:         item.ID,
			Name:                item.Name,
			Unit:                item.Unit,
			OnHand:              item.OnHand,
			ReorderThreshold:    item.ReorderThreshold,
			RecommendedQuantity: recommended,
			AverageCost:         item.AverageCost,
			EstimatedCost:       recommended.Mul(item.AverageCost).Round(2),
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].OnHand.Equal(suggestions[j].OnHand) {
			return suggestions[i].EstimatedCost.GreaterThan(suggestions[j].EstimatedCost)
		}
		return suggestions[i].OnHand.LessThan(suggestions[j].OnHand)
	})

	return domain.ReorderSuggestionResponse{
		GeneratedAt: s.now().Format(time.RFC3339),
		Suggestions: suggestions,
	}, nil
}

func (s *Service) ListCompositeItems(ctx context.Context) ([]domain.CompositeItem, error) {
	return s.repo.ListCompositeItems(ctx)
}

func (s *Service) CreateCompositeItem(ctx context.Context, req domain.CompositeItemCreateRequest) (domain.CompositeItem, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.CompositeItem{}, err
	}

	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	if err := validation.Struct(req); err != nil {
		return domain.CompositeItem{}, err
	}
	if req.Price.IsNegative() {
		return domain.CompositeItem{}, store.Invalid("price", "must not be negative")
	}
	if err := bom.Validate(req.BOM); err != nil {
		return domain.CompositeItem{}, err
	}
	if req.ID == "" {
		req.ID = xid.New("cmp")
	}

	item := domain.CompositeItem{
		ID:        req.ID,
		Name:      req.Name,
		Price:     req.Price,
		BOM:       req.BOM,
		Active:    true,
		UpdatedAt: s.now(),
	}
	err := s.atomic(ctx, "create_composite_item", func(tx store.Tx) error {
		if _, err := tx.GetCompositeItem(ctx, item.ID); err == nil {
			return fmt.Errorf("composite item %s: %w", item.ID, store.ErrDuplicate)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if err := requireStockItems(ctx, tx, item.BOM); err != nil {
			return err
		}
		return tx.SaveCompositeItem(ctx, item)
	})
	if err != nil {
		return domain.CompositeItem{}, err
	}

	s.logAudit(ctx, "composite_item_create", "composite_item", item.ID,
		fmt.Sprintf("name=%s,price=%s,bom_lines=%d", item.Name, item.Price, len(item.BOM)))
	return item, nil
}

// UpdateCompositeBOM replaces the recipe for future sales. Sale lines keep
// the BOM they were settled with.
func (s *Service) UpdateCompositeBOM(ctx context.Context, id string, req domain.BOMUpdateRequest) (domain.CompositeItem, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.CompositeItem{}, err
	}
	if err := validation.Struct(req); err != nil {
		return domain.CompositeItem{}, err
	}
	if err := bom.Validate(req.BOM); err != nil {
		return domain.CompositeItem{}, err
	}

	var updated domain.CompositeItem
	err := s.atomic(ctx, "update_composite_bom", func(tx store.Tx) error {
		existing, err := tx.GetCompositeItem(ctx, id)
		if err != nil {
			return err
		}
		if err := requireStockItems(ctx, tx, req.BOM); err != nil {
			return err
		}
		updated = *existing
		updated.BOM = req.BOM
		updated.UpdatedAt = s.now()
		return tx.SaveCompositeItem(ctx, updated)
	})
	if err != nil {
		return domain.CompositeItem{}, err
	}

	s.logAudit(ctx, "composite_bom_update", "composite_item", id, fmt.Sprintf("bom_lines=%d", len(updated.BOM)))
	return updated, nil
}

// ExpandComposite previews the stock a sale of quantity units would deduct.
func (s *Service) ExpandComposite(ctx context.Context, id string, quantity decimal.Decimal) ([]domain.StockDeduction, error) {
	if !quantity.IsPositive() {
		return nil, store.Invalid("qty", "must be greater than zero")
	}
	item, err := s.repo.GetCompositeItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return bom.Expand(item.BOM, quantity), nil
}

func requireStockItems(ctx context.Context, r store.Reader, lines []domain.BOMLine) error {
	for i, line := range lines {
		if _, err := r.GetStockItem(ctx, line.StockItemID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return store.Invalid(fmt.Sprintf("bom[%d].stock_item_id", i), "unknown stock item")
			}
			return err
		}
	}
	return nil
}

func (s *Service) CreateCoupon(ctx context.Context, req domain.CouponCreateRequest) (domain.Coupon, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.Coupon{}, err
	}

	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	if err := validation.Struct(req); err != nil {
		return domain.Coupon{}, err
	}
	if !req.Value.IsPositive() {
		return domain.Coupon{}, store.Invalid("value", "must be greater than zero")
	}
	if req.Kind == domain.DiscountPercent && req.Value.GreaterThan(decimal.NewFromInt(100)) {
		return domain.Coupon{}, store.Invalid("value", "percent must not exceed 100")
	}
	if req.MinPurchase.IsNegative() {
		return domain.Coupon{}, store.Invalid("min_purchase", "must not be negative")
	}
	if req.MaxDiscount != nil && !req.MaxDiscount.IsPositive() {
		return domain.Coupon{}, store.Invalid("max_discount", "must be greater than zero")
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && !req.ValidUntil.After(*req.ValidFrom) {
		return domain.Coupon{}, store.Invalid("valid_until", "must be after valid_from")
	}

	coupon := domain.Coupon{
		Code:        req.Code,
		Kind:        req.Kind,
		Value:       req.Value,
		MinPurchase: req.MinPurchase,
		MaxDiscount: req.MaxDiscount,
		UsageLimit:  req.UsageLimit,
		ValidFrom:   req.ValidFrom,
		ValidUntil:  req.ValidUntil,
		Active:      true,
		CreatedAt:   s.now(),
	}
	if err := s.atomic(ctx, "create_coupon", func(tx store.Tx) error {
		return tx.CreateCoupon(ctx, coupon)
	}); err != nil {
		return domain.Coupon{}, err
	}

	s.logAudit(ctx, "coupon_create", "coupon", coupon.Code,
		fmt.Sprintf("kind=%s,value=%s,min=%s", coupon.Kind, coupon.Value, coupon.MinPurchase))
	return coupon, nil
}

func (s *Service) GetCoupon(ctx context.Context, code string) (domain.Coupon, error) {
	coupon, err := s.repo.GetCoupon(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return domain.Coupon{}, err
	}
	return *coupon, nil
}

func (s *Service) EnrollLoyalty(ctx context.Context, req domain.LoyaltyEnrollRequest) (domain.LoyaltyAccount, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.Name = strings.TrimSpace(req.Name)
	if err := validation.Struct(req); err != nil {
		return domain.LoyaltyAccount{}, err
	}

	now := s.now()
	account := domain.LoyaltyAccount{
		CustomerID: req.CustomerID,
		Name:       req.Name,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.atomic(ctx, "enroll_loyalty", func(tx store.Tx) error {
		return tx.CreateLoyaltyAccount(ctx, account)
	}); err != nil {
		return domain.LoyaltyAccount{}, err
	}

	s.logAudit(ctx, "loyalty_enroll", "loyalty_account", account.CustomerID, "name="+account.Name)
	return account, nil
}

func (s *Service) GetLoyaltyAccount(ctx context.Context, customerID string) (domain.LoyaltyAccount, error) {
	account, err := s.repo.GetLoyaltyAccount(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return domain.LoyaltyAccount{}, err
	}
	return *account, nil
}
