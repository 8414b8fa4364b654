package memory

import (
	"time"

	"github.com/shopspring/decimal"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/xid"
)

// NewSeeded returns a store with a small demo restaurant catalog. Every
// opening quantity is backed by an opening_balance ledger entry.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	stock := []struct {
		id, name, unit                string
		price, qty, cost, reorderMark string
	}{
		{"stk-mince", "Pork mince", "kg", "0", "10", "90000", "2"},
		{"stk-noodle", "Egg noodles", "portion", "0", "200", "3500", "40"},
		{"stk-broth", "Pork broth", "l", "0", "30", "12000", "5"},
		{"stk-rice", "Steamed rice", "portion", "6000", "150", "2500", "30"},
		{"stk-tea", "Bottled tea", "pcs", "8000", "120", "4000", "24"},
	}
	for _, item := range stock {
		qty := decimal.RequireFromString(item.qty)
		cost := decimal.RequireFromString(item.cost)
		s.st.stockItems[item.id] = domain.StockItem{
			ID:               item.id,
			Name:             item.name,
			Unit:             item.unit,
			Price:            decimal.RequireFromString(item.price),
			OnHand:           qty,
			AverageCost:      cost,
			ReorderThreshold: decimal.RequireFromString(item.reorderMark),
			Version:          1,
			UpdatedAt:        now,
		}
		s.st.ledgerSeq++
		s.st.ledger = append(s.st.ledger, domain.LedgerEntry{
			ID:          xid.New("led"),
			Sequence:    s.st.ledgerSeq,
			StockItemID: item.id,
			Direction:   domain.DirectionIn,
			Quantity:    qty,
			UnitCost:    cost,
			Reason:      domain.ReasonOpeningBalance,
			Timestamp:   now,
		})
	}

	s.st.composites["cmp-noodle-soup"] = domain.CompositeItem{
		ID:    "cmp-noodle-soup",
		Name:  "Noodle Soup",
		Price: decimal.NewFromInt(38000),
		BOM: []domain.BOMLine{
			{StockItemID: "stk-mince", QuantityPerUnit: decimal.RequireFromString("0.1")},
			{StockItemID: "stk-noodle", QuantityPerUnit: decimal.NewFromInt(1)},
			{StockItemID: "stk-broth", QuantityPerUnit: decimal.RequireFromString("0.35")},
		},
		Active:    true,
		UpdatedAt: now,
	}
	s.st.composites["cmp-fried-rice"] = domain.CompositeItem{
		ID:    "cmp-fried-rice",
		Name:  "Fried Rice",
		Price: decimal.NewFromInt(32000),
		BOM: []domain.BOMLine{
			{StockItemID: "stk-rice", QuantityPerUnit: decimal.NewFromInt(1)},
			{StockItemID: "stk-mince", QuantityPerUnit: decimal.RequireFromString("0.05")},
		},
		Active:    true,
		UpdatedAt: now,
	}

	maxDiscount := decimal.NewFromInt(15000)
	usageLimit := int64(100)
	s.st.coupons["HEMAT10"] = domain.Coupon{
		Code:        "HEMAT10",
		Kind:        domain.DiscountPercent,
		Value:       decimal.NewFromInt(10),
		MinPurchase: decimal.NewFromInt(50000),
		MaxDiscount: &maxDiscount,
		UsageLimit:  &usageLimit,
		Active:      true,
		CreatedAt:   now,
	}

	s.st.loyalty["cust-001"] = domain.LoyaltyAccount{
		CustomerID:    "cust-001",
		Name:          "Rina",
		PointsBalance: 500,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	return s
}
