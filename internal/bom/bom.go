package bom

import (
	"fmt"

	"github.com/shopspring/decimal"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/store"
)

// Expand multiplies every BOM line by quantity. Lines naming the same stock
// item are merged; output order follows first appearance in the BOM.
func Expand(lines []domain.BOMLine, quantity decimal.Decimal) []domain.StockDeduction {
	out := make([]domain.StockDeduction, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, line := range lines {
		need := line.QuantityPerUnit.Mul(quantity)
		if i, ok := index[line.StockItemID]; ok {
			out[i].Quantity = out[i].Quantity.Add(need)
			continue
		}
		index[line.StockItemID] = len(out)
		out = append(out, domain.StockDeduction{StockItemID: line.StockItemID, Quantity: need})
	}
	return out
}

// ForLine returns the stock movements implied by quantity units of a sale
// line. Composite lines use the BOM snapshot taken at settlement, so later
// catalog edits never change what a void or return restores.
func ForLine(line domain.SaleLine, quantity decimal.Decimal) ([]domain.StockDeduction, error) {
	switch ref := line.Item.(type) {
	case domain.StockItemRef:
		return []domain.StockDeduction{{StockItemID: ref.ItemID(), Quantity: quantity}}, nil
	case domain.CompositeItemRef:
		return Expand(line.Components, quantity), nil
	default:
		return nil, fmt.Errorf("sale line %s: unresolved item reference", line.ID)
	}
}

// Validate checks a BOM before it is stored on a composite item.
func Validate(lines []domain.BOMLine) error {
	if len(lines) == 0 {
		return store.Invalid("bom", "must contain at least one line")
	}
	for i, line := range lines {
		if line.StockItemID == "" {
			return store.Invalid(fmt.Sprintf("bom[%d].stock_item_id", i), "required")
		}
		if !line.QuantityPerUnit.IsPositive() {
			return store.Invalid(fmt.Sprintf("bom[%d].quantity_per_unit", i), "must be greater than zero")
		}
	}
	return nil
}
