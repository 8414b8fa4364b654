package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/store"
	"rasapos/backend/internal/xid"
)

// CostPlaces is the precision kept for weighted-average unit costs.
const CostPlaces = 6

type Policy string

const (
	// PolicyReject fails an OUT posting that exceeds on-hand quantity.
	PolicyReject Policy = "reject"
	// PolicyClamp deducts what is available and drops the deficit.
	PolicyClamp Policy = "clamp"
)

func ParsePolicy(raw string) (Policy, error) {
	switch Policy(raw) {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicyClamp:
		return PolicyClamp, nil
	default:
		return "", fmt.Errorf("unknown oversell policy %q", raw)
	}
}

type Posting struct {
	StockItemID   string
	Direction     domain.Direction
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	Reason        string
	CausingSaleID string
	SaleLineID    string
}

type Ledger struct {
	policy Policy
	logger *slog.Logger
}

func New(policy Policy, logger *slog.Logger) *Ledger {
	if policy == "" {
		policy = PolicyReject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{policy: policy, logger: logger.With("component", "ledger")}
}

func (l *Ledger) Policy() Policy {
	return l.policy
}

// Post applies postings as one group inside tx. Every affected stock item is
// locked and every posting is checked before anything is written.
func (l *Ledger) Post(ctx context.Context, tx store.Tx, postings []Posting, at time.Time) ([]domain.LedgerEntry, error) {
	if len(postings) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(postings))
	seen := make(map[string]struct{}, len(postings))
	for _, p := range postings {
		if _, ok := seen[p.StockItemID]; ok {
			continue
		}
		seen[p.StockItemID] = struct{}{}
		ids = append(ids, p.StockItemID)
	}
	sort.Strings(ids)

	items, err := tx.LockStockItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.LedgerEntry, 0, len(postings))
	for _, p := range postings {
		item, ok := items[p.StockItemID]
		if !ok {
			return nil, fmt.Errorf("stock item %s: %w", p.StockItemID, store.ErrNotFound)
		}
		entry, deficit, err := Apply(item, p, l.policy)
		if err != nil {
			return nil, err
		}
		if deficit.IsPositive() {
			l.logger.Warn("oversold stock clamped to zero",
				"stock_item_id", p.StockItemID,
				"deficit", deficit.String(),
				"sale_id", p.CausingSaleID)
		}
		entry.ID = xid.New("led")
		entry.Timestamp = at
		entries = append(entries, entry)
	}

	for _, id := range ids {
		item := items[id]
		item.Version++
		item.UpdatedAt = at
		if err := tx.UpdateStockItem(ctx, *item); err != nil {
			return nil, err
		}
	}

	stored := make([]domain.LedgerEntry, 0, len(entries))
	for _, entry := range entries {
		saved, err := tx.AppendLedgerEntry(ctx, entry)
		if err != nil {
			return nil, err
		}
		stored = append(stored, saved)
	}
	return stored, nil
}

// Apply moves item by one posting and returns the resulting entry. Under
// PolicyClamp the deficit that could not be deducted is returned.
func Apply(item *domain.StockItem, p Posting, policy Policy) (domain.LedgerEntry, decimal.Decimal, error) {
	if !p.Quantity.IsPositive() {
		return domain.LedgerEntry{}, decimal.Zero, store.Invalid("quantity", "must be greater than zero")
	}

	entry := domain.LedgerEntry{
		StockItemID:   item.ID,
		Direction:     p.Direction,
		Quantity:      p.Quantity,
		Reason:        p.Reason,
		CausingSaleID: p.CausingSaleID,
		SaleLineID:    p.SaleLineID,
	}

	switch p.Direction {
	case domain.DirectionIn:
		if p.UnitCost.IsNegative() {
			return domain.LedgerEntry{}, decimal.Zero, store.Invalid("unit_cost", "must not be negative")
		}
		item.AverageCost = weightedAverage(item.OnHand, item.AverageCost, p.Quantity, p.UnitCost)
		item.OnHand = item.OnHand.Add(p.Quantity)
		entry.UnitCost = p.UnitCost
		return entry, decimal.Zero, nil

	case domain.DirectionOut:
		entry.UnitCost = item.AverageCost
		if p.Quantity.GreaterThan(item.OnHand) {
			if policy != PolicyClamp {
				return domain.LedgerEntry{}, decimal.Zero, &store.InsufficientStockError{
					StockItemID: item.ID,
					Available:   item.OnHand,
					Requested:   p.Quantity,
				}
			}
			deficit := p.Quantity.Sub(item.OnHand)
			entry.Quantity = item.OnHand
			item.OnHand = decimal.Zero
			return entry, deficit, nil
		}
		item.OnHand = item.OnHand.Sub(p.Quantity)
		return entry, decimal.Zero, nil

	default:
		return domain.LedgerEntry{}, decimal.Zero, store.Invalid("direction", "must be IN or OUT")
	}
}

func weightedAverage(oldQty, oldCost, qty, unitCost decimal.Decimal) decimal.Decimal {
	total := oldQty.Add(qty)
	if !total.IsPositive() {
		return oldCost
	}
	value := oldQty.Mul(oldCost).Add(qty.Mul(unitCost))
	return value.DivRound(total, CostPlaces)
}

// Replay folds entries in sequence order into the quantity and average cost
// they imply.
func Replay(entries []domain.LedgerEntry) (decimal.Decimal, decimal.Decimal) {
	sorted := make([]domain.LedgerEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Sequence != sorted[j].Sequence {
			return sorted[i].Sequence < sorted[j].Sequence
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	qty := decimal.Zero
	cost := decimal.Zero
	for _, e := range sorted {
		if e.Direction == domain.DirectionIn {
			cost = weightedAverage(qty, cost, e.Quantity, e.UnitCost)
		}
		qty = qty.Add(e.SignedQuantity())
	}
	return qty, cost
}

func Reconcile(item domain.StockItem, entries []domain.LedgerEntry) domain.StockReconciliation {
	qty, cost := Replay(entries)
	return domain.StockReconciliation{
		StockItemID:         item.ID,
		OnHand:              item.OnHand,
		ReplayedQuantity:    qty,
		AverageCost:         item.AverageCost,
		ReplayedAverageCost: cost,
		Entries:             len(entries),
		Balanced:            qty.Equal(item.OnHand),
	}
}
