package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/store"
	"rasapos/backend/internal/xid"
)

// Store keeps everything in process memory. A WithinTx call works on a copy
// of the state and swaps it in only when fn succeeds, so a failed unit of
// work leaves nothing behind. Transactions are serialized by mu.
type Store struct {
	mu        sync.RWMutex
	st        *state
	auditLogs []domain.AuditLog
}

type state struct {
	stockItems   map[string]domain.StockItem
	ledger       []domain.LedgerEntry
	ledgerSeq    int64
	composites   map[string]domain.CompositeItem
	coupons      map[string]domain.Coupon
	couponUsages []domain.CouponUsage
	loyalty      map[string]domain.LoyaltyAccount
	sales        map[string]domain.Sale
	salesByIdem  map[string]string
	saleReturns  map[string][]domain.SaleReturn
	orders       map[string]domain.CustomerOrder
	ticketOrder  map[string]string
}

func New() *Store {
	return &Store{
		st: &state{
			stockItems:  make(map[string]domain.StockItem),
			composites:  make(map[string]domain.CompositeItem),
			coupons:     make(map[string]domain.Coupon),
			loyalty:     make(map[string]domain.LoyaltyAccount),
			sales:       make(map[string]domain.Sale),
			salesByIdem: make(map[string]string),
			saleReturns: make(map[string][]domain.SaleReturn),
			orders:      make(map[string]domain.CustomerOrder),
			ticketOrder: make(map[string]string),
		},
		auditLogs: make([]domain.AuditLog, 0, 128),
	}
}

func (st *state) clone() *state {
	return &state{
		stockItems:   maps.Clone(st.stockItems),
		ledger:       slices.Clone(st.ledger),
		ledgerSeq:    st.ledgerSeq,
		composites:   maps.Clone(st.composites),
		coupons:      maps.Clone(st.coupons),
		couponUsages: slices.Clone(st.couponUsages),
		loyalty:      maps.Clone(st.loyalty),
		sales:        maps.Clone(st.sales),
		salesByIdem:  maps.Clone(st.salesByIdem),
		saleReturns:  maps.Clone(st.saleReturns),
		orders:       maps.Clone(st.orders),
		ticketOrder:  maps.Clone(st.ticketOrder),
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.st.clone()
	if err := fn(&tx{state: work, auditLogs: s.auditLogs}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// read returns the committed state. Committed states are never mutated after
// the swap, so callers may use the snapshot without holding the lock.
func (s *Store) read() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st
}

func (s *Store) GetStockItem(ctx context.Context, id string) (*domain.StockItem, error) {
	return s.read().GetStockItem(ctx, id)
}

func (s *Store) ListStockItems(ctx context.Context) ([]domain.StockItem, error) {
	return s.read().ListStockItems(ctx)
}

func (s *Store) ListLedgerEntries(ctx context.Context, stockItemID string) ([]domain.LedgerEntry, error) {
	return s.read().ListLedgerEntries(ctx, stockItemID)
}

func (s *Store) ListSaleLedgerEntries(ctx context.Context, saleID string) ([]domain.LedgerEntry, error) {
	return s.read().ListSaleLedgerEntries(ctx, saleID)
}

func (s *Store) GetCompositeItem(ctx context.Context, id string) (*domain.CompositeItem, error) {
	return s.read().GetCompositeItem(ctx, id)
}

func (s *Store) ListCompositeItems(ctx context.Context) ([]domain.CompositeItem, error) {
	return s.read().ListCompositeItems(ctx)
}

func (s *Store) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	return s.read().GetCoupon(ctx, code)
}

func (s *Store) GetLoyaltyAccount(ctx context.Context, customerID string) (*domain.LoyaltyAccount, error) {
	return s.read().GetLoyaltyAccount(ctx, customerID)
}

func (s *Store) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.read().GetSale(ctx, id)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.read().FindSaleByIdempotency(ctx, key)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.CustomerOrder, error) {
	return s.read().GetOrder(ctx, id)
}

func (s *Store) GetTicket(ctx context.Context, id string) (*domain.KitchenTicket, error) {
	return s.read().GetTicket(ctx, id)
}

func (s *Store) ListTickets(ctx context.Context, status domain.TicketStatus) ([]domain.KitchenTicket, error) {
	return s.read().ListTickets(ctx, status)
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterAuditLogs(s.auditLogs, from, to, limit), nil
}

func filterAuditLogs(logs []domain.AuditLog, from time.Time, to time.Time, limit int) []domain.AuditLog {
	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range logs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (st *state) GetStockItem(_ context.Context, id string) (*domain.StockItem, error) {
	item, ok := st.stockItems[id]
	if !ok {
		return nil, fmt.Errorf("stock item %s: %w", id, store.ErrNotFound)
	}
	return &item, nil
}

func (st *state) ListStockItems(_ context.Context) ([]domain.StockItem, error) {
	items := make([]domain.StockItem, 0, len(st.stockItems))
	for _, item := range st.stockItems {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.StockItem) int { return cmpString(a.ID, b.ID) })
	return items, nil
}

func (st *state) ListLedgerEntries(_ context.Context, stockItemID string) ([]domain.LedgerEntry, error) {
	entries := make([]domain.LedgerEntry, 0, 16)
	for _, e := range st.ledger {
		if e.StockItemID == stockItemID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (st *state) ListSaleLedgerEntries(_ context.Context, saleID string) ([]domain.LedgerEntry, error) {
	entries := make([]domain.LedgerEntry, 0, 8)
	for _, e := range st.ledger {
		if e.CausingSaleID == saleID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (st *state) GetCompositeItem(_ context.Context, id string) (*domain.CompositeItem, error) {
	item, ok := st.composites[id]
	if !ok {
		return nil, fmt.Errorf("composite item %s: %w", id, store.ErrNotFound)
	}
	dup := cloneComposite(item)
	return &dup, nil
}

func (st *state) ListCompositeItems(_ context.Context) ([]domain.CompositeItem, error) {
	items := make([]domain.CompositeItem, 0, len(st.composites))
	for _, item := range st.composites {
		items = append(items, cloneComposite(item))
	}
	slices.SortFunc(items, func(a, b domain.CompositeItem) int { return cmpString(a.ID, b.ID) })
	return items, nil
}

func (st *state) GetCoupon(_ context.Context, code string) (*domain.Coupon, error) {
	c, ok := st.coupons[code]
	if !ok {
		return nil, fmt.Errorf("coupon %s: %w", code, store.ErrNotFound)
	}
	return &c, nil
}

func (st *state) GetLoyaltyAccount(_ context.Context, customerID string) (*domain.LoyaltyAccount, error) {
	acc, ok := st.loyalty[customerID]
	if !ok {
		return nil, fmt.Errorf("loyalty account %s: %w", customerID, store.ErrNotFound)
	}
	return &acc, nil
}

func (st *state) GetSale(_ context.Context, id string) (*domain.Sale, error) {
	sale, ok := st.sales[id]
	if !ok {
		return nil, fmt.Errorf("sale %s: %w", id, store.ErrNotFound)
	}
	dup := cloneSale(sale)
	for _, ret := range st.saleReturns[id] {
		dup.Returns = append(dup.Returns, cloneSaleReturn(ret))
	}
	return &dup, nil
}

func (st *state) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	id, ok := st.salesByIdem[key]
	if !ok || key == "" {
		return nil, store.ErrNotFound
	}
	return st.GetSale(ctx, id)
}

func (st *state) GetOrder(_ context.Context, id string) (*domain.CustomerOrder, error) {
	order, ok := st.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	dup := cloneOrder(order)
	return &dup, nil
}

func (st *state) GetTicket(_ context.Context, id string) (*domain.KitchenTicket, error) {
	orderID, ok := st.ticketOrder[id]
	if !ok {
		return nil, fmt.Errorf("ticket %s: %w", id, store.ErrNotFound)
	}
	for _, t := range st.orders[orderID].Tickets {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("ticket %s: %w", id, store.ErrNotFound)
}

// ListTickets returns tickets with the given status, or every open ticket of
// an active order when status is empty. Oldest first.
func (st *state) ListTickets(_ context.Context, status domain.TicketStatus) ([]domain.KitchenTicket, error) {
	tickets := make([]domain.KitchenTicket, 0, 32)
	for _, order := range st.orders {
		for _, t := range order.Tickets {
			if status != "" {
				if t.Status == status {
					tickets = append(tickets, t)
				}
				continue
			}
			if t.Status != domain.TicketCompleted && order.Status != domain.OrderCancelled {
				tickets = append(tickets, t)
			}
		}
	}
	slices.SortFunc(tickets, func(a, b domain.KitchenTicket) int {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Compare(b.CreatedAt)
		}
		return cmpString(a.ID, b.ID)
	})
	return tickets, nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
