package store

import (
	"context"
	"time"

	"rasapos/backend/internal/domain"
)

// Reader holds the read-only queries shared by a Repository and a Tx.
type Reader interface {
	GetStockItem(ctx context.Context, id string) (*domain.StockItem, error)
	ListStockItems(ctx context.Context) ([]domain.StockItem, error)
	ListLedgerEntries(ctx context.Context, stockItemID string) ([]domain.LedgerEntry, error)
	ListSaleLedgerEntries(ctx context.Context, saleID string) ([]domain.LedgerEntry, error)
	GetCompositeItem(ctx context.Context, id string) (*domain.CompositeItem, error)
	ListCompositeItems(ctx context.Context) ([]domain.CompositeItem, error)
	GetCoupon(ctx context.Context, code string) (*domain.Coupon, error)
	GetLoyaltyAccount(ctx context.Context, customerID string) (*domain.LoyaltyAccount, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	GetOrder(ctx context.Context, id string) (*domain.CustomerOrder, error)
	GetTicket(ctx context.Context, id string) (*domain.KitchenTicket, error)
	ListTickets(ctx context.Context, status domain.TicketStatus) ([]domain.KitchenTicket, error)
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

// Tx is a unit of work. Lock* methods take row locks that are held until the
// surrounding WithinTx returns; stock items are always locked in id order.
type Tx interface {
	Reader

	CreateStockItem(ctx context.Context, item domain.StockItem) error
	LockStockItems(ctx context.Context, ids []string) (map[string]*domain.StockItem, error)
	UpdateStockItem(ctx context.Context, item domain.StockItem) error
	AppendLedgerEntry(ctx context.Context, entry domain.LedgerEntry) (domain.LedgerEntry, error)

	SaveCompositeItem(ctx context.Context, item domain.CompositeItem) error

	CreateCoupon(ctx context.Context, coupon domain.Coupon) error
	LockCoupon(ctx context.Context, code string) (*domain.Coupon, error)
	UpdateCouponUsedCount(ctx context.Context, code string, usedCount int64) error
	CreateCouponUsage(ctx context.Context, usage domain.CouponUsage) error
	ReverseCouponUsage(ctx context.Context, saleID string, at time.Time) error

	CreateLoyaltyAccount(ctx context.Context, account domain.LoyaltyAccount) error
	LockLoyaltyAccount(ctx context.Context, customerID string) (*domain.LoyaltyAccount, error)
	UpdateLoyaltyBalance(ctx context.Context, customerID string, balance int64, at time.Time) error

	CreateSale(ctx context.Context, sale domain.Sale) error
	LockSale(ctx context.Context, id string) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) error
	CreateSaleReturn(ctx context.Context, ret domain.SaleReturn) error

	CreateOrder(ctx context.Context, order domain.CustomerOrder) error
	LockOrder(ctx context.Context, id string) (*domain.CustomerOrder, error)
	UpdateOrder(ctx context.Context, order domain.CustomerOrder) error
	UpdateTicket(ctx context.Context, ticket domain.KitchenTicket) error
}

type Repository interface {
	Reader
	// WithinTx runs fn in one serializable unit of work. Nothing fn writes is
	// visible unless fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
}
