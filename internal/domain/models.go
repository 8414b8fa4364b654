package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

const (
	ReasonOpeningBalance = "opening_balance"
	ReasonPurchase       = "purchase"
	ReasonStockCount     = "stock_count"
	ReasonSale           = "sale"
	ReasonVoid           = "void"
	ReasonReturn         = "return"
)

// StockItem is a physical ingredient or product with a quantity on hand.
// Price is the direct sale price; zero means it is only sold as a component
// of a composite item unless the cart overrides the price.
type StockItem struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Unit             string          `json:"unit"`
	Price            decimal.Decimal `json:"price"`
	OnHand           decimal.Decimal `json:"on_hand"`
	AverageCost      decimal.Decimal `json:"average_cost"`
	ReorderThreshold decimal.Decimal `json:"reorder_threshold"`
	Version          int64           `json:"version"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// BOMLine is one stock component of a composite item, expressed per unit sold.
type BOMLine struct {
	StockItemID     string          `json:"stock_item_id" validate:"required"`
	QuantityPerUnit decimal.Decimal `json:"quantity_per_unit"`
}

type CompositeItem struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	BOM       []BOMLine       `json:"bom"`
	Active    bool            `json:"active"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type StockDeduction struct {
	StockItemID string          `json:"stock_item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type LedgerEntry struct {
	ID            string          `json:"id"`
	Sequence      int64           `json:"sequence"`
	StockItemID   string          `json:"stock_item_id"`
	Direction     Direction       `json:"direction"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	Reason        string          `json:"reason"`
	CausingSaleID string          `json:"causing_sale_id,omitempty"`
	SaleLineID    string          `json:"sale_line_id,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// SignedQuantity returns the quantity with OUT entries negated.
func (e LedgerEntry) SignedQuantity() decimal.Decimal {
	if e.Direction == DirectionOut {
		return e.Quantity.Neg()
	}
	return e.Quantity
}

type SaleLine struct {
	ID               string          `json:"id"`
	SaleID           string          `json:"sale_id"`
	Item             ItemRef         `json:"-"`
	Name             string          `json:"name"`
	Quantity         decimal.Decimal `json:"quantity"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	LineDiscount     decimal.Decimal `json:"line_discount"`
	LineTotal        decimal.Decimal `json:"line_total"`
	ReturnedQuantity decimal.Decimal `json:"returned_quantity"`
	Components       []BOMLine       `json:"components"`
}

// RemainingQuantity is the part of the line that has not been returned.
func (l SaleLine) RemainingQuantity() decimal.Decimal {
	return l.Quantity.Sub(l.ReturnedQuantity)
}

// SaleEffects records every side effect of a settlement so compensation can
// reverse them uniformly.
type SaleEffects struct {
	PointsAccrued    int64 `json:"points_accrued"`
	PointsRedeemed   int64 `json:"points_redeemed"`
	PointsClawedBack int64 `json:"points_clawed_back"`
	PointsRestored   int64 `json:"points_restored"`
	CouponApplied    bool  `json:"coupon_applied"`
	CouponReleased   bool  `json:"coupon_released"`
}

type Sale struct {
	ID               string          `json:"id"`
	IdempotencyKey   string          `json:"idempotency_key"`
	OrderID          string          `json:"order_id,omitempty"`
	CustomerID       string          `json:"customer_id,omitempty"`
	CouponCode       string          `json:"coupon_code,omitempty"`
	Lines            []SaleLine      `json:"lines"`
	GrossTotal       decimal.Decimal `json:"gross_total"`
	ManualDiscount   decimal.Decimal `json:"manual_discount"`
	CouponDiscount   decimal.Decimal `json:"coupon_discount"`
	PointsDiscount   decimal.Decimal `json:"points_discount"`
	NetTotal         decimal.Decimal `json:"net_total"`
	PaymentMethod    string          `json:"payment_method"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CashReceived     decimal.Decimal `json:"cash_received"`
	Change           decimal.Decimal `json:"change"`
	Effects          SaleEffects     `json:"effects"`
	IsVoid           bool            `json:"is_void"`
	VoidReason       string          `json:"void_reason,omitempty"`
	VoidedBy         string          `json:"voided_by,omitempty"`
	VoidedAt         *time.Time      `json:"voided_at,omitempty"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	Returns          []SaleReturn    `json:"returns,omitempty"`
}

func (s *Sale) Line(id string) (*SaleLine, bool) {
	for i := range s.Lines {
		if s.Lines[i].ID == id {
			return &s.Lines[i], true
		}
	}
	return nil, false
}

type ReturnLine struct {
	SaleLineID string          `json:"sale_line_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Refund     decimal.Decimal `json:"refund"`
}

type SaleReturn struct {
	ID               string          `json:"id"`
	SaleID           string          `json:"sale_id"`
	Lines            []ReturnLine    `json:"lines"`
	RefundAmount     decimal.Decimal `json:"refund_amount"`
	PointsClawedBack int64           `json:"points_clawed_back"`
	Reason           string          `json:"reason"`
	ProcessedBy      string          `json:"processed_by"`
	CreatedAt        time.Time       `json:"created_at"`
}

type DiscountKind string

const (
	DiscountPercent DiscountKind = "percent"
	DiscountFixed   DiscountKind = "fixed"
)

type Coupon struct {
	Code        string           `json:"code"`
	Kind        DiscountKind     `json:"kind"`
	Value       decimal.Decimal  `json:"value"`
	MinPurchase decimal.Decimal  `json:"min_purchase"`
	MaxDiscount *decimal.Decimal `json:"max_discount,omitempty"`
	UsageLimit  *int64           `json:"usage_limit,omitempty"`
	UsedCount   int64            `json:"used_count"`
	ValidFrom   *time.Time       `json:"valid_from,omitempty"`
	ValidUntil  *time.Time       `json:"valid_until,omitempty"`
	Active      bool             `json:"active"`
	CreatedAt   time.Time        `json:"created_at"`
}

type CouponUsage struct {
	ID         string          `json:"id"`
	CouponCode string          `json:"coupon_code"`
	SaleID     string          `json:"sale_id"`
	CustomerID string          `json:"customer_id,omitempty"`
	Discount   decimal.Decimal `json:"discount"`
	UsedAt     time.Time       `json:"used_at"`
	ReversedAt *time.Time      `json:"reversed_at,omitempty"`
}

type LoyaltyAccount struct {
	CustomerID    string    `json:"customer_id"`
	Name          string    `json:"name"`
	PointsBalance int64     `json:"points_balance"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderServed    OrderStatus = "served"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

type TicketStatus string

const (
	TicketPending   TicketStatus = "pending"
	TicketPreparing TicketStatus = "preparing"
	TicketReady     TicketStatus = "ready"
	TicketCompleted TicketStatus = "completed"
)

type OrderLine struct {
	ID              string          `json:"id"`
	OrderID         string          `json:"order_id"`
	CompositeItemID string          `json:"composite_item_id"`
	Name            string          `json:"name"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
}

type KitchenTicket struct {
	ID              string       `json:"id"`
	OrderID         string       `json:"order_id"`
	OrderLineID     string       `json:"order_line_id"`
	CompositeItemID string       `json:"composite_item_id"`
	Name            string       `json:"name"`
	TableRef        string       `json:"table_ref,omitempty"`
	Quantity        int          `json:"quantity"`
	Status          TicketStatus `json:"status"`
	PreparerRef     string       `json:"preparer_ref,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	ReadyAt         *time.Time   `json:"ready_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

type CustomerOrder struct {
	ID           string          `json:"id"`
	TableRef     string          `json:"table_ref,omitempty"`
	Status       OrderStatus     `json:"status"`
	Lines        []OrderLine     `json:"lines"`
	Tickets      []KitchenTicket `json:"tickets"`
	SaleID       string          `json:"sale_id,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ReadyAt      *time.Time      `json:"ready_at,omitempty"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
	RoleWaiter  = "waiter"
	RoleKitchen = "kitchen"
)

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type StockReconciliation struct {
	StockItemID         string          `json:"stock_item_id"`
	OnHand              decimal.Decimal `json:"on_hand"`
	ReplayedQuantity    decimal.Decimal `json:"replayed_quantity"`
	AverageCost         decimal.Decimal `json:"average_cost"`
	ReplayedAverageCost decimal.Decimal `json:"replayed_average_cost"`
	Entries             int             `json:"entries"`
	Balanced            bool            `json:"balanced"`
}

type ReorderSuggestion struct {
	StockItemID         string          `json:"stock_item_id"`
	Name                string          `json:"name"`
	Unit                string          `json:"unit"`
	OnHand              decimal.Decimal `json:"on_hand"`
	ReorderThreshold    decimal.Decimal `json:"reorder_threshold"`
	RecommendedQuantity decimal.Decimal `json:"recommended_quantity"`
	AverageCost         decimal.Decimal `json:"average_cost"`
	EstimatedCost       decimal.Decimal `json:"estimated_cost"`
}

type ReorderSuggestionResponse struct {
	GeneratedAt string              `json:"generated_at"`
	Suggestions []ReorderSuggestion `json:"suggestions"`
}
