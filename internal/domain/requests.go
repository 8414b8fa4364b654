package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentQRIS     = "qris"
	PaymentEWallet  = "ewallet"
	PaymentTransfer = "transfer"
)

// CartLine is one row of the cart handed to settlement.
type CartLine struct {
	ItemKind          ItemKind         `json:"item_kind" validate:"required,oneof=stock composite"`
	ItemID            string           `json:"item_id" validate:"required"`
	Quantity          decimal.Decimal  `json:"quantity"`
	UnitPriceOverride *decimal.Decimal `json:"unit_price_override,omitempty"`
}

type ManualDiscount struct {
	Kind  DiscountKind    `json:"kind" validate:"required,oneof=percent fixed"`
	Value decimal.Decimal `json:"value"`
}

type DiscountSpec struct {
	Manual       *ManualDiscount `json:"manual,omitempty"`
	CouponCode   string          `json:"coupon_code,omitempty"`
	RedeemPoints int64           `json:"redeem_points,omitempty" validate:"gte=0"`
}

type SettleRequest struct {
	IdempotencyKey   string           `json:"idempotency_key"`
	Lines            []CartLine       `json:"lines" validate:"required,min=1,dive"`
	Discount         DiscountSpec     `json:"discount"`
	CustomerID       string           `json:"customer_id,omitempty"`
	PaymentMethod    string           `json:"payment_method" validate:"omitempty,oneof=cash card qris ewallet transfer"`
	PaymentReference string           `json:"payment_reference,omitempty"`
	CashReceived     *decimal.Decimal `json:"cash_received,omitempty"`
}

type SettleResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type DiscountPreview struct {
	Subtotal       decimal.Decimal   `json:"subtotal"`
	ManualDiscount decimal.Decimal   `json:"manual_discount"`
	CouponDiscount decimal.Decimal   `json:"coupon_discount"`
	PointsDiscount decimal.Decimal   `json:"points_discount"`
	TotalDiscount  decimal.Decimal   `json:"total_discount"`
	NetTotal       decimal.Decimal   `json:"net_total"`
	LineDiscounts  []decimal.Decimal `json:"line_discounts"`
}

type VoidRequest struct {
	Reason     string `json:"reason" validate:"required"`
	ManagerPIN string `json:"manager_pin"`
}

type VoidResult struct {
	SaleID           string    `json:"sale_id"`
	VoidedAt         time.Time `json:"voided_at"`
	RestoredEntries  int       `json:"restored_entries"`
	PointsClawedBack int64     `json:"points_clawed_back"`
	PointsRestored   int64     `json:"points_restored"`
	CouponReleased   bool      `json:"coupon_released"`
}

type ReturnLineRequest struct {
	SaleLineID string          `json:"sale_line_id" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type ReturnRequest struct {
	Lines      []ReturnLineRequest `json:"lines" validate:"required,min=1,dive"`
	Reason     string              `json:"reason" validate:"required"`
	ManagerPIN string              `json:"manager_pin"`
}

type ReturnResult struct {
	Return   SaleReturn      `json:"return"`
	NetTotal decimal.Decimal `json:"net_total"`
}

type StockItemCreateRequest struct {
	ID               string          `json:"id"`
	Name             string          `json:"name" validate:"required"`
	Unit             string          `json:"unit" validate:"required"`
	Price            decimal.Decimal `json:"price"`
	ReorderThreshold decimal.Decimal `json:"reorder_threshold"`
	InitialQuantity  decimal.Decimal `json:"initial_quantity"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
}

type StockReceiveRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
	Reason   string          `json:"reason"`
}

type StockAdjustRequest struct {
	CountedQuantity decimal.Decimal `json:"counted_quantity"`
	Reason          string          `json:"reason"`
}

type CompositeItemCreateRequest struct {
	ID    string          `json:"id"`
	Name  string          `json:"name" validate:"required"`
	Price decimal.Decimal `json:"price"`
	BOM   []BOMLine       `json:"bom" validate:"required,min=1,dive"`
}

type BOMUpdateRequest struct {
	BOM []BOMLine `json:"bom" validate:"required,min=1,dive"`
}

type CouponCreateRequest struct {
	Code        string           `json:"code" validate:"required,max=32"`
	Kind        DiscountKind     `json:"kind" validate:"required,oneof=percent fixed"`
	Value       decimal.Decimal  `json:"value"`
	MinPurchase decimal.Decimal  `json:"min_purchase"`
	MaxDiscount *decimal.Decimal `json:"max_discount,omitempty"`
	UsageLimit  *int64           `json:"usage_limit,omitempty" validate:"omitempty,gt=0"`
	ValidFrom   *time.Time       `json:"valid_from,omitempty"`
	ValidUntil  *time.Time       `json:"valid_until,omitempty"`
}

type LoyaltyEnrollRequest struct {
	CustomerID string `json:"customer_id" validate:"required"`
	Name       string `json:"name"`
}

type OrderLineRequest struct {
	CompositeItemID string `json:"composite_item_id" validate:"required"`
	Quantity        int    `json:"quantity" validate:"required,gt=0"`
}

type PlaceOrderRequest struct {
	TableRef string             `json:"table_ref,omitempty"`
	Lines    []OrderLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

type CheckoutOrderRequest struct {
	IdempotencyKey   string           `json:"idempotency_key"`
	Discount         DiscountSpec     `json:"discount"`
	CustomerID       string           `json:"customer_id,omitempty"`
	PaymentMethod    string           `json:"payment_method" validate:"omitempty,oneof=cash card qris ewallet transfer"`
	PaymentReference string           `json:"payment_reference,omitempty"`
	CashReceived     *decimal.Decimal `json:"cash_received,omitempty"`
}

type ClaimTicketRequest struct {
	PreparerRef string `json:"preparer_ref" validate:"required"`
}
