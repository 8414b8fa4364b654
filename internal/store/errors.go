package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidTransaction     = errors.New("invalid transaction")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInsufficientPoints     = errors.New("insufficient points")
	ErrCouponInvalid          = errors.New("coupon invalid")
	ErrAlreadyVoided          = errors.New("sale already voided")
	ErrOverReturnQuantity     = errors.New("return quantity exceeds remaining quantity")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrForbidden              = errors.New("forbidden")
	ErrDuplicate              = errors.New("duplicate")
)

type InsufficientStockError struct {
	StockItemID string
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %s, requested %s",
		e.StockItemID, e.Available.String(), e.Requested.String())
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type InsufficientPointsError struct {
	Available int64
	Requested int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: available %d, requested %d", e.Available, e.Requested)
}

func (e *InsufficientPointsError) Is(target error) bool { return target == ErrInsufficientPoints }

// Coupon rejection reasons.
const (
	CouponReasonNotFound      = "not_found"
	CouponReasonInactive      = "inactive"
	CouponReasonNotYetValid   = "not_yet_valid"
	CouponReasonExpired       = "expired"
	CouponReasonUsageExceeded = "usage_limit_exceeded"
	CouponReasonMinPurchase   = "below_min_purchase"
)

type CouponInvalidError struct {
	Code   string
	Reason string
}

func (e *CouponInvalidError) Error() string {
	return fmt.Sprintf("coupon %s invalid: %s", e.Code, e.Reason)
}

func (e *CouponInvalidError) Is(target error) bool { return target == ErrCouponInvalid }

type OverReturnQuantityError struct {
	SaleLineID string
	Remaining  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *OverReturnQuantityError) Error() string {
	return fmt.Sprintf("return quantity for line %s exceeds remaining: remaining %s, requested %s",
		e.SaleLineID, e.Remaining.String(), e.Requested.String())
}

func (e *OverReturnQuantityError) Is(target error) bool { return target == ErrOverReturnQuantity }

// ValidationError maps field names to the rule they failed.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidTransaction }

// Invalid builds a single-field ValidationError.
func Invalid(field string, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}
