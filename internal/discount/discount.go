package discount

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"rasapos/backend/internal/domain"
	"rasapos/backend/internal/store"
)

// MoneyPlaces is the precision of every monetary amount.
const MoneyPlaces = 2

var (
	hundred = decimal.NewFromInt(100)
	cent    = decimal.New(1, -MoneyPlaces)
)

type Input struct {
	LineSubtotals []decimal.Decimal
	Manual        *domain.ManualDiscount
	// Coupon is nil when no code was given. CouponCode is kept for error detail.
	Coupon        *domain.Coupon
	CouponCode    string
	RedeemPoints  int64
	PointsBalance int64
	PointsPerUnit decimal.Decimal
	Now           time.Time
}

type Result struct {
	Subtotal       decimal.Decimal
	ManualDiscount decimal.Decimal
	CouponDiscount decimal.Decimal
	PointsDiscount decimal.Decimal
	TotalDiscount  decimal.Decimal
	NetTotal       decimal.Decimal
	LineDiscounts  []decimal.Decimal
}

// Compute runs the stack in its fixed order. Each source is computed against
// the original subtotal; the net total is floored at zero.
func Compute(in Input) (Result, error) {
	subtotal := decimal.Zero
	for _, line := range in.LineSubtotals {
		subtotal = subtotal.Add(line)
	}

	manual, err := Manual(in.Manual, subtotal)
	if err != nil {
		return Result{}, err
	}

	couponDiscount := decimal.Zero
	if in.Coupon != nil || in.CouponCode != "" {
		if in.Coupon == nil {
			return Result{}, &store.CouponInvalidError{Code: in.CouponCode, Reason: store.CouponReasonNotFound}
		}
		couponDiscount, err = Coupon(*in.Coupon, subtotal, in.Now)
		if err != nil {
			return Result{}, err
		}
	}

	points, err := Points(in.RedeemPoints, in.PointsBalance, in.PointsPerUnit)
	if err != nil {
		return Result{}, err
	}

	total := manual.Add(couponDiscount).Add(points)
	net := subtotal.Sub(total)
	if net.IsNegative() {
		net = decimal.Zero
	}

	return Result{
		Subtotal:       subtotal,
		ManualDiscount: manual,
		CouponDiscount: couponDiscount,
		PointsDiscount: points,
		TotalDiscount:  total,
		NetTotal:       net,
		LineDiscounts:  Allocate(manual, in.LineSubtotals),
	}, nil
}

func Manual(spec *domain.ManualDiscount, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if spec == nil {
		return decimal.Zero, nil
	}
	if spec.Value.IsNegative() {
		return decimal.Zero, store.Invalid("discount.manual.value", "must not be negative")
	}
	switch spec.Kind {
	case domain.DiscountPercent:
		if spec.Value.GreaterThan(hundred) {
			return decimal.Zero, store.Invalid("discount.manual.value", "percent must be at most 100")
		}
		return subtotal.Mul(spec.Value).Div(hundred).Round(MoneyPlaces), nil
	case domain.DiscountFixed:
		return decimal.Min(spec.Value, subtotal), nil
	default:
		return decimal.Zero, store.Invalid("discount.manual.kind", "must be percent or fixed")
	}
}

// CheckCoupon reports why a coupon cannot be applied to subtotal at now.
func CheckCoupon(c domain.Coupon, subtotal decimal.Decimal, now time.Time) error {
	reason := ""
	switch {
	case !c.Active:
		reason = store.CouponReasonInactive
	case c.ValidFrom != nil && now.Before(*c.ValidFrom):
		reason = store.CouponReasonNotYetValid
	case c.ValidUntil != nil && now.After(*c.ValidUntil):
		reason = store.CouponReasonExpired
	case c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit:
		reason = store.CouponReasonUsageExceeded
	case subtotal.LessThan(c.MinPurchase):
		reason = store.CouponReasonMinPurchase
	}
	if reason != "" {
		return &store.CouponInvalidError{Code: c.Code, Reason: reason}
	}
	return nil
}

func Coupon(c domain.Coupon, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if err := CheckCoupon(c, subtotal, now); err != nil {
		return decimal.Zero, err
	}
	switch c.Kind {
	case domain.DiscountPercent:
		amount := subtotal.Mul(c.Value).Div(hundred).Round(MoneyPlaces)
		if c.MaxDiscount != nil && amount.GreaterThan(*c.MaxDiscount) {
			amount = *c.MaxDiscount
		}
		return amount, nil
	default:
		return decimal.Min(c.Value, subtotal), nil
	}
}

// Points converts redeemed points into money. Asking for more than the
// balance is an error rather than a silent cap.
func Points(redeem int64, balance int64, pointsPerUnit decimal.Decimal) (decimal.Decimal, error) {
	if redeem <= 0 {
		return decimal.Zero, nil
	}
	if redeem > balance {
		return decimal.Zero, &store.InsufficientPointsError{Available: balance, Requested: redeem}
	}
	if !pointsPerUnit.IsPositive() {
		return decimal.Zero, store.Invalid("points_per_unit", "must be greater than zero")
	}
	return decimal.NewFromInt(redeem).DivRound(pointsPerUnit, MoneyPlaces), nil
}

// Accrual returns floor(net * rate) points.
func Accrual(net decimal.Decimal, rate decimal.Decimal) int64 {
	if !net.IsPositive() || !rate.IsPositive() {
		return 0
	}
	return net.Mul(rate).Floor().IntPart()
}

// Allocate spreads amount across lines in proportion to their subtotals.
// Shares are truncated to cents and the leftover cents go to the lines with
// the largest truncated remainder. No line is given more than its own
// subtotal, and the allocation sums to amount capped at the cart subtotal.
func Allocate(amount decimal.Decimal, lines []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(lines))
	for i := range out {
		out[i] = decimal.Zero
	}
	if len(lines) == 0 || !amount.IsPositive() {
		return out
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		if line.IsPositive() {
			subtotal = subtotal.Add(line)
		}
	}
	if !subtotal.IsPositive() {
		return out
	}
	amount = decimal.Min(amount, subtotal)

	remainders := make([]decimal.Decimal, len(lines))
	allocated := decimal.Zero
	for i, line := range lines {
		remainders[i] = decimal.Zero
		if !line.IsPositive() {
			continue
		}
		exact := amount.Mul(line).Div(subtotal)
		share := decimal.Min(exact.Truncate(MoneyPlaces), line)
		out[i] = share
		remainders[i] = exact.Sub(share)
		allocated = allocated.Add(share)
	}

	order := make([]int, len(lines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]].GreaterThan(remainders[order[b]])
	})

	leftover := amount.Sub(allocated)
	for leftover.GreaterThanOrEqual(cent) {
		moved := false
		for _, i := range order {
			if leftover.LessThan(cent) {
				break
			}
			if lines[i].Sub(out[i]).GreaterThanOrEqual(cent) {
				out[i] = out[i].Add(cent)
				leftover = leftover.Sub(cent)
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	// Sub-cent subtotals can leave a fraction no line takes as a whole cent.
	for _, i := range order {
		if !leftover.IsPositive() {
			break
		}
		take := decimal.Min(leftover, lines[i].Sub(out[i]))
		if take.IsPositive() {
			out[i] = out[i].Add(take)
			leftover = leftover.Sub(take)
		}
	}
	return out
}

// Refund is the unit-price-proportional refund for returning quantity more
// units of a line. It is computed cumulatively against what the line has
// already returned, so refunds over repeated partial returns sum to exactly
// the line total.
func Refund(line domain.SaleLine, quantity decimal.Decimal) decimal.Decimal {
	if !line.Quantity.IsPositive() || !line.LineTotal.IsPositive() {
		return decimal.Zero
	}
	before := proportional(line, line.ReturnedQuantity)
	after := proportional(line, line.ReturnedQuantity.Add(quantity))
	return after.Sub(before)
}

func proportional(line domain.SaleLine, quantity decimal.Decimal) decimal.Decimal {
	return line.LineTotal.Mul(quantity).DivRound(line.Quantity, MoneyPlaces)
}
