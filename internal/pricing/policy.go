package pricing

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"commerce-core/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCoupon is returned for a non-empty coupon code that is not
	// in the policy's table.
	ErrInvalidCoupon = errors.New("invalid coupon code")

	// ErrInvariant signals a pricing invariant violation, a programming
	// defect rather than bad user input.
	ErrInvariant = errors.New("pricing invariant violated")
)

// Demand multiplier bounds. A rate function may return anything; the policy
// never prices outside this range.
var (
	minMultiplier = decimal.NewFromFloat(0.5)
	maxMultiplier = decimal.NewFromFloat(2.0)
)

// RateFunc returns the demand multiplier in effect at a given time.
type RateFunc func(at time.Time) decimal.Decimal

// DefaultRate models the storefront's time-of-day demand curve:
// peak hours 18:00-22:00 price up 10%, early morning 02:00-06:00 down 10%.
func DefaultRate(at time.Time) decimal.Decimal {
	hour := at.Hour()
	switch {
	case hour >= 18 && hour <= 22:
		return decimal.NewFromFloat(1.1)
	case hour >= 2 && hour <= 6:
		return decimal.NewFromFloat(0.9)
	default:
		return decimal.NewFromInt(1)
	}
}

// Policy computes effective prices from base prices, the demand multiplier
// and coupon discounts. It holds no mutable state and is safe to call
// repeatedly for live previews.
type Policy struct {
	rate                  RateFunc
	coupons               map[string]int
	freeShippingThreshold decimal.Decimal
	flatShippingFee       decimal.Decimal
}

// NewPolicy creates a pricing policy. A nil rate means no demand adjustment
// (multiplier 1.0).
func NewPolicy(rate RateFunc, coupons map[string]int, freeShippingThreshold, flatShippingFee decimal.Decimal) *Policy {
	return &Policy{
		rate:                  rate,
		coupons:               coupons,
		freeShippingThreshold: freeShippingThreshold,
		flatShippingFee:       flatShippingFee,
	}
}

// Multiplier returns the bounded demand multiplier in effect at a given time.
func (p *Policy) Multiplier(at time.Time) decimal.Decimal {
	if p.rate == nil {
		return decimal.NewFromInt(1)
	}
	m := p.rate(at)
	if m.LessThan(minMultiplier) {
		return minMultiplier
	}
	if m.GreaterThan(maxMultiplier) {
		return maxMultiplier
	}
	return m
}

// LinePrice computes the effective unit price for a base price at a given
// time, rounded to two decimal places.
func (p *Policy) LinePrice(basePrice decimal.Decimal, at time.Time) decimal.Decimal {
	return basePrice.Mul(p.Multiplier(at)).Round(2)
}

// CouponPercent resolves a coupon code to its percent-off value.
// An empty code means no coupon and resolves to zero.
func (p *Policy) CouponPercent(code string) (int, error) {
	if code == "" {
		return 0, nil
	}
	pct, ok := p.coupons[strings.ToUpper(code)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrInvalidCoupon, code)
	}
	return pct, nil
}

// OrderTotal prices a set of frozen lines: subtotal, shipping by the
// free-shipping step function, and at most one coupon applied to the
// subtotal. Coupons never stack; the single code passed in is the only
// discount.
func (p *Policy) OrderTotal(lines []models.PricedLine, couponCode string) (models.Totals, error) {
	pct, err := p.CouponPercent(couponCode)
	if err != nil {
		return models.Totals{}, err
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	subtotal = subtotal.Round(2)

	discount := subtotal.Mul(decimal.NewFromInt(int64(pct))).Div(decimal.NewFromInt(100)).Round(2)
	if discount.GreaterThan(subtotal) {
		return models.Totals{}, fmt.Errorf("%w: discount %s exceeds subtotal %s",
			ErrInvariant, discount, subtotal)
	}

	shipping := p.flatShippingFee
	if subtotal.GreaterThanOrEqual(p.freeShippingThreshold) {
		shipping = decimal.Zero
	}

	return models.Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Discount: discount,
		Total:    subtotal.Sub(discount).Add(shipping).Round(2),
	}, nil
}

// FreezeLines converts cart lines to priced lines with the demand multiplier
// applied once at the given instant. The result is what gets persisted;
// later multiplier drift never touches it.
func (p *Policy) FreezeLines(lines []models.CartLine, at time.Time) []models.PricedLine {
	frozen := make([]models.PricedLine, 0, len(lines))
	for _, line := range lines {
		frozen = append(frozen, models.PricedLine{
			ProductID:  line.ProductID,
			VariantKey: line.VariantKey,
			UnitPrice:  p.LinePrice(line.UnitBasePrice, at),
			Quantity:   line.Quantity,
		})
	}
	return frozen
}
