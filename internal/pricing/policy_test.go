package pricing

import (
	"testing"
	"time"

	"commerce-core/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCoupons = map[string]int{
	"YOUSSEF20": 20,
	"LUXURY10":  10,
	"GOLD15":    15,
}

func testPolicy(rate RateFunc) *Policy {
	return NewPolicy(rate, testCoupons,
		decimal.NewFromInt(100), decimal.NewFromInt(15))
}

func fixedRate(f float64) RateFunc {
	return func(time.Time) decimal.Decimal {
		return decimal.NewFromFloat(f)
	}
}

func lines(prices ...string) []models.PricedLine {
	out := make([]models.PricedLine, len(prices))
	for i, p := range prices {
		out[i] = models.PricedLine{
			ProductID: "p1",
			UnitPrice: decimal.RequireFromString(p),
			Quantity:  1,
		}
	}
	return out
}

func TestMultiplierBounds(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want string
	}{
		{"within bounds", 1.1, "1.1"},
		{"clamped high", 3.0, "2"},
		{"clamped low", 0.1, "0.5"},
		{"at upper bound", 2.0, "2"},
		{"at lower bound", 0.5, "0.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := testPolicy(fixedRate(tt.rate))
			got := p.Multiplier(time.Now())
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)),
				"got %s, want %s", got, tt.want)
		})
	}
}

func TestMultiplierNilRate(t *testing.T) {
	p := testPolicy(nil)
	assert.True(t, p.Multiplier(time.Now()).Equal(decimal.NewFromInt(1)))
}

func TestDefaultRateCurve(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	peak := DefaultRate(day.Add(20 * time.Hour))
	assert.True(t, peak.Equal(decimal.NewFromFloat(1.1)))

	offPeak := DefaultRate(day.Add(4 * time.Hour))
	assert.True(t, offPeak.Equal(decimal.NewFromFloat(0.9)))

	normal := DefaultRate(day.Add(12 * time.Hour))
	assert.True(t, normal.Equal(decimal.NewFromInt(1)))
}

func TestLinePrice(t *testing.T) {
	p := testPolicy(fixedRate(1.1))
	price := p.LinePrice(decimal.NewFromInt(100), time.Now())
	assert.Equal(t, "110.00", price.StringFixed(2))
}

func TestOrderTotalFreeShippingBoundary(t *testing.T) {
	p := testPolicy(nil)

	atThreshold, err := p.OrderTotal(lines("100"), "")
	require.NoError(t, err)
	assert.Equal(t, "0.00", atThreshold.Shipping.StringFixed(2))
	assert.Equal(t, "100.00", atThreshold.Total.StringFixed(2))

	justBelow, err := p.OrderTotal(lines("99.99"), "")
	require.NoError(t, err)
	assert.Equal(t, "15.00", justBelow.Shipping.StringFixed(2))
	assert.Equal(t, "114.99", justBelow.Total.StringFixed(2))
}

func TestOrderTotalCoupon(t *testing.T) {
	p := testPolicy(nil)

	totals, err := p.OrderTotal(lines("100"), "LUXURY10")
	require.NoError(t, err)
	assert.Equal(t, "100.00", totals.Subtotal.StringFixed(2))
	assert.Equal(t, "10.00", totals.Discount.StringFixed(2))
	assert.Equal(t, "0.00", totals.Shipping.StringFixed(2))
	assert.Equal(t, "90.00", totals.Total.StringFixed(2))
}

func TestOrderTotalCouponCaseInsensitive(t *testing.T) {
	p := testPolicy(nil)
	totals, err := p.OrderTotal(lines("100"), "luxury10")
	require.NoError(t, err)
	assert.Equal(t, "10.00", totals.Discount.StringFixed(2))
}

func TestOrderTotalInvalidCoupon(t *testing.T) {
	p := testPolicy(nil)
	_, err := p.OrderTotal(lines("100"), "NOPE")
	assert.ErrorIs(t, err, ErrInvalidCoupon)
}

func TestOrderTotalCouponReplaces(t *testing.T) {
	p := testPolicy(nil)

	first, err := p.OrderTotal(lines("200"), "LUXURY10")
	require.NoError(t, err)
	assert.Equal(t, "20.00", first.Discount.StringFixed(2))

	// A second coupon replaces the first; the 10% never lingers.
	second, err := p.OrderTotal(lines("200"), "YOUSSEF20")
	require.NoError(t, err)
	assert.Equal(t, "40.00", second.Discount.StringFixed(2))
	assert.Equal(t, "160.00", second.Total.StringFixed(2))
}

func TestOrderTotalDiscountInvariant(t *testing.T) {
	p := NewPolicy(nil, map[string]int{"BROKEN": 150},
		decimal.NewFromInt(100), decimal.NewFromInt(15))

	_, err := p.OrderTotal(lines("100"), "BROKEN")
	assert.ErrorIs(t, err, ErrInvariant)
}

func TestOrderTotalQuantities(t *testing.T) {
	p := testPolicy(nil)

	totals, err := p.OrderTotal([]models.PricedLine{
		{ProductID: "p1", UnitPrice: decimal.RequireFromString("19.99"), Quantity: 3},
		{ProductID: "p2", UnitPrice: decimal.RequireFromString("5.50"), Quantity: 2},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, "70.97", totals.Subtotal.StringFixed(2))
	assert.Equal(t, "85.97", totals.Total.StringFixed(2))
}

func TestFreezeLines(t *testing.T) {
	p := testPolicy(fixedRate(1.1))

	frozen := p.FreezeLines([]models.CartLine{
		{ProductID: "p1", VariantKey: "m", UnitBasePrice: decimal.NewFromInt(100), Quantity: 2},
	}, time.Now())

	require.Len(t, frozen, 1)
	assert.Equal(t, "p1", frozen[0].ProductID)
	assert.Equal(t, "m", frozen[0].VariantKey)
	assert.Equal(t, 2, frozen[0].Quantity)
	assert.Equal(t, "110.00", frozen[0].UnitPrice.StringFixed(2))
}

func TestPolicyIsStateless(t *testing.T) {
	p := testPolicy(nil)
	for i := 0; i < 5; i++ {
		totals, err := p.OrderTotal(lines("100"), "LUXURY10")
		require.NoError(t, err)
		assert.Equal(t, "90.00", totals.Total.StringFixed(2))
	}
}
