// Package checkout prices a cart: coupons, shipping, tax and order IDs.
package checkout

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownCoupon is returned for a coupon code that does not exist.
var ErrUnknownCoupon = errors.New("unknown coupon")

// Kind is how a coupon discounts the subtotal.
type Kind string

const (
	KindPercent Kind = "percent"
	KindFlat    Kind = "flat"
)

// Coupon is a discount code.
type Coupon struct {
	Code  string          `json:"code"`
	Kind  Kind            `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

var coupons = []Coupon{
	{Code: "SAVE10", Kind: KindPercent, Value: decimal.NewFromInt(10)},
	{Code: "LESS50", Kind: KindFlat, Value: decimal.NewFromInt(50)},
	{Code: "FREE", Kind: KindFlat, Value: decimal.NewFromInt(100)},
}

var (
	freeShippingFrom = decimal.NewFromInt(999)
	shippingFee      = decimal.NewFromInt(49)
	taxRate          = decimal.RequireFromString("0.18")
	hundred          = decimal.NewFromInt(100)
)

// Coupons returns every valid coupon.
func Coupons() []Coupon {
	return append([]Coupon(nil), coupons...)
}

// LookupCoupon finds a coupon by code, case-insensitively.
func LookupCoupon(code string) (Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range coupons {
		if c.Code == code {
			return c, nil
		}
	}
	return Coupon{}, fmt.Errorf("%w: %q", ErrUnknownCoupon, code)
}

// Discount returns what c takes off subtotal. Flat discounts never exceed
// the subtotal.
func (c Coupon) Discount(subtotal decimal.Decimal) decimal.Decimal {
	switch c.Kind {
	case KindPercent:
		return subtotal.Mul(c.Value).Div(hundred).Round(2)
	case KindFlat:
		return decimal.Min(c.Value, subtotal)
	}
	return decimal.Zero
}

// Line is one priced cart line.
type Line struct {
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Qty         int             `json:"qty"`
}

// Summary is the priced breakdown of a cart.
type Summary struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Coupon   string          `json:"coupon,omitempty"`
	Discount decimal.Decimal `json:"discount"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

// Totals prices lines with an optional coupon. Shipping is free once the
// discounted amount reaches 999; tax is 18% of the discounted amount.
func Totals(lines []Line, coupon *Coupon) Summary {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Qty))))
	}

	s := Summary{Subtotal: subtotal.Round(2), Discount: decimal.Zero}
	if coupon != nil {
		s.Coupon = coupon.Code
		s.Discount = coupon.Discount(subtotal)
	}

	taxable := decimal.Max(decimal.Zero, subtotal.Sub(s.Discount))
	s.Shipping = shippingFee
	if taxable.GreaterThanOrEqual(freeShippingFrom) {
		s.Shipping = decimal.Zero
	}
	s.Tax = taxable.Mul(taxRate).Round(2)
	s.Total = taxable.Add(s.Shipping).Add(s.Tax).Round(2)
	return s
}

// NewOrderID returns an ID of the form ORD<yyyymmddhhmmss><3 digits>.
func NewOrderID(now time.Time, r *rand.Rand) string {
	n := 100 + r.IntN(900)
	return fmt.Sprintf("ORD%s%03d", now.UTC().Format("20060102150405"), n)
}
