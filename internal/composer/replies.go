// Package composer renders the bot's user-facing reply text.
package composer

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kalambet/shopbot/internal/checkout"
)

// DateLayout is how delivery estimates are shown.
const DateLayout = "02 Jan 2006"

const (
	Greeting         = "Hi! Ask about products, prices, stock, or track your orders!"
	NoResults        = "Sorry, no products match your search or price filter."
	EmptyProductName = "❌ Please specify a valid product name."
	ProductNotFound  = "❌ Sorry, I couldn't find that product."
	RecommendHeader  = "🛍️ You might also like these top-rated products:"
	CartEmpty        = "🛒 Your cart is empty."
	CheckoutEmpty    = "🛒 Your cart is empty, nothing to checkout."
	ItemRemoved      = "🗑️ Item removed from your cart."
	NotInCart        = "❌ That product was not in your cart."
	OrderIDMissing   = "Please provide a valid order ID (e.g., ORD001)."
	StockUnknown     = "I couldn't find that product in our stock."
	CouponMissing    = "Please tell me which coupon code to apply."
	CouponInvalid    = "❌ Invalid coupon."
)

// Money renders an amount in rupees with two decimals.
func Money(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}

// WelcomeBack greets a returning session with its last search.
func WelcomeBack(lastSearch string) string {
	return fmt.Sprintf("👋 Welcome back! Last time you searched for %q. Want to continue shopping?\n%s",
		lastSearch, Greeting)
}

func SearchResults(n int) string {
	return fmt.Sprintf("Here are some products I found (%d total):", n)
}

func AddedToCart(product string) string {
	return fmt.Sprintf("✅ %s added to your cart.", product)
}

func CouponApplied(code string) string {
	return fmt.Sprintf("🏷️ Coupon %s applied.", code)
}

func OrderNotFound(id string) string {
	return fmt.Sprintf("Sorry, I couldn't find any order with ID %s.", id)
}

// OrderStatus reports an order's status and its expected delivery date.
func OrderStatus(id, product, status string, eta time.Time) string {
	if product == "" {
		product = "your item"
	}
	return fmt.Sprintf("📦 Order %s for %s is currently %s. Expected delivery: %s.",
		id, product, status, eta.Format(DateLayout))
}

func StockLine(product, status string) string {
	if status == "" {
		status = "unknown"
	}
	return fmt.Sprintf("%s is currently %s.", product, status)
}

// Cart lists cart lines followed by the priced breakdown.
func Cart(lines []checkout.Line, s checkout.Summary) string {
	if len(lines) == 0 {
		return CartEmpty
	}

	var sb strings.Builder
	sb.WriteString("🛒 Your cart contains:\n")
	for _, l := range lines {
		if l.Qty > 1 {
			fmt.Fprintf(&sb, "• %s x%d - %s\n", l.ProductName, l.Qty, Money(l.Price))
		} else {
			fmt.Fprintf(&sb, "• %s - %s\n", l.ProductName, Money(l.Price))
		}
	}
	sb.WriteString("\n")
	sb.WriteString(breakdown(s, "\n"))
	return sb.String()
}

// CheckoutDone confirms placed orders.
func CheckoutDone(orderIDs []string, items int, s checkout.Summary) string {
	return fmt.Sprintf("✅ Checkout successful! 🧾 %s • %d items • %s",
		strings.Join(orderIDs, ", "), items, breakdown(s, " • "))
}

// Paid renders what was charged for a placed order's checkout.
func Paid(s checkout.Summary) string {
	return "🧾 Paid: " + breakdown(s, " • ")
}

func breakdown(s checkout.Summary, sep string) string {
	parts := []string{"Subtotal " + Money(s.Subtotal)}
	if s.Coupon != "" {
		parts = append(parts, fmt.Sprintf("Discount %s (%s)", Money(s.Discount), s.Coupon))
	}
	parts = append(parts,
		"Shipping "+Money(s.Shipping),
		"Tax "+Money(s.Tax),
		"💰 Total "+Money(s.Total),
	)
	return strings.Join(parts, sep)
}
