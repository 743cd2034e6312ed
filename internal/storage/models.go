package storage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

type Session struct {
	ID           string    `json:"id"`
	LastCategory string    `json:"last_category"`
	LastSearch   string    `json:"last_search"`
	Coupon       string    `json:"coupon"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type CartItem struct {
	SessionID   string          `json:"session_id"`
	ProductName string          `json:"product_name"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Qty         int             `json:"qty"`
	AddedAt     time.Time       `json:"added_at"`
}

// Checkout is what was charged when a cart was checked out. Every order
// placed by that checkout refers to it.
type Checkout struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Coupon    string          `json:"coupon,omitempty"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discount  decimal.Decimal `json:"discount"`
	Shipping  decimal.Decimal `json:"shipping"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
	PlacedAt  time.Time       `json:"placed_at"`
}

type Order struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	CheckoutID   string          `json:"checkout_id,omitempty"`
	ProductName  string          `json:"product_name"`
	Qty          int             `json:"qty"`
	Status       string          `json:"status"`        // "Processing", "Shipped", "Delivered", ...
	DeliveryTime string          `json:"delivery_time"` // free-text SLA copied from the product
	Total        decimal.Decimal `json:"total"`         // price x qty of the line
	PlacedAt     time.Time       `json:"placed_at"`
	ShippedAt    time.Time       `json:"shipped_at"` // zero until shipped
}

type Interaction struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
	UserMessage string    `json:"user_message"`
	Intent      string    `json:"intent"`
	Reply       string    `json:"reply"`
	ResultCount int       `json:"result_count"`
}
