package catalog

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Product is one catalog row. Products are loaded once and never mutated.
type Product struct {
	Name         string          `json:"product_name"`
	Category     string          `json:"category"`
	Price        decimal.Decimal `json:"price"`
	Rating       *float64        `json:"rating,omitempty"`
	StockStatus  string          `json:"stock_status,omitempty"`
	DeliveryTime string          `json:"delivery_time,omitempty"`
}

// Key returns the normalized form used for name and category identity.
func Key(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Order is an imported order record. Timestamps are kept as raw text and
// parsed by the ETA estimator.
type Order struct {
	ID           string `json:"order_id"`
	Status       string `json:"status"`
	ProductName  string `json:"product_name"`
	DeliveryTime string `json:"delivery_time"`
	PlacedAt     string `json:"placed_at,omitempty"`
	ShippedAt    string `json:"shipped_at,omitempty"`
}
