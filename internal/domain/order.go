package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is a frozen copy of a cart taken at checkout.
type Order struct {
	// Number is the 1-based position in the ledger, shown as "Order #N".
	Number     int        `json:"number"`
	CheckoutID string     `json:"checkoutId,omitempty"`
	PlacedAt   time.Time  `json:"placedAt"`
	Lines      []CartLine `json:"lines"`
}

// ItemCount returns the number of units in the order.
func (o Order) ItemCount() int {
	return ItemCount(o.Lines)
}

// Total returns the order value.
func (o Order) Total() decimal.Decimal {
	return TotalPrice(o.Lines)
}
