package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/cartkeeper/pkg/errors"
	"github.com/utafrali/cartkeeper/pkg/validator"
)

// Product is the catalog view of an item at the moment it is added to a cart.
type Product struct {
	ID    string          `json:"id" validate:"required,max=128"`
	Name  string          `json:"name" validate:"max=500"`
	Price decimal.Decimal `json:"price" validate:"gte=0"`
}

// NewProduct builds a Product from a float catalog price, rejecting NaN and
// infinities that decimal cannot represent.
func NewProduct(id, name string, price float64) (Product, error) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return Product{}, apperrors.InvalidInput(fmt.Sprintf("price of product %q must be a finite number", id))
	}
	return Product{ID: id, Name: name, Price: decimal.NewFromFloat(price)}, nil
}

// Validate checks the product can be placed in a cart.
func (p Product) Validate() error {
	if err := validator.Validate(p); err != nil {
		return apperrors.InvalidInput(err.Error())
	}
	return nil
}

// CartLine is one product's presence in the cart.
type CartLine struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`

	priceUnknown bool
}

// UnknownPriceLine builds a line restored from storage whose price could not
// be read. It contributes nothing to totals.
func UnknownPriceLine(productID, name string, quantity int) CartLine {
	return CartLine{ProductID: productID, Name: name, Quantity: quantity, priceUnknown: true}
}

// PriceKnown reports whether UnitPrice holds a real value.
func (l CartLine) PriceKnown() bool {
	return !l.priceUnknown
}

// Subtotal returns UnitPrice × Quantity, or zero for an unknown price.
func (l CartLine) Subtotal() decimal.Decimal {
	if l.priceUnknown || l.Quantity < 1 {
		return decimal.Zero
	}
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart holds lines in insertion order with at most one line per product and
// every quantity at least 1. The zero value is an empty cart.
type Cart struct {
	lines []CartLine
	index map[string]int
}

// NewCart returns an empty cart.
func NewCart() *Cart {
	return &Cart{index: make(map[string]int)}
}

// RestoreCart rebuilds a cart from persisted lines, refusing data that breaks
// the cart invariants.
func RestoreCart(lines []CartLine) (*Cart, error) {
	c := NewCart()
	for _, l := range lines {
		if l.ProductID == "" {
			return nil, fmt.Errorf("line without product id")
		}
		if l.Quantity < 1 {
			return nil, fmt.Errorf("product %q has quantity %d", l.ProductID, l.Quantity)
		}
		if _, dup := c.index[l.ProductID]; dup {
			return nil, fmt.Errorf("product %q appears twice", l.ProductID)
		}
		c.index[l.ProductID] = len(c.lines)
		c.lines = append(c.lines, l)
	}
	return c, nil
}

func (c *Cart) ensureIndex() {
	if c.index == nil {
		c.index = make(map[string]int, len(c.lines))
	}
}

// Add puts one unit of p in the cart. An existing line keeps its original
// price. Returns true when a new line was created.
func (c *Cart) Add(p Product) bool {
	c.ensureIndex()
	if i, ok := c.index[p.ID]; ok {
		c.lines[i].Quantity++
		return false
	}
	c.index[p.ID] = len(c.lines)
	c.lines = append(c.lines, CartLine{
		ProductID: p.ID,
		Name:      p.Name,
		UnitPrice: p.Price,
		Quantity:  1,
	})
	return true
}

// Increment adds one unit to an existing line. Returns false if absent.
func (c *Cart) Increment(productID string) bool {
	i, ok := c.index[productID]
	if !ok {
		return false
	}
	c.lines[i].Quantity++
	return true
}

// Decrement removes one unit, dropping the line when it reaches zero.
// Returns false if absent.
func (c *Cart) Decrement(productID string) bool {
	i, ok := c.index[productID]
	if !ok {
		return false
	}
	if c.lines[i].Quantity > 1 {
		c.lines[i].Quantity--
		return true
	}
	c.removeAt(i)
	return true
}

// Remove deletes the line for productID. Returns false if absent.
func (c *Cart) Remove(productID string) bool {
	i, ok := c.index[productID]
	if !ok {
		return false
	}
	c.removeAt(i)
	return true
}

func (c *Cart) removeAt(i int) {
	delete(c.index, c.lines[i].ProductID)
	c.lines = append(c.lines[:i], c.lines[i+1:]...)
	for j := i; j < len(c.lines); j++ {
		c.index[c.lines[j].ProductID] = j
	}
}

// Subtract removes the quantities in lines from the matching cart lines,
// dropping any line that reaches zero. Units added after lines was taken stay.
// Returns true when the cart changed.
func (c *Cart) Subtract(lines []CartLine) bool {
	changed := false
	for _, l := range lines {
		i, ok := c.index[l.ProductID]
		if !ok || l.Quantity < 1 {
			continue
		}
		changed = true
		if c.lines[i].Quantity > l.Quantity {
			c.lines[i].Quantity -= l.Quantity
			continue
		}
		c.removeAt(i)
	}
	return changed
}

// SameLines reports whether a and b hold the same products, quantities and
// prices in the same order.
func SameLines(a, b []CartLine) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ProductID != y.ProductID || x.Quantity != y.Quantity || x.priceUnknown != y.priceUnknown {
			return false
		}
		if !x.priceUnknown && !x.UnitPrice.Equal(y.UnitPrice) {
			return false
		}
	}
	return true
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.lines = nil
	c.index = make(map[string]int)
}

// Len returns the number of distinct lines.
func (c *Cart) Len() int {
	return len(c.lines)
}

// Line returns a copy of the line for productID.
func (c *Cart) Line(productID string) (CartLine, bool) {
	i, ok := c.index[productID]
	if !ok {
		return CartLine{}, false
	}
	return c.lines[i], true
}

// Lines returns a copy of all lines in insertion order.
func (c *Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// ItemCount returns the sum of all line quantities.
func (c *Cart) ItemCount() int {
	return ItemCount(c.lines)
}

// TotalPrice returns the sum of every line subtotal.
func (c *Cart) TotalPrice() decimal.Decimal {
	return TotalPrice(c.lines)
}

// ItemCount sums quantities over lines.
func ItemCount(lines []CartLine) int {
	var count int
	for _, l := range lines {
		count += l.Quantity
	}
	return count
}

// TotalPrice sums subtotals over lines. Lines with unknown prices add zero.
func TotalPrice(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}
