package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/utafrali/cartkeeper/internal/domain"
)

// wireLine is the stored shape of a cart line:
// {"productId","name","unitPrice","quantity"}.
type wireLine struct {
	ProductID json.RawMessage `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice json.RawMessage `json:"unitPrice"`
	Quantity  json.RawMessage `json:"quantity"`
}

type wireLineOut struct {
	ProductID string       `json:"productId"`
	Name      string       `json:"name"`
	UnitPrice *json.Number `json:"unitPrice"`
	Quantity  int          `json:"quantity"`
}

// DroppedLine describes a stored line that was discarded while decoding.
type DroppedLine struct {
	ProductID string
	Reason    string
}

func toWire(lines []domain.CartLine) []wireLineOut {
	out := make([]wireLineOut, len(lines))
	for i, l := range lines {
		w := wireLineOut{ProductID: l.ProductID, Name: l.Name, Quantity: l.Quantity}
		if l.PriceKnown() {
			n := json.Number(l.UnitPrice.String())
			w.UnitPrice = &n
		}
		out[i] = w
	}
	return out
}

// EncodeLines renders lines as the stored JSON array.
func EncodeLines(lines []domain.CartLine) (string, error) {
	data, err := json.Marshal(toWire(lines))
	if err != nil {
		return "", fmt.Errorf("marshal cart lines: %w", err)
	}
	return string(data), nil
}

// DecodeLines parses a stored JSON array of lines. A value that is not an
// array of line objects, or a line without a product id, is an error. A line
// whose price is unreadable is kept with an unknown price; a line whose
// quantity is unreadable or below 1 is dropped and reported.
func DecodeLines(raw string) ([]domain.CartLine, []DroppedLine, error) {
	var wire []wireLine
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, nil, fmt.Errorf("unmarshal cart lines: %w", err)
	}
	return fromWire(wire)
}

func fromWire(wire []wireLine) ([]domain.CartLine, []DroppedLine, error) {
	lines := make([]domain.CartLine, 0, len(wire))
	var dropped []DroppedLine

	for i, w := range wire {
		id, err := parseID(w.ProductID)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", i, err)
		}

		qty, ok := parseQuantity(w.Quantity)
		if !ok {
			dropped = append(dropped, DroppedLine{ProductID: id, Reason: "quantity " + string(w.Quantity)})
			continue
		}

		price, ok := parsePrice(w.UnitPrice)
		if !ok {
			lines = append(lines, domain.UnknownPriceLine(id, w.Name, qty))
			continue
		}
		lines = append(lines, domain.CartLine{
			ProductID: id,
			Name:      w.Name,
			UnitPrice: price,
			Quantity:  qty,
		})
	}
	return lines, dropped, nil
}

// parseID accepts a JSON string or number.
func parseID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("missing productId")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", fmt.Errorf("invalid productId %s", raw)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("invalid productId %s", raw)
	}
	return n.String(), nil
}

// numericText unwraps a JSON number or numeric string.
func numericText(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	}
	return string(raw), true
}

func parsePrice(raw json.RawMessage) (decimal.Decimal, bool) {
	text, ok := numericText(raw)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(text)
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, false
	}
	return d, true
}

func parseQuantity(raw json.RawMessage) (int, bool) {
	text, ok := numericText(raw)
	if !ok {
		return 0, false
	}
	q, err := strconv.Atoi(text)
	if err != nil || q < 1 {
		return 0, false
	}
	return q, true
}
