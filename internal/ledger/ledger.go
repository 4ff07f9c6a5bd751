// Package ledger records placed orders as an append-only history.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/utafrali/cartkeeper/internal/domain"
	"github.com/utafrali/cartkeeper/internal/persistence"
	apperrors "github.com/utafrali/cartkeeper/pkg/errors"
	"github.com/utafrali/cartkeeper/pkg/kvstore"
)

// Default keys for the order history.
const (
	DefaultOrdersKey = "@orders"
	DefaultMetaKey   = "@orders_meta"
)

// entryMeta is stored in the meta key at the same index as the order it
// describes. The orders key keeps the plain array-of-line-arrays shape.
type entryMeta struct {
	CheckoutID string    `json:"checkoutId"`
	PlacedAt   time.Time `json:"placedAt"`
}

// Config holds ledger key names.
type Config struct {
	OrdersKey string
	MetaKey   string
}

// Ledger appends orders to the durable store and reads them back.
type Ledger struct {
	store  kvstore.Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// mu serializes appends made through this instance.
	mu sync.Mutex
}

// New creates a ledger over store.
func New(store kvstore.Store, cfg Config, logger *slog.Logger) *Ledger {
	if cfg.OrdersKey == "" {
		cfg.OrdersKey = DefaultOrdersKey
	}
	if cfg.MetaKey == "" {
		cfg.MetaKey = DefaultMetaKey
	}
	return &Ledger{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// PlaceOrder durably appends a frozen copy of lines and returns the new order.
// Calling it again with the same checkoutID returns the order recorded by the
// earlier call instead of appending a duplicate. An empty checkoutID disables
// that check.
//
// The meta entry is written before the orders array. A meta entry only counts
// when the orders array reaches its index, so a crash between the two writes
// leaves a stale entry that the next append overwrites.
func (l *Ledger) PlaceOrder(ctx context.Context, checkoutID string, lines []domain.CartLine) (domain.Order, error) {
	if len(lines) == 0 {
		return domain.Order{}, apperrors.EmptyOrder()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	orders, err := l.readOrders(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	meta, err := l.readMeta(ctx)
	if errors.Is(err, apperrors.ErrMalformedPersisted) {
		// Unreadable meta is rebuilt from scratch; orders stay authoritative.
		l.logger.WarnContext(ctx, "order metadata malformed, rebuilding", slog.String("error", err.Error()))
		meta = nil
	} else if err != nil {
		return domain.Order{}, err
	}

	if checkoutID != "" {
		for i := 0; i < len(meta) && i < len(orders); i++ {
			if meta[i].CheckoutID == checkoutID {
				l.logger.InfoContext(ctx, "checkout already recorded",
					slog.String("checkout_id", checkoutID),
					slog.Int("order_number", i+1),
				)
				return buildOrder(i, orders[i], meta), nil
			}
		}
	}

	frozen := make([]domain.CartLine, len(lines))
	copy(frozen, lines)

	idx := len(orders)
	// Pad entries for orders written before meta existed, and drop any
	// stale tail left by an interrupted append.
	for len(meta) < idx {
		meta = append(meta, entryMeta{})
	}
	meta = append(meta[:idx], entryMeta{CheckoutID: checkoutID, PlacedAt: l.now()})
	orders = append(orders, frozen)

	if err := l.writeJSON(ctx, l.cfg.MetaKey, meta); err != nil {
		return domain.Order{}, apperrors.PersistenceFailure("record checkout", err)
	}
	if err := l.writeOrders(ctx, orders); err != nil {
		return domain.Order{}, apperrors.PersistenceFailure("append order", err)
	}

	order := buildOrder(idx, frozen, meta)
	l.logger.InfoContext(ctx, "order placed",
		slog.Int("order_number", order.Number),
		slog.Int("item_count", order.ItemCount()),
		slog.String("total", order.Total().String()),
	)
	return order, nil
}

// ListOrders reads every order from the store, oldest first.
func (l *Ledger) ListOrders(ctx context.Context) ([]domain.Order, error) {
	orders, err := l.readOrders(ctx)
	if err != nil {
		return nil, err
	}
	meta, err := l.readMeta(ctx)
	if err != nil {
		// Meta only adds timestamps; history stays readable without it.
		l.logger.WarnContext(ctx, "order metadata unreadable", slog.String("error", err.Error()))
		meta = nil
	}

	out := make([]domain.Order, len(orders))
	for i, lines := range orders {
		out[i] = buildOrder(i, lines, meta)
	}
	return out, nil
}

// Order returns order number n (1-based).
func (l *Ledger) Order(ctx context.Context, n int) (domain.Order, error) {
	orders, err := l.ListOrders(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	if n < 1 || n > len(orders) {
		return domain.Order{}, apperrors.NotFound("order", strconv.Itoa(n))
	}
	return orders[n-1], nil
}

func buildOrder(idx int, lines []domain.CartLine, meta []entryMeta) domain.Order {
	o := domain.Order{Number: idx + 1, Lines: lines}
	if idx < len(meta) {
		o.CheckoutID = meta[idx].CheckoutID
		o.PlacedAt = meta[idx].PlacedAt
	}
	return o
}

func (l *Ledger) readOrders(ctx context.Context) ([][]domain.CartLine, error) {
	raw, ok, err := l.store.Get(ctx, l.cfg.OrdersKey)
	if err != nil {
		return nil, apperrors.PersistenceFailure("read orders", err)
	}
	if !ok {
		return nil, nil
	}
	orders, dropped, err := DecodeOrders(raw)
	if err != nil {
		return nil, apperrors.MalformedPersistedData(l.cfg.OrdersKey, err)
	}
	for _, d := range dropped {
		l.logger.WarnContext(ctx, "dropped unreadable order line",
			slog.Int("order_number", d.OrderNumber),
			slog.String("product_id", d.ProductID),
			slog.String("reason", d.Reason),
		)
	}
	return orders, nil
}

func (l *Ledger) readMeta(ctx context.Context) ([]entryMeta, error) {
	raw, ok, err := l.store.Get(ctx, l.cfg.MetaKey)
	if err != nil {
		return nil, apperrors.PersistenceFailure("read order metadata", err)
	}
	if !ok {
		return nil, nil
	}
	var meta []entryMeta
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, apperrors.MalformedPersistedData(l.cfg.MetaKey, err)
	}
	return meta, nil
}

func (l *Ledger) writeOrders(ctx context.Context, orders [][]domain.CartLine) error {
	raw, err := EncodeOrders(orders)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, l.cfg.OrdersKey, raw)
}

func (l *Ledger) writeJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return l.store.Set(ctx, key, string(data))
}

// EncodeOrders renders orders as an array of line arrays.
func EncodeOrders(orders [][]domain.CartLine) (string, error) {
	parts := make([]json.RawMessage, len(orders))
	for i, lines := range orders {
		raw, err := persistence.EncodeLines(lines)
		if err != nil {
			return "", err
		}
		parts[i] = json.RawMessage(raw)
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return "", fmt.Errorf("marshal orders: %w", err)
	}
	return string(data), nil
}

// DroppedOrderLine is a stored order line discarded while decoding.
type DroppedOrderLine struct {
	OrderNumber int
	persistence.DroppedLine
}

// DecodeOrders parses an array of line arrays. Unreadable lines are dropped
// the same way a stored cart drops them and are returned alongside; an order
// keeps its position even when every line was dropped.
func DecodeOrders(raw string) ([][]domain.CartLine, []DroppedOrderLine, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &parts); err != nil {
		return nil, nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	orders := make([][]domain.CartLine, len(parts))
	var dropped []DroppedOrderLine
	for i, p := range parts {
		lines, lost, err := persistence.DecodeLines(string(p))
		if err != nil {
			return nil, nil, fmt.Errorf("order %d: %w", i+1, err)
		}
		for _, d := range lost {
			dropped = append(dropped, DroppedOrderLine{OrderNumber: i + 1, DroppedLine: d})
		}
		orders[i] = lines
	}
	return orders, dropped, nil
}
