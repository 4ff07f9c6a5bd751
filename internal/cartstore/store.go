// Package cartstore owns the live cart and is its only mutation surface.
package cartstore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/utafrali/cartkeeper/internal/domain"
	apperrors "github.com/utafrali/cartkeeper/pkg/errors"
)

// Persister receives a copy of the cart after every change. Schedule must
// not block; ordering across calls must be preserved.
type Persister interface {
	Schedule(lines []domain.CartLine)
}

// Loader restores the cart persisted by an earlier process.
type Loader interface {
	Load(ctx context.Context) (*domain.Cart, error)
}

// Option configures a Store.
type Option func(*Store)

// WithStrictLookups makes quantity changes and removals of a product that is
// not in the cart fail with a NotFound error instead of doing nothing.
func WithStrictLookups() Option {
	return func(s *Store) { s.strict = true }
}

// Store is the in-memory cart. Mutations are applied immediately and handed
// to the Persister without waiting for durability.
type Store struct {
	mu        sync.RWMutex
	cart      *domain.Cart
	persister Persister
	logger    *slog.Logger
	strict    bool
}

// New creates a store over cart. A nil cart starts empty.
func New(cart *domain.Cart, persister Persister, logger *slog.Logger, opts ...Option) *Store {
	if cart == nil {
		cart = domain.NewCart()
	}
	s := &Store{
		cart:      cart,
		persister: persister,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open restores the cart through loader and wraps it in a Store. A failing
// load is logged and the store starts empty.
func Open(ctx context.Context, loader Loader, persister Persister, logger *slog.Logger, opts ...Option) *Store {
	cart, err := loader.Load(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "cart load failed, starting empty", slog.String("error", err.Error()))
	}
	return New(cart, persister, logger, opts...)
}

// persist must be called with s.mu held so snapshots reach the persister in
// mutation order.
func (s *Store) persist() {
	if s.persister != nil {
		s.persister.Schedule(s.cart.Lines())
	}
}

func (s *Store) missing(productID string) error {
	if s.strict {
		return apperrors.NotFound("cart line", productID)
	}
	return nil
}

// AddItem adds one unit of p. A product already in the cart keeps the price
// it was first added at.
func (s *Store) AddItem(p domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart.Add(p) {
		s.logger.Debug("cart line added", slog.String("product_id", p.ID), slog.String("price", p.Price.String()))
	}
	s.persist()
	return nil
}

// IncrementQuantity adds one unit to an existing line.
func (s *Store) IncrementQuantity(productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cart.Increment(productID) {
		return s.missing(productID)
	}
	s.persist()
	return nil
}

// DecrementQuantity removes one unit; the line disappears when it reaches zero.
func (s *Store) DecrementQuantity(productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cart.Decrement(productID) {
		return s.missing(productID)
	}
	s.persist()
	return nil
}

// RemoveItem deletes the line for productID.
func (s *Store) RemoveItem(productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cart.Remove(productID) {
		return s.missing(productID)
	}
	s.persist()
	return nil
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart.Len() == 0 {
		return
	}
	s.cart.Clear()
	s.persist()
}

// RemoveOrdered takes the quantities of an order out of the cart. Units added
// while the order was being written are left in place.
func (s *Store) RemoveOrdered(lines []domain.CartLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart.Subtract(lines) {
		s.persist()
	}
}

// ItemCount returns the badge count: the sum of all quantities.
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.ItemCount()
}

// TotalPrice returns Σ unitPrice × quantity over all lines.
func (s *Store) TotalPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.TotalPrice()
}

// IsEmpty reports whether the cart has no lines.
func (s *Store) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Len() == 0
}

// Lines returns a snapshot of the cart lines in insertion order.
func (s *Store) Lines() []domain.CartLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Lines()
}

// Line returns the line for productID.
func (s *Store) Line(productID string) (domain.CartLine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cart.Line(productID)
}
