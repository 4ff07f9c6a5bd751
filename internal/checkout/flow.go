// Package checkout drives a cart through authorization and order placement.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/utafrali/cartkeeper/internal/domain"
	apperrors "github.com/utafrali/cartkeeper/pkg/errors"
	"github.com/utafrali/cartkeeper/pkg/logger"
)

// State is a checkout stage.
type State int

const (
	Idle State = iota
	Authorizing
	Submitting
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Authorizing:
		return "authorizing"
	case Submitting:
		return "submitting"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Cart is the cart the flow checks out.
type Cart interface {
	IsEmpty() bool
	Lines() []domain.CartLine
	RemoveOrdered(lines []domain.CartLine)
}

// OrderRecorder durably records an order.
type OrderRecorder interface {
	PlaceOrder(ctx context.Context, checkoutID string, lines []domain.CartLine) (domain.Order, error)
}

// Session reports whether the current session is authenticated.
type Session interface {
	Authenticated(ctx context.Context) bool
}

// Authorizer authenticates the session. A nil error means access was granted.
type Authorizer interface {
	Authorize(ctx context.Context) error
}

// EventPublisher announces placed orders.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, order domain.Order) error
}

// Status is a snapshot of the flow.
type Status struct {
	State      State         `json:"-"`
	StateName  string        `json:"state"`
	CheckoutID string        `json:"checkoutId,omitempty"`
	Order      *domain.Order `json:"order,omitempty"`
}

// Flow is the checkout state machine for one cart.
type Flow struct {
	mu         sync.Mutex
	state      State
	checkoutID string
	// pending is the cart content checkoutID was issued for.
	pending   []domain.CartLine
	lastOrder *domain.Order

	cart    Cart
	orders  OrderRecorder
	session Session
	auth    Authorizer
	events  EventPublisher
	logger  *slog.Logger
	newID   func() string
}

// NewFlow creates a flow in the Idle state. events may be nil.
func NewFlow(cart Cart, orders OrderRecorder, session Session, auth Authorizer, events EventPublisher, logger *slog.Logger) *Flow {
	return &Flow{
		cart:    cart,
		orders:  orders,
		session: session,
		auth:    auth,
		events:  events,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// State returns the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Status returns the current state with the pending checkout id and the
// last completed order.
func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusLocked()
}

func (f *Flow) statusLocked() Status {
	return Status{State: f.state, StateName: f.state.String(), CheckoutID: f.checkoutID, Order: f.lastOrder}
}

// Begin requests checkout. An empty cart fails with EmptyCart and leaves the
// state unchanged. An unauthenticated session moves to Authorizing; otherwise
// the order is submitted before Begin returns.
func (f *Flow) Begin(ctx context.Context) (Status, error) {
	f.mu.Lock()
	switch f.state {
	case Completed:
		f.state = Idle
		f.lastOrder = nil
	case Idle:
	default:
		st := f.state
		f.mu.Unlock()
		return Status{}, apperrors.Conflict(fmt.Sprintf("checkout already %s", st))
	}

	if f.cart.IsEmpty() {
		f.mu.Unlock()
		return Status{}, apperrors.EmptyCart()
	}

	if f.session != nil && !f.session.Authenticated(ctx) {
		f.state = Authorizing
		st := f.statusLocked()
		f.mu.Unlock()
		f.logger.InfoContext(ctx, "checkout awaiting authorization")
		return st, nil
	}

	return f.submitLocked(ctx)
}

// Authorize consults the Authorizer. On success the order is submitted; on
// denial the flow returns to Idle.
func (f *Flow) Authorize(ctx context.Context) (Status, error) {
	f.mu.Lock()
	if f.state != Authorizing {
		st := f.state
		f.mu.Unlock()
		return Status{}, apperrors.Conflict(fmt.Sprintf("cannot authorize while %s", st))
	}

	if f.auth != nil {
		if err := f.auth.Authorize(ctx); err != nil {
			f.state = Idle
			f.mu.Unlock()
			f.logger.WarnContext(ctx, "checkout authorization denied", slog.String("error", err.Error()))
			var appErr *apperrors.AppError
			if errors.As(err, &appErr) {
				return Status{}, err
			}
			denied := apperrors.Unauthorized("authorization failed")
			denied.Err = errors.Join(apperrors.ErrUnauthorized, err)
			return Status{}, denied
		}
	}

	if f.cart.IsEmpty() {
		f.state = Idle
		f.mu.Unlock()
		return Status{}, apperrors.EmptyCart()
	}

	return f.submitLocked(ctx)
}

// Cancel abandons authorization and returns to Idle.
func (f *Flow) Cancel(ctx context.Context) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Authorizing {
		return Status{}, apperrors.Conflict(fmt.Sprintf("cannot cancel while %s", f.state))
	}
	f.state = Idle
	f.logger.InfoContext(ctx, "checkout cancelled")
	return f.statusLocked(), nil
}

// submitLocked is entered with f.mu held and releases it while the order is
// written. A failed submission keeps its checkout id so retrying the same cart
// cannot record it twice. A cart that changed since then gets a new id.
func (f *Flow) submitLocked(ctx context.Context) (Status, error) {
	f.state = Submitting
	lines := f.cart.Lines()
	if f.checkoutID != "" && !domain.SameLines(f.pending, lines) {
		f.logger.InfoContext(ctx, "cart changed since failed submission, issuing new checkout id",
			slog.String("previous_checkout_id", f.checkoutID),
		)
		f.checkoutID = ""
	}
	if f.checkoutID == "" {
		f.checkoutID = f.newID()
		f.pending = lines
	}
	checkoutID := f.checkoutID
	f.mu.Unlock()

	ctx = logger.WithCheckoutID(ctx, checkoutID)
	log := logger.WithContext(ctx, f.logger)

	order, err := f.orders.PlaceOrder(ctx, checkoutID, lines)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err != nil {
		f.state = Idle
		log.ErrorContext(ctx, "order submission failed", slog.String("error", err.Error()))
		return Status{}, err
	}

	f.cart.RemoveOrdered(lines)
	f.state = Completed
	f.checkoutID = ""
	f.pending = nil
	f.lastOrder = &order

	log.InfoContext(ctx, "checkout completed",
		slog.Int("order_number", order.Number),
		slog.String("total", order.Total().StringFixed(2)),
	)

	if f.events != nil {
		if err := f.events.PublishOrderPlaced(ctx, order); err != nil {
			log.WarnContext(ctx, "order event not published", slog.String("error", err.Error()))
		}
	}

	st := f.statusLocked()
	st.CheckoutID = checkoutID
	return st, nil
}
