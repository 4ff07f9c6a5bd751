package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/cartkeeper/internal/cartstore"
	"github.com/utafrali/cartkeeper/internal/checkout"
	"github.com/utafrali/cartkeeper/internal/domain"
	apperrors "github.com/utafrali/cartkeeper/pkg/errors"
	"github.com/utafrali/cartkeeper/pkg/httputil"
	"github.com/utafrali/cartkeeper/pkg/pagination"
	"github.com/utafrali/cartkeeper/pkg/validator"
)

// OrderReader reads the order history.
type OrderReader interface {
	ListOrders(ctx context.Context) ([]domain.Order, error)
	Order(ctx context.Context, n int) (domain.Order, error)
}

// SessionEnder signs the session out and removes its stored keys.
type SessionEnder interface {
	EndSession(ctx context.Context) error
}

// Handler serves the cart, checkout and order endpoints.
type Handler struct {
	cart     *cartstore.Store
	checkout *checkout.Flow
	orders   OrderReader
	session  SessionEnder
	logger   *slog.Logger
}

// NewHandler creates the API handler. session may be nil.
func NewHandler(cart *cartstore.Store, flow *checkout.Flow, orders OrderReader, session SessionEnder, logger *slog.Logger) *Handler {
	return &Handler{cart: cart, checkout: flow, orders: orders, session: session, logger: logger}
}

// --- Request DTOs ---

// AddItemRequest is the body of POST /api/v1/cart/items.
type AddItemRequest struct {
	ProductID string          `json:"productId" validate:"required,max=128"`
	Name      string          `json:"name" validate:"max=500"`
	Price     decimal.Decimal `json:"price" validate:"gte=0"`
}

// --- Response DTOs ---

// LineResponse is one cart or order line. Subtotals and totals are shown in
// cents; UnitPrice keeps any sub-cent digits.
type LineResponse struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	UnitPrice *string `json:"unitPrice"`
	Quantity  int     `json:"quantity"`
	Subtotal  string  `json:"subtotal"`
}

// CartResponse is the cart view.
type CartResponse struct {
	Lines      []LineResponse `json:"lines"`
	ItemCount  int            `json:"itemCount"`
	TotalPrice string         `json:"totalPrice"`
}

// OrderResponse is one placed order.
type OrderResponse struct {
	Number     int            `json:"number"`
	CheckoutID string         `json:"checkoutId,omitempty"`
	PlacedAt   string         `json:"placedAt,omitempty"`
	Lines      []LineResponse `json:"lines"`
	ItemCount  int            `json:"itemCount"`
	Total      string         `json:"total"`
}

// CheckoutResponse is the checkout state after a transition.
type CheckoutResponse struct {
	State      string         `json:"state"`
	CheckoutID string         `json:"checkoutId,omitempty"`
	Order      *OrderResponse `json:"order,omitempty"`
}

func unitPrice(d decimal.Decimal) string {
	if d.Equal(d.Round(2)) {
		return d.StringFixed(2)
	}
	return d.String()
}

func toLines(lines []domain.CartLine) []LineResponse {
	out := make([]LineResponse, len(lines))
	for i, l := range lines {
		lr := LineResponse{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			Subtotal:  l.Subtotal().StringFixed(2),
		}
		if l.PriceKnown() {
			p := unitPrice(l.UnitPrice)
			lr.UnitPrice = &p
		}
		out[i] = lr
	}
	return out
}

func toOrder(o domain.Order) OrderResponse {
	resp := OrderResponse{
		Number:     o.Number,
		CheckoutID: o.CheckoutID,
		Lines:      toLines(o.Lines),
		ItemCount:  o.ItemCount(),
		Total:      o.Total().StringFixed(2),
	}
	if !o.PlacedAt.IsZero() {
		resp.PlacedAt = o.PlacedAt.Format(time.RFC3339)
	}
	return resp
}

func (h *Handler) cartView() CartResponse {
	lines := h.cart.Lines()
	return CartResponse{
		Lines:      toLines(lines),
		ItemCount:  domain.ItemCount(lines),
		TotalPrice: domain.TotalPrice(lines).StringFixed(2),
	}
}

func toCheckout(st checkout.Status) CheckoutResponse {
	resp := CheckoutResponse{State: st.StateName, CheckoutID: st.CheckoutID}
	if st.Order != nil {
		o := toOrder(*st.Order)
		resp.Order = &o
	}
	return resp
}

// --- Cart handlers ---

// GetCart handles GET /api/v1/cart
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, h.cartView())
}

// AddItem handles POST /api/v1/cart/items
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	p := domain.Product{ID: req.ProductID, Name: req.Name, Price: req.Price}
	if err := h.cart.AddItem(p); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, h.cartView())
}

// IncrementItem handles POST /api/v1/cart/items/{productId}/increment
func (h *Handler) IncrementItem(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.cart.IncrementQuantity)
}

// DecrementItem handles POST /api/v1/cart/items/{productId}/decrement
func (h *Handler) DecrementItem(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.cart.DecrementQuantity)
}

// RemoveItem handles DELETE /api/v1/cart/items/{productId}
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.cart.RemoveItem)
}

func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, op func(string) error) {
	if err := op(chi.URLParam(r, "productId")); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, h.cartView())
}

// ClearCart handles DELETE /api/v1/cart
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.cart.Clear()
	httputil.WriteData(w, http.StatusOK, h.cartView())
}

// --- Checkout handlers ---

// GetCheckout handles GET /api/v1/checkout
func (h *Handler) GetCheckout(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, toCheckout(h.checkout.Status()))
}

// BeginCheckout handles POST /api/v1/checkout
func (h *Handler) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.checkout.Begin)
}

// AuthorizeCheckout handles POST /api/v1/checkout/authorize
func (h *Handler) AuthorizeCheckout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.checkout.Authorize)
}

// CancelCheckout handles POST /api/v1/checkout/cancel
func (h *Handler) CancelCheckout(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.checkout.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, step func(context.Context) (checkout.Status, error)) {
	st, err := step(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	status := http.StatusOK
	if st.State == checkout.Completed {
		status = http.StatusCreated
	}
	httputil.WriteData(w, status, toCheckout(st))
}

// --- Orders ---

// ListOrders handles GET /api/v1/orders?page=&per_page=
// Orders are listed oldest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	params := pagination.FromRequest(r)

	orders, err := h.orders.ListOrders(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.Paginate(orders, params, toOrder))
}

// GetOrder handles GET /api/v1/orders/{number}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	param := chi.URLParam(r, "number")
	n, err := strconv.Atoi(param)
	if err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("order number must be an integer: "+param), h.logger)
		return
	}
	order, err := h.orders.Order(r.Context(), n)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, toOrder(order))
}

// --- Session ---

// EndSession handles DELETE /api/v1/session
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	if h.session != nil {
		if err := h.session.EndSession(r.Context()); err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
