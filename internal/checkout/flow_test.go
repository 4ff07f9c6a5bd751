package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartkeeper/internal/cartstore"
	"github.com/utafrali/cartkeeper/internal/domain"
	"github.com/utafrali/cartkeeper/internal/ledger"
	"github.com/utafrali/cartkeeper/internal/persistence"
	apperrors "github.com/utafrali/cartkeeper/pkg/errors"
	"github.com/utafrali/cartkeeper/pkg/kvstore"
	"github.com/utafrali/cartkeeper/pkg/logger"
)

// --- Mocks ---

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) PlaceOrder(ctx context.Context, checkoutID string, lines []domain.CartLine) (domain.Order, error) {
	args := m.Called(ctx, checkoutID, lines)
	return args.Get(0).(domain.Order), args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishOrderPlaced(ctx context.Context, order domain.Order) error {
	return m.Called(ctx, order).Error(0)
}

type denyingAuthorizer struct{ err error }

func (a denyingAuthorizer) Authorize(context.Context) error { return a.err }

func product(id, price string) domain.Product {
	return domain.Product{ID: id, Name: "product " + id, Price: decimal.RequireFromString(price)}
}

func newCart(t *testing.T, products ...domain.Product) *cartstore.Store {
	t.Helper()
	s := cartstore.New(nil, nil, logger.Discard())
	for _, p := range products {
		require.NoError(t, s.AddItem(p))
	}
	return s
}

func authenticated() *SessionFlag {
	s := &SessionFlag{}
	_ = s.Authorize(context.Background())
	return s
}

// --- State transitions ---

func TestBegin_EmptyCart(t *testing.T) {
	rec := new(mockRecorder)
	f := NewFlow(newCart(t), rec, authenticated(), nil, nil, logger.Discard())

	_, err := f.Begin(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrEmptyCart)
	assert.Equal(t, Idle, f.State())
	rec.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestBegin_Authenticated_Submits(t *testing.T) {
	cart := newCart(t, product("1", "10.00"))
	rec := new(mockRecorder)
	pub := new(mockPublisher)
	order := domain.Order{Number: 1, Lines: cart.Lines()}
	rec.On("PlaceOrder", mock.Anything, "chk-1", cart.Lines()).Return(order, nil).Once()
	pub.On("PublishOrderPlaced", mock.Anything, order).Return(nil).Once()

	f := NewFlow(cart, rec, authenticated(), nil, pub, logger.Discard())
	f.newID = func() string { return "chk-1" }

	st, err := f.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, st.State)
	assert.Equal(t, "completed", st.StateName)
	require.NotNil(t, st.Order)
	assert.Equal(t, 1, st.Order.Number)
	assert.True(t, cart.IsEmpty())
	rec.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestBegin_Unauthenticated_WaitsForAuthorization(t *testing.T) {
	cart := newCart(t, product("1", "10.00"))
	rec := new(mockRecorder)
	rec.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything).
		Return(domain.Order{Number: 1}, nil).Once()

	session := &SessionFlag{}
	f := NewFlow(cart, rec, session, session, nil, logger.Discard())

	st, err := f.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Authorizing, st.State)
	rec.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything, mock.Anything)

	_, err = f.Begin(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	st, err = f.Authorize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, st.State)
	assert.True(t, session.Authenticated(context.Background()))
	assert.True(t, cart.IsEmpty())
}

func TestCancel_ReturnsToIdle(t *testing.T) {
	cart := newCart(t, product("1", "10.00"))
	session := &SessionFlag{}
	f := NewFlow(cart, new(mockRecorder), session, session, nil, logger.Discard())

	_, err := f.Begin(context.Background())
	require.NoError(t, err)

	st, err := f.Cancel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Idle, st.State)
	assert.False(t, cart.IsEmpty())

	_, err = f.Cancel(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestAuthorize_Denied(t *testing.T) {
	cart := newCart(t, product("1", "10.00"))
	f := NewFlow(cart, new(mockRecorder), &SessionFlag{},
		denyingAuthorizer{err: errors.New("bad password")}, nil, logger.Discard())

	_, err := f.Begin(context.Background())
	require.NoError(t, err)

	_, err = f.Authorize(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.Equal(t, Idle, f.State())
	assert.False(t, cart.IsEmpty())
}

func TestAuthorize_OutsideAuthorizing(t *testing.T) {
	f := NewFlow(newCart(t), new(mockRecorder), &SessionFlag{}, nil, nil, logger.Discard())
	_, err := f.Authorize(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestSubmit_FailureKeepsCartAndCheckoutID(t *testing.T) {
	cart := newCart(t, product("1", "10.00"))
	rec := new(mockRecorder)
	failure := apperrors.PersistenceFailure("append order", errors.New("disk full"))
	rec.On("PlaceOrder", mock.Anything, "chk-1", mock.Anything).Return(domain.Order{}, failure).Once()
	rec.On("PlaceOrder", mock.Anything, "chk-1", mock.Anything).Return(domain.Order{Number: 1}, nil).Once()

	ids := 0
	f := NewFlow(cart, rec, authenticated(), nil, nil, logger.Discard())
	f.newID = func() string { ids++; return "chk-1" }

	_, err := f.Begin(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrPersistence)
	assert.Equal(t, Idle, f.State())
	assert.False(t, cart.IsEmpty())
	assert.Equal(t, "chk-1", f.Status().CheckoutID)

	st, err := f.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, st.State)
	assert.Equal(t, 1, ids)
	assert.Empty(t, f.Status().CheckoutID)
	rec.AssertExpectations(t)
}

func TestSubmit_ChangedCartGetsNewCheckoutID(t *testing.T) {
	cart := newCart(t, product("1", "10.00"))
	rec := new(mockRecorder)
	failure := apperrors.PersistenceFailure("append order", errors.New("write timeout"))
	rec.On("PlaceOrder", mock.Anything, "chk-1", mock.Anything).Return(domain.Order{}, failure).Once()
	rec.On("PlaceOrder", mock.Anything, "chk-2", mock.Anything).Return(domain.Order{Number: 1}, nil).Once()

	ids := []string{"chk-1", "chk-2"}
	f := NewFlow(cart, rec, authenticated(), nil, nil, logger.Discard())
	f.newID = func() string { id := ids[0]; ids = ids[1:]; return id }

	_, err := f.Begin(context.Background())
	require.Error(t, err)
	require.NoError(t, cart.AddItem(product("2", "3.00")))

	_, err = f.Begin(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	rec.AssertExpectations(t)
}

func TestSubmit_KeepsItemsAddedDuringSubmission(t *testing.T) {
	cart := newCart(t, product("1", "10.00"))
	rec := new(mockRecorder)
	rec.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			_ = cart.AddItem(product("1", "10.00"))
			_ = cart.AddItem(product("2", "3.00"))
		}).
		Return(domain.Order{Number: 1}, nil).Once()

	f := NewFlow(cart, rec, nil, nil, nil, logger.Discard())
	st, err := f.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, st.State)

	lines := cart.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "1", lines[0].ProductID)
	assert.Equal(t, 1, lines[0].Quantity)
	assert.Equal(t, "2", lines[1].ProductID)
}

func TestSubmit_EventFailureDoesNotFailCheckout(t *testing.T) {
	cart := newCart(t, product("1", "10.00"))
	rec := new(mockRecorder)
	rec.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything).Return(domain.Order{Number: 1}, nil)
	pub := new(mockPublisher)
	pub.On("PublishOrderPlaced", mock.Anything, mock.Anything).Return(errors.New("broker down"))

	f := NewFlow(cart, rec, nil, nil, pub, logger.Discard())
	st, err := f.Begin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Completed, st.State)
}

func TestBegin_AfterCompletedStartsFreshCycle(t *testing.T) {
	cart := newCart(t, product("1", "10.00"))
	rec := new(mockRecorder)
	rec.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything).Return(domain.Order{Number: 1}, nil)

	f := NewFlow(cart, rec, nil, nil, nil, logger.Discard())
	_, err := f.Begin(context.Background())
	require.NoError(t, err)

	_, err = f.Begin(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrEmptyCart)
	assert.Equal(t, Idle, f.State())
}

func TestBegin_WhileSubmitting(t *testing.T) {
	cart := newCart(t, product("1", "10.00"))
	rec := new(mockRecorder)
	release := make(chan struct{})
	entered := make(chan struct{})
	rec.On("PlaceOrder", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { close(entered); <-release }).
		Return(domain.Order{Number: 1}, nil).Once()

	f := NewFlow(cart, rec, nil, nil, nil, logger.Discard())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = f.Begin(context.Background())
	}()

	<-entered
	assert.Equal(t, Submitting, f.State())
	_, err := f.Begin(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	close(release)
	wg.Wait()
	assert.Equal(t, Completed, f.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "authorizing", Authorizing.String())
	assert.Equal(t, "state(9)", State(9).String())
}

// --- End to end ---

func TestCheckout_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	gw := persistence.NewGateway(store, persistence.Config{}, logger.Discard())
	defer func() { _ = gw.Close(ctx) }()

	cart := cartstore.Open(ctx, gw, gw, logger.Discard())
	orders := ledger.New(store, ledger.Config{}, logger.Discard())
	f := NewFlow(cart, orders, nil, nil, nil, logger.Discard())

	p, err := domain.NewProduct("1", "Headphones", 59.99)
	require.NoError(t, err)

	require.NoError(t, cart.AddItem(p))
	assert.Equal(t, 1, cart.ItemCount())
	assert.True(t, cart.TotalPrice().Equal(decimal.RequireFromString("59.99")))

	require.NoError(t, cart.AddItem(p))
	assert.Equal(t, 2, cart.ItemCount())
	line, ok := cart.Line("1")
	require.True(t, ok)
	assert.Equal(t, 2, line.Quantity)
	assert.True(t, cart.TotalPrice().Equal(decimal.RequireFromString("119.98")))

	require.NoError(t, cart.DecrementQuantity("1"))
	line, _ = cart.Line("1")
	assert.Equal(t, 1, line.Quantity)
	assert.True(t, cart.TotalPrice().Equal(decimal.RequireFromString("59.99")))

	st, err := f.Begin(ctx)
	require.NoError(t, err)
	assert.Equal(t, Completed, st.State)

	placed, err := orders.ListOrders(ctx)
	require.NoError(t, err)
	require.Len(t, placed, 1)
	require.Len(t, placed[0].Lines, 1)
	assert.Equal(t, "1", placed[0].Lines[0].ProductID)
	assert.Equal(t, 1, placed[0].Lines[0].Quantity)
	assert.True(t, placed[0].Lines[0].UnitPrice.Equal(decimal.RequireFromString("59.99")))

	assert.True(t, cart.IsEmpty())
	assert.Equal(t, 0, cart.ItemCount())

	// The cleared cart reaches the store as a deleted key.
	require.NoError(t, gw.Flush(ctx))
	_, ok, err = store.Get(ctx, persistence.DefaultCartKey)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckout_EmptyCartLeavesLedgerUnchanged(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemory()
	orders := ledger.New(store, ledger.Config{}, logger.Discard())
	f := NewFlow(newCart(t), orders, nil, nil, nil, logger.Discard())

	_, err := f.Begin(ctx)
	assert.ErrorIs(t, err, apperrors.ErrEmptyCart)

	placed, err := orders.ListOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, placed)
	assert.Equal(t, 0, store.Len())
}

func TestCheckout_RetryAfterLedgerFailureRecordsOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := &flakyStore{Memory: kvstore.NewMemory(), failOrders: 1}
	orders := ledger.New(store, ledger.Config{}, logger.Discard())
	cart := newCart(t, product("1", "5.00"))
	f := NewFlow(cart, orders, nil, nil, nil, logger.Discard())

	_, err := f.Begin(ctx)
	require.Error(t, err)
	assert.False(t, cart.IsEmpty())

	_, err = f.Begin(ctx)
	require.NoError(t, err)

	placed, err := orders.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, placed, 1)
}

func TestCheckout_AppliedWriteReportedAsFailure(t *testing.T) {
	a, b := product("A", "4.00"), product("B", "6.00")

	t.Run("same cart records once", func(t *testing.T) {
		ctx := context.Background()
		store := &flakyStore{Memory: kvstore.NewMemory(), failOrders: 1, applyOnFail: true}
		orders := ledger.New(store, ledger.Config{}, logger.Discard())
		cart := newCart(t, a)
		f := NewFlow(cart, orders, nil, nil, nil, logger.Discard())

		_, err := f.Begin(ctx)
		require.Error(t, err)
		assert.False(t, cart.IsEmpty())

		st, err := f.Begin(ctx)
		require.NoError(t, err)
		require.NotNil(t, st.Order)
		assert.Equal(t, 1, st.Order.Number)
		assert.True(t, cart.IsEmpty())

		placed, err := orders.ListOrders(ctx)
		require.NoError(t, err)
		assert.Len(t, placed, 1)
	})

	t.Run("changed cart is ordered in full", func(t *testing.T) {
		ctx := context.Background()
		store := &flakyStore{Memory: kvstore.NewMemory(), failOrders: 1, applyOnFail: true}
		orders := ledger.New(store, ledger.Config{}, logger.Discard())
		cart := newCart(t, a)
		f := NewFlow(cart, orders, nil, nil, nil, logger.Discard())

		_, err := f.Begin(ctx)
		require.Error(t, err)
		require.NoError(t, cart.AddItem(b))

		st, err := f.Begin(ctx)
		require.NoError(t, err)
		require.NotNil(t, st.Order)
		assert.Equal(t, 2, st.Order.Number)
		assert.True(t, cart.IsEmpty())

		placed, err := orders.ListOrders(ctx)
		require.NoError(t, err)
		require.Len(t, placed, 2)
		var ids []string
		for _, l := range placed[1].Lines {
			ids = append(ids, l.ProductID)
		}
		assert.Equal(t, []string{"A", "B"}, ids)
		assert.NotEqual(t, placed[0].CheckoutID, placed[1].CheckoutID)
	})
}

// flakyStore fails the first failOrders writes of the orders key. With
// applyOnFail the write lands before the error is returned.
type flakyStore struct {
	*kvstore.Memory
	mu          sync.Mutex
	failOrders  int
	applyOnFail bool
}

func (s *flakyStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	fail := key == ledger.DefaultOrdersKey && s.failOrders > 0
	if fail {
		s.failOrders--
	}
	s.mu.Unlock()
	if !fail {
		return s.Memory.Set(ctx, key, value)
	}
	if s.applyOnFail {
		if err := s.Memory.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return errors.New("write timeout")
}
