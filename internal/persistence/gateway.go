// Package persistence keeps the durable copy of a cart in step with the
// in-memory cart through a single writer goroutine.
package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/utafrali/cartkeeper/internal/domain"
	apperrors "github.com/utafrali/cartkeeper/pkg/errors"
	"github.com/utafrali/cartkeeper/pkg/kvstore"
)

// DefaultCartKey is the key the cart snapshot is stored under.
const DefaultCartKey = "@myapp_cart"

// RetryPolicy controls how a failed write is retried while no newer
// snapshot is waiting. MaxAttempts of 1 disables retries.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.InitialBackoff << attempt
	if d <= 0 || d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Config holds gateway settings.
type Config struct {
	Key          string
	Retry        RetryPolicy
	WriteTimeout time.Duration // zero means no per-write deadline
}

type snapshot struct {
	version uint64
	lines   []domain.CartLine
}

// Gateway serializes cart snapshots into a kvstore.Store. Snapshots are
// applied strictly in the order they were scheduled; a snapshot still
// waiting when a newer one arrives is replaced, never written after it.
type Gateway struct {
	store  kvstore.Store
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	pending   *snapshot
	scheduled uint64
	settled   uint64
	lastErr   error
	progress  chan struct{}
	closed    bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewGateway starts the writer goroutine. Call Close to stop it.
func NewGateway(store kvstore.Store, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.Key == "" {
		cfg.Key = DefaultCartKey
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = DefaultRetryPolicy()
	}

	g := &Gateway{
		store:    store,
		cfg:      cfg,
		logger:   logger.With(slog.String("key", cfg.Key)),
		progress: make(chan struct{}),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go g.run()
	return g
}

// Key returns the store key the gateway writes.
func (g *Gateway) Key() string {
	return g.cfg.Key
}

// Load reads the stored cart once. A missing key yields an empty cart.
// Malformed data is logged and discarded so the caller always starts with a
// usable cart. Only a failing store read is returned as an error, together
// with an empty cart.
func (g *Gateway) Load(ctx context.Context) (*domain.Cart, error) {
	raw, ok, err := g.store.Get(ctx, g.cfg.Key)
	if err != nil {
		return domain.NewCart(), apperrors.PersistenceFailure("load cart", err)
	}
	if !ok {
		g.logger.DebugContext(ctx, "no stored cart, starting empty")
		return domain.NewCart(), nil
	}

	lines, dropped, err := DecodeLines(raw)
	if err == nil {
		var cart *domain.Cart
		if cart, err = domain.RestoreCart(lines); err == nil {
			for _, d := range dropped {
				g.logger.WarnContext(ctx, "dropped unreadable cart line",
					slog.String("product_id", d.ProductID),
					slog.String("reason", d.Reason),
				)
			}
			g.logger.InfoContext(ctx, "cart restored",
				slog.Int("lines", cart.Len()),
				slog.Int("item_count", cart.ItemCount()),
			)
			return cart, nil
		}
	}

	MalformedLoads.WithLabelValues(g.cfg.Key).Inc()
	g.logger.ErrorContext(ctx, "stored cart is malformed, starting empty",
		slog.String("error", apperrors.MalformedPersistedData(g.cfg.Key, err).Error()),
	)
	return domain.NewCart(), nil
}

// Schedule queues lines as the newest cart state and returns immediately.
func (g *Gateway) Schedule(lines []domain.CartLine) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.logger.Warn("snapshot scheduled after close, dropping", slog.Int("lines", len(lines)))
		return
	}
	g.scheduled++
	if g.pending != nil {
		SnapshotsCoalesced.WithLabelValues(g.cfg.Key).Inc()
	}
	g.pending = &snapshot{version: g.scheduled, lines: lines}
	g.mu.Unlock()

	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// Flush waits until every snapshot scheduled before the call has been
// applied or superseded. It returns the last write error if the newest
// snapshot could not be stored.
func (g *Gateway) Flush(ctx context.Context) error {
	g.mu.Lock()
	target := g.scheduled
	for g.settled < target {
		ch := g.progress
		g.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		g.mu.Lock()
	}
	err := g.lastErr
	g.mu.Unlock()

	if err != nil {
		return apperrors.PersistenceFailure("save cart", err)
	}
	return nil
}

// Close flushes outstanding snapshots and stops the writer.
func (g *Gateway) Close(ctx context.Context) error {
	err := g.Flush(ctx)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return err
	}
	g.closed = true
	g.mu.Unlock()

	close(g.stop)
	select {
	case <-g.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// ClearSession removes cart-adjacent session keys in one call.
func (g *Gateway) ClearSession(ctx context.Context, keys ...string) error {
	if err := g.store.DeleteMany(ctx, keys...); err != nil {
		return apperrors.PersistenceFailure("clear session keys", err)
	}
	return nil
}

func (g *Gateway) run() {
	defer close(g.done)
	for {
		select {
		case <-g.wake:
			g.drain()
		case <-g.stop:
			g.drain()
			return
		}
	}
}

// drain writes the newest pending snapshot until none is left.
func (g *Gateway) drain() {
	for {
		g.mu.Lock()
		snap := g.pending
		g.pending = nil
		g.mu.Unlock()
		if snap == nil {
			return
		}

		err := g.writeWithRetry(snap)

		g.mu.Lock()
		g.settled = snap.version
		g.lastErr = err
		close(g.progress)
		g.progress = make(chan struct{})
		g.mu.Unlock()
	}
}

func (g *Gateway) writeWithRetry(snap *snapshot) error {
	var err error
	for attempt := 0; attempt < g.cfg.Retry.MaxAttempts; attempt++ {
		if err = g.write(snap); err == nil {
			WritesApplied.WithLabelValues(g.cfg.Key).Inc()
			AppliedVersion.WithLabelValues(g.cfg.Key).Set(float64(snap.version))
			return nil
		}
		WriteFailures.WithLabelValues(g.cfg.Key).Inc()
		g.logger.Error("cart write failed",
			slog.Uint64("version", snap.version),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)

		if g.hasPending() {
			// The newer snapshot carries this state forward.
			return nil
		}
		if attempt == g.cfg.Retry.MaxAttempts-1 {
			break
		}

		timer := time.NewTimer(g.cfg.Retry.backoff(attempt))
		select {
		case <-timer.C:
		case <-g.wake:
			timer.Stop()
			// Re-arm so the run loop notices the new snapshot after we return.
			g.rewake()
			if g.hasPending() {
				return nil
			}
		case <-g.stop:
			timer.Stop()
			return err
		}
	}
	return err
}

func (g *Gateway) hasPending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}

func (g *Gateway) rewake() {
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *Gateway) write(snap *snapshot) error {
	ctx := context.Background()
	if g.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.WriteTimeout)
		defer cancel()
	}

	if len(snap.lines) == 0 {
		return g.store.Delete(ctx, g.cfg.Key)
	}

	raw, err := EncodeLines(snap.lines)
	if err != nil {
		return err
	}
	return g.store.Set(ctx, g.cfg.Key, raw)
}
