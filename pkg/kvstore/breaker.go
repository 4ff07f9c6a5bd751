package kvstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig holds configuration for the store circuit breaker.
type BreakerConfig struct {
	// Name identifies this breaker in metrics and logs.
	Name string

	// MaxRequests is the number of probes allowed while half-open.
	MaxRequests uint32

	// Interval clears failure counts while closed. 0 never clears.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration

	// FailureRatio trips the breaker once MinRequests have been observed.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultBreakerConfig returns sensible defaults for a durable store breaker.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      10 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = gobreaker.ErrOpenState

var breakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "kvstore_circuit_breaker_state",
		Help: "Current state of the durable store circuit breaker (0=closed, 1=half-open, 2=open)",
	},
	[]string{"name"},
)

func init() {
	prometheus.MustRegister(breakerState)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

type breakerStore struct {
	next    Store
	breaker *gobreaker.CircuitBreaker[any]
}

type getResult struct {
	value string
	ok    bool
}

// WithBreaker wraps s so that a failing backend is short-circuited instead of
// piling up blocked writes. A missing key is not counted as a failure.
func WithBreaker(s Store, cfg BreakerConfig, logger *slog.Logger) Store {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("kvstore circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			breakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}
	breakerState.WithLabelValues(cfg.Name).Set(0)

	return &breakerStore{
		next:    s,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

func (b *breakerStore) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := b.breaker.Execute(func() (any, error) {
		v, ok, err := b.next.Get(ctx, key)
		return getResult{value: v, ok: ok}, err
	})
	if err != nil {
		return "", false, err
	}
	r := res.(getResult)
	return r.value, r.ok, nil
}

func (b *breakerStore) Set(ctx context.Context, key, value string) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.next.Set(ctx, key, value)
	})
	return err
}

func (b *breakerStore) Delete(ctx context.Context, key string) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.next.Delete(ctx, key)
	})
	return err
}

func (b *breakerStore) DeleteMany(ctx context.Context, keys ...string) error {
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, b.next.DeleteMany(ctx, keys...)
	})
	return err
}

func (b *breakerStore) Ping(ctx context.Context) error {
	return Ping(ctx, b.next)
}
