package kvstore

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/cartkeeper/pkg/kvstore"

type tracingStore struct {
	next      Store
	system    string
	tracer    trace.Tracer
	slowAfter time.Duration
	logger    *slog.Logger
}

// WithTracing wraps s so every call produces a client span named "kv.<op>".
// Calls slower than slowAfter are logged as warnings; zero disables that.
func WithTracing(s Store, system string, slowAfter time.Duration, logger *slog.Logger) Store {
	return &tracingStore{
		next:      s,
		system:    system,
		tracer:    otel.Tracer(tracerName),
		slowAfter: slowAfter,
		logger:    logger,
	}
}

func (t *tracingStore) start(ctx context.Context, op string, keys ...string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := t.tracer.Start(ctx, "kv."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", t.system),
			attribute.String("db.operation", op),
			attribute.StringSlice("kv.keys", keys),
		),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if t.slowAfter > 0 && t.logger != nil {
			if elapsed := time.Since(start); elapsed >= t.slowAfter {
				t.logger.WarnContext(ctx, "slow kvstore call",
					slog.String("operation", op),
					slog.Any("keys", keys),
					slog.Duration("duration", elapsed),
				)
			}
		}
	}
}

func (t *tracingStore) Get(ctx context.Context, key string) (value string, ok bool, err error) {
	ctx, end := t.start(ctx, "get", key)
	defer func() { end(err) }()
	return t.next.Get(ctx, key)
}

func (t *tracingStore) Set(ctx context.Context, key, value string) (err error) {
	ctx, end := t.start(ctx, "set", key)
	defer func() { end(err) }()
	return t.next.Set(ctx, key, value)
}

func (t *tracingStore) Delete(ctx context.Context, key string) (err error) {
	ctx, end := t.start(ctx, "delete", key)
	defer func() { end(err) }()
	return t.next.Delete(ctx, key)
}

func (t *tracingStore) DeleteMany(ctx context.Context, keys ...string) (err error) {
	ctx, end := t.start(ctx, "delete_many", keys...)
	defer func() { end(err) }()
	return t.next.DeleteMany(ctx, keys...)
}

func (t *tracingStore) Ping(ctx context.Context) error {
	return Ping(ctx, t.next)
}
