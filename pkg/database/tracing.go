package database

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/utafrali/cartkeeper/pkg/database"

// RedisTracingHook is a go-redis hook that starts a client span per command
// and logs commands slower than a threshold. Command arguments are never
// recorded since they carry cart and session values.
type RedisTracingHook struct {
	tracer    trace.Tracer
	slowAfter time.Duration
	logger    *slog.Logger
}

var _ redis.Hook = (*RedisTracingHook)(nil)

// NewRedisTracingHook creates the hook. A zero slowAfter or nil logger
// disables slow command logging.
func NewRedisTracingHook(slowAfter time.Duration, logger *slog.Logger) *RedisTracingHook {
	return &RedisTracingHook{
		tracer:    otel.Tracer(tracerName),
		slowAfter: slowAfter,
		logger:    logger,
	}
}

func (h *RedisTracingHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *RedisTracingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		ctx, end := h.start(ctx, cmd.Name(), cmd.Name())
		err := next(ctx, cmd)
		end(err)
		return err
	}
}

func (h *RedisTracingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		names := make([]string, len(cmds))
		for i, c := range cmds {
			names[i] = c.Name()
		}
		ctx, end := h.start(ctx, "pipeline", strings.Join(names, " "))
		err := next(ctx, cmds)
		end(err)
		return err
	}
}

// start opens a span for operation. The returned function must be called
// once the command completes.
func (h *RedisTracingHook) start(ctx context.Context, operation, statement string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := h.tracer.Start(ctx, "redis."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "redis"),
			attribute.String("db.operation", operation),
			attribute.String("db.statement", statement),
		),
	)

	return ctx, func(err error) {
		// A miss is a normal GET outcome.
		if err != nil && !errors.Is(err, redis.Nil) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if h.slowAfter > 0 && h.logger != nil {
			if elapsed := time.Since(start); elapsed >= h.slowAfter {
				attrs := []any{
					slog.String("operation", operation),
					slog.String("statement", statement),
					slog.Duration("duration", elapsed),
				}
				if err != nil && !errors.Is(err, redis.Nil) {
					attrs = append(attrs, slog.String("error", err.Error()))
				}
				h.logger.WarnContext(ctx, "slow redis command detected", attrs...)
			}
		}
	}
}
