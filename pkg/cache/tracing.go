package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const cacheTracerName = "github.com/tokmz/warroom/pkg/cache"

// tracedCache 链路追踪装饰器
type tracedCache struct {
	Cache
	tracer trace.Tracer
}

// NewTracing 为缓存操作创建 span
func NewTracing(c Cache) Cache {
	return &tracedCache{Cache: c, tracer: otel.Tracer(cacheTracerName)}
}

func (t *tracedCache) span(ctx context.Context, op string, fn func(ctx context.Context, span trace.Span) error, attrs ...attribute.KeyValue) error {
	ctx, span := t.tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(attrs...)
	if err := fn(ctx, span); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Get 未命中不记为错误
func (t *tracedCache) Get(ctx context.Context, key string, value any) error {
	var result error
	err := t.span(ctx, "cache.Get", func(ctx context.Context, span trace.Span) error {
		result = t.Cache.Get(ctx, key, value)
		span.SetAttributes(attribute.Bool("cache.hit", result == nil))
		if errors.Is(result, ErrCacheNotFound) {
			return nil
		}
		return result
	}, attribute.String("cache.key", key))
	if err != nil {
		return err
	}
	return result
}

func (t *tracedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return t.span(ctx, "cache.Set", func(ctx context.Context, _ trace.Span) error {
		return t.Cache.Set(ctx, key, value, ttl)
	}, attribute.String("cache.key", key), attribute.Float64("cache.ttl_seconds", ttl.Seconds()))
}

func (t *tracedCache) Delete(ctx context.Context, keys ...string) error {
	return t.span(ctx, "cache.Delete", func(ctx context.Context, _ trace.Span) error {
		return t.Cache.Delete(ctx, keys...)
	}, attribute.StringSlice("cache.keys", keys))
}

func (t *tracedCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := t.span(ctx, "cache.DeletePrefix", func(ctx context.Context, span trace.Span) error {
		var err error
		n, err = t.Cache.DeletePrefix(ctx, prefix)
		span.SetAttributes(attribute.Int("cache.deleted", n))
		return err
	}, attribute.String("cache.prefix", prefix))
	return n, err
}

func (t *tracedCache) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := t.span(ctx, "cache.Exists", func(ctx context.Context, _ trace.Span) error {
		var err error
		ok, err = t.Cache.Exists(ctx, key)
		return err
	}, attribute.String("cache.key", key))
	return ok, err
}

func (t *tracedCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	var ttl time.Duration
	err := t.span(ctx, "cache.TTL", func(ctx context.Context, _ trace.Span) error {
		var err error
		ttl, err = t.Cache.TTL(ctx, key)
		return err
	}, attribute.String("cache.key", key))
	return ttl, err
}

func (t *tracedCache) Ping(ctx context.Context) error {
	return t.span(ctx, "cache.Ping", func(ctx context.Context, _ trace.Span) error {
		return t.Cache.Ping(ctx)
	})
}
