package cache

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader 带防击穿的读穿缓存
// 同一 key 的并发未命中只会执行一次加载函数
type Loader struct {
	cache Cache
	group singleflight.Group
}

// NewLoader 创建 Loader
func NewLoader(c Cache) *Loader {
	return &Loader{cache: c}
}

// Cache 底层缓存
func (l *Loader) Cache() Cache {
	return l.cache
}

// Forget 丢弃正在进行的加载，下一次调用重新执行
func (l *Loader) Forget(key string) {
	l.group.Forget(key)
}

// Remember 先查缓存，未命中时经 singleflight 调用 fn 并回写
// 缓存读写失败不影响返回 fn 的结果
func Remember[T any](ctx context.Context, l *Loader, key string, ttl time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	if err := l.cache.Get(ctx, key, &result); err == nil {
		return result, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		var cached T
		if err := l.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
		loaded, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		_ = l.cache.Set(ctx, key, loaded, ttl)
		return loaded, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		var zero T
		return zero, ErrCacheSerialization.WithMessage("cache: invalid result type")
	}
	return out, nil
}

// Invalidate 删除前缀下的缓存并丢弃同名的进行中加载
func (l *Loader) Invalidate(ctx context.Context, prefixes ...string) error {
	var errs []error
	for _, p := range prefixes {
		l.group.Forget(p)
		if _, err := l.cache.DeletePrefix(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
