package cache

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryCache 进程内缓存，基于 go-cache
type memoryCache struct {
	cache      *gocache.Cache
	serializer Serializer
	keyPrefix  string
	defaultTTL time.Duration
}

func newMemoryCache(cfg *Config) *memoryCache {
	return &memoryCache{
		cache:      gocache.New(cfg.DefaultTTL, cfg.Memory.CleanupInterval),
		serializer: cfg.Serializer,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
	}
}

func (m *memoryCache) buildKey(key string) string {
	return m.keyPrefix + key
}

// Get 获取缓存
func (m *memoryCache) Get(ctx context.Context, key string, value any) error {
	data, found := m.cache.Get(m.buildKey(key))
	if !found {
		return ErrCacheNotFound
	}
	b, ok := data.([]byte)
	if !ok {
		return ErrCacheSerialization.WithMessage("cache: invalid cache data type")
	}
	if err := m.serializer.Unmarshal(b, value); err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	return nil
}

// Set 设置缓存，ttl 为 0 时使用默认 TTL
func (m *memoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := m.serializer.Marshal(value)
	if err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	if ttl == 0 {
		ttl = m.defaultTTL
	}
	m.cache.Set(m.buildKey(key), b, ttl)
	return nil
}

// Delete 删除缓存
func (m *memoryCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		m.cache.Delete(m.buildKey(key))
	}
	return nil
}

// DeletePrefix 删除前缀下的所有键，返回删除数量
func (m *memoryCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	full := m.buildKey(prefix)
	n := 0
	for k := range m.cache.Items() {
		if matchPrefix(k, full) {
			m.cache.Delete(k)
			n++
		}
	}
	return n, nil
}

// Exists 检查键是否存在
func (m *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, found := m.cache.Get(m.buildKey(key))
	return found, nil
}

// TTL 剩余生存时间，永不过期返回 -1
func (m *memoryCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	_, expiration, found := m.cache.GetWithExpiration(m.buildKey(key))
	if !found {
		return 0, ErrCacheNotFound
	}
	if expiration.IsZero() {
		return -1, nil
	}
	return time.Until(expiration), nil
}

// Ping 内存缓存总是可用
func (m *memoryCache) Ping(ctx context.Context) error {
	return nil
}

// Close 清空缓存
func (m *memoryCache) Close() error {
	m.cache.Flush()
	return nil
}

func (m *memoryCache) String() string {
	return fmt.Sprintf("MemoryCache(prefix=%s, items=%d)", m.keyPrefix, m.cache.ItemCount())
}
