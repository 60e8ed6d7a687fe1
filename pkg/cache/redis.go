package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisCache Redis 缓存实现
type redisCache struct {
	client     redis.UniversalClient
	serializer Serializer
	keyPrefix  string
	defaultTTL time.Duration
	scanCount  int64
}

// NewRedisClient 按配置创建 Redis 客户端（单机/集群/哨兵）
func NewRedisClient(cfg *RedisConfig) (redis.UniversalClient, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case RedisCluster:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addrs,
			Username:     cfg.Username,
			Password:     cfg.Password,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}), nil
	case RedisSentinel:
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Username:      cfg.Username,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			MaxRetries:    cfg.MaxRetries,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		}), nil
	default:
		return redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Username:     cfg.Username,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			MaxRetries:   cfg.MaxRetries,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		}), nil
	}
}

func newRedisCache(cfg *Config) (Cache, error) {
	client, err := NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, ErrCacheConnection.WithError(err)
	}

	scan := cfg.Redis.ScanCount
	if scan <= 0 {
		scan = 200
	}
	return &redisCache{
		client:     client,
		serializer: cfg.Serializer,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
		scanCount:  scan,
	}, nil
}

func (r *redisCache) buildKey(key string) string {
	return r.keyPrefix + key
}

// Get 获取缓存
func (r *redisCache) Get(ctx context.Context, key string, value any) error {
	data, err := r.client.Get(ctx, r.buildKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return ErrCacheOperation.WithError(err)
	}
	if err := r.serializer.Unmarshal(data, value); err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	return nil
}

// Set 设置缓存
func (r *redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	b, err := r.serializer.Marshal(value)
	if err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	if err := r.client.Set(ctx, r.buildKey(key), b, ttl).Err(); err != nil {
		return ErrCacheOperation.WithError(err)
	}
	return nil
}

// Delete 删除缓存
func (r *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = r.buildKey(key)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return ErrCacheOperation.WithError(err)
	}
	return nil
}

// DeletePrefix 通过 SCAN 找出前缀下的键并 UNLINK
// 集群模式逐个 master 扫描
func (r *redisCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	full := r.buildKey(prefix)
	if cc, ok := r.client.(*redis.ClusterClient); ok {
		var (
			mu    sync.Mutex
			total int
		)
		err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			n, err := r.deletePrefixOn(ctx, node, full)
			mu.Lock()
			total += n
			mu.Unlock()
			return err
		})
		return total, err
	}
	return r.deletePrefixOn(ctx, r.client, full)
}

func (r *redisCache) deletePrefixOn(ctx context.Context, c redis.Cmdable, full string) (int, error) {
	// 精确键和子键分两次匹配，避免 "a:b*" 误删 "a:bc"
	n, err := c.Unlink(ctx, full).Result()
	if err != nil {
		return 0, ErrCacheOperation.WithError(err)
	}
	deleted := int(n)

	var cursor uint64
	for {
		keys, next, err := c.Scan(ctx, cursor, full+":*", r.scanCount).Result()
		if err != nil {
			return deleted, ErrCacheOperation.WithError(err)
		}
		if len(keys) > 0 {
			n, err := c.Unlink(ctx, keys...).Result()
			if err != nil {
				return deleted, ErrCacheOperation.WithError(err)
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// Exists 检查键是否存在
func (r *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.buildKey(key)).Result()
	if err != nil {
		return false, ErrCacheOperation.WithError(err)
	}
	return n > 0, nil
}

// TTL 剩余生存时间，永不过期返回 -1
func (r *redisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, r.buildKey(key)).Result()
	if err != nil {
		return 0, ErrCacheOperation.WithError(err)
	}
	switch ttl {
	case -2:
		return 0, ErrCacheNotFound
	case -1:
		return -1, nil
	}
	return ttl, nil
}

// Ping 检查连接
func (r *redisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return ErrCacheConnection.WithError(err)
	}
	return nil
}

// Close 关闭连接
func (r *redisCache) Close() error {
	if err := r.client.Close(); err != nil {
		return ErrCacheOperation.WithError(err)
	}
	return nil
}

func (r *redisCache) String() string {
	return fmt.Sprintf("RedisCache(prefix=%s)", r.keyPrefix)
}
