package cache

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tokmz/warroom/pkg/errors"
)

// 3000 段：查询缓存
var (
	ErrCacheNotFound      = errors.New(3001, 404, "cache: key not found", nil)
	ErrCacheConnection    = errors.New(3003, 500, "cache: connection failed", nil)
	ErrCacheSerialization = errors.New(3004, 500, "cache: encode value failed", nil)
	ErrCacheInvalidConfig = errors.New(3005, 500, "cache: invalid config", nil)
	ErrCacheOperation     = errors.New(3006, 500, "cache: backend operation failed", nil)
)

// Cache 查询缓存接口
//
// 键按 ":" 分层（见 Key），DeletePrefix 用于按前缀批量失效，
// 例如删除 "ad-insights:alerts" 会同时清掉所有带参数的告警查询。
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)

	Ping(ctx context.Context) error
	Close() error
}

// Serializer 值编码，memory 与 redis 驱动共用
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer 默认编码，查询结果都是 JSON 结构
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Key 拼接分层键，空段忽略
func Key(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ":")
}

// matchPrefix 前缀按段匹配："a:b" 匹配 "a:b" 与 "a:b:c"，不匹配 "a:bc"
func matchPrefix(key, prefix string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	return len(key) == len(prefix) || key[len(prefix)] == ':'
}
