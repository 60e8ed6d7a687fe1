// Package config 基于 viper 的配置管理，支持环境变量覆盖、命令行参数绑定和文件监控。
package config

import (
	"errors"
	"io/fs"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/logger"
)

var defaultEnvReplacer = strings.NewReplacer(".", "_", "-", "_")

// Manager 配置管理器，并发安全
type Manager struct {
	v  *viper.Viper
	mu sync.RWMutex

	file     string
	name     string
	typ      string
	paths    []string
	optional bool
	loaded   bool

	protected bool
	autoWatch bool
	watching  bool
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
	restoring atomic.Bool
	snap      []byte
	listeners []func()
	onError   func(error)

	defaults    map[string]any
	envPrefix   string
	envReplacer *strings.Replacer

	log logger.Logger
}

// New 创建配置管理器，默认值和环境变量立即生效，文件在 Load 时读取
func New(opts ...Option) *Manager {
	m := &Manager{v: viper.New()}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.NewNop()
	}

	for k, val := range m.defaults {
		m.v.SetDefault(k, val)
	}
	if m.envPrefix != "" {
		m.v.SetEnvPrefix(m.envPrefix)
		if m.envReplacer == nil {
			m.envReplacer = defaultEnvReplacer
		}
		m.v.AutomaticEnv()
	}
	if m.envReplacer != nil {
		m.v.SetEnvKeyReplacer(m.envReplacer)
	}
	return m
}

// Load 读取配置文件
func (m *Manager) Load() error {
	m.mu.Lock()

	switch {
	case m.file != "":
		m.v.SetConfigFile(m.file)
	case m.name != "":
		m.v.SetConfigName(m.name)
		if m.typ != "" {
			m.v.SetConfigType(m.typ)
		}
		for _, p := range m.paths {
			m.v.AddConfigPath(p)
		}
	default:
		m.mu.Unlock()
		if m.optional {
			return nil
		}
		return ErrConfigNotFound.WithMessage("配置文件未指定")
	}

	if err := m.v.ReadInConfig(); err != nil {
		m.mu.Unlock()
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || isNotExist(err) {
			if m.optional {
				return nil
			}
			return ErrConfigNotFound.WithError(err)
		}
		return ErrConfigReadFailed.WithError(err)
	}
	m.loaded = true

	var snapErr, watchErr error
	if m.protected {
		snapErr = m.saveSnapshot()
	}
	if m.autoWatch {
		watchErr = m.startWatch()
	}
	m.mu.Unlock()

	if snapErr != nil {
		m.reportError(snapErr)
	}
	if watchErr != nil {
		m.reportError(watchErr)
	}
	m.log.Info("config loaded", zap.String("file", m.ConfigFileUsed()))
	return nil
}

// Reload 重新读取已加载的配置文件
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loaded {
		return ErrNotLoaded
	}
	if err := m.v.ReadInConfig(); err != nil {
		return ErrConfigReadFailed.WithError(err)
	}
	return nil
}

// BindFlags 绑定命令行参数，参数名即配置键；显式设置的参数优先于文件和环境变量
func (m *Manager) BindFlags(fs *pflag.FlagSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.BindPFlags(fs)
}

// BindFlag 把单个参数绑定到指定键
func (m *Manager) BindFlag(key string, flag *pflag.Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.v.BindPFlag(key, flag)
}

// Get 按类型读取配置，类型不匹配时返回零值
//
// 常见标量类型走 viper 的类型转换，因此环境变量中的字符串也能读成 int、bool、time.Duration。
func Get[T any](m *Manager, key string) T {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var zero T
	var out any
	switch any(zero).(type) {
	case string:
		out = m.v.GetString(key)
	case int:
		out = m.v.GetInt(key)
	case int64:
		out = m.v.GetInt64(key)
	case float64:
		out = m.v.GetFloat64(key)
	case bool:
		out = m.v.GetBool(key)
	case time.Duration:
		out = m.v.GetDuration(key)
	case []string:
		out = m.v.GetStringSlice(key)
	case map[string]any:
		out = m.v.GetStringMap(key)
	case map[string]string:
		out = m.v.GetStringMapString(key)
	default:
		out = m.v.Get(key)
	}
	if v, ok := out.(T); ok {
		return v
	}
	return zero
}

// GetOr 键未设置时返回 fallback
func GetOr[T any](m *Manager, key string, fallback T) T {
	if !m.IsSet(key) {
		return fallback
	}
	return Get[T](m, key)
}

func (m *Manager) GetString(key string) string { return Get[string](m, key) }

func (m *Manager) GetInt(key string) int { return Get[int](m, key) }

func (m *Manager) GetBool(key string) bool { return Get[bool](m, key) }

func (m *Manager) GetDuration(key string) time.Duration { return Get[time.Duration](m, key) }

func (m *Manager) GetStringSlice(key string) []string { return Get[[]string](m, key) }

// Set 覆盖配置值，优先级最高
func (m *Manager) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.v.Set(key, value)
}

// IsSet 键是否有值（含默认值）
func (m *Manager) IsSet(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.IsSet(key)
}

// AllSettings 全部配置
func (m *Manager) AllSettings() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.AllSettings()
}

// Sub 子树的只读视图，不继承监控和保护模式；键不存在返回 nil
func (m *Manager) Sub(key string) *Manager {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub := m.v.Sub(key)
	if sub == nil {
		return nil
	}
	return &Manager{v: sub, log: m.log, loaded: m.loaded}
}

// Unmarshal 反序列化到结构体，字段使用 mapstructure 标签
func (m *Manager) Unmarshal(out any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.v.Unmarshal(out); err != nil {
		return ErrConfigDecode.WithError(err)
	}
	return nil
}

// UnmarshalKey 反序列化指定键
func (m *Manager) UnmarshalKey(key string, out any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.v.UnmarshalKey(key, out); err != nil {
		return ErrConfigDecode.WithMessagef("配置 %s 解析失败", key).WithError(err)
	}
	return nil
}

// ConfigFileUsed 实际读取的配置文件
func (m *Manager) ConfigFileUsed() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.v.ConfigFileUsed()
}

// Close 停止监控
func (m *Manager) Close() {
	m.StopWatch()
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
