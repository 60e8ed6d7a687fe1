package config

import (
	"strings"

	"github.com/tokmz/warroom/pkg/logger"
)

// Option 配置选项
type Option func(*Manager)

// WithConfigFile 指定配置文件完整路径，优先于名称搜索
func WithConfigFile(path string) Option {
	return func(m *Manager) {
		m.file = path
	}
}

// WithConfigName 配置文件名（不含扩展名）
func WithConfigName(name string) Option {
	return func(m *Manager) {
		m.name = name
	}
}

// WithConfigType 配置文件类型，如 yaml、json、toml
func WithConfigType(typ string) Option {
	return func(m *Manager) {
		m.typ = typ
	}
}

// WithConfigPaths 配置文件搜索路径
func WithConfigPaths(paths ...string) Option {
	return func(m *Manager) {
		m.paths = append(m.paths, paths...)
	}
}

// WithOptional 配置文件不存在时不报错，只使用默认值和环境变量
func WithOptional(optional bool) Option {
	return func(m *Manager) {
		m.optional = optional
	}
}

// WithProtected 保护模式：文件被外部修改后恢复为加载时的内容
func WithProtected(protected bool) Option {
	return func(m *Manager) {
		m.protected = protected
	}
}

// WithAutoWatch 加载后自动监控文件
func WithAutoWatch(watch bool) Option {
	return func(m *Manager) {
		m.autoWatch = watch
	}
}

// WithOnChange 追加变更回调，仅非保护模式触发
func WithOnChange(fn func()) Option {
	return func(m *Manager) {
		if fn != nil {
			m.listeners = append(m.listeners, fn)
		}
	}
}

// WithOnError 错误回调，未设置时写日志
func WithOnError(fn func(error)) Option {
	return func(m *Manager) {
		m.onError = fn
	}
}

// WithDefaults 默认值，键使用点号分隔
func WithDefaults(defaults map[string]any) Option {
	return func(m *Manager) {
		if m.defaults == nil {
			m.defaults = make(map[string]any, len(defaults))
		}
		for k, v := range defaults {
			m.defaults[k] = v
		}
	}
}

// WithEnvPrefix 环境变量前缀，如 WARROOM 对应 WARROOM_BACKEND_BASE_URL
func WithEnvPrefix(prefix string) Option {
	return func(m *Manager) {
		m.envPrefix = prefix
	}
}

// WithEnvKeyReplacer 环境变量键名替换器，默认把 . 和 - 替换为 _
func WithEnvKeyReplacer(r *strings.Replacer) Option {
	return func(m *Manager) {
		m.envReplacer = r
	}
}

// WithLogger 日志
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}
