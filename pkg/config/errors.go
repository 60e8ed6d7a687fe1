package config

import "github.com/tokmz/warroom/pkg/errors"

var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(3001, 500, "配置文件未找到", nil)
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(3003, 500, "配置读取失败", nil)
	// ErrConfigDecode 配置反序列化失败
	ErrConfigDecode = errors.New(3004, 500, "配置解析失败", nil)
	// ErrNotLoaded 尚未加载配置文件
	ErrNotLoaded = errors.New(3005, 500, "配置尚未加载", nil)
	// ErrWatchFailed 无法监控配置文件
	ErrWatchFailed = errors.New(3006, 500, "配置监控失败", nil)
)
