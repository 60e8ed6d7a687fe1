// Package warroom 组装 War Room 看板客户端：日志、追踪、查询缓存、REST 后端与三个实时通道。
//
//	s, _ := warroom.LoadSettings("warroom.yaml")
//	app, _ := warroom.New(s)
//	_ = app.Run() // SIGINT/SIGTERM 时优雅关闭
package warroom

import (
	"context"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/backend"
	"github.com/tokmz/warroom/pkg/cache"
	"github.com/tokmz/warroom/pkg/channel"
	"github.com/tokmz/warroom/pkg/errors"
	"github.com/tokmz/warroom/pkg/logger"
	"github.com/tokmz/warroom/pkg/tracing"
	"github.com/tokmz/warroom/pkg/wsclient"
)

// 应用生命周期错误
var (
	ErrAlreadyStarted = errors.New(1001, 500, "应用已启动", nil)
	ErrClosed         = errors.New(1002, 500, "应用已关闭", nil)
)

// Option 应用选项
type Option func(*options)

type options struct {
	log            logger.Logger
	analytics      channel.AnalyticsHandlers
	clientOpts     []wsclient.Option
	beforeShutdown func()
	afterShutdown  func()
}

// WithLogger 使用外部日志，忽略 Settings.Log
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithAnalyticsHandlers 分析通道回调
func WithAnalyticsHandlers(h channel.AnalyticsHandlers) Option {
	return func(o *options) { o.analytics = h }
}

// WithClientOptions 追加到三个通道的客户端选项，作用于 Settings.Client 之后
func WithClientOptions(opts ...wsclient.Option) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// WithBeforeShutdown 关闭前回调
func WithBeforeShutdown(fn func()) Option {
	return func(o *options) { o.beforeShutdown = fn }
}

// WithAfterShutdown 关闭后回调
func WithAfterShutdown(fn func()) Option {
	return func(o *options) { o.afterShutdown = fn }
}

// App 应用根对象，持有全部依赖，不使用全局状态
type App struct {
	settings *Settings
	opts     options
	log      logger.Logger
	tracer   *tracing.Provider
	cache    cache.Cache
	backend  *backend.Client
	store    *channel.Store

	dashboard *channel.Dashboard
	adMonitor *channel.AdMonitor
	analytics *channel.Analytics

	mu      sync.Mutex
	started bool
	closed  bool
}

// New 按配置构建应用，不建立连接
func New(settings *Settings, opts ...Option) (*App, error) {
	if settings == nil {
		settings = DefaultSettings()
	}
	a := &App{settings: settings, store: channel.NewStore()}
	for _, opt := range opts {
		opt(&a.opts)
	}

	var err error
	if a.log = a.opts.log; a.log == nil {
		if a.log, err = settings.Log.Build("warroom", nil); err != nil {
			return nil, err
		}
	}
	if err = a.build(); err != nil {
		a.release(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	s := a.settings

	tracer, err := tracing.NewProvider(context.Background(), &s.Tracing)
	if err != nil {
		return err
	}
	a.tracer = tracer

	if a.cache, err = cache.New(&s.Cache); err != nil {
		return err
	}
	if a.backend, err = backend.New(&s.Backend, cache.NewLoader(a.cache), a.log); err != nil {
		return err
	}

	wsBase := s.WSBase
	if wsBase == "" {
		wsBase = s.Backend.BaseURL
	}
	clientOpts := append(s.Client.options(), a.opts.clientOpts...)

	if s.Channels.Dashboard {
		url, err := channel.WebSocketURL(wsBase, channel.PathDashboard)
		if err != nil {
			return err
		}
		if a.dashboard, err = channel.NewDashboard(url, a.store, a.log, clientOpts...); err != nil {
			return err
		}
	}
	if s.Channels.AdMonitor {
		if a.adMonitor, err = channel.NewAdMonitor(wsBase, a.backend, a.log, clientOpts...); err != nil {
			return err
		}
		platforms := make([]backend.Platform, 0, len(s.Channels.AlertPlatforms))
		for _, p := range s.Channels.AlertPlatforms {
			platforms = append(platforms, backend.Platform(p))
		}
		a.adMonitor.Events(func(e wsclient.Event) {
			if e.Type != wsclient.EventConnected {
				return
			}
			if err := a.adMonitor.SubscribeToAlerts(platforms...); err != nil {
				a.log.Warn("subscribe alerts failed", zap.Error(err))
			}
		})
	}
	if s.Channels.Analytics {
		url, err := channel.WebSocketURL(wsBase, channel.PathAnalytics)
		if err != nil {
			return err
		}
		if a.analytics, err = channel.NewAnalytics(url, a.opts.analytics, a.log, clientOpts...); err != nil {
			return err
		}
		if metrics := s.Channels.Metrics; len(metrics) > 0 {
			a.analytics.Events(func(e wsclient.Event) {
				if e.Type != wsclient.EventConnected {
					return
				}
				if err := a.analytics.SubscribeToMetrics(metrics); err != nil {
					a.log.Warn("subscribe metrics failed", zap.Error(err))
				}
			})
		}
	}
	return nil
}

// Start 连接启用的通道，连接失败由各通道按重连策略处理
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return ErrClosed
	case a.started:
		return ErrAlreadyStarted
	}
	a.started = true

	_, span := tracing.StartSpan(ctx, "warroom.start")
	defer span.End()

	for _, c := range a.clients() {
		if err := c.Connect(); err != nil {
			tracing.RecordError(span, err)
			return err
		}
	}
	a.log.Info("war room started",
		zap.Bool("dashboard", a.dashboard != nil),
		zap.Bool("ad_monitor", a.adMonitor != nil),
		zap.Bool("analytics", a.analytics != nil),
	)
	return nil
}

// Shutdown 关闭通道并释放缓存与追踪，可重复调用
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	if a.opts.beforeShutdown != nil {
		a.opts.beforeShutdown()
	}
	err := a.release(ctx)
	if a.opts.afterShutdown != nil {
		a.opts.afterShutdown()
	}
	a.log.Info("war room stopped")
	_ = a.log.Sync()
	return err
}

// release 按创建的逆序释放
func (a *App) release(ctx context.Context) error {
	var errs []error
	for _, c := range a.clients() {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type lifecycle interface {
	Connect() error
	Close() error
}

func (a *App) clients() []lifecycle {
	var out []lifecycle
	if a.dashboard != nil {
		out = append(out, a.dashboard)
	}
	if a.adMonitor != nil {
		out = append(out, a.adMonitor)
	}
	if a.analytics != nil {
		out = append(out, a.analytics)
	}
	return out
}

// Run 启动并阻塞到 SIGINT/SIGTERM，然后在 ShutdownTimeout 内关闭
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext 启动并阻塞到 ctx 取消
func (a *App) RunContext(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}
	<-ctx.Done()
	a.log.Info("shutting down")

	timeout := a.settings.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return a.Shutdown(shutdownCtx)
}

// Settings 当前配置
func (a *App) Settings() *Settings { return a.settings }

// Logger 应用日志
func (a *App) Logger() logger.Logger { return a.log }

// Dashboard 看板通道，未启用时为 nil
func (a *App) Dashboard() *channel.Dashboard { return a.dashboard }

// AdMonitor 广告监控通道，未启用时为 nil
func (a *App) AdMonitor() *channel.AdMonitor { return a.adMonitor }

// Analytics 分析通道，未启用时为 nil
func (a *App) Analytics() *channel.Analytics { return a.analytics }

// Store 看板状态
func (a *App) Store() *channel.Store { return a.store }

// Backend REST 后端
func (a *App) Backend() *backend.Client { return a.backend }
