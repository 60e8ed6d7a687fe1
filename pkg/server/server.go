// Package server 托管 War Room 中继：三个 WebSocket 通道与健康检查。
//
//	/ws             看板（按 subscribe 加入频道）
//	/ws/ad-monitor  广告花费监控
//	/ws/analytics   分析指标
//	/healthz        Hub 统计
package server

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/channel"
	"github.com/tokmz/warroom/pkg/errors"
	"github.com/tokmz/warroom/pkg/feed"
	"github.com/tokmz/warroom/pkg/hub"
	"github.com/tokmz/warroom/pkg/logger"
	"github.com/tokmz/warroom/pkg/tracing"
)

// 会话所属通道，ad-monitor 与 analytics 同时是广播主题
const (
	ChannelDashboard = "dashboard"
	ChannelAdMonitor = feed.TopicAdMonitor
	ChannelAnalytics = feed.TopicAnalytics
)

// Server 中继 HTTP 服务
type Server struct {
	cfg       *Config
	log       logger.Logger
	hub       *hub.Hub
	engine    *gin.Engine
	syncer    Syncer
	hubOpts   []hub.Option
	traceSkip func(*gin.Context) bool

	mu       sync.Mutex
	server   *http.Server
	draining atomic.Bool
}

// New 创建服务；cfg 为 nil 时使用默认配置
func New(cfg *Config, log logger.Logger, opts ...Option) (*Server, error) {
	c := DefaultConfig()
	if cfg != nil {
		*c = *cfg
	}
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		cfg:       c,
		log:       log.Named("server"),
		traceSkip: func(ctx *gin.Context) bool { return ctx.Request.URL.Path == "/healthz" },
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}

	h, err := hub.New(log, append([]hub.Option{hub.WithConfig(s.cfg.Hub)}, s.hubOpts...)...)
	if err != nil {
		return nil, err
	}
	s.hub = h
	if err := s.registerActions(); err != nil {
		return nil, err
	}

	// gin.SetMode 是全局状态，只在与当前模式不同时设置
	if gin.Mode() != s.cfg.Mode {
		gin.SetMode(s.cfg.Mode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), logger.Middleware(s.log), tracing.Middleware(s.traceSkip))
	if s.cfg.TrustedProxies != nil {
		if err := engine.SetTrustedProxies(s.cfg.TrustedProxies); err != nil {
			return nil, ErrInvalidConfig.WithMessage("invalid trusted proxies").WithError(err)
		}
	}
	ws := engine.Group("")
	if s.cfg.UpgradeRate > 0 {
		ws.Use(newUpgradeLimiter(s.cfg.UpgradeRate, s.cfg.UpgradeBurst, s.cfg.UpgradeTTL).middleware(s.log))
	}
	ws.GET(channel.PathDashboard, s.serveWS(ChannelDashboard))
	ws.GET(channel.PathAdMonitor, s.serveWS(ChannelAdMonitor))
	ws.GET(channel.PathAnalytics, s.serveWS(ChannelAnalytics))
	engine.GET("/healthz", s.health)
	s.engine = engine
	return s, nil
}

// Hub 中继 Hub
func (s *Server) Hub() *hub.Hub { return s.hub }

// Engine gin 引擎，可追加路由
func (s *Server) Engine() *gin.Engine { return s.engine }

// Handler HTTP 处理器
func (s *Server) Handler() http.Handler { return s.engine }

// Sink 把数据源事件广播给会话
func (s *Server) Sink() feed.Sink { return NewHubSink(s.hub, s.log) }

// serveWS ?topics=a,b 可在连接时直接加入主题
func (s *Server) serveWS(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		opts := []hub.SessionOption{hub.WithChannel(name)}
		if raw := c.Query("topics"); raw != "" {
			var topics []string
			for _, t := range strings.Split(raw, ",") {
				if t = strings.TrimSpace(t); t != "" {
					topics = append(topics, t)
				}
			}
			opts = append(opts, hub.WithTopics(topics...))
		}
		if err := s.hub.ServeWS(c.Writer, c.Request, opts...); err != nil {
			_ = c.Error(err)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	status, code := "ok", http.StatusOK
	if s.draining.Load() {
		status, code = "draining", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "hub": s.hub.Stats()})
}

// ListenAndServe 监听 cfg.Addr，ctx 取消后优雅关闭
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在 ln 上提供服务，ctx 取消后优雅关闭；只能调用一次
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrAlreadyServing
	}
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}
	s.server = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("relay listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	return s.shutdown(srv, errCh)
}

// shutdown 先停止接收新连接，再以 1001 关闭现有会话
func (s *Server) shutdown(srv *http.Server, errCh <-chan error) error {
	s.log.Info("relay shutting down")
	s.draining.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	httpErr := srv.Shutdown(ctx)
	hubErr := s.hub.Shutdown(ctx)
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) && httpErr == nil {
		httpErr = err
	}
	if err := errors.Join(httpErr, hubErr); err != nil {
		s.log.Error("relay shutdown incomplete", zap.Error(err))
		return err
	}
	s.log.Info("relay stopped")
	return nil
}

// Run 监听并在 SIGINT/SIGTERM 时优雅关闭
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.ListenAndServe(ctx)
}
