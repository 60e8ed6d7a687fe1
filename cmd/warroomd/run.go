package main

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/warroom"
	"github.com/tokmz/warroom/pkg/backend"
	"github.com/tokmz/warroom/pkg/cache"
	"github.com/tokmz/warroom/pkg/config"
	"github.com/tokmz/warroom/pkg/feed"
	"github.com/tokmz/warroom/pkg/logger"
	"github.com/tokmz/warroom/pkg/server"
	"github.com/tokmz/warroom/pkg/tracing"
)

const envPrefix = "WARROOMD"

// onListen 测试用，监听成功后回调
var onListen = func(net.Addr) {}

type settings struct {
	Log     warroom.LogSettings `mapstructure:"log"`
	Tracing tracing.Config      `mapstructure:"tracing"`
	Server  server.Config       `mapstructure:"server"`
	Feed    feed.Config         `mapstructure:"feed"`

	// Sync 开启后 request_spend_update 通过后端触发平台同步
	Sync    bool           `mapstructure:"sync"`
	Cache   cache.Config   `mapstructure:"cache"`
	Backend backend.Config `mapstructure:"backend"`
}

func defaultSettings() *settings {
	tc := tracing.DefaultConfig()
	tc.ServiceName = "warroomd"
	return &settings{
		Log:     warroom.LogSettings{Level: "info", Format: string(logger.JSONFormat)},
		Tracing: *tc,
		Server:  *server.DefaultConfig(),
		Cache:   *cache.DefaultConfig(),
		Backend: *backend.DefaultConfig(),
	}
}

func loadSettings(path string, fs *pflag.FlagSet) (*config.Manager, *settings, error) {
	s := defaultSettings()
	opts := []config.Option{
		config.WithEnvPrefix(envPrefix),
		config.WithDefaults(map[string]any{
			"log.level":           s.Log.Level,
			"log.format":          s.Log.Format,
			"tracing.enabled":     s.Tracing.Enabled,
			"tracing.exporter":    s.Tracing.Exporter,
			"tracing.endpoint":    s.Tracing.Endpoint,
			"server.mode":         s.Server.Mode,
			"server.addr":         s.Server.Addr,
			"server.upgrade_rate": s.Server.UpgradeRate,
			"feed.script.path":    "",
			"feed.redis.enabled":  false,
			"feed.kafka.enabled":  false,
			"feed.amqp.enabled":   false,
			"sync":                s.Sync,
			"backend.base_url":    s.Backend.BaseURL,
			"backend.token":       s.Backend.Token,
		}),
	}
	if path != "" {
		opts = append(opts, config.WithConfigFile(path))
	} else {
		opts = append(opts, config.WithOptional(true))
	}
	m := config.New(opts...)

	for key, name := range map[string]string{"server.addr": "addr", "feed.script.path": "script"} {
		if f := fs.Lookup(name); f != nil {
			if err := m.BindFlag(key, f); err != nil {
				m.Close()
				return nil, nil, err
			}
		}
	}
	if err := m.Load(); err != nil {
		m.Close()
		return nil, nil, err
	}
	if err := m.Unmarshal(s); err != nil {
		m.Close()
		return nil, nil, err
	}
	return m, s, nil
}

// reloadLevel 配置文件变更时只热更新日志级别，其余配置需要重启
func reloadLevel(m *config.Manager, log logger.Logger) {
	level, err := logger.ParseLevel(m.GetString("log.level"))
	if err != nil {
		log.Warn("ignore invalid log level", zap.Error(err))
		return
	}
	if level != log.Level() {
		log.SetLevel(level)
		log.Info("log level changed", zap.String("level", level.String()))
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("warroomd", pflag.ContinueOnError)
	fs.SetOutput(out)
	path := fs.StringP("config", "c", "", "配置文件路径")
	fs.String("addr", "", "监听地址，覆盖 server.addr")
	fs.String("script", "", "回放脚本，覆盖 feed.script.path")
	banner := fs.Bool("banner", false, "启动时打印路由表")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	m, s, err := loadSettings(*path, fs)
	if err != nil {
		return err
	}
	defer m.Close()

	log, err := s.Log.Build("warroomd", out)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if *path != "" {
		m.OnChange(func() { reloadLevel(m, log) })
		if err := m.Watch(); err != nil {
			log.Warn("config watch disabled", zap.Error(err))
		}
	}

	tp, err := tracing.NewProvider(ctx, &s.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.Warn("tracer shutdown failed", zap.Error(err))
		}
	}()

	var srvOpts []server.Option
	if s.Sync {
		c, err := cache.New(&s.Cache)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		b, err := backend.New(&s.Backend, cache.NewLoader(c), log)
		if err != nil {
			return err
		}
		srvOpts = append(srvOpts, server.WithSyncer(b))
	}

	srv, err := server.New(&s.Server, log, srvOpts...)
	if err != nil {
		return err
	}
	if *banner {
		srv.PrintBanner(out)
	}

	sources, closeSources, err := feed.Open(s.Feed, log)
	if err != nil {
		_ = srv.Hub().Shutdown(context.Background())
		return err
	}
	defer func() {
		if err := closeSources(); err != nil {
			log.Warn("close feed sources failed", zap.Error(err))
		}
	}()

	ln, err := net.Listen("tcp", s.Server.Addr)
	if err != nil {
		_ = srv.Hub().Shutdown(context.Background())
		return err
	}
	onListen(ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, ln) })

	sink, policy := srv.Sink(), s.Feed.Restart.Policy()
	for _, src := range sources {
		g.Go(func() error { return feed.Supervise(gctx, src, sink, policy, log) })
	}
	log.Info("warroomd started", zap.Int("sources", len(sources)), zap.Bool("sync", s.Sync))
	return g.Wait()
}
