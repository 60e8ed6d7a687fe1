package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tokmz/warroom"
	"github.com/tokmz/warroom/pkg/channel"
	"github.com/tokmz/warroom/pkg/logger"
	"github.com/tokmz/warroom/pkg/wsclient"
)

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("warroom", pflag.ContinueOnError)
	fs.SetOutput(out)
	path := fs.StringP("config", "c", "", "配置文件路径")
	fs.String("api", "", "REST 后端地址，覆盖 backend.base_url")
	fs.String("ws", "", "中继地址，覆盖 ws_base")
	fs.String("log-level", "", "日志级别，覆盖 log.level")
	interval := fs.Duration("snapshot", 30*time.Second, "看板快照输出间隔，0 不输出")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	s, err := warroom.LoadSettings(*path,
		warroom.FlagBinding{Key: "backend.base_url", Flag: fs.Lookup("api")},
		warroom.FlagBinding{Key: "ws_base", Flag: fs.Lookup("ws")},
		warroom.FlagBinding{Key: "log.level", Flag: fs.Lookup("log-level")},
	)
	if err != nil {
		return err
	}
	log, err := s.Log.Build("warroom", out)
	if err != nil {
		return err
	}

	app, err := warroom.New(s, warroom.WithLogger(log), warroom.WithAnalyticsHandlers(analyticsLogger(log)))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if *interval > 0 {
		w := &snapshotWriter{store: app.Store(), out: out}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx, *interval)
		}()
	}

	err = app.RunContext(ctx)
	cancel()
	wg.Wait()
	return err
}

func analyticsLogger(log logger.Logger) channel.AnalyticsHandlers {
	log = log.Named("analytics")
	return channel.AnalyticsHandlers{
		OnMetrics: func(m map[string]any) {
			log.Info("analytics metrics", zap.Any("metrics", m))
		},
		OnActivity: func(a wsclient.Activity) {
			log.Info("analytics activity",
				zap.String("id", a.ID),
				zap.String("type", a.Type),
				zap.String("title", a.Title),
			)
		},
		OnAlert: func(a map[string]any) {
			log.Warn("analytics alert", zap.Any("alert", a))
		},
	}
}

// snapshotWriter 每行一个看板快照 JSON
type snapshotWriter struct {
	store *channel.Store
	out   io.Writer
	mu    sync.Mutex
}

func (w *snapshotWriter) loop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.write()
		}
	}
}

func (w *snapshotWriter) write() error {
	data, err := json.Marshal(w.store.Snapshot())
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = w.out.Write(append(data, '\n'))
	return err
}
