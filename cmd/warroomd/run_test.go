package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/warroom/pkg/config"
	"github.com/tokmz/warroom/pkg/logger"
)

// syncBuffer 日志与测试并发读写
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const demoScript = `
loop: true
steps:
  - after: 20ms
    type: meta_metrics
    data:
      spend: 120.5
      impressions: 1000
`

const daemonConfig = `
log:
  level: warn
server:
  mode: test
  upgrade_rate: 0
  shutdown_timeout: 2s
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRunRelaysScript(t *testing.T) {
	addrCh := make(chan net.Addr, 1)
	onListen = func(a net.Addr) { addrCh <- a }
	t.Cleanup(func() { onListen = func(net.Addr) {} })

	cfg := writeFile(t, "warroomd.yaml", daemonConfig)
	script := writeFile(t, "demo.yaml", demoScript)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"--config", cfg, "--addr", "127.0.0.1:0", "--script", script, "--banner"}, out)
	}()

	var addr net.Addr
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("run returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not start")
	}
	assert.Contains(t, out.String(), "/ws/ad-monitor")

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr.String()+"/ws?topics=meta_ads_metrics", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var env struct {
			Type string         `json:"type"`
			Data map[string]any `json:"data"`
		}
		require.NoError(t, json.Unmarshal(data, &env))
		if env.Type != "meta_metrics" {
			continue
		}
		assert.InDelta(t, 120.5, env.Data["spend"], 1e-9)
		break
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()

	err := run(ctx, []string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, &syncBuffer{})
	assert.ErrorIs(t, err, config.ErrConfigNotFound)

	assert.Error(t, run(ctx, []string{"--unknown"}, &syncBuffer{}))

	out := &syncBuffer{}
	assert.NoError(t, run(ctx, []string{"--help"}, out))
	assert.Contains(t, out.String(), "--script")
}

func TestLoadSettings(t *testing.T) {
	t.Setenv("WARROOMD_SERVER_MODE", "debug")
	cfg := writeFile(t, "warroomd.yaml", daemonConfig+"sync: true\nbackend:\n  base_url: http://api.test\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", "", "")
	require.NoError(t, fs.Parse([]string{"--addr=:9100"}))

	m, s, err := loadSettings(cfg, fs)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, "warn", s.Log.Level)
	assert.Equal(t, ":9100", s.Server.Addr)
	assert.Equal(t, "debug", s.Server.Mode)
	assert.Equal(t, 2*time.Second, s.Server.ShutdownTimeout)
	assert.Zero(t, s.Server.UpgradeRate)
	assert.True(t, s.Sync)
	assert.Equal(t, "http://api.test", s.Backend.BaseURL)
	assert.Equal(t, "warroomd", s.Tracing.ServiceName)
	assert.Empty(t, s.Feed.Script.Path)
}

func TestReloadLevel(t *testing.T) {
	m := config.New(config.WithDefaults(map[string]any{"log.level": "info"}))
	defer m.Close()
	log := logger.NewNop()

	m.Set("log.level", "debug")
	reloadLevel(m, log)
	assert.Equal(t, logger.DebugLevel, log.Level())

	m.Set("log.level", "verbose")
	reloadLevel(m, log)
	assert.Equal(t, logger.DebugLevel, log.Level())
}
