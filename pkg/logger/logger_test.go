package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func newBufferLogger(t *testing.T, opts ...Option) (Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts = append([]Option{WithWriter(&buf), WithCaller(false), WithStacktrace(false)}, opts...)
	l, err := NewWithOptions(opts...)
	require.NoError(t, err)
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "console", config: &Config{Console: true}},
		{name: "file", config: &Config{File: filepath.Join(dir, "a.log")}},
		{name: "rotate", config: &Config{Rotate: &RotateConfig{Filename: filepath.Join(dir, "b.log")}}},
		{name: "bad format", config: &Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			l.Info("hello")
			_ = l.Sync()
		})
	}
}

func TestSetLevel_AffectsOutput(t *testing.T) {
	l, buf := newBufferLogger(t, WithLevel(InfoLevel))

	l.Debug("hidden")
	assert.Empty(t, buf.String())

	l.SetLevel(DebugLevel)
	assert.Equal(t, DebugLevel, l.Level())
	l.Debug("visible")
	assert.Contains(t, buf.String(), "visible")

	child := l.With(zap.String("k", "v"))
	l.SetLevel(ErrorLevel)
	buf.Reset()
	child.Warn("suppressed")
	assert.Empty(t, buf.String())
}

func TestContextFields(t *testing.T) {
	l, buf := newBufferLogger(t)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithChannel(ctx, "dashboard")

	l.InfoContext(ctx, "connected", zap.Int("attempt", 2))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", lines[0]["trace_id"])
	assert.Equal(t, "0102030405060708", lines[0]["span_id"])
	assert.Equal(t, "dashboard", lines[0]["channel"])
	assert.EqualValues(t, 2, lines[0]["attempt"])
}

func TestNamed(t *testing.T) {
	l, buf := newBufferLogger(t, WithName("warroom"))
	l.Named("wsclient").Info("x")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "warroom.wsclient", lines[0]["logger"])
}

func TestLevelCounterHook(t *testing.T) {
	counter := &LevelCounter{}
	l, _ := newBufferLogger(t, WithHook(counter))

	l.Info("a")
	l.Warn("b")
	l.Error("c")
	l.Error("d")

	assert.EqualValues(t, 1, counter.Warnings())
	assert.EqualValues(t, 2, counter.Errors())
}

func TestParseLevel(t *testing.T) {
	lv, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, DebugLevel, lv)

	lv, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, lv)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}

func TestFromContext(t *testing.T) {
	l := NewNop()
	ctx := NewContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx, nil))
	assert.Nil(t, FromContext(context.Background(), nil))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, buf := newBufferLogger(t)

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "/healthz", lines[0]["path"])
	assert.Equal(t, "error", lines[1]["level"])
	assert.EqualValues(t, 500, lines[1]["status"])
}
