package backend

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/errors"
	"github.com/tokmz/warroom/pkg/tracing"
	"github.com/tokmz/warroom/pkg/wsclient"
)

// 4100 段：REST 后端
var (
	ErrRequest = errors.New(4102, 502, "backend: request failed", nil)
	ErrStatus  = errors.New(4103, 502, "backend: unexpected status", nil)
	ErrDecode  = errors.New(4104, 502, "backend: invalid response body", nil)
)

const (
	maxResponseBytes = 8 << 20
	maxErrorSnippet  = 512
)

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 替换底层 http.Client，Timeout 为 0 时沿用配置
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc.Timeout == 0 {
			hc.Timeout = c.cfg.Timeout
		}
		c.http = hc
	}
}

// WithRetryPolicy 替换重试退避
func WithRetryPolicy(p wsclient.Policy) Option {
	return func(c *Client) { c.retry = p }
}

func defaultRetryPolicy() wsclient.Policy {
	return wsclient.Policy{
		BaseInterval: 200 * time.Millisecond,
		MaxInterval:  5 * time.Second,
		Jitter:       100 * time.Millisecond,
		Exponential:  true,
	}
}

// call 发送请求并把 JSON 响应解码到 out；网络错误与 5xx 按 MaxRetries 重试
func (c *Client) call(ctx context.Context, method, path string, q url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return ErrRequest.WithError(err)
		}
	}
	target := c.base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	ctx, span := tracing.StartSpan(ctx, "backend "+method+" "+path)
	defer span.End()
	tracing.SetAttributes(span, map[string]any{"http.method": method, "http.url": target})

	for attempt := 0; ; attempt++ {
		retryable, err := c.once(ctx, method, target, payload, out)
		if err == nil {
			return nil
		}
		if !retryable || attempt >= c.cfg.MaxRetries {
			tracing.RecordError(span, err)
			return err
		}

		delay := c.retry.Delay(attempt + 1)
		c.log.DebugContext(ctx, "backend retry",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ErrRequest.WithError(ctx.Err())
		case <-t.C:
		}
	}
}

func (c *Client) once(ctx context.Context, method, target string, payload []byte, out any) (retryable bool, err error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return false, ErrRequest.WithError(err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.cfg.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.cfg.Tracing {
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return ctx.Err() == nil, ErrRequest.WithError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.log.DebugContext(ctx, "backend response",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	if err != nil {
		return true, ErrRequest.WithError(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		snippet := data
		if len(snippet) > maxErrorSnippet {
			snippet = snippet[:maxErrorSnippet]
		}
		return resp.StatusCode >= http.StatusInternalServerError,
			ErrStatus.WithMessagef("backend: %s %s: HTTP %d %s", method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	if out == nil || len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, ErrDecode.WithError(err)
	}
	return false, nil
}

// fetch GET path 并解码为 T
func fetch[T any](ctx context.Context, c *Client, path string, q url.Values) (T, error) {
	var out T
	if err := c.call(ctx, http.MethodGet, path, q, nil, &out); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
