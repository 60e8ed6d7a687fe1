// Package tracing 初始化 OpenTelemetry，提供 Span 辅助函数和 gin 中间件。
package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Provider 持有 TracerProvider，关闭时刷出剩余 Span
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.TracerProvider
}

// NewProvider 按配置创建 Provider；未开启时返回 noop 实现
func NewProvider(ctx context.Context, cfg *Config, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider()}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, ErrInvalidConfig.WithMessagef("create %s exporter", cfg.Exporter).WithError(err)
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, ErrInvalidConfig.WithMessage("create resource").WithError(err)
	}

	base := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(newSampler(cfg)),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
		),
		sdktrace.WithResource(res),
	}
	tp := sdktrace.NewTracerProvider(append(base, opts...)...)

	if cfg.SetGlobal {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	return &Provider{tp: tp, tracer: tp}, nil
}

// TracerProvider 供 wsclient、request 等组件注入
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracer
}

// Tracer 获取命名 Tracer
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tracer.Tracer(name)
}

// Enabled 是否有真实导出
func (p *Provider) Enabled() bool {
	return p.tp != nil
}

// ForceFlush 立即导出缓冲中的 Span
func (p *Provider) ForceFlush(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.ForceFlush(ctx)
}

// Shutdown 刷出并关闭导出器
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
	)
}

// ParseAttributes 解析 key1=value1,key2=value2
func ParseAttributes(s string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}
