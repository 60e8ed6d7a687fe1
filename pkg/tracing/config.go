package tracing

import (
	"io"
	"time"

	"github.com/tokmz/warroom/pkg/errors"
)

// 导出器类型
const (
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp"
	ExporterOTLPGRPC = "otlp-grpc"
	ExporterNoop     = "noop"
)

// 采样类型
const (
	SamplerAlways      = "always"
	SamplerNever       = "never"
	SamplerRatio       = "ratio"
	SamplerParentBased = "parent_based"
)

// ErrInvalidConfig 追踪配置无效
var ErrInvalidConfig = errors.New(3201, 500, "链路追踪配置无效", nil)

// Config 链路追踪配置
type Config struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`

	// otlp / otlp-grpc / stdout / noop
	Exporter        string            `mapstructure:"exporter"`
	Endpoint        string            `mapstructure:"endpoint"`
	Headers         map[string]string `mapstructure:"headers"`
	Insecure        bool              `mapstructure:"insecure"`
	ExporterTimeout time.Duration     `mapstructure:"exporter_timeout"`

	Sampler      string  `mapstructure:"sampler"`
	SamplingRate float64 `mapstructure:"sampling_rate"`

	ResourceAttributes map[string]string `mapstructure:"resource_attributes"`

	BatchTimeout       time.Duration `mapstructure:"batch_timeout"`
	MaxExportBatchSize int           `mapstructure:"max_export_batch_size"`
	MaxQueueSize       int           `mapstructure:"max_queue_size"`

	// SetGlobal 同时注册为 otel 全局 provider 和 W3C propagator
	SetGlobal bool `mapstructure:"set_global"`

	// Writer stdout 导出器的输出，默认 os.Stdout
	Writer io.Writer `mapstructure:"-"`
}

// DefaultConfig 默认配置，未开启
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "warroom",
		ServiceVersion:     "dev",
		Environment:        "development",
		Exporter:           ExporterStdout,
		ExporterTimeout:    10 * time.Second,
		Sampler:            SamplerParentBased,
		SamplingRate:       1.0,
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
		SetGlobal:          true,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrInvalidConfig.WithMessage("service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return ErrInvalidConfig.WithMessagef("sampling rate %v out of [0, 1]", c.SamplingRate)
	}
	switch c.Exporter {
	case ExporterStdout, ExporterOTLPHTTP, ExporterOTLPGRPC, ExporterNoop:
	default:
		return ErrInvalidConfig.WithMessagef("unsupported exporter %q", c.Exporter)
	}
	switch c.Sampler {
	case "", SamplerAlways, SamplerNever, SamplerRatio, SamplerParentBased:
	default:
		return ErrInvalidConfig.WithMessagef("unsupported sampler %q", c.Sampler)
	}
	return nil
}
