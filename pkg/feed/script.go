package feed

import (
	"context"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"go.uber.org/zap"

	"github.com/tokmz/warroom/pkg/logger"
)

// Step 脚本中的一步，After 为距上一步的间隔
type Step struct {
	After string `yaml:"after"`
	Event `yaml:",inline"`

	delay time.Duration
}

// Script 回放 YAML 脚本，用于演示和联调
//
//	loop: true
//	steps:
//	  - after: 1s
//	    type: meta_metrics
//	    data: {spend: 120.5, impressions: 1000}
type Script struct {
	Loop  bool   `yaml:"loop"`
	Steps []Step `yaml:"steps"`

	log logger.Logger
}

// LoadScript 读取脚本文件
func LoadScript(path string, log logger.Logger) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrInvalidConfig.WithMessagef("读取脚本 %s 失败", path).WithError(err)
	}
	return ParseScript(data, log)
}

// ParseScript 解析脚本内容
func ParseScript(data []byte, log logger.Logger) (*Script, error) {
	s := &Script{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, ErrInvalidConfig.WithMessage("脚本格式错误").WithError(err)
	}
	if len(s.Steps) == 0 {
		return nil, ErrInvalidConfig.WithMessage("脚本没有步骤")
	}
	var total time.Duration
	for i := range s.Steps {
		st := &s.Steps[i]
		if st.Type == "" {
			return nil, ErrInvalidConfig.WithMessagef("第 %d 步缺少 type", i+1)
		}
		if st.After != "" {
			d, err := time.ParseDuration(st.After)
			if err != nil || d < 0 {
				return nil, ErrInvalidConfig.WithMessagef("第 %d 步 after 无效: %q", i+1, st.After)
			}
			st.delay = d
		}
		total += st.delay
	}
	if s.Loop && total == 0 {
		return nil, ErrInvalidConfig.WithMessage("循环脚本的总间隔必须大于 0")
	}
	if log == nil {
		log = logger.NewNop()
	}
	s.log = log.Named("feed.script")
	return s, nil
}

func (s *Script) Name() string { return "script" }

func (s *Script) Run(ctx context.Context, sink Sink) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for round := 1; ; round++ {
		for _, st := range s.Steps {
			if st.delay > 0 {
				timer.Reset(st.delay)
				select {
				case <-ctx.Done():
					return nil
				case <-timer.C:
				}
			} else if ctx.Err() != nil {
				return nil
			}
			if err := sink.Publish(ctx, normalize(st.Event)); err != nil {
				return err
			}
		}
		s.log.Debug("script round finished", zap.Int("round", round))
		if !s.Loop {
			return nil
		}
	}
}

// normalize YAML 解出的 map[any]any 转为 JSON 可编码的 map[string]any
func normalize(e Event) Event {
	e.Data = normalizeValue(e.Data)
	return e
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeValue(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if ks, ok := k.(string); ok {
				out[ks] = normalizeValue(val)
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return v
	}
}
