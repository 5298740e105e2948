// Package submit 把检查结果提交给监控核心：命令管道、检查结果文件、控制台或内存。
package submit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agent-checker/internal/parser"
	"github.com/agent-checker/internal/plugins"
)

// Result 一个待提交的服务结果
type Result struct {
	Host      string
	Service   string
	State     plugins.State
	Text      string
	Metrics   []plugins.Metric
	CacheInfo *parser.CacheInfo
	Time      time.Time
}

// lightVerticalBar 替换输出文本中的 |，避免与性能数据分隔符混淆
const lightVerticalBar = "❘"

// PerfText 性能数据部分，空格分隔
func (r Result) PerfText() string {
	perf := make([]string, 0, len(r.Metrics))
	for _, m := range r.Metrics {
		perf = append(perf, m.String())
	}
	return strings.Join(perf, " ")
}

// Output 提交给核心的插件输出：文本|性能数据
func (r Result) Output() string {
	text := strings.ReplaceAll(r.Text, "|", lightVerticalBar)
	if len(r.Metrics) == 0 {
		return text
	}
	return text + "|" + r.PerfText()
}

// CacheText 数据缓存信息，例如 "cached at 2026-10-19T11:58:00Z, interval 60s"；无缓存信息时为空
func (r Result) CacheText() string {
	if r.CacheInfo == nil {
		return ""
	}
	at := time.Unix(r.CacheInfo.CachedAt, 0).Format(time.RFC3339)
	return fmt.Sprintf("cached at %s, interval %s", at, time.Duration(r.CacheInfo.Interval)*time.Second)
}

// Sink 结果接收端
type Sink interface {
	Submit(r Result) error
	Close() error
}

// Discard 不提交（--no-submit）
type Discard struct{}

func (Discard) Submit(Result) error { return nil }
func (Discard) Close() error        { return nil }

// Multi 依次提交到多个接收端
type Multi []Sink

func (m Multi) Submit(r Result) error {
	var errs []error
	for _, s := range m {
		if err := s.Submit(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// escapeNewlines 核心的外部命令与结果文件都要求单行输出
func escapeNewlines(s string) string {
	return strings.ReplaceAll(s, "\n", `\n`)
}

// New 按配置的提交方式创建接收端：pipe、file 或 none
func New(method, commandPipe, resultDir string) (Sink, error) {
	switch method {
	case "pipe":
		return NewPipeSink(commandPipe), nil
	case "file":
		return NewFileSink(resultDir), nil
	case "none", "":
		return Discard{}, nil
	default:
		return nil, fmt.Errorf("invalid check submission %q, must be pipe, file or none", method)
	}
}
