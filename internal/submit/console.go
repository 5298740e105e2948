package submit

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/agent-checker/internal/plugins"
)

var stateColors = map[plugins.State]*color.Color{
	plugins.OK:      color.New(color.Bold, color.FgGreen),
	plugins.Warn:    color.New(color.Bold, color.FgYellow),
	plugins.Crit:    color.New(color.Bold, color.FgRed),
	plugins.Unknown: color.New(color.Bold, color.FgMagenta),
}

// Colorize 按状态着色
func Colorize(state plugins.State, text string) string {
	c, ok := stateColors[state]
	if !ok {
		c = stateColors[plugins.Unknown]
	}
	return c.Sprint(text)
}

// ConsoleSink 在终端逐行显示结果（check 命令的详细输出）
type ConsoleSink struct {
	mu           sync.Mutex
	w            io.Writer
	showPerfdata bool
}

// NewConsoleSink 创建控制台接收端
func NewConsoleSink(w io.Writer, showPerfdata bool) *ConsoleSink {
	return &ConsoleSink{w: w, showPerfdata: showPerfdata}
}

func (c *ConsoleSink) Submit(r Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	text, _, _ := strings.Cut(r.Text, "\n")
	line := fmt.Sprintf("%-20s %s", r.Service, Colorize(r.State, text))
	if c.showPerfdata && len(r.Metrics) > 0 {
		line += " (" + r.PerfText() + ")"
	}
	if ct := r.CacheText(); ct != "" {
		line += " [" + ct + "]"
	}
	_, err := fmt.Fprintln(c.w, line)
	return err
}

func (c *ConsoleSink) Close() error { return nil }

// Memory 收集结果，供 batch 汇总和测试使用
type Memory struct {
	mu      sync.Mutex
	results []Result
}

func (m *Memory) Submit(r Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
	return nil
}

func (m *Memory) Close() error { return nil }

// Results 已收集结果的副本
func (m *Memory) Results() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Result(nil), m.results...)
}
