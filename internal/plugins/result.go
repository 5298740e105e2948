package plugins

import (
	"strconv"
	"strings"
)

// State 监控状态，取值与插件退出码一致
type State int

const (
	OK      State = 0
	Warn    State = 1
	Crit    State = 2
	Unknown State = 3
)

func (s State) String() string {
	switch s {
	case OK:
		return "OK"
	case Warn:
		return "WARN"
	case Crit:
		return "CRIT"
	default:
		return "UNKNOWN"
	}
}

// Marker 非 OK 子结果附加在文本后的标记
func (s State) Marker() string {
	switch s {
	case Warn:
		return "(!)"
	case Crit:
		return "(!!)"
	case Unknown:
		return "(?)"
	default:
		return ""
	}
}

// severity CRIT 最严重，其次 UNKNOWN、WARN、OK
func (s State) severity() int {
	switch s {
	case Crit:
		return 3
	case Unknown:
		return 2
	case Warn:
		return 1
	default:
		return 0
	}
}

// Worst 返回更严重的状态，CRIT 压过其他所有状态
func Worst(a, b State) State {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// Metric 一个性能数据值，阈值与范围可选
type Metric struct {
	Name  string
	Value float64
	Warn  *float64
	Crit  *float64
	Min   *float64
	Max   *float64
}

// F 取地址的便捷函数
func F(v float64) *float64 {
	return &v
}

// String 输出 name=value;warn;crit;min;max，缺失的字段留空
func (m Metric) String() string {
	fields := []string{formatFloat(m.Value)}
	for _, v := range []*float64{m.Warn, m.Crit, m.Min, m.Max} {
		if v == nil {
			fields = append(fields, "")
		} else {
			fields = append(fields, formatFloat(*v))
		}
	}
	return m.Name + "=" + strings.Join(fields, ";")
}

// formatFloat 六位小数，去掉末尾的 0 和小数点
func formatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 6, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// Output 检查函数的返回：单个 Result、多个子结果 Results，或 nil（未找到 item）
type Output interface {
	output()
}

// Result 一个检查结果
type Result struct {
	State   State
	Text    string
	Metrics []Metric
}

// Results 子结果序列
type Results []Result

func (Result) output()  {}
func (Results) output() {}

// Upper 按上限阈值判断状态
func Upper(value, warn, crit float64) State {
	switch {
	case value >= crit:
		return Crit
	case value >= warn:
		return Warn
	default:
		return OK
	}
}

// Lower 按下限阈值判断状态
func Lower(value, warn, crit float64) State {
	switch {
	case value < crit:
		return Crit
	case value < warn:
		return Warn
	default:
		return OK
	}
}
