package plugins

import (
	"fmt"
	"strconv"
	"strings"
)

func localPlugin() *Plugin {
	return &Plugin{
		Name:     "local",
		Service:  "%s",
		NodeInfo: true,
		Check:    checkLocal,
	}
}

// checkLocal agent 本地检查，行格式：节点 状态 名称 性能数据 文本...
// 状态 P 表示按性能数据阈值计算。集群上多个节点报告同一 item 时逐节点给出子结果。
func checkLocal(_ *Context, item string, _ Params, section any) (Output, error) {
	rows, err := rowsOf(section)
	if err != nil {
		return nil, err
	}
	var matches [][]string
	for _, row := range rows {
		if len(row) >= 4 && row[2] == item {
			matches = append(matches, row)
		}
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return localResult(matches[0]), nil
	}

	results := make(Results, 0, len(matches))
	for _, row := range matches {
		r := localResult(row)
		r.Text = fmt.Sprintf("On node %s: %s", row[0], r.Text)
		results = append(results, r)
	}
	return results, nil
}

func localResult(row []string) Result {
	metrics := parseLocalPerfdata(row[3])
	text := strings.ReplaceAll(strings.Join(row[4:], " "), `\n`, "\n")

	var state State
	switch row[1] {
	case "0", "1", "2", "3":
		n, _ := strconv.Atoi(row[1])
		state = State(n)
	case "P":
		state = OK
		for _, m := range metrics {
			if m.Warn != nil && m.Crit != nil {
				state = Worst(state, Upper(m.Value, *m.Warn, *m.Crit))
			}
		}
	default:
		return Result{State: Unknown, Text: fmt.Sprintf("Invalid plugin status %s. Output is: %s", row[1], text)}
	}
	return Result{State: state, Text: text, Metrics: metrics}
}

// parseLocalPerfdata 解析 "name=value;warn;crit;min;max|..."，"-" 表示没有性能数据。
// 值可以带单位后缀，无法解析的字段忽略。
func parseLocalPerfdata(text string) []Metric {
	if text == "-" || text == "" {
		return nil
	}
	var metrics []Metric
	for _, entry := range strings.Split(text, "|") {
		name, rest, ok := strings.Cut(entry, "=")
		if !ok || name == "" {
			continue
		}
		fields := strings.Split(rest, ";")
		value, ok := parseNumber(fields[0])
		if !ok {
			continue
		}
		m := Metric{Name: name, Value: value}
		targets := []**float64{&m.Warn, &m.Crit, &m.Min, &m.Max}
		for i, field := range fields[1:] {
			if i >= len(targets) {
				break
			}
			if v, ok := parseNumber(field); ok {
				*targets[i] = F(v)
			}
		}
		metrics = append(metrics, m)
	}
	return metrics
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimRight(s, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ%/")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}
