package plugins

import (
	"errors"
	"fmt"
	"strconv"
)

// kernelSection kernel 分段：首行为采样时间戳，其余行为 "名称 值..."
type kernelSection struct {
	Time     float64
	Counters map[string][]float64
}

func parseKernel(info any) (any, error) {
	rows, err := rowsOf(info)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, nil
	}
	ts, err := strconv.ParseFloat(rows[0][0], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid kernel timestamp %q: %w", rows[0][0], err)
	}
	sec := &kernelSection{Time: ts, Counters: make(map[string][]float64)}
	for _, row := range rows[1:] {
		if len(row) < 2 {
			continue
		}
		values := make([]float64, 0, len(row)-1)
		for _, field := range row[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				break
			}
			values = append(values, v)
		}
		sec.Counters[row[0]] = values
	}
	return sec, nil
}

func kernelRatesPlugin() *Plugin {
	return &Plugin{
		Name:    "kernel.rates",
		Section: "kernel",
		Service: "Kernel Performance",
		Parse:   parseKernel,
		Check:   checkKernelRates,
	}
}

var kernelCounters = []struct {
	key, metric, title string
}{
	{"ctxt", "context_switches", "Context switches"},
	{"processes", "process_creations", "Process creations"},
	{"pgmajfault", "major_page_faults", "Major page faults"},
}

func checkKernelRates(ctx *Context, _ string, _ Params, section any) (Output, error) {
	sec, _ := section.(*kernelSection)
	if sec == nil {
		return nil, nil
	}
	var results Results
	for _, c := range kernelCounters {
		values, ok := sec.Counters[c.key]
		if !ok || len(values) == 0 {
			continue
		}
		// 回绕由 Counters 记录，继续初始化其余计数器
		rate, err := ctx.Counters.Rate(c.key, sec.Time, values[0])
		if err != nil {
			continue
		}
		results = append(results, Result{
			State:   OK,
			Text:    fmt.Sprintf("%s: %.2f/s", c.title, rate),
			Metrics: []Metric{{Name: c.metric, Value: rate}},
		})
	}
	if len(results) == 0 && ctx.Counters.Wrapped() == nil {
		return nil, nil
	}
	return results, nil
}

func cpuUtilPlugin() *Plugin {
	return &Plugin{
		Name:          "cpu.util",
		Section:       "kernel",
		Service:       "CPU utilization",
		DefaultParams: Params{"util": []any{90.0, 95.0}},
		Parse:         parseKernel,
		Check:         checkCPUUtil,
	}
}

var cpuFields = []string{"user", "nice", "system", "idle", "iowait", "irq", "softirq", "steal"}

// checkCPUUtil 由 jiffies 计数的速率计算利用率；参数 average（分钟）启用滑动平均
func checkCPUUtil(ctx *Context, _ string, params Params, section any) (Output, error) {
	sec, _ := section.(*kernelSection)
	if sec == nil {
		return nil, nil
	}
	values, ok := sec.Counters["cpu"]
	if !ok || len(values) < 4 {
		return nil, nil
	}

	rates := make(map[string]float64, len(cpuFields))
	var wrapped error
	for i, field := range cpuFields {
		if i >= len(values) {
			break
		}
		rate, err := ctx.Counters.Rate(field, sec.Time, values[i])
		if err != nil {
			wrapped = errors.Join(wrapped, err)
			continue
		}
		rates[field] = rate
	}
	if wrapped != nil {
		return nil, nil
	}

	var total float64
	for _, r := range rates {
		total += r
	}
	if total == 0 {
		return Result{State: OK, Text: "No CPU time elapsed"}, nil
	}
	util := (total - rates["idle"] - rates["iowait"]) / total * 100
	iowait := rates["iowait"] / total * 100

	text := fmt.Sprintf("Total CPU: %.1f%%", util)
	value := util
	if minutes := params.Float("average", 0); minutes > 0 {
		value = ctx.Counters.Average("util.avg", sec.Time, util, minutes, false)
		text = fmt.Sprintf("Total CPU (%.0f min average): %.1f%%", minutes, value)
	}

	warn, crit := params.Levels("util", 90, 95)
	state := Upper(value, warn, crit)
	if state != OK {
		text += fmt.Sprintf(" (warn/crit at %.1f%%/%.1f%%)", warn, crit)
	}
	return Result{
		State: state,
		Text:  text + fmt.Sprintf(", I/O wait: %.1f%%", iowait),
		Metrics: []Metric{
			{Name: "util", Value: value, Warn: F(warn), Crit: F(crit), Min: F(0), Max: F(100)},
			{Name: "iowait", Value: iowait},
		},
	}, nil
}
