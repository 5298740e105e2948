package plugins

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func rowsOf(info any) ([][]string, error) {
	switch v := info.(type) {
	case nil:
		return nil, nil
	case [][]string:
		return v, nil
	default:
		return nil, fmt.Errorf("unexpected section type %T", info)
	}
}

func formatUptime(d time.Duration) string {
	secs := int64(d.Seconds())
	days := secs / 86400
	secs %= 86400
	return fmt.Sprintf("%d days, %02d:%02d:%02d", days, secs/3600, (secs%3600)/60, secs%60)
}

func formatBytes(b float64) string {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	i := 0
	for b >= 1024 && i < len(units)-1 {
		b /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", b, units[i])
}

// ---------------------------------------------------------------- uptime

func uptimePlugin() *Plugin {
	return &Plugin{
		Name:    "uptime",
		Service: "Uptime",
		Check: func(ctx *Context, _ string, params Params, section any) (Output, error) {
			rows, err := rowsOf(section)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 || len(rows[0]) == 0 {
				return nil, nil
			}
			seconds, err := strconv.ParseFloat(rows[0][0], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid uptime %q: %w", rows[0][0], err)
			}
			return uptimeResult(ctx.Now, seconds, params), nil
		},
	}
}

// uptimeResult 参数 min 为 [warn, crit] 下限（秒），用于发现意外重启
func uptimeResult(now time.Time, seconds float64, params Params) Result {
	up := time.Duration(seconds * float64(time.Second))
	state := OK
	text := fmt.Sprintf("Up since %s, uptime: %s", now.Add(-up).Format("2006-01-02 15:04:05"), formatUptime(up))
	if _, ok := params["min"]; ok {
		warn, crit := params.Levels("min", 0, 0)
		state = Lower(seconds, warn, crit)
		if state != OK {
			text += fmt.Sprintf(" (warn/crit below %s/%s)", formatUptime(time.Duration(warn)*time.Second),
				formatUptime(time.Duration(crit)*time.Second))
		}
	}
	return Result{State: state, Text: text, Metrics: []Metric{{Name: "uptime", Value: seconds}}}
}

// ---------------------------------------------------------------- cpu.loads

func cpuLoadsPlugin() *Plugin {
	return &Plugin{
		Name:          "cpu.loads",
		Section:       "cpu",
		Service:       "CPU load",
		DefaultParams: Params{"levels": []any{5.0, 10.0}},
		Check:         checkCPULoads,
	}
}

func checkCPULoads(_ *Context, _ string, params Params, section any) (Output, error) {
	rows, err := rowsOf(section)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || len(rows[0]) < 3 {
		return nil, nil
	}
	var loads [3]float64
	for i := range loads {
		if loads[i], err = strconv.ParseFloat(rows[0][i], 64); err != nil {
			return nil, fmt.Errorf("invalid load value %q: %w", rows[0][i], err)
		}
	}
	cores := 1
	if len(rows[0]) >= 6 {
		if n, err := strconv.Atoi(rows[0][5]); err == nil && n > 0 {
			cores = n
		}
	}

	warn, crit := params.Levels("levels", 5, 10)
	warn *= float64(cores)
	crit *= float64(cores)
	state := Upper(loads[2], warn, crit)
	text := fmt.Sprintf("15 min load: %.2f at %d cores (%.2f per core)", loads[2], cores, loads[2]/float64(cores))
	if state != OK {
		text += fmt.Sprintf(" (warn/crit at %.2f/%.2f)", warn, crit)
	}

	metrics := make([]Metric, 0, 3)
	for i, name := range []string{"load1", "load5", "load15"} {
		metrics = append(metrics, Metric{Name: name, Value: loads[i], Warn: F(warn), Crit: F(crit), Min: F(0), Max: F(float64(cores))})
	}
	return Result{State: state, Text: text, Metrics: metrics}, nil
}

// ---------------------------------------------------------------- mem.used

func memUsedPlugin() *Plugin {
	return &Plugin{
		Name:          "mem.used",
		Section:       "mem",
		Service:       "Memory",
		DefaultParams: Params{"levels": []any{80.0, 90.0}},
		Parse:         parseMeminfo,
		Check:         checkMemUsed,
	}
}

// parseMeminfo 解析 "Key: value kB" 行，返回字节数
func parseMeminfo(info any) (any, error) {
	rows, err := rowsOf(info)
	if err != nil {
		return nil, err
	}
	mem := make(map[string]float64, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			continue
		}
		if len(row) > 2 && row[2] == "kB" {
			v *= 1024
		}
		mem[strings.TrimSuffix(row[0], ":")] = v
	}
	return mem, nil
}

func checkMemUsed(_ *Context, _ string, params Params, section any) (Output, error) {
	mem, _ := section.(map[string]float64)
	total := mem["MemTotal"]
	if total == 0 {
		return nil, nil
	}
	available, ok := mem["MemAvailable"]
	if !ok {
		available = mem["MemFree"] + mem["Buffers"] + mem["Cached"]
	}
	used := total - available
	percent := used / total * 100

	warn, crit := params.Levels("levels", 80, 90)
	state := Upper(percent, warn, crit)
	text := fmt.Sprintf("RAM: %.1f%% used - %s of %s", percent, formatBytes(used), formatBytes(total))
	if state != OK {
		text += fmt.Sprintf(" (warn/crit at %.1f%%/%.1f%%)", warn, crit)
	}
	return Result{
		State: state,
		Text:  text,
		Metrics: []Metric{{
			Name: "mem_used", Value: used,
			Warn: F(total * warn / 100), Crit: F(total * crit / 100), Min: F(0), Max: F(total),
		}},
	}, nil
}

// ---------------------------------------------------------------- df

func dfPlugin() *Plugin {
	return &Plugin{
		Name:          "df",
		Service:       "Filesystem %s",
		DefaultParams: Params{"levels": []any{80.0, 90.0}},
		Check:         checkDF,
	}
}

// checkDF 行格式：设备 类型 总量kB 已用kB 可用kB 使用率 挂载点（挂载点可含空格）
func checkDF(_ *Context, item string, params Params, section any) (Output, error) {
	rows, err := rowsOf(section)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if len(row) < 7 || strings.Join(row[6:], " ") != item {
			continue
		}
		size, err1 := strconv.ParseFloat(row[2], 64)
		used, err2 := strconv.ParseFloat(row[3], 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("invalid df row %v", row)
		}
		if size == 0 {
			return Result{State: Unknown, Text: "Size of filesystem is 0 kB"}, nil
		}
		percent := used / size * 100
		warn, crit := params.Levels("levels", 80, 90)
		state := Upper(percent, warn, crit)
		text := fmt.Sprintf("%.1f%% used (%s of %s)", percent, formatBytes(used*1024), formatBytes(size*1024))
		if state != OK {
			text += fmt.Sprintf(" (warn/crit at %.1f%%/%.1f%%)", warn, crit)
		}
		sizeMB := size / 1024
		return Result{
			State: state,
			Text:  text,
			Metrics: []Metric{
				{Name: "fs_used", Value: used / 1024, Warn: F(sizeMB * warn / 100), Crit: F(sizeMB * crit / 100), Min: F(0), Max: F(sizeMB)},
				{Name: "fs_size", Value: sizeMB},
			},
		}, nil
	}
	return nil, nil
}
