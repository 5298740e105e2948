package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	cload "github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/agent-checker/pkg/logger"

	"go.uber.org/zap"
)

// LocalAgentVersion builtin:local 数据源报告的 agent 版本
const LocalAgentVersion = "builtin-1.0"

// localSource 在本机通过 gopsutil 采集，输出与 agent 相同的分段文本
type localSource struct {
	now func() time.Time
}

func (s *localSource) Describe() string {
	return "builtin:local"
}

func (s *localSource) Fetch(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<<<check_mk>>>\nVersion: %s\nAgentOS: %s\n", LocalAgentVersion, runtime.GOOS)

	// 单个分段失败不影响其他分段，对应分段缺失即可
	writers := []struct {
		name string
		fn   func(context.Context, *bytes.Buffer) error
	}{
		{"uptime", writeUptime},
		{"cpu", writeLoad},
		{"mem", writeMem},
		{"df", writeDF},
		{"kernel", s.writeKernel},
	}
	for _, w := range writers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := w.fn(ctx, &buf); err != nil {
			logger.Warn("local section failed", "", zap.String("section", w.name), zap.Error(err))
		}
	}
	return buf.Bytes(), nil
}

func writeUptime(ctx context.Context, buf *bytes.Buffer) error {
	up, err := host.UptimeWithContext(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(buf, "<<<uptime>>>\n%d\n", up)
	return nil
}

// writeLoad 与 Linux agent 的 cpu 分段一致：load1 load5 load15 running/total 最大pid 核数
func writeLoad(ctx context.Context, buf *bytes.Buffer) error {
	avg, err := cload.AvgWithContext(ctx)
	if err != nil {
		return err
	}
	misc, err := cload.MiscWithContext(ctx)
	if err != nil {
		return err
	}
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return err
	}
	fmt.Fprintf(buf, "<<<cpu>>>\n%.2f %.2f %.2f %d/%d 0 %d\n",
		avg.Load1, avg.Load5, avg.Load15, misc.ProcsRunning, misc.ProcsTotal, cores)
	return nil
}

func writeMem(ctx context.Context, buf *bytes.Buffer) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return err
	}
	sw, err := mem.SwapMemoryWithContext(ctx)
	if err != nil {
		return err
	}
	buf.WriteString("<<<mem>>>\n")
	rows := []struct {
		key   string
		bytes uint64
	}{
		{"MemTotal", vm.Total},
		{"MemFree", vm.Free},
		{"MemAvailable", vm.Available},
		{"Buffers", vm.Buffers},
		{"Cached", vm.Cached},
		{"SwapTotal", sw.Total},
		{"SwapFree", sw.Free},
	}
	for _, r := range rows {
		fmt.Fprintf(buf, "%s: %d kB\n", r.key, r.bytes/1024)
	}
	return nil
}

// writeDF 每行：设备 文件系统 总量kB 已用kB 可用kB 使用率% 挂载点
func writeDF(ctx context.Context, buf *bytes.Buffer) error {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return err
	}
	buf.WriteString("<<<df>>>\n")
	for _, p := range parts {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil || usage.Total == 0 {
			continue
		}
		fmt.Fprintf(buf, "%s %s %d %d %d %.0f%% %s\n",
			p.Device, p.Fstype, usage.Total/1024, usage.Used/1024, usage.Free/1024,
			usage.UsedPercent, p.Mountpoint)
	}
	return nil
}

// writeKernel 首行为时间戳，随后是以 jiffies（1/100 秒）为单位的 cpu 计数
func (s *localSource) writeKernel(ctx context.Context, buf *bytes.Buffer) error {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return err
	}
	if len(times) == 0 {
		return fmt.Errorf("no cpu times available")
	}
	t := times[0]
	j := func(sec float64) int64 { return int64(sec * 100) }
	fmt.Fprintf(buf, "<<<kernel>>>\n%d\ncpu %d %d %d %d %d %d %d %d\n",
		s.now().Unix(),
		j(t.User), j(t.Nice), j(t.System), j(t.Idle), j(t.Iowait), j(t.Irq), j(t.Softirq), j(t.Steal))
	if misc, err := cload.MiscWithContext(ctx); err == nil {
		fmt.Fprintf(buf, "ctxt %d\nprocesses %d\n", misc.Ctxt, misc.ProcsCreated)
	}
	return nil
}
