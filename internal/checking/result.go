package checking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agent-checker/internal/fetcher"
	"github.com/agent-checker/internal/plugins"
	"github.com/agent-checker/internal/snmp"
	"github.com/agent-checker/internal/submit"
	"github.com/agent-checker/pkg/logger"
)

// HostResult 一次主机检查周期的汇总
type HostResult struct {
	Host      string
	State     plugins.State
	Infotexts []string
	Perfdata  []string
	Services  []submit.Result
	Pending   []string // 计数器初始化中、本周期未提交的服务
	Missing   []string // 没有拿到数据的检查类型
	Elapsed   time.Duration
}

// Output 主机检查输出，例如 "OK - [agent] Version: 1.0, execution time 0.3 sec | execution_time=0.300"
func (r *HostResult) Output() string {
	out := r.State.String() + " - " + strings.Join(r.Infotexts, ", ")
	if len(r.Perfdata) > 0 {
		out += " | " + strings.Join(r.Perfdata, " ")
	}
	return out
}

// ExitCode 命令行退出码 0..3
func (r *HostResult) ExitCode() int {
	return int(r.State)
}

// summarize 汇总数据源状态、缺失数据与执行时间
func (c *Cycle) summarize() *HostResult {
	spec := c.host.ExitSpec
	res := &HostResult{
		Host:     c.host.Name,
		State:    plugins.OK,
		Services: c.results,
		Pending:  c.pending,
		Missing:  c.missingPlugins(),
	}
	add := func(state plugins.State, text string) {
		if state > res.State {
			res.State = state
		}
		res.Infotexts = append(res.Infotexts, text)
	}

	for _, src := range c.sources {
		if state, text := c.agentSummary(src); text != "" {
			add(state, "[agent] "+text)
		}
	}
	if state, text := c.snmpSummary(); text != "" {
		add(state, "[snmp] "+text)
	}
	for _, name := range c.parseErrors {
		add(plugins.Warn, "Parsing of section "+name+" failed "+plugins.Warn.Marker())
	}
	if len(res.Missing) > 0 {
		add(spec.missingData(res.Missing, c.numSuccess > 0))
	}
	if c.timedOut {
		add(spec.Timeout, "Timed out")
	}

	res.Elapsed = c.engine.now().Sub(c.start)
	times := readCPUTimes().sub(c.times)
	res.Infotexts = append(res.Infotexts, fmt.Sprintf("execution time %.1f sec", res.Elapsed.Seconds()))
	res.Perfdata = append(res.Perfdata, fmt.Sprintf("execution_time=%.3f", res.Elapsed.Seconds()))
	if c.engine.cfg.Check.PerfdataWithTimes {
		res.Perfdata = append(res.Perfdata,
			fmt.Sprintf("user_time=%.3f", times.user.Seconds()),
			fmt.Sprintf("system_time=%.3f", times.system.Seconds()),
			fmt.Sprintf("children_user_time=%.3f", times.childrenUser.Seconds()),
			fmt.Sprintf("children_system_time=%.3f", times.childrenSystem.Seconds()),
		)
	}

	c.engine.metrics.observeHost(c.host.Name, res.State, res.Elapsed)
	logger.Info("host check finished", c.host.Name,
		zap.String("state", res.State.String()),
		zap.Int("services", len(res.Services)),
		zap.Int("pending", len(res.Pending)),
		zap.Strings("missing", res.Missing),
		zap.Duration("elapsed", res.Elapsed))
	return res
}

// agentSummary 一个 agent 数据源的状态：失败原因，或版本与操作系统
func (c *Cycle) agentSummary(src *agentSource) (plugins.State, string) {
	if src.err != nil {
		state := c.errorState(src.err)
		return state, src.err.Error() + state.Marker()
	}
	if src.host.Agent.Datasource == fetcher.DatasourceNone {
		return plugins.OK, ""
	}

	rows, present := src.result.Rows("check_mk")
	info := agentInfo(rows)
	var texts []string
	state := plugins.OK
	if !c.host.IsCluster() {
		if v, ok := info["version"]; ok && v != nil {
			texts = append(texts, "Version: "+*v)
		}
		if agentOS, ok := info["agentos"]; ok && agentOS != nil {
			texts = append(texts, "OS: "+*agentOS)
		}
	}
	expected := c.engine.cfg.Check.AgentVersion
	if present && expected != "" {
		version := info["version"]
		if version != nil && *version != "" && *version != expected {
			state = c.host.ExitSpec.WrongVersion
			texts = append(texts, fmt.Sprintf("unexpected agent version %s (should be %s)%s",
				*version, expected, state.Marker()))
		}
	}
	return state, strings.Join(texts, ", ")
}

// agentInfo 解析 check_mk 分段：每行首字段去掉末尾冒号并转小写作为键
func agentInfo(rows [][]string) map[string]*string {
	unknown := "unknown"
	info := map[string]*string{"version": &unknown, "agentos": &unknown}
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSuffix(row[0], ":"))
		if len(row) == 1 {
			info[key] = nil
			continue
		}
		value := strings.Join(row[1:], " ")
		info[key] = &value
	}
	return info
}

func (c *Cycle) snmpSummary() (plugins.State, string) {
	if c.snmpErr != nil {
		state := c.errorState(c.snmpErr)
		return state, c.snmpErr.Error() + state.Marker()
	}
	if c.snmpUsed && !c.host.IsCluster() && c.host.SNMP != nil {
		return plugins.OK, "Success"
	}
	return plugins.OK, ""
}

// errorState 按错误类型映射主机状态
func (c *Cycle) errorState(err error) plugins.State {
	spec := c.host.ExitSpec
	var agentErr *fetcher.AgentError
	var snmpErr *snmp.UnreachableError
	switch {
	case errors.As(err, &agentErr) && agentErr.Empty:
		return spec.EmptyOutput
	case errors.As(err, &agentErr) && agentErr.Timeout, errors.Is(err, context.DeadlineExceeded):
		return spec.Timeout
	case errors.As(err, &agentErr), errors.As(err, &snmpErr):
		return spec.Connection
	default:
		return spec.Exception
	}
}
