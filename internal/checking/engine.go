// Package checking 执行一个主机的检查周期：获取分段数据、调用检查插件、提交结果并保存计数器状态。
//
// Engine 在进程内共享且只读；每次 Check 创建独立的 Cycle，持有本周期的缓存、获取器、分段备忘与计数器状态。
package checking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agent-checker/internal/cachestore"
	"github.com/agent-checker/internal/piggyback"
	"github.com/agent-checker/internal/plugins"
	"github.com/agent-checker/internal/snmp"
	"github.com/agent-checker/internal/submit"
	"github.com/agent-checker/internal/timeperiod"
	"github.com/agent-checker/pkg/config"
	"github.com/agent-checker/pkg/fileutil"
	"github.com/agent-checker/pkg/metrics"
)

// Options 命令行决定的运行模式
type Options struct {
	Cache    cachestore.Mode
	Force    bool // 忽略 SNMP 检查间隔，强制使用已过期的持久化分段
	NoSubmit bool // 不提交结果，不保存计数器
	UseWalk  bool // SNMP 数据读取保存的 walk 文件
}

// SinkFactory 为一个主机周期创建结果接收端
type SinkFactory func(host string) (submit.Sink, error)

// Engine 检查引擎
type Engine struct {
	cfg        *config.Config
	opts       Options
	hosts      map[string]*Host
	registry   *plugins.Registry
	periods    *timeperiod.Periods
	translator *piggyback.Translator
	crash      *CrashReporter
	metrics    *engineMetrics
	newSink    SinkFactory
	backend    snmp.Backend
	privileged func() bool
	now        func() time.Time
}

// EngineOption Engine 可选项
type EngineOption func(*Engine)

// WithRegistry 使用指定的插件注册表
func WithRegistry(r *plugins.Registry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// WithMetrics 通过指标工厂注册并更新检查指标
func WithMetrics(f *metrics.MetricFactory) EngineOption {
	return func(e *Engine) { e.metrics = newEngineMetrics(f) }
}

// WithSinkFactory 替换结果接收端
func WithSinkFactory(fn SinkFactory) EngineOption {
	return func(e *Engine) { e.newSink = fn }
}

// WithSNMPBackend 替换 SNMP 协议层
func WithSNMPBackend(b snmp.Backend) EngineOption {
	return func(e *Engine) { e.backend = b }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithPrivilegeCheck 注入特权身份判断
func WithPrivilegeCheck(fn func() bool) EngineOption {
	return func(e *Engine) { e.privileged = fn }
}

// NewEngine 根据配置创建检查引擎
func NewEngine(cfg *config.Config, opts Options, engineOpts ...EngineOption) (*Engine, error) {
	if cfg.Check.SimulationMode {
		opts.Cache.Simulation = true
	}
	if cfg.Check.MaxCacheAge > 0 {
		opts.Cache.UseCache = true
	}

	e := &Engine{
		cfg:        cfg,
		opts:       opts,
		registry:   plugins.Default(),
		crash:      NewCrashReporter(cfg.Paths.CrashDir),
		privileged: fileutil.Privileged,
		now:        time.Now,
	}
	for _, opt := range engineOpts {
		opt(e)
	}
	if cfg.Check.AllowPrivilegedWrites {
		e.privileged = func() bool { return false }
	}
	if e.newSink == nil {
		e.newSink = e.defaultSink
	}
	if e.backend == nil {
		if opts.UseWalk {
			e.backend = &snmp.WalkBackend{Dir: cfg.Paths.WalkDir}
		} else {
			e.backend = snmp.GoSNMPBackend{}
		}
	}
	e.crash.now = e.now

	var err error
	if e.periods, err = timeperiod.New(cfg.TimePeriods); err != nil {
		return nil, fmt.Errorf("time periods: %w", err)
	}
	e.translator, err = piggyback.NewTranslator(piggyback.TranslationRules{
		Case:       cfg.Piggyback.Case,
		DropDomain: cfg.Piggyback.DropDomain,
		Regex:      regexRules(cfg.Piggyback.Regex),
		Mapping:    cfg.Piggyback.Mapping,
	})
	if err != nil {
		return nil, err
	}
	if e.hosts, err = HostsFromConfig(cfg, e.registry); err != nil {
		return nil, err
	}
	return e, nil
}

func regexRules(cfg []config.RegexRuleConfig) []piggyback.RegexRule {
	rules := make([]piggyback.RegexRule, 0, len(cfg))
	for _, r := range cfg {
		rules = append(rules, piggyback.RegexRule{Pattern: r.Pattern, Replacement: r.Replacement})
	}
	return rules
}

func (e *Engine) defaultSink(string) (submit.Sink, error) {
	if e.opts.NoSubmit {
		return submit.Discard{}, nil
	}
	return submit.New(e.cfg.Check.Submission, e.cfg.Paths.CommandPipe, e.cfg.Paths.CheckResultDir)
}

// Registry 插件注册表
func (e *Engine) Registry() *plugins.Registry {
	return e.registry
}

// Host 查找主机
func (e *Engine) Host(name string) (*Host, bool) {
	h, ok := e.hosts[name]
	return h, ok
}

// Hosts 全部主机名，按名称排序
func (e *Engine) Hosts() []string {
	names := make([]string, 0, len(e.hosts))
	for name := range e.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check 对主机执行一次完整的检查周期，超时由 check.timeout 控制
func (e *Engine) Check(ctx context.Context, hostname string) (*HostResult, error) {
	host, ok := e.hosts[hostname]
	if !ok {
		return nil, fmt.Errorf("unknown host %s", hostname)
	}
	if e.cfg.Check.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Check.Timeout)
		defer cancel()
	}

	sink, err := e.newSink(hostname)
	if err != nil {
		return nil, fmt.Errorf("create result sink: %w", err)
	}
	c := newCycle(e, host, sink)
	return c.run(ctx), nil
}

// engineMetrics 检查周期更新的 Prometheus 指标
type engineMetrics struct {
	fetchDuration *prometheus.HistogramVec
	fetchErrors   *prometheus.CounterVec
	results       *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	hostState     *prometheus.GaugeVec
	serviceState  *prometheus.GaugeVec
	counterWraps  prometheus.Counter
}

func newEngineMetrics(f *metrics.MetricFactory) *engineMetrics {
	return &engineMetrics{
		fetchDuration: f.NewFetchDurationSeconds(),
		fetchErrors:   f.NewFetchErrorsTotal(),
		results:       f.NewCheckResultsTotal(),
		cycleDuration: f.NewCycleDurationSeconds(),
		hostState:     f.NewHostState(),
		serviceState:  f.NewServiceState(),
		counterWraps:  f.NewCounterWrapsTotal(),
	}
}

func (m *engineMetrics) observeFetch(source string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.fetchDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	if err != nil {
		m.fetchErrors.WithLabelValues(source).Inc()
	}
}

func (m *engineMetrics) observeService(host, service string, state plugins.State) {
	if m == nil {
		return
	}
	m.results.WithLabelValues(state.String()).Inc()
	m.serviceState.WithLabelValues(host, service).Set(float64(state))
}

func (m *engineMetrics) observeWrap() {
	if m == nil {
		return
	}
	m.counterWraps.Inc()
}

func (m *engineMetrics) observeHost(host string, state plugins.State, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.hostState.WithLabelValues(host).Set(float64(state))
	m.cycleDuration.Observe(elapsed.Seconds())
}
