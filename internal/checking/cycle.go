package checking

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/agent-checker/internal/cachestore"
	"github.com/agent-checker/internal/fetcher"
	"github.com/agent-checker/internal/itemstate"
	"github.com/agent-checker/internal/parser"
	"github.com/agent-checker/internal/piggyback"
	"github.com/agent-checker/internal/plugins"
	"github.com/agent-checker/internal/snmp"
	"github.com/agent-checker/internal/submit"
	"github.com/agent-checker/pkg/logger"
)

// phase 主机检查周期的阶段
type phase int

const (
	phaseStart phase = iota
	phaseFetchSections
	phaseRunChecks
	phaseSubmitResults
	phasePersistState
	phaseEnd
)

func (p phase) String() string {
	switch p {
	case phaseStart:
		return "start"
	case phaseFetchSections:
		return "fetch_sections"
	case phaseRunChecks:
		return "run_checks"
	case phaseSubmitResults:
		return "submit_results"
	case phasePersistState:
		return "persist_state"
	default:
		return "end"
	}
}

// agentSource 一个主机（或集群节点）本周期的 agent 数据
type agentSource struct {
	host   *Host
	result parser.Result
	err    error
}

// nodeData 一个节点提供的分段数据
type nodeData struct {
	node   string
	rows   [][]string
	tables [][][]string
}

// sectionData 按分段名备忘的数据
type sectionData struct {
	nodes     []nodeData
	cacheInfo *parser.CacheInfo
	skip      bool // SNMP 检查间隔未到
}

// Cycle 一个主机的一次检查周期，不可复用
type Cycle struct {
	engine *Engine
	host   *Host
	start  time.Time
	times  cpuTimes
	sink   submit.Sink

	agent     *fetcher.AgentFetcher
	nodeAgent *fetcher.AgentFetcher
	snmp      *snmp.Fetcher
	nodeSNMP  *snmp.Fetcher
	items     *itemstate.Store
	parser    *parser.Parser
	persisted *parser.PersistedStore
	piggyback *piggyback.Store

	sources     []*agentSource
	snmpErr     error
	snmpUsed    bool
	sections    map[string]*sectionData
	parseErrors []string

	numSuccess int
	missing    map[string]struct{}
	results    []submit.Result
	pending    []string
	timedOut   bool
}

func newCycle(e *Engine, host *Host, sink submit.Sink) *Cycle {
	cfg := e.cfg
	mode := e.opts.Cache
	cache := cachestore.New(cfg.Paths.CacheDir, mode,
		cachestore.WithClock(e.now), cachestore.WithPrivilegeCheck(e.privileged))
	// 集群节点数据总是允许使用缓存
	nodeMode := mode
	nodeMode.UseCache = true
	nodeCache := cachestore.New(cfg.Paths.CacheDir, nodeMode,
		cachestore.WithClock(e.now), cachestore.WithPrivilegeCheck(e.privileged))

	pb := piggyback.New(cfg.Paths.PiggybackDir, piggyback.WithClock(e.now))
	agentOpts := []fetcher.Option{
		fetcher.WithConnectTimeout(cfg.Check.ConnectTimeout),
		fetcher.WithObserver(e.metrics.observeFetch),
		fetcher.WithClock(e.now),
	}
	snmpOpts := []snmp.Option{
		snmp.WithForce(e.opts.Force),
		snmp.WithObserver(e.metrics.observeFetch),
		snmp.WithClock(e.now),
	}

	return &Cycle{
		engine:    e,
		host:      host,
		sink:      sink,
		agent:     fetcher.NewAgentFetcher(cache, pb, agentOpts...),
		nodeAgent: fetcher.NewAgentFetcher(nodeCache, pb, agentOpts...),
		snmp:      snmp.NewFetcher(cache, e.backend, snmpOpts...),
		nodeSNMP:  snmp.NewFetcher(nodeCache, e.backend, snmpOpts...),
		items: itemstate.New(cfg.Paths.CounterDir,
			itemstate.WithDryRun(e.opts.NoSubmit), itemstate.WithPrivilegeCheck(e.privileged)),
		parser: parser.New(
			parser.WithFallbackEncoding(cfg.Check.DefaultEncoding),
			parser.WithTranslation(e.translator.Translate),
			parser.WithClock(e.now)),
		persisted: parser.NewPersistedStore(cfg.Paths.PersistedDir, e.now, e.privileged),
		piggyback: pb,
		sections:  make(map[string]*sectionData),
		missing:   make(map[string]struct{}),
	}
}

// run 依次执行 Start → FetchSections → RunChecks → SubmitResults → PersistState → End
func (c *Cycle) run(ctx context.Context) *HostResult {
	for p := phaseStart; p != phaseEnd; p = c.step(ctx, p) {
		logger.Debug("check cycle phase", c.host.Name, zap.Stringer("phase", p))
	}
	return c.summarize()
}

func (c *Cycle) step(ctx context.Context, p phase) phase {
	switch p {
	case phaseStart:
		c.start = c.engine.now()
		c.times = readCPUTimes()
		c.items.Load(c.host.Name)
		return phaseFetchSections
	case phaseFetchSections:
		c.fetchSections(ctx)
		return phaseRunChecks
	case phaseRunChecks:
		c.runChecks(ctx)
		return phaseSubmitResults
	case phaseSubmitResults:
		c.submitResults()
		return phasePersistState
	case phasePersistState:
		if err := c.items.Save(c.host.Name); err != nil {
			logger.Warn("cannot save item state", c.host.Name, zap.Error(err))
		}
		return phaseEnd
	default:
		return phaseEnd
	}
}

// fetchHosts 提供分段数据的主机：集群为各节点，否则为主机自身
func (c *Cycle) fetchHosts() []*Host {
	if !c.host.IsCluster() {
		return []*Host{c.host}
	}
	nodes := make([]*Host, 0, len(c.host.Nodes))
	for _, name := range c.host.Nodes {
		if h, ok := c.engine.hosts[name]; ok {
			nodes = append(nodes, h)
		}
	}
	return nodes
}

// fetchSections 获取 agent、piggyback 与持久化分段
func (c *Cycle) fetchSections(ctx context.Context) {
	cfg := c.engine.cfg
	for _, h := range c.fetchHosts() {
		agent, maxAge := c.agent, cfg.Check.MaxCacheAge
		if c.host.IsCluster() {
			agent, maxAge = c.nodeAgent, cfg.Check.ClusterMaxCacheAge
		}

		src := &agentSource{host: h}
		raw, err := agent.Fetch(ctx, h.Agent, maxAge)
		src.err = err
		src.result = c.parser.Parse(raw, h.Name)
		if err == nil {
			if !c.engine.opts.Cache.Simulation {
				if err := c.piggyback.Store(h.Name, src.result.Piggybacked); err != nil {
					logger.Warn("cannot store piggyback data", h.Name, zap.Error(err))
				}
			}
			if err := c.persisted.Merge(h.Name, &src.result, c.engine.opts.Force); err != nil {
				logger.Warn("cannot update persisted sections", h.Name, zap.Error(err))
			}
		}

		piggy, err := agent.FetchPiggyback(h.Name, cfg.Check.PiggybackMaxCacheAge)
		if err != nil {
			logger.Warn("cannot read piggyback data", h.Name, zap.Error(err))
		} else if len(piggy) > 0 {
			src.result.MergeFrom(c.parser.Parse(piggy, h.Name))
		}
		c.sources = append(c.sources, src)
	}
}

// runChecks 按检查表顺序执行检查
func (c *Cycle) runChecks(ctx context.Context) {
	for _, svc := range c.host.Services {
		if ctx.Err() != nil {
			c.timedOut = true
			logger.Warn("check cycle interrupted", c.host.Name, zap.Error(ctx.Err()))
			return
		}
		if !c.periodActive(svc) {
			logger.Debug("skipping service, not in time period", c.host.Name,
				zap.String("service", svc.Description), zap.String("period", svc.CheckPeriod))
			continue
		}
		if c.executeCheck(ctx, svc) {
			c.numSuccess++
		} else {
			c.missing[svc.CheckType] = struct{}{}
		}
	}
}

func (c *Cycle) periodActive(svc Service) bool {
	active, err := c.engine.periods.Active(svc.CheckPeriod, c.engine.now())
	if err != nil {
		logger.Warn("cannot evaluate time period, assuming active", c.host.Name,
			zap.String("period", svc.CheckPeriod), zap.Error(err))
		return true
	}
	return active
}

// executeCheck 执行一个服务的检查，返回是否拿到了数据
func (c *Cycle) executeCheck(ctx context.Context, svc Service) bool {
	p, ok := c.engine.registry.Get(svc.CheckType)
	if !ok {
		c.queue(svc, CheckNotImplemented(), nil)
		return true
	}

	sd := c.section(ctx, p, svc)
	if sd.skip {
		return true
	}
	info := buildInfo(p, sd)
	if info == nil {
		return false
	}
	if p.IsSNMP() && !p.HandleEmptyInfo && infoEmpty(info) {
		return false
	}

	params := svc.Params.Merge(p.DefaultParams)
	section := info
	if p.Parse != nil {
		parsed, err := safeParse(p, info)
		if err != nil {
			c.parseErrors = append(c.parseErrors, p.SectionName())
			c.queue(svc, c.crashResult(svc, params, info, err), sd.cacheInfo)
			return true
		}
		section = parsed
	}

	counters := c.items.Counters(svc.CheckType, svc.Item)
	pctx := &plugins.Context{Host: c.host.Name, Now: c.engine.now(), Counters: counters}
	out, err := safeCheck(p, pctx, svc.Item, params, section)
	if err == nil {
		err = counters.Wrapped()
	}

	switch {
	case errors.Is(err, itemstate.ErrCounterWrapped):
		c.engine.metrics.observeWrap()
		c.pending = append(c.pending, svc.Description)
		logger.Debug("check result pending", c.host.Name,
			zap.String("service", svc.Description), zap.Error(err))
		return true
	case errors.Is(err, plugins.ErrSkip):
		logger.Debug("check result ignored", c.host.Name, zap.String("service", svc.Description))
		return true
	case err != nil:
		c.queue(svc, c.crashResult(svc, params, section, err), sd.cacheInfo)
		return true
	}
	c.queue(svc, Sanitize(out, p.IsSNMP()), sd.cacheInfo)
	return true
}

func (c *Cycle) crashResult(svc Service, params plugins.Params, section any, err error) plugins.Result {
	text := c.engine.crash.Report(Crash{
		Host:      c.host.Name,
		CheckType: svc.CheckType,
		Item:      svc.Item,
		Service:   svc.Description,
		Err:       err,
		Params:    params,
		Section:   section,
	})
	return plugins.Result{State: plugins.Unknown, Text: text}
}

func safeParse(p *plugins.Plugin, info any) (parsed any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newParseFunctionError(p.Name, panicError(r))
		}
	}()
	parsed, err = p.Parse(info)
	if err != nil {
		return nil, newParseFunctionError(p.Name, err)
	}
	return parsed, nil
}

func safeCheck(p *plugins.Plugin, ctx *plugins.Context, item string, params plugins.Params,
	section any) (out plugins.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, panicError(r)
		}
	}()
	out, err = p.Check(ctx, item, params, section)
	if err != nil && !errors.Is(err, itemstate.ErrCounterWrapped) && !errors.Is(err, plugins.ErrSkip) {
		err = errors.WithStack(err)
	}
	return out, err
}

// section 取插件读取的分段，同一周期内按分段名只获取一次
func (c *Cycle) section(ctx context.Context, p *plugins.Plugin, svc Service) *sectionData {
	name := p.SectionName()
	if sd, ok := c.sections[name]; ok {
		return sd
	}
	var sd *sectionData
	if p.IsSNMP() {
		sd = c.snmpSection(ctx, p, svc)
	} else {
		sd = c.agentSection(name)
	}
	c.sections[name] = sd
	return sd
}

func (c *Cycle) agentSection(name string) *sectionData {
	sd := &sectionData{}
	for _, src := range c.sources {
		rows, ok := src.result.Rows(name)
		if !ok {
			continue
		}
		sd.nodes = append(sd.nodes, nodeData{node: c.nodeName(src.host), rows: rows})
		if ci, ok := src.result.CacheInfo[name]; ok {
			sd.mergeCacheInfo(ci)
		}
	}
	return sd
}

func (c *Cycle) snmpSection(ctx context.Context, p *plugins.Plugin, svc Service) *sectionData {
	c.snmpUsed = true
	cfg := c.engine.cfg
	sd := &sectionData{}
	for _, h := range c.fetchHosts() {
		if h.SNMP == nil {
			continue
		}
		f, maxAge := c.snmp, cfg.Check.MaxCacheAge
		if c.host.IsCluster() {
			f, maxAge = c.nodeSNMP, cfg.Check.ClusterMaxCacheAge
		}
		outcome, err := f.FetchTable(ctx, *h.SNMP, p.SectionName(), *p.SNMP, maxAge, svc.Interval)
		if err != nil {
			if c.snmpErr == nil || isRepeatedFailure(c.snmpErr) {
				c.snmpErr = err
			}
			continue
		}
		switch outcome.Status {
		case snmp.StatusSkip:
			sd.skip = true
			return sd
		case snmp.StatusMissing:
			continue
		}
		nd := nodeData{node: c.nodeName(h)}
		for _, t := range outcome.Tables {
			nd.tables = append(nd.tables, [][]string(t))
		}
		sd.nodes = append(sd.nodes, nd)
	}
	return sd
}

// isRepeatedFailure 本周期内重复失败的错误不带原因，优先保留第一次失败的原因
func isRepeatedFailure(err error) bool {
	var unreachable *snmp.UnreachableError
	return errors.As(err, &unreachable) && unreachable.Reason == ""
}

func (c *Cycle) nodeName(h *Host) string {
	if c.host.IsCluster() {
		return h.Name
	}
	return ""
}

func (sd *sectionData) mergeCacheInfo(ci parser.CacheInfo) {
	if sd.cacheInfo == nil {
		sd.cacheInfo = &ci
		return
	}
	merged := sd.cacheInfo.Merge(ci)
	sd.cacheInfo = &merged
}

// buildInfo 按插件声明拼接各节点的原始数据，没有任何节点提供数据时返回 nil
func buildInfo(p *plugins.Plugin, sd *sectionData) any {
	if len(sd.nodes) == 0 {
		return nil
	}
	if p.IsSNMP() && p.SNMP.Multi {
		tables := make([][][]string, len(p.SNMP.Tables))
		for _, nd := range sd.nodes {
			for i, t := range nd.tables {
				if i < len(tables) {
					tables[i] = append(tables[i], withNode(p, nd.node, t)...)
				}
			}
		}
		return tables
	}

	rows := [][]string{}
	for _, nd := range sd.nodes {
		src := nd.rows
		if p.IsSNMP() {
			if len(nd.tables) == 0 {
				continue
			}
			src = nd.tables[0]
		}
		rows = append(rows, withNode(p, nd.node, src)...)
	}
	return rows
}

func withNode(p *plugins.Plugin, node string, rows [][]string) [][]string {
	if !p.NodeInfo {
		return rows
	}
	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, append([]string{node}, row...))
	}
	return out
}

func infoEmpty(info any) bool {
	switch v := info.(type) {
	case [][]string:
		return len(v) == 0
	case [][][]string:
		for _, t := range v {
			if len(t) > 0 {
				return false
			}
		}
		return true
	default:
		return info == nil
	}
}

func (c *Cycle) queue(svc Service, r plugins.Result, ci *parser.CacheInfo) {
	c.engine.metrics.observeService(c.host.Name, svc.Description, r.State)
	c.results = append(c.results, submit.Result{
		Host:      c.host.Name,
		Service:   svc.Description,
		State:     r.State,
		Text:      r.Text,
		Metrics:   r.Metrics,
		CacheInfo: ci,
		Time:      c.engine.now(),
	})
}

func (c *Cycle) submitResults() {
	for _, r := range c.results {
		if err := c.sink.Submit(r); err != nil {
			logger.Error("cannot submit check result", c.host.Name,
				zap.String("service", r.Service), zap.Error(err))
		}
	}
	if err := c.sink.Close(); err != nil {
		logger.Error("cannot close result sink", c.host.Name, zap.Error(err))
	}
}

// missingPlugins 本周期没有拿到数据的检查类型，按名称排序
func (c *Cycle) missingPlugins() []string {
	out := make([]string, 0, len(c.missing))
	for name := range c.missing {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
