package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agent-checker/internal/checking"
	"github.com/agent-checker/pkg/logger"
)

// Checker 执行一个主机的检查周期
type Checker interface {
	Check(ctx context.Context, host string) (*checking.HostResult, error)
}

// HostCollector 把一个主机的检查周期包装成调度单元。同一主机的周期不会重叠执行。
type HostCollector struct {
	host    string
	checker Checker

	running sync.Mutex
	mu      sync.RWMutex
	last    *checking.HostResult
	at      time.Time
}

// Status /hosts 端点输出的主机状态
type Status struct {
	Host      string          `json:"host"`
	State     string          `json:"state"`
	Output    string          `json:"output"`
	Services  []ServiceStatus `json:"services"`
	Pending   []string        `json:"pending,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
}

// ServiceStatus 单个服务的提交结果，cached_at/cache_interval 为聚合后的数据缓存信息
type ServiceStatus struct {
	Service       string `json:"service"`
	State         string `json:"state"`
	Output        string `json:"output"`
	CachedAt      int64  `json:"cached_at,omitempty"`
	CacheInterval int64  `json:"cache_interval,omitempty"`
}

// NewHostCollector 创建主机调度单元
func NewHostCollector(host string, checker Checker) *HostCollector {
	return &HostCollector{host: host, checker: checker}
}

func (h *HostCollector) Name() string { return h.host }

func (h *HostCollector) Init() error { return nil }

// Collect 执行一次检查周期；上一次周期仍在运行时直接跳过
func (h *HostCollector) Collect(ctx context.Context) error {
	if !h.running.TryLock() {
		logger.Debug("previous check cycle still running, skip", h.host)
		return nil
	}
	defer h.running.Unlock()

	res, err := h.checker.Check(ctx, h.host)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.last = res
	h.at = time.Now()
	h.mu.Unlock()
	logger.Debug("check cycle done", h.host, zap.String("output", res.Output()))
	return nil
}

func (h *HostCollector) Close() error { return nil }

// Last 最近一次完成的检查结果，尚未执行时为 nil
func (h *HostCollector) Last() *checking.HostResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Status 最近一次结果的快照，尚未执行时 ok 为 false
func (h *HostCollector) Status() (Status, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return Status{Host: h.host}, false
	}
	return Status{
		Host:      h.host,
		State:     h.last.State.String(),
		Output:    h.last.Output(),
		Services:  serviceStatuses(h.last),
		Pending:   h.last.Pending,
		CheckedAt: h.at,
	}, true
}

func serviceStatuses(res *checking.HostResult) []ServiceStatus {
	out := make([]ServiceStatus, 0, len(res.Services))
	for _, r := range res.Services {
		st := ServiceStatus{Service: r.Service, State: r.State.String(), Output: r.Output()}
		if r.CacheInfo != nil {
			st.CachedAt = r.CacheInfo.CachedAt
			st.CacheInterval = r.CacheInfo.Interval
		}
		out = append(out, st)
	}
	return out
}
