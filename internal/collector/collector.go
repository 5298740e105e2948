// Package collector 按固定间隔调度主机检查周期，使用有界 worker 池并发执行。
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/agent-checker/pkg/logger"
)

// Collector 调度单元接口（每个被监控主机一个）
type Collector interface {
	Name() string                      // 唯一标识（主机名）
	Init() error                       // 初始化
	Collect(ctx context.Context) error // 执行一次检查周期
	Close() error                      // 释放资源
}

// Agent 顶层调度接口
type Agent interface {
	Register(collector Collector)
	Start(ctx context.Context)
	Shutdown(ctx context.Context) error
}

var _ Agent = (*Registry)(nil)

const registryName = "collector-registry"

// Registry 采集器注册器，周期性地在 worker 池上执行全部采集器
type Registry struct {
	mu         sync.RWMutex
	collectors []Collector
	interval   time.Duration
	workers    int
	ticker     *time.Ticker
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewRegistry 创建采集器注册器，workers 为并发执行的主机数上限
func NewRegistry(interval time.Duration, workers int) *Registry {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		collectors: make([]Collector, 0),
		interval:   interval,
		workers:    workers,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// GetRegisteredCollectors 返回所有已注册的采集器（副本）
func (r *Registry) GetRegisteredCollectors() []Collector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	copied := make([]Collector, len(r.collectors))
	copy(copied, r.collectors)
	return copied
}

// Register 注册采集器，名称重复时忽略
func (r *Registry) Register(c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.collectors {
		if existing.Name() == c.Name() {
			logger.Warn("collector already registered, skip", c.Name())
			return
		}
	}
	r.collectors = append(r.collectors, c)
	logger.Debug("registered collector", c.Name())
}

// Lookup 按名称查找采集器
func (r *Registry) Lookup(name string) (Collector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.collectors {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Start 初始化全部采集器并启动定时循环，外部 ctx 或 Shutdown 都会终止循环
func (r *Registry) Start(ctx context.Context) {
	if err := r.InitAll(); err != nil {
		logger.Fatal("failed to init all collectors", registryName, zap.Error(err))
	}

	r.ticker = time.NewTicker(r.interval)
	logger.Info("scheduler started", registryName,
		zap.Duration("interval", r.interval),
		zap.Int("workers", r.workers),
		zap.Int("hosts", len(r.GetRegisteredCollectors())))

	runCtx, stop := context.WithCancel(ctx)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer stop()
		go func() {
			select {
			case <-r.ctx.Done():
				stop()
			case <-runCtx.Done():
			}
		}()

		if err := r.CollectAll(runCtx); err != nil {
			logger.Warn("first check round had failures", registryName, zap.Error(err))
		}
		for {
			select {
			case <-r.ticker.C:
				if err := r.CollectAll(runCtx); err != nil {
					logger.Warn("check round had failures", registryName, zap.Error(err))
				}
			case <-runCtx.Done():
				r.ticker.Stop()
				logger.Info("scheduler stopped", registryName, zap.Error(runCtx.Err()))
				return
			}
		}
	}()
}

// Trigger 立即在后台执行一个采集器，不等待下一个周期
func (r *Registry) Trigger(ctx context.Context, name string) bool {
	c, ok := r.Lookup(name)
	if !ok {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := c.Collect(ctx); err != nil {
			logger.Warn("triggered check failed", name, zap.Error(err))
		}
	}()
	return true
}

// Shutdown 停止定时循环，等待进行中的周期结束后关闭全部采集器
func (r *Registry) Shutdown(ctx context.Context) error {
	logger.Info("shutting down scheduler", registryName)
	if r.ticker != nil {
		r.ticker.Stop()
	}
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("timed out waiting for running checks", registryName, zap.Error(ctx.Err()))
	}
	return r.CloseAll()
}

// InitAll 初始化全部采集器，任一失败即返回
func (r *Registry) InitAll() error {
	for _, c := range r.GetRegisteredCollectors() {
		if err := c.Init(); err != nil {
			logger.Error("failed to init collector", c.Name(), zap.Error(err))
			return fmt.Errorf("collector %s init failed: %w", c.Name(), err)
		}
	}
	return nil
}

// CollectAll 在 worker 池上执行全部采集器，单个失败不影响其他主机
func (r *Registry) CollectAll(ctx context.Context) error {
	p := pool.New().WithMaxGoroutines(r.workers).WithContext(ctx)
	for _, c := range r.GetRegisteredCollectors() {
		p.Go(func(ctx context.Context) error {
			if err := c.Collect(ctx); err != nil {
				logger.Warn("collection failed", c.Name(), zap.Error(err))
				return fmt.Errorf("%s: %w", c.Name(), err)
			}
			return nil
		})
	}
	return p.Wait()
}

// CloseAll 关闭全部采集器，返回最后一个错误
func (r *Registry) CloseAll() error {
	var lastErr error
	for _, c := range r.GetRegisteredCollectors() {
		if err := c.Close(); err != nil {
			logger.Error("failed to close collector", c.Name(), zap.Error(err))
			lastErr = err
		}
	}
	return lastErr
}
