// Package fetcher 获取主机的原始 agent 数据：TCP、外部程序、SSH、本机采集以及 piggyback。
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/agent-checker/internal/cachestore"
	"github.com/agent-checker/internal/piggyback"
	"github.com/agent-checker/pkg/logger"
)

// Datasource 主机数据源类型
type Datasource string

const (
	DatasourceTCP     Datasource = "tcp"
	DatasourceProgram Datasource = "program"
	DatasourceSSH     Datasource = "ssh"
	DatasourceLocal   Datasource = "local"
	DatasourceNone    Datasource = "none"
)

// minAgentOutput TCP agent 输出的最小长度
const minAgentOutput = 16

// Source 一种原始数据来源
type Source interface {
	Describe() string
	Fetch(ctx context.Context) ([]byte, error)
}

// HostSpec 获取 agent 数据所需的主机信息
type HostSpec struct {
	Name       string
	Address    string
	Datasource Datasource
	Port       int
	Program    string
	SSH        SSHSettings
	Encryption Encryption
}

// Observer 每次实际访问数据源后回调，用于指标统计
type Observer func(source string, elapsed time.Duration, err error)

// AgentFetcher 单个主机检查周期内使用的 agent 数据获取器，不可跨周期复用
type AgentFetcher struct {
	cache          *cachestore.Store
	piggyback      *piggyback.Store
	connectTimeout time.Duration
	observe        Observer
	now            func() time.Time
	newSource      func(HostSpec) (Source, error)

	broken map[string]bool
}

// Option AgentFetcher 可选项
type Option func(*AgentFetcher)

// WithConnectTimeout TCP/SSH 连接超时
func WithConnectTimeout(d time.Duration) Option {
	return func(f *AgentFetcher) { f.connectTimeout = d }
}

// WithObserver 设置数据源访问回调
func WithObserver(o Observer) Option {
	return func(f *AgentFetcher) { f.observe = o }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(f *AgentFetcher) { f.now = now }
}

// WithSourceFactory 替换数据源构造函数（测试用）
func WithSourceFactory(fn func(HostSpec) (Source, error)) Option {
	return func(f *AgentFetcher) { f.newSource = fn }
}

// NewAgentFetcher 创建 agent 数据获取器
func NewAgentFetcher(cache *cachestore.Store, pb *piggyback.Store, opts ...Option) *AgentFetcher {
	f := &AgentFetcher{
		cache:          cache,
		piggyback:      pb,
		connectTimeout: 5 * time.Second,
		observe:        func(string, time.Duration, error) {},
		now:            time.Now,
		broken:         make(map[string]bool),
	}
	f.newSource = f.defaultSource
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *AgentFetcher) defaultSource(spec HostSpec) (Source, error) {
	switch spec.Datasource {
	case DatasourceProgram:
		return &programSource{commandLine: ExpandMacros(spec.Program, spec.Name, spec.Address)}, nil
	case DatasourceSSH:
		settings := spec.SSH
		if settings.Timeout == 0 {
			settings.Timeout = f.connectTimeout
		}
		if settings.User == "" {
			settings.User = os.Getenv("USER")
		}
		return &sshSource{address: spec.Address, settings: settings}, nil
	case DatasourceLocal:
		return &localSource{now: f.now}, nil
	case DatasourceTCP, "":
		port := spec.Port
		if port == 0 {
			port = DefaultAgentPort
		}
		return &tcpSource{address: spec.Address, port: port, connectTimeout: f.connectTimeout}, nil
	default:
		return nil, fmt.Errorf("unknown datasource %q", spec.Datasource)
	}
}

// Broken 主机在本周期内是否已经获取失败
func (f *AgentFetcher) Broken(host string) bool {
	return f.broken[host]
}

// Fetch 获取主机 agent 输出：先读缓存，未命中时访问数据源并回写缓存。
// 失败返回 *AgentError；同一周期内已失败的主机直接返回 Reason 为空的 *AgentError。
// 数据源为 none 的主机返回空数据。
func (f *AgentFetcher) Fetch(ctx context.Context, spec HostSpec, maxCacheAge time.Duration) ([]byte, error) {
	if f.broken[spec.Name] {
		return nil, &AgentError{Host: spec.Name}
	}
	if spec.Datasource == DatasourceNone {
		return nil, nil
	}

	key := cachestore.Key{Host: spec.Name}
	data, err := f.cache.Read(key, maxCacheAge)
	if err == nil {
		logger.Debug("using cached agent output", spec.Name, zap.Int("bytes", len(data)))
		return data, nil
	}
	var unreachable *cachestore.UnreachableError
	if errors.As(err, &unreachable) {
		reason := "Host is unreachable, no usable cache file present"
		if f.cache.Mode().Simulation {
			reason = "Simulation mode and no cachefile present."
		}
		return nil, f.fail(spec.Name, &AgentError{Reason: reason})
	}

	source, err := f.newSource(spec)
	if err != nil {
		return nil, f.fail(spec.Name, &AgentError{Reason: err.Error()})
	}

	start := f.now()
	data, err = source.Fetch(ctx)
	elapsed := f.now().Sub(start)
	if err == nil {
		data, err = f.validate(spec, data)
	}
	f.observe(string(datasourceOrDefault(spec.Datasource)), elapsed, err)
	if err != nil {
		var empty *emptyOutputError
		agentErr := &AgentError{
			Reason:  err.Error(),
			Timeout: errors.Is(err, context.DeadlineExceeded),
			Empty:   errors.As(err, &empty),
		}
		logger.Warn("agent fetch failed", spec.Name,
			zap.String("source", source.Describe()), zap.Bool("timeout", agentErr.Timeout), zap.Error(err))
		return nil, f.fail(spec.Name, agentErr)
	}

	if err := f.cache.Write(key, data); err != nil {
		logger.Warn("cannot write agent cache", spec.Name, zap.Error(err))
	}
	return data, nil
}

// validate 检查 TCP 输出长度并按策略解密
func (f *AgentFetcher) validate(spec HostSpec, data []byte) ([]byte, error) {
	if datasourceOrDefault(spec.Datasource) != DatasourceTCP {
		return data, nil
	}
	port := spec.Port
	if port == 0 {
		port = DefaultAgentPort
	}
	if len(data) == 0 {
		return nil, &emptyOutputError{port: port}
	}
	if len(data) < minAgentOutput {
		return nil, fmt.Errorf("Too short output from agent: %q", data)
	}
	return applyEncryption(data, spec.Encryption)
}

func (f *AgentFetcher) fail(host string, err *AgentError) error {
	f.broken[host] = true
	err.Host = host
	return err
}

// FetchPiggyback 读取其他主机转发给 host 的数据，不经过缓存
func (f *AgentFetcher) FetchPiggyback(host string, maxAge time.Duration) ([]byte, error) {
	if f.piggyback == nil {
		return nil, nil
	}
	data, err := f.piggyback.Get(host, maxAge)
	if err != nil {
		return nil, fmt.Errorf("read piggyback data for %s: %w", host, err)
	}
	return data, nil
}

func datasourceOrDefault(d Datasource) Datasource {
	if d == "" {
		return DatasourceTCP
	}
	return d
}
