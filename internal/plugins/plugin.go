// Package plugins 定义检查插件描述符与注册表，并提供内置检查。
package plugins

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agent-checker/internal/itemstate"
	"github.com/agent-checker/internal/snmp"
)

// Context 单次检查调用的上下文
type Context struct {
	Host     string
	Now      time.Time
	Counters *itemstate.Counters
}

// ParseFunc 把原始分段数据转换成检查使用的结构
type ParseFunc func(info any) (any, error)

// ErrSkip 检查函数返回它表示本周期忽略结果，既不提交也不算作缺失数据
var ErrSkip = errors.New("no service summary available")

// CheckFunc 检查函数。返回的 error 若为计数器回绕则本周期挂起，其他 error 视为检查崩溃。
type CheckFunc func(ctx *Context, item string, params Params, section any) (Output, error)

// Plugin 检查插件描述符
//
// 原始分段数据的类型：agent 分段与单表 SNMP 为 [][]string，多表 SNMP 为 [][][]string。
// NodeInfo 插件在每行前附加节点名（非集群主机为空字符串）。
type Plugin struct {
	Name            string
	Section         string
	Service         string
	SNMP            *snmp.Spec
	Parse           ParseFunc
	Check           CheckFunc
	HandleEmptyInfo bool
	NodeInfo        bool
	DefaultParams   Params
}

// SectionName 插件读取的分段名，未声明时取检查类型点号前的部分
func (p *Plugin) SectionName() string {
	if p.Section != "" {
		return p.Section
	}
	name, _, _ := strings.Cut(p.Name, ".")
	return name
}

// IsSNMP 是否基于 SNMP
func (p *Plugin) IsSNMP() bool {
	return p.SNMP != nil
}

// ServiceDescription 服务名，模板中的 %s 替换为 item
func (p *Plugin) ServiceDescription(item string) string {
	tmpl := p.Service
	if tmpl == "" {
		tmpl = p.Name
		if item != "" {
			tmpl += " %s"
		}
	}
	if strings.Contains(tmpl, "%s") {
		return fmt.Sprintf(tmpl, item)
	}
	return tmpl
}

// Registry 检查类型到描述符的只读映射，启动时构建
type Registry struct {
	plugins map[string]*Plugin
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]*Plugin)}
}

// Register 注册插件，重复注册返回错误
func (r *Registry) Register(p *Plugin) error {
	if p.Name == "" {
		return fmt.Errorf("plugin without name")
	}
	if p.Check == nil {
		return fmt.Errorf("plugin %s has no check function", p.Name)
	}
	if _, exists := r.plugins[p.Name]; exists {
		return fmt.Errorf("plugin %s already registered", p.Name)
	}
	r.plugins[p.Name] = p
	return nil
}

// MustRegister 注册插件，失败时 panic
func (r *Registry) MustRegister(plugins ...*Plugin) {
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

// Get 查找插件
func (r *Registry) Get(name string) (*Plugin, bool) {
	p, ok := r.plugins[name]
	return p, ok
}

// Names 已注册的检查类型，按名称排序
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default 带内置检查的注册表
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister(
		uptimePlugin(),
		cpuLoadsPlugin(),
		memUsedPlugin(),
		dfPlugin(),
		kernelRatesPlugin(),
		cpuUtilPlugin(),
		localPlugin(),
		snmpUptimePlugin(),
		snmpInfoPlugin(),
	)
	return r
}
