// Package parser 把 agent 原始输出切分为命名 section，并处理 piggyback 转发与持久化 section。
package parser

// Window 持久化窗口
type Window struct {
	CachedAt int64
	Until    int64
}

// Section 一个命名的表格数据块
type Section struct {
	Name      string
	Rows      [][]string
	Separator rune // 0 表示按任意空白分隔
	Encoding  string
	NoStrip   bool
	Window    *Window
}

// CacheInfo section 的缓存元数据
type CacheInfo struct {
	CachedAt int64 `json:"cached_at"`
	Interval int64 `json:"interval"`
}

// Merge 聚合两个缓存信息：最早的 cached_at，最大的 interval
func (c CacheInfo) Merge(other CacheInfo) CacheInfo {
	out := c
	if other.CachedAt < out.CachedAt {
		out.CachedAt = other.CachedAt
	}
	if other.Interval > out.Interval {
		out.Interval = other.Interval
	}
	return out
}

// Persisted 需要跨周期保留的 section
type Persisted struct {
	CachedAt int64      `json:"cached_at"`
	Until    int64      `json:"until"`
	Rows     [][]string `json:"rows"`
}

// Result 一次解析的结果
type Result struct {
	Sections    map[string]*Section
	Piggybacked map[string][]string
	Persist     map[string]Persisted
	CacheInfo   map[string]CacheInfo
}

func newResult() Result {
	return Result{
		Sections:    make(map[string]*Section),
		Piggybacked: make(map[string][]string),
		Persist:     make(map[string]Persisted),
		CacheInfo:   make(map[string]CacheInfo),
	}
}

// Rows 返回 section 的行，不存在时 ok=false
func (r Result) Rows(name string) ([][]string, bool) {
	s, ok := r.Sections[name]
	if !ok {
		return nil, false
	}
	return s.Rows, true
}

// MergeFrom 合并另一个数据源的解析结果（例如 piggyback 数据源），同名 section 行追加
func (r *Result) MergeFrom(other Result) {
	for name, sec := range other.Sections {
		if mine, ok := r.Sections[name]; ok {
			mine.Rows = append(mine.Rows, sec.Rows...)
			continue
		}
		r.Sections[name] = sec
	}
	for target, lines := range other.Piggybacked {
		r.Piggybacked[target] = append(r.Piggybacked[target], lines...)
	}
	for name, p := range other.Persist {
		r.Persist[name] = p
	}
	for name, ci := range other.CacheInfo {
		if mine, ok := r.CacheInfo[name]; ok {
			r.CacheInfo[name] = mine.Merge(ci)
			continue
		}
		r.CacheInfo[name] = ci
	}
}
