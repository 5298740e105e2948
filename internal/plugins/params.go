package plugins

import (
	"maps"

	"github.com/spf13/cast"
)

// Params 检查参数，来源于配置文件，数值类型不固定，读取时统一转换
type Params map[string]any

// Merge 返回 p 覆盖默认值 defaults 后的新参数
func (p Params) Merge(defaults Params) Params {
	out := make(Params, len(defaults)+len(p))
	maps.Copy(out, defaults)
	maps.Copy(out, p)
	return out
}

// Float 读取浮点参数，缺失或无法转换时返回 def
func (p Params) Float(key string, def float64) float64 {
	v, ok := p[key]
	if !ok {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}
	return f
}

// Int 读取整数参数
func (p Params) Int(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	i, err := cast.ToIntE(v)
	if err != nil {
		return def
	}
	return i
}

// String 读取字符串参数
func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return s
}

// Bool 读取布尔参数
func (p Params) Bool(key string, def bool) bool {
	v, ok := p[key]
	if !ok {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

// Levels 读取 [warn, crit] 阈值对
func (p Params) Levels(key string, defWarn, defCrit float64) (warn, crit float64) {
	v, ok := p[key]
	if !ok {
		return defWarn, defCrit
	}
	values, err := cast.ToSliceE(v)
	if err != nil || len(values) != 2 {
		return defWarn, defCrit
	}
	w, err1 := cast.ToFloat64E(values[0])
	c, err2 := cast.ToFloat64E(values[1])
	if err1 != nil || err2 != nil {
		return defWarn, defCrit
	}
	return w, c
}
