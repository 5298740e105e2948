package checking

import (
	"fmt"
	"regexp"

	"github.com/agent-checker/internal/plugins"
	"github.com/agent-checker/pkg/config"
)

// ExitSpec 主机检查的状态映射
type ExitSpec struct {
	Connection      plugins.State
	Timeout         plugins.State
	Exception       plugins.State
	WrongVersion    plugins.State
	MissingSections plugins.State
	EmptyOutput     plugins.State
	Specific        []SpecificMissing
}

// SpecificMissing 检查类型匹配 Pattern 时缺失数据使用 State
type SpecificMissing struct {
	Pattern *regexp.Regexp
	State   plugins.State
}

// NewExitSpec 编译状态映射配置
func NewExitSpec(c config.ExitSpecConfig) (ExitSpec, error) {
	spec := ExitSpec{
		Connection:      plugins.State(c.Connection),
		Timeout:         plugins.State(c.Timeout),
		Exception:       plugins.State(c.Exception),
		WrongVersion:    plugins.State(c.WrongVersion),
		MissingSections: plugins.State(c.MissingSections),
		EmptyOutput:     plugins.State(c.EmptyOutput),
	}
	for _, s := range c.SpecificMissingSections {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return ExitSpec{}, fmt.Errorf("specific missing section pattern %q: %w", s.Pattern, err)
		}
		spec.Specific = append(spec.Specific, SpecificMissing{Pattern: re, State: plugins.State(s.State)})
	}
	return spec, nil
}

// missingData 根据缺失数据的检查类型计算主机状态与文本。
// success 为 false 表示本周期没有任何检查拿到数据。
func (s ExitSpec) missingData(missing []string, success bool) (plugins.State, string) {
	if !success {
		return s.EmptyOutput, "Got no information from host"
	}

	specific := make(map[string]plugins.State)
	var generic []string
	for _, checkType := range missing {
		matched := false
		for _, sm := range s.Specific {
			if sm.Pattern.MatchString(checkType) {
				specific[checkType] = sm.State
				matched = true
				break
			}
		}
		if !matched {
			generic = append(generic, checkType)
		}
	}

	var state plugins.State
	text := ""
	if len(generic) > 0 {
		state = s.MissingSections
		text = "Missing monitoring data for check plugins: " + joinComma(generic) + s.MissingSections.Marker()
	}
	for _, checkType := range missing {
		st, ok := specific[checkType]
		if !ok {
			continue
		}
		if text != "" {
			text += ", "
		}
		text += checkType + st.Marker()
		if st > state {
			state = st
		}
	}
	return state, text
}
