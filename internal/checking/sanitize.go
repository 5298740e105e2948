package checking

import (
	"strings"

	"github.com/agent-checker/internal/plugins"
)

const (
	itemNotFoundSNMP  = "Item not found in SNMP data"
	itemNotFoundAgent = "Item not found in agent output"
	notImplemented    = "Check plugin not implemented"
)

// ItemNotFound 检查未产生结果时的固定结果
func ItemNotFound(isSNMP bool) plugins.Result {
	if isSNMP {
		return plugins.Result{State: plugins.Unknown, Text: itemNotFoundSNMP}
	}
	return plugins.Result{State: plugins.Unknown, Text: itemNotFoundAgent}
}

// CheckNotImplemented 检查类型没有注册插件
func CheckNotImplemented() plugins.Result {
	return plugins.Result{State: plugins.Unknown, Text: notImplemented}
}

// Sanitize 把检查函数的输出规整为一个结果。
//
// 多个子结果时状态取最差（CRIT 优先），非空文本带状态标记后用 ", " 连接，
// 性能数据按出现顺序合并；同名指标以带文本的子结果为准，否则保留第一个。
// nil 或空序列返回 ItemNotFound。
func Sanitize(out plugins.Output, isSNMP bool) plugins.Result {
	switch r := out.(type) {
	case plugins.Result:
		return r
	case plugins.Results:
		if len(r) == 0 {
			return ItemNotFound(isSNMP)
		}
		return merge(r)
	default:
		return ItemNotFound(isSNMP)
	}
}

// metricSlot 合并时指标在结果中的位置
type metricSlot struct {
	idx     int
	hasText bool
}

func merge(results plugins.Results) plugins.Result {
	state := plugins.OK
	var texts []string
	var metrics []plugins.Metric
	seen := make(map[string]metricSlot)
	for _, sub := range results {
		state = plugins.Worst(state, sub.State)
		hasText := sub.Text != ""
		if hasText {
			texts = append(texts, sub.Text+sub.State.Marker())
		}
		for _, m := range sub.Metrics {
			slot, ok := seen[m.Name]
			switch {
			case !ok:
				seen[m.Name] = metricSlot{idx: len(metrics), hasText: hasText}
				metrics = append(metrics, m)
			case hasText && !slot.hasText:
				metrics[slot.idx] = m
				seen[m.Name] = metricSlot{idx: slot.idx, hasText: true}
			}
		}
	}
	return plugins.Result{State: state, Text: strings.Join(texts, ", "), Metrics: metrics}
}

func joinComma(items []string) string {
	return strings.Join(items, ", ")
}
