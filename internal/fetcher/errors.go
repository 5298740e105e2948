package fetcher

import "fmt"

// AgentError agent 数据不可达（TCP/程序/SSH 失败、输出为空或过短、解密失败）。
// Reason 为空表示本周期内该主机已经失败过一次。
type AgentError struct {
	Host    string
	Reason  string
	Timeout bool
	Empty   bool // agent 没有输出任何数据
}

func (e *AgentError) Error() string {
	if e.Reason == "" {
		return "agent of " + e.Host + " already failed in this cycle"
	}
	return e.Reason
}

type emptyOutputError struct {
	port int
}

func (e *emptyOutputError) Error() string {
	return fmt.Sprintf("Empty output from agent at TCP port %d", e.port)
}
