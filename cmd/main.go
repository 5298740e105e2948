package main

import (
	"github.com/agent-checker/cmd/agent"
)

func main() {
	agent.Execute()
}
