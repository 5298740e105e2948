package checking

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agent-checker/internal/plugins"
)

func TestSanitizeSingleResult(t *testing.T) {
	r := plugins.Result{State: plugins.Warn, Text: "disk full"}
	assert.Equal(t, r, Sanitize(r, false))
}

func TestSanitizeSubResults(t *testing.T) {
	out := plugins.Results{
		{State: plugins.OK, Text: "all good", Metrics: []plugins.Metric{{Name: "a", Value: 1}}},
		{State: plugins.Unknown, Text: "strange"},
		{State: plugins.Crit, Text: "broken", Metrics: []plugins.Metric{{Name: "b", Value: 2}}},
		{State: plugins.Warn, Text: "meh"},
	}
	r := Sanitize(out, false)
	assert.Equal(t, plugins.Crit, r.State)
	assert.Equal(t, "all good, strange(?), broken(!!), meh(!)", r.Text)
	assert.Equal(t, []plugins.Metric{{Name: "a", Value: 1}, {Name: "b", Value: 2}}, r.Metrics)
}

func TestSanitizePerfdataOnlySubResults(t *testing.T) {
	out := plugins.Results{
		{State: plugins.OK, Metrics: []plugins.Metric{{Name: "load", Value: 1}, {Name: "extra", Value: 9}}},
		{State: plugins.Warn, Text: "load high", Metrics: []plugins.Metric{{Name: "load", Value: 5}}},
		{State: plugins.OK, Text: "again", Metrics: []plugins.Metric{{Name: "load", Value: 7}}},
	}
	r := Sanitize(out, false)
	assert.Equal(t, plugins.Warn, r.State)
	assert.Equal(t, "load high(!), again", r.Text)
	assert.Equal(t, []plugins.Metric{{Name: "load", Value: 5}, {Name: "extra", Value: 9}}, r.Metrics)
}

func TestSanitizeNoResult(t *testing.T) {
	assert.Equal(t, ItemNotFound(true), Sanitize(nil, true))
	assert.Equal(t, ItemNotFound(false), Sanitize(plugins.Results{}, false))
	assert.Equal(t, "Item not found in SNMP data", ItemNotFound(true).Text)
	assert.Equal(t, plugins.Unknown, ItemNotFound(false).State)
}

func TestMissingData(t *testing.T) {
	spec := ExitSpec{
		EmptyOutput:     plugins.Crit,
		MissingSections: plugins.Warn,
		Specific: []SpecificMissing{
			{Pattern: regexp.MustCompile("^if"), State: plugins.Crit},
		},
	}

	state, text := spec.missingData([]string{"df"}, false)
	assert.Equal(t, plugins.Crit, state)
	assert.Equal(t, "Got no information from host", text)

	state, text = spec.missingData([]string{"df", "if64", "mem.used"}, true)
	assert.Equal(t, plugins.Crit, state)
	assert.Equal(t, "Missing monitoring data for check plugins: df, mem.used(!), if64(!!)", text)

	state, text = spec.missingData([]string{"df"}, true)
	assert.Equal(t, plugins.Warn, state)
	assert.Equal(t, "Missing monitoring data for check plugins: df(!)", text)
}

func TestAgentInfo(t *testing.T) {
	info := agentInfo([][]string{{"Version:", "2.0", "p1"}, {"AgentOS:", "linux"}, {"OnlyFrom:"}})
	assert.Equal(t, "2.0 p1", *info["version"])
	assert.Equal(t, "linux", *info["agentos"])
	assert.Nil(t, info["onlyfrom"])

	info = agentInfo(nil)
	assert.Equal(t, "unknown", *info["version"])
}
