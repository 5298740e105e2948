package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryRegistersCheckerMetrics(t *testing.T) {
	reg := NewPromRegistry(prometheus.NewRegistry())
	f := NewMetricFactory(reg)

	f.NewFetchErrorsTotal().WithLabelValues("tcp").Inc()
	f.NewCheckResultsTotal().WithLabelValues("OK").Add(2)
	f.NewHostState().WithLabelValues("web01").Set(2)
	f.NewCounterWrapsTotal().Inc()
	f.NewFetchDurationSeconds().WithLabelValues("snmp").Observe(0.2)
	f.NewCycleDurationSeconds().Observe(1)
	f.NewServiceState().WithLabelValues("web01", "CPU load").Set(0)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.ElementsMatch(t, []string{
		"checker_fetch_errors_total",
		"checker_check_results_total",
		"checker_host_state",
		"checker_counter_wraps_total",
		"checker_fetch_duration_seconds",
		"checker_cycle_duration_seconds",
		"checker_service_state",
	}, names)

	count, err := testutil.GatherAndCount(reg, "checker_check_results_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFactoryPanicsOnDuplicate(t *testing.T) {
	f := NewMetricFactory(NewPromRegistry(prometheus.NewRegistry()))
	f.NewHostState()
	assert.Panics(t, func() { f.NewHostState() })
}
