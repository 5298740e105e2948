package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// -------------------------- 数据获取指标 --------------------------

// NewFetchDurationSeconds 数据源访问耗时，source 取 tcp/program/ssh/local/snmp
func (f *MetricFactory) NewFetchDurationSeconds() *prometheus.HistogramVec {
	return promauto.With(f.reg).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checker_fetch_duration_seconds",
			Help:    "Duration of data source fetches",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s ~ 20s
		},
		[]string{"source"},
	)
}

// NewFetchErrorsTotal 数据源访问失败次数
func (f *MetricFactory) NewFetchErrorsTotal() *prometheus.CounterVec {
	return promauto.With(f.reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "checker_fetch_errors_total",
			Help: "Total number of failed data source fetches",
		},
		[]string{"source"},
	)
}

// -------------------------- 检查执行指标 --------------------------

// NewCheckResultsTotal 提交的服务结果数，按状态区分
func (f *MetricFactory) NewCheckResultsTotal() *prometheus.CounterVec {
	return promauto.With(f.reg).NewCounterVec(
		prometheus.CounterOpts{
			Name: "checker_check_results_total",
			Help: "Total number of submitted service results by state",
		},
		[]string{"state"},
	)
}

// NewCycleDurationSeconds 主机检查周期耗时
func (f *MetricFactory) NewCycleDurationSeconds() prometheus.Histogram {
	return promauto.With(f.reg).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checker_cycle_duration_seconds",
			Help:    "Duration of host check cycles",
			Buckets: prometheus.DefBuckets,
		},
	)
}

// NewHostState 主机检查的最新状态（0..3）
func (f *MetricFactory) NewHostState() *prometheus.GaugeVec {
	return promauto.With(f.reg).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "checker_host_state",
			Help: "Latest state of the host check (0=OK 1=WARN 2=CRIT 3=UNKNOWN)",
		},
		[]string{"host"},
	)
}

// NewServiceState 服务的最新状态（0..3）
func (f *MetricFactory) NewServiceState() *prometheus.GaugeVec {
	return promauto.With(f.reg).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "checker_service_state",
			Help: "Latest state of a service (0=OK 1=WARN 2=CRIT 3=UNKNOWN)",
		},
		[]string{"host", "service"},
	)
}

// NewCounterWrapsTotal 因计数器回绕而挂起的检查次数
func (f *MetricFactory) NewCounterWrapsTotal() prometheus.Counter {
	return promauto.With(f.reg).NewCounter(
		prometheus.CounterOpts{
			Name: "checker_counter_wraps_total",
			Help: "Total number of check results suspended by counter wraps",
		},
	)
}
