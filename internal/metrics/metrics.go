package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/craddockd/msgwall/internal/version"
)

type ServerMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	httpPanicTotal prometheus.Counter
	errorsTotal    *prometheus.CounterVec
	buildInfo      *prometheus.GaugeVec

	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter
	ratelimitErrorsTotal   prometheus.Counter
	ratelimitTrackedKeys   prometheus.Gauge

	gateDeniedTotal *prometheus.CounterVec

	messagesCreatedTotal prometheus.Counter

	denylistSize         prometheus.Gauge
	denylistErrorsTotal  prometheus.Counter
	limitOverridesTotal  prometheus.Counter
	limitOverrideErrsTot prometheus.Counter

	profilingActive prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter key capacity reached",
		}),
		ratelimitErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_store_errors_total",
			Help: "Total rate limit store failures (requests then admitted open)",
		}),
		ratelimitTrackedKeys: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ratelimit_tracked_keys",
			Help: "Client keys currently tracked by the in-memory rate limit store",
		}),
		gateDeniedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_gated_total",
			Help: "Total requests rejected by access gates, by gate and reason",
		}, []string{"gate", "reason"}),
		messagesCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messages_created_total",
			Help: "Total messages accepted by the API",
		}),
		denylistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "denylist_entries",
			Help: "Entries in the currently loaded client denylist",
		}),
		denylistErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "denylist_refresh_errors_total",
			Help: "Total denylist refresh failures",
		}),
		limitOverridesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_overrides_applied_total",
			Help: "Total rate limit override sets applied from SSM",
		}),
		limitOverrideErrsTot: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_override_errors_total",
			Help: "Total rate limit override fetch/parse failures",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.errorsTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.ratelimitErrorsTotal,
		m.ratelimitTrackedKeys,
		m.gateDeniedTotal,
		m.messagesCreatedTotal,
		m.denylistSize,
		m.denylistErrorsTotal,
		m.limitOverridesTotal,
		m.limitOverrideErrsTot,
		m.profilingActive,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitError() {
	m.ratelimitErrorsTotal.Inc()
}

func (m *ServerMetrics) SetRateLimitTrackedKeys(n int) {
	m.ratelimitTrackedKeys.Set(float64(n))
}

func (m *ServerMetrics) IncGateDenied(gate, reason string) {
	m.gateDeniedTotal.WithLabelValues(gate, reason).Inc()
}

func (m *ServerMetrics) IncMessagesCreated() {
	m.messagesCreatedTotal.Inc()
}

func (m *ServerMetrics) SetDenylistSize(n int) {
	m.denylistSize.Set(float64(n))
}

func (m *ServerMetrics) IncDenylistError() {
	m.denylistErrorsTotal.Inc()
}

func (m *ServerMetrics) IncLimitOverrideApplied() {
	m.limitOverridesTotal.Inc()
}

func (m *ServerMetrics) IncLimitOverrideError() {
	m.limitOverrideErrsTot.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}
