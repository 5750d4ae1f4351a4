package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector 指标收集器
type MetricsCollector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 网关指标
	gatewayCallsTotal   *prometheus.CounterVec
	gatewayCallDuration *prometheus.HistogramVec

	// 对账指标
	callbackOutcomesTotal *prometheus.CounterVec
	transitionsTotal      *prometheus.CounterVec
	stateConflictsTotal   prometheus.Counter
	statusCacheTotal      *prometheus.CounterVec
	sweepQueueDepth       prometheus.Gauge
}

// NewMetricsCollector 创建指标收集器
// reg 为 nil 时注册到默认 Registry；测试中传入独立的 Registry 避免重复注册
func NewMetricsCollector(reg prometheus.Registerer) *MetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsCollector{
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		gatewayCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_gateway_calls_total",
				Help: "Total number of payment gateway calls by operation and result",
			},
			[]string{"operation", "result"},
		),

		gatewayCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payment_gateway_call_duration_seconds",
				Help:    "Payment gateway call duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),

		callbackOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_callback_outcomes_total",
				Help: "Gateway callbacks by return code",
			},
			[]string{"return_code"},
		),

		transitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_state_transitions_total",
				Help: "Applied order/payment state transitions",
			},
			[]string{"entity", "to", "source"},
		),

		stateConflictsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "payment_state_conflicts_total",
				Help: "Outcomes rejected because the entity was already in a different terminal state",
			},
		),

		statusCacheTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payment_status_cache_total",
				Help: "Gateway status cache lookups",
			},
			[]string{"result"},
		),

		sweepQueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "payment_sweep_queue_depth",
				Help: "Pending reconciliation tasks waiting in the worker queue",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordGatewayCall 记录网关调用，result 为 ok 或 GatewayError 的 reason
func (m *MetricsCollector) RecordGatewayCall(operation, result string, duration time.Duration) {
	m.gatewayCallsTotal.WithLabelValues(operation, result).Inc()
	m.gatewayCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCallback 记录回调处理结果
func (m *MetricsCollector) RecordCallback(returnCode string) {
	m.callbackOutcomesTotal.WithLabelValues(returnCode).Inc()
}

// RecordTransition 记录状态流转，source 为 callback / poll / initiate
func (m *MetricsCollector) RecordTransition(entity, to, source string) {
	m.transitionsTotal.WithLabelValues(entity, to, source).Inc()
}

// RecordStateConflict 记录终态冲突
func (m *MetricsCollector) RecordStateConflict() {
	m.stateConflictsTotal.Inc()
}

// RecordStatusCache 记录状态缓存命中情况
func (m *MetricsCollector) RecordStatusCache(hit bool) {
	if hit {
		m.statusCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	m.statusCacheTotal.WithLabelValues("miss").Inc()
}

// SetSweepQueueDepth 更新补偿队列长度
func (m *MetricsCollector) SetSweepQueueDepth(depth int) {
	m.sweepQueueDepth.Set(float64(depth))
}

// StatusCategory 获取状态分类
func StatusCategory(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
